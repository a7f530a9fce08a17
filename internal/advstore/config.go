// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package advstore

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the advertisement store's environment-driven configuration. It
// is decoded with github.com/sethvargo/go-envconfig, the same library the
// rest of this codebase's config structs use.
type Config struct {
	Name               string        `env:"DB_NAME,required"`
	User               string        `env:"DB_USER,required"`
	Host               string        `env:"DB_HOST,default=localhost"`
	Port               string        `env:"DB_PORT,default=5432"`
	SSLMode            string        `env:"DB_SSLMODE,default=disable"`
	Password           string        `env:"DB_PASSWORD"`
	PoolMinConnections int32         `env:"DB_POOL_MIN_CONNS,default=1"`
	PoolMaxConnections int32         `env:"DB_POOL_MAX_CONNS,default=10"`
	PoolMaxConnLife    time.Duration `env:"DB_POOL_MAX_CONN_LIFETIME,default=1h"`
}

// String renders the config for logging, omitting Password.
func (c *Config) String() string {
	pwSet := "<not set>"
	if c.Password != "" {
		pwSet = "<set>"
	}
	return fmt.Sprintf("{Name:%v User:%v Host:%v Port:%v SSLMode:%v Password:%v PoolMin:%v PoolMax:%v PoolMaxConnLife:%v}",
		c.Name, c.User, c.Host, c.Port, c.SSLMode, pwSet, c.PoolMinConnections, c.PoolMaxConnections, c.PoolMaxConnLife)
}

// ConnectionString builds a libpq-style connection string for pgx.
func (c *Config) ConnectionString() string {
	return fmt.Sprintf(
		"dbname=%s user=%s host=%s port=%s sslmode=%s password=%s pool_min_conns=%d pool_max_conns=%d pool_max_conn_lifetime=%s",
		c.Name, c.User, c.Host, c.Port, c.SSLMode, c.Password,
		c.PoolMinConnections, c.PoolMaxConnections, c.PoolMaxConnLife,
	)
}

// MigrationURL builds a postgres:// URL suitable for golang-migrate, which
// parses its source with net/url and therefore rejects the libpq
// keyword/value form ConnectionString returns (it yields an empty scheme).
func (c *Config) MigrationURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:   "/" + c.Name,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
