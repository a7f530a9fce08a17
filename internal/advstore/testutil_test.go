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
	"context"
	"net"
	"os"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/ory/dockertest"
	"github.com/sethvargo/go-retry"
)

// newTestDB spins up a disposable Postgres container and returns a *DB with
// migrations already applied. All store tests can be skipped with `go test
// -short` or by setting SKIP_DATABASE_TESTS, matching the ambient test
// conventions this package's lineage uses.
func newTestDB(tb testing.TB) *DB {
	tb.Helper()

	if testing.Short() {
		tb.Skip("skipping advertisement store tests (short)")
	}
	if skip, _ := strconv.ParseBool(os.Getenv("SKIP_DATABASE_TESTS")); skip {
		tb.Skip("skipping advertisement store tests (SKIP_DATABASE_TESTS is set)")
	}

	ctx := context.Background()

	pool, err := dockertest.NewPool("")
	if err != nil {
		tb.Fatalf("failed to create Docker pool: %s", err)
	}

	dbname, username, password := "matchcore", "matchcore", "matchcore-test"
	container, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "14-alpine",
		Env: []string{
			"LANG=C",
			"POSTGRES_DB=" + dbname,
			"POSTGRES_USER=" + username,
			"POSTGRES_PASSWORD=" + password,
		},
	})
	if err != nil {
		tb.Fatalf("failed to start postgres container: %s", err)
	}
	tb.Cleanup(func() {
		if err := pool.Purge(container); err != nil {
			tb.Fatalf("failed to cleanup postgres container: %s", err)
		}
	})

	host := container.Container.NetworkSettings.IPAddress
	if runtime.GOOS == "darwin" {
		host = net.JoinHostPort(container.GetBoundIP("5432/tcp"), container.GetPort("5432/tcp"))
	}

	cfg := &Config{
		Name:     dbname,
		User:     username,
		Host:     host,
		Port:     container.GetPort("5432/tcp"),
		SSLMode:  "disable",
		Password: password,
	}

	var pgxPool *pgxpool.Pool
	b := retry.WithMaxRetries(10, retry.NewFibonacci(500*time.Millisecond))
	if err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		pgxPool, err = pgxpool.Connect(ctx, cfg.ConnectionString())
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		tb.Fatalf("failed to connect to postgres: %s", err)
	}

	db := &DB{pool: pgxPool}
	if err := db.Migrate(cfg); err != nil {
		tb.Fatalf("failed to migrate database: %s", err)
	}
	tb.Cleanup(func() {
		db.Close(context.Background())
	})

	return db
}
