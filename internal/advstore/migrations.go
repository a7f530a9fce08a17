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
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ennotif/matchcore/internal/errorkind"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending schema migration embedded in this binary.
// Unlike the shell-out-to-migrate-binary build step this package's teacher
// lineage used, the migration source is compiled directly into the
// executable via go:embed, so there is no separate migrations directory to
// ship alongside it.
func (db *DB) Migrate(cfg *Config) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errorkind.New("advstore.Migrate", errorkind.Internal, fmt.Errorf("loading embedded migrations: %w", err))
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.MigrationURL())
	if err != nil {
		return errorkind.New("advstore.Migrate", errorkind.Internal, fmt.Errorf("creating migrator: %w", err))
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errorkind.New("advstore.Migrate", errorkind.Internal, fmt.Errorf("applying migrations: %w", err))
	}
	return nil
}
