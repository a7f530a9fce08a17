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

// Package advstore is the durable advertisement store backing a matching
// session (§4.4): Postgres via pgx, with one row per RPI ever observed.
package advstore

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/ennotif/matchcore/internal/errorkind"
	"github.com/ennotif/matchcore/internal/logging"
)

// DB wraps a connection pool to the advertisement store.
type DB struct {
	pool *pgxpool.Pool
}

// New opens a connection pool per cfg. Callers must Close the returned DB.
func New(ctx context.Context, cfg *Config) (*DB, error) {
	logger := logging.FromContext(ctx)
	logger.Infow("opening advertisement store connection pool", "config", cfg.String())

	pool, err := pgxpool.Connect(ctx, cfg.ConnectionString())
	if err != nil {
		return nil, errorkind.New("advstore.New", errorkind.Internal, fmt.Errorf("creating connection pool: %w", err))
	}
	return &DB{pool: pool}, nil
}

// Close releases all pooled connections.
func (db *DB) Close(ctx context.Context) {
	logging.FromContext(ctx).Infow("closing advertisement store connection pool")
	db.pool.Close()
}

// InTx runs f inside a single serializable transaction, committing on a nil
// return and rolling back otherwise.
func (db *DB) InTx(ctx context.Context, f func(tx pgx.Tx) error) error {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return errorkind.New("advstore.InTx", errorkind.Reopen, fmt.Errorf("acquiring connection: %w", err))
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return errorkind.New("advstore.InTx", errorkind.Reopen, fmt.Errorf("starting transaction: %w", err))
	}

	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errorkind.New("advstore.InTx", errorkind.Internal, fmt.Errorf("rolling back transaction: %v (original error: %w)", rbErr, err))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errorkind.New("advstore.InTx", errorkind.Busy, fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// retryable wraps InTx with the store's one-retry policy (§7): a serialization
// failure or lost-connection error (errorkind.Reopen / errorkind.Busy) is
// retried exactly once after a constant 50ms backoff before being surfaced.
func (db *DB) retryable(ctx context.Context, logger *zap.SugaredLogger, f func(tx pgx.Tx) error) error {
	b := retry.WithMaxRetries(1, retry.NewConstant(50*time.Millisecond))

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := db.InTx(ctx, f)
		if err == nil {
			return nil
		}
		if errorkind.Retryable(errorkind.KindOf(err)) {
			logger.Debugw("retrying advertisement store transaction", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}
