/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package store is the sole writer of users, environments and deployments.
// Status transitions are validated here so no caller can move an environment
// along an edge the lifecycle graph does not contain.
package store

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

type Store struct {
	db    *sqlx.DB
	clock clock.Clock
	log   *zap.SugaredLogger
}

// New connects to Postgres, applies pending migrations and returns the store.
func New(ctx context.Context, databaseURL string, log *zap.SugaredLogger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database, %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("migrating database, %w", err)
	}
	return &Store{db: db, clock: clock.RealClock{}, log: log.Named("store")}, nil
}

// NewFromDB wraps an existing connection without running migrations. The clock
// is injectable for tests.
func NewFromDB(db *sqlx.DB, clk clock.Clock, log *zap.SugaredLogger) *Store {
	return &Store{db: db, clock: clk, log: log.Named("store")}
}

// Ping verifies database connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
