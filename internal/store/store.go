// Package store keeps accounts, permissions and their memberships in a
// relational database.
//
// Every write stamps last_modified_at from the store clock, normalized to UTC
// microseconds. Membership writes also stamp both parent rows so that the
// change feed reports the new memberOf / members values.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"idm-connector/internal/config"
)

// ErrNotFound is returned when the addressed row does not exist.
var ErrNotFound = errors.New("not found")

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides CRUD access to the identity tables.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	logger  *logrus.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the clock used to stamp modification times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects to the configured database, applies dialect setup and, when
// requested, creates the identity tables.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *logrus.Logger, opts ...Option) (*Store, error) {
	dialect, dsn, err := dialectFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect.Name == "sqlite3" {
		// Pragmas are per connection and SQLite allows a single writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, stmt := range dialect.Setup {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Bootstrap {
		if err := s.Bootstrap(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.Infof("Connected to %s database", dialect.Name)
	return s, nil
}

// Bootstrap creates the identity tables when they are missing.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.logger.Debugf("Applied %s schema (%d statements)", s.dialect.Name, len(s.dialect.Schema))
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the name of the database dialect in use.
func (s *Store) Dialect() string {
	return s.dialect.Name
}

func (s *Store) stamp() time.Time {
	return Normalize(s.now())
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
