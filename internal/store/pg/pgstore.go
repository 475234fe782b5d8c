// Package pg persists finalisable documents and their audit trail in Postgres
// through database/sql and the pgx stdlib driver. Every transition commits the
// conditional status write and its audit row in one transaction.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"practicedesk.io/internal/document"
)

// ErrConflict is returned when a document with the same ref already exists.
var ErrConflict = fmt.Errorf("pg: %w", document.ErrExists)

const (
	pgErrUniqueViolation     = "23505"
	pgErrCheckViolation      = "23514"
	pgErrSerializationFailed = "40001"
	pgErrDeadlockDetected    = "40P01"
)

type Store struct {
	db *sql.DB
}

// PoolOptions tunes the connection pool. Zero values keep the defaults.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func Open(dsn string, opts PoolOptions) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(orInt(opts.MaxOpenConns, 50))
	db.SetMaxIdleConns(orInt(opts.MaxIdleConns, 25))
	db.SetConnMaxLifetime(orDuration(opts.ConnMaxLifetime, 15*time.Minute))
	db.SetConnMaxIdleTime(orDuration(opts.ConnMaxIdleTime, 5*time.Minute))
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping is used by readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// isConflict reports errors that mean a concurrent writer won.
func isConflict(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && (pgErr.Code == pgErrSerializationFailed || pgErr.Code == pgErrDeadlockDetected)
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
