// Package postgres mirrors check records into a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/account-tracker/internal/tracker"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "account_checks"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for check rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// CheckStore implements tracker.RecordSink on Postgres.
type CheckStore struct {
	pool  execCloser
	table string
}

// NewCheckStore connects to Postgres and ensures the table exists.
func NewCheckStore(ctx context.Context, cfg Config) (*CheckStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewCheckStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewCheckStoreWithPool constructs a store from an existing pool.
func NewCheckStoreWithPool(pool execCloser, table string) (*CheckStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CheckStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool.
func (s *CheckStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the table when it does not exist.
func (s *CheckStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	checked_at TIMESTAMPTZ NOT NULL,
	handle TEXT NOT NULL,
	url TEXT NOT NULL,
	status TEXT NOT NULL,
	posts_count BIGINT,
	has_visible_posts BOOLEAN,
	bio TEXT NOT NULL DEFAULT '',
	screenshot TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (handle, checked_at)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Record inserts rec. A duplicate (handle, checked_at) pair is ignored.
func (s *CheckStore) Record(ctx context.Context, rec tracker.CheckRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("check store is not configured")
	}
	if rec.Target == "" {
		return fmt.Errorf("record target is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	checked_at,
	handle,
	url,
	status,
	posts_count,
	has_visible_posts,
	bio,
	screenshot,
	error
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (handle, checked_at) DO NOTHING`, s.table)

	_, err := s.pool.Exec(ctx, query,
		rec.Timestamp.UTC(),
		string(rec.Target),
		rec.URL,
		string(rec.Status),
		rec.PostCount,
		visibleColumn(rec.Visible),
		rec.Bio,
		rec.Screenshot,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("insert check %s: %w", rec.Target, err)
	}
	return nil
}

func visibleColumn(v tracker.Visibility) *bool {
	switch v {
	case tracker.VisibilityYes:
		b := true
		return &b
	case tracker.VisibilityNo:
		b := false
		return &b
	default:
		return nil
	}
}
