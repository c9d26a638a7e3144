// Package postgres mirrors accepted readings into a PostgreSQL table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/flood-telemetry/internal/domain"
)

// SinkName labels this sink in logs and metrics.
const SinkName = "postgres"

// ErrInvalidTable is returned for an empty or malformed table name.
var ErrInvalidTable = errors.New("invalid table name")

// Store writes readings to one table through a pgx pool.
// It implements pipeline.Sink.
type Store struct {
	pool   *pgxpool.Pool
	table  string
	plain  string
	logger *slog.Logger
}

// New creates a Store. The pool connects lazily, so New succeeds even while
// the database is still starting.
func New(ctx context.Context, databaseURL, table string, logger *slog.Logger) (*Store, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return &Store{pool: pool, table: quoted, plain: table, logger: logger}, nil
}

// Name implements pipeline.Sink.
func (s *Store) Name() string {
	return SinkName
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity with a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// WaitReady pings until the database answers or ctx ends, backing off
// between attempts.
func (s *Store) WaitReady(ctx context.Context, initial, maxBackoff time.Duration) error {
	backoff := initial
	if backoff <= 0 {
		backoff = time.Second
	}
	for {
		err := s.Ping(ctx)
		if err == nil {
			return nil
		}
		s.logger.Warn("postgres not ready", "error", err, "retry_in", backoff)
		if !retry.SleepWithContext(ctx, backoff) {
			return fmt.Errorf("wait for postgres: %w", errors.Join(err, ctx.Err()))
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
}

// EnsureTable creates the readings table if it does not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTableSQL(s.table)); err != nil {
		return fmt.Errorf("create table %s: %w", s.plain, err)
	}
	s.logger.Info("postgres table ready", "table", s.plain)
	return nil
}

// TableExists reports whether the configured table is present.
func (s *Store) TableExists(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", s.table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", s.plain, err)
	}
	return exists, nil
}

// Write inserts one reading. Absent fields are stored as NULL.
func (s *Store) Write(ctx context.Context, r domain.Reading) error {
	if _, err := s.pool.Exec(ctx, insertSQL(s.table), insertArgs(r)...); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// quoteTable sanitizes a possibly schema-qualified table name.
func quoteTable(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrInvalidTable
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidTable, name)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

func createTableSQL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
    id            BIGSERIAL PRIMARY KEY,
    entry_time    TIMESTAMPTZ NOT NULL,
    precip_in     DOUBLE PRECISION,
    humidity_pct  DOUBLE PRECISION,
    temperature_f DOUBLE PRECISION,
    water_level   TEXT NOT NULL,
    latitude      DOUBLE PRECISION,
    longitude     DOUBLE PRECISION
)`
}

func insertSQL(table string) string {
	return `INSERT INTO ` + table + ` (entry_time, precip_in, humidity_pct, temperature_f, water_level, latitude, longitude)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
}

func insertArgs(r domain.Reading) []any {
	var lat, lon *float64
	if r.Location != nil {
		lat, lon = &r.Location.Lat, &r.Location.Lon
	}
	return []any{
		r.Timestamp.UTC(),
		r.PrecipitationIn,
		r.HumidityPct,
		r.TemperatureF,
		r.WaterLevel.String(),
		lat,
		lon,
	}
}
