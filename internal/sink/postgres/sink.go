// Package postgres persists trip documents into a Postgres JSONB table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/elastic-logger/internal/event"
	"github.com/JakeFAU/elastic-logger/internal/sink"
)

const (
	backend      = "postgres"
	defaultTable = "trips"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for trip rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Sink writes one row per trip.
type Sink struct {
	pool  pool
	table string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Sink{pool: p, table: table}, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Sink, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Sink{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Persist upserts trip keyed by its ID.
func (s *Sink) Persist(ctx context.Context, trip *event.Trip) error {
	if trip == nil || trip.ID == "" {
		return sink.NewPersistError(backend, trip, fmt.Errorf("trip id is required"))
	}
	doc, err := json.Marshal(trip)
	if err != nil {
		return sink.NewPersistError(backend, trip, fmt.Errorf("marshal trip: %w", err))
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, bike_id, start_time, document)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document`, s.table)
	if _, err := s.pool.Exec(ctx, query, trip.ID, trip.BikeID, trip.StartTime, doc); err != nil {
		return sink.NewPersistError(backend, trip, fmt.Errorf("insert trip: %w", err))
	}
	return nil
}

// Close releases the pool.
func (s *Sink) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// InitSchema creates the trip table when it does not exist.
func (s *Sink) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	bike_id BIGINT NOT NULL,
	start_time TEXT NOT NULL,
	document JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// DeleteIndex drops the trip table.
func (s *Sink) DeleteIndex(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", s.table)); err != nil {
		return fmt.Errorf("drop table %s: %w", s.table, err)
	}
	return nil
}

// Describe writes the table name, its row count and the document schema.
func (s *Sink) Describe(ctx context.Context, w io.Writer) error {
	var rows int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", s.table)).Scan(&rows); err != nil {
		return fmt.Errorf("count %s: %w", s.table, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{"table": s.table, "rows": rows, "schema": event.Schema}); err != nil {
		return fmt.Errorf("encode description: %w", err)
	}
	return nil
}

// Query is unsupported; the query body is an Elasticsearch search document.
func (s *Sink) Query(context.Context, json.RawMessage, io.Writer) error {
	return sink.ErrUnsupported
}
