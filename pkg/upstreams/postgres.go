// pkg/upstreams/postgres.go
package upstreams

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	dbPool *pgxpool.Pool      // Connection pool to PostgreSQL
	log    *zap.SugaredLogger // Logger for diagnostic output
}

// NewPostgresProvider constructs a PostgreSQL-backed upstream provider.
func NewPostgresProvider(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Provider {
	return &pgProvider{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS upstreams (
  id uuid PRIMARY KEY,
  slug text UNIQUE,
  host text UNIQUE,
  base_url text NOT NULL,
  slash_patterns text[] DEFAULT '{}',
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS proxy_audit (
	id BIGSERIAL PRIMARY KEY,
	request_id text,
	upstream_id uuid,
	host text,
	method text,
	path text,
	upstream_url text,
	status_code int,
	redirect_hops int,
	duration_ms int,
	started_at timestamptz NOT NULL DEFAULT NOW(),
	finished_at timestamptz
);
-- Backfill / ensure new columns exist (for upgrades)
ALTER TABLE upstreams ADD COLUMN IF NOT EXISTS slash_patterns text[] DEFAULT '{}';
ALTER TABLE proxy_audit ADD COLUMN IF NOT EXISTS redirect_hops int;
CREATE INDEX IF NOT EXISTS proxy_audit_started_at_idx ON proxy_audit(started_at);
`)
	return err
}

// SeedFromEnv ingests initial upstream data.
// jsonSeed format (UPSTREAM_SEED_JSON):
// [
//
//	{"id":"...","slug":"...","host":"...","base_url":"...","slash_patterns":["..."]}
//
// ]
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, jsonSeed string) error {
	if jsonSeed == "" {
		return nil
	}
	var entries []struct {
		ID            string   `json:"id"`
		Slug          string   `json:"slug"`
		Host          string   `json:"host"`
		BaseURL       string   `json:"base_url"`
		SlashPatterns []string `json:"slash_patterns"`
	}
	if err := json.Unmarshal([]byte(jsonSeed), &entries); err != nil {
		return err
	}
	for _, entry := range entries {
		id := entry.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, _ = dbPool.Exec(ctx, `INSERT INTO upstreams(id,slug,host,base_url,slash_patterns)
		  VALUES ($1,$2,$3,$4,$5)
		  ON CONFLICT (id) DO UPDATE SET slug=EXCLUDED.slug,host=EXCLUDED.host,base_url=EXCLUDED.base_url,slash_patterns=EXCLUDED.slash_patterns`,
			id, entry.Slug, entry.Host, entry.BaseURL, entry.SlashPatterns)
	}
	return nil
}

// ResolveByHost fetches an upstream using its host value.
func (p *pgProvider) ResolveByHost(ctx context.Context, host string) (Upstream, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT id,slug,host,base_url,slash_patterns FROM upstreams WHERE host=$1`, host)
	var u Upstream
	if err := row.Scan(&u.ID, &u.Slug, &u.Host, &u.BaseURL, &u.SlashPatterns); err != nil {
		return Upstream{}, errors.New("upstream not found")
	}
	return u, nil
}

// ResolveByID fetches an upstream by its UUID.
func (p *pgProvider) ResolveByID(ctx context.Context, id string) (Upstream, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT id,slug,host,base_url,slash_patterns FROM upstreams WHERE id=$1`, id)
	var u Upstream
	if err := row.Scan(&u.ID, &u.Slug, &u.Host, &u.BaseURL, &u.SlashPatterns); err != nil {
		return Upstream{}, errors.New("upstream not found")
	}
	return u, nil
}
