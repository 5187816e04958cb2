// internal/gateway/audit.go
package gateway

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// auditor records one proxy_audit row per proxied exchange. Best-effort: a
// failed insert logs and moves on, it never fails the response.
type auditor struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

type auditEntry struct {
	RequestID   string
	UpstreamID  string
	Host        string
	Method      string
	Path        string
	UpstreamURL string
	Status      int
	Hops        int
	Started     time.Time
}

func (a *auditor) record(ctx context.Context, e auditEntry) {
	if a == nil || a.pool == nil {
		return
	}
	dur := time.Since(e.Started)
	if _, err := a.pool.Exec(ctx, `
		INSERT INTO proxy_audit(request_id, upstream_id, host, method, path, upstream_url, status_code, redirect_hops, duration_ms, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, e.RequestID, nullIfEmpty(e.UpstreamID), e.Host, e.Method, e.Path, e.UpstreamURL, e.Status, e.Hops, int(dur.Milliseconds()), e.Started.UTC(), time.Now().UTC()); err != nil {
		a.log.Warnw("proxy audit insert failed", "err", err)
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
