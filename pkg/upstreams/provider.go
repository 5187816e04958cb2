package upstreams

import (
	"context"
)

type Provider interface {
	// Resolve upstream from incoming host (or header).
	ResolveByHost(ctx context.Context, host string) (Upstream, error)
	// Optional: resolve from slug/id
	ResolveByID(ctx context.Context, id string) (Upstream, error)
}
