// pkg/middleware/upstream.go
package middleware

import (
	"context"
	"net"
	"net/http"

	"crewgate/pkg/httperr"
	"crewgate/pkg/upstreams"
)

type ctxUpstreamKey struct{}

// WithUpstream resolves the backend origin for the request host and stashes it
// in the context. Unknown hosts fall back to def when it carries a BaseURL.
func WithUpstream(prov upstreams.Provider, def upstreams.Upstream) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Allow health/metrics without upstream context
			switch r.URL.Path {
			case "/healthz", "/metrics":
				next.ServeHTTP(w, r)
				return
			}
			// SplitHostPort keeps IPv6 literals like [::1]:8080 intact.
			host := r.Host
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			// Inside Docker different hostnames may reach the same local service.
			// Seeds typically use 'localhost'; allow common local synonyms to resolve it.
			tryHosts := []string{host}
			switch host {
			case "127.0.0.1", "::1", "host.docker.internal", "gateway":
				tryHosts = append(tryHosts, "localhost")
			}
			var u upstreams.Upstream
			var err error
			for _, h := range tryHosts {
				u, err = prov.ResolveByHost(r.Context(), h)
				if err == nil {
					break
				}
			}
			if err != nil {
				if def.BaseURL == "" {
					httperr.NotFound(w, "unknown upstream host")
					return
				}
				u = def
			}
			ctx := context.WithValue(r.Context(), ctxUpstreamKey{}, u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UpstreamFrom(ctx context.Context) upstreams.Upstream {
	if v := ctx.Value(ctxUpstreamKey{}); v != nil {
		return v.(upstreams.Upstream)
	}
	return upstreams.Upstream{}
}
