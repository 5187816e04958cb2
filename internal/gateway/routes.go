// internal/gateway/routes.go
package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crewgate/pkg/config"
)

func RegisterRoutes(r chi.Router, cfg config.Config, p *Proxy) {
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	// Everything else forwards to the resolved upstream.
	r.Handle("/*", p)
}
