// cmd/gateway-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crewgate/internal/gateway"
	"crewgate/pkg/config"
	"crewgate/pkg/db"
	"crewgate/pkg/logger"
	"crewgate/pkg/middleware"
	"crewgate/pkg/upstreams"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	var pool = db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var prov upstreams.Provider
	if pool != nil {
		prov = upstreams.NewPostgresProvider(pool, log)
		if err := upstreams.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		if err := upstreams.SeedFromEnv(context.Background(), pool, os.Getenv("UPSTREAM_SEED_JSON")); err != nil {
			log.Warnw("seed", "err", err)
		}
	} else {
		prov = upstreams.NewMemoryProviderFromEnv(log, cfg.DefaultBackendBaseURL)
	}
	if rdb != nil {
		prov = upstreams.NewCachedProvider(prov, rdb, cfg.UpstreamCacheTTL, log)
	}

	rules, err := gateway.LoadRules(cfg.RulesFile)
	if err != nil {
		log.Fatalw("rules", "file", cfg.RulesFile, "err", err)
	}
	policy, err := gateway.LoadRoutePolicy(context.Background(), cfg.PolicyFile)
	if err != nil {
		log.Fatalw("policy", "file", cfg.PolicyFile, "err", err)
	}
	proxy := gateway.NewProxy(cfg, rules, policy, pool, log)
	def := upstreams.Upstream{Slug: "default", BaseURL: cfg.DefaultBackendBaseURL}

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.DebugWriteHeader(log))
	// Public edge: allow cross-origin for development/tooling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" { // echo origin to allow credentials if needed later
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
			w.Header().Set("Access-Control-Max-Age", "86400")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(middleware.Tracing(cfg))
	r.Use(middleware.WithUpstream(prov, def))

	// The gateway's own metrics shadow a bare upstream /metrics route;
	// /api/v1/metrics and /client/metrics still proxy through.
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	gateway.RegisterRoutes(r, cfg, proxy)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infow("gateway-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("gateway-service stopped")
}
