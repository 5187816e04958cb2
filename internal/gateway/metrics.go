// internal/gateway/metrics.go
package gateway

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	proxiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crewgate_proxy_requests_total",
		Help: "Proxied requests by method and upstream status class.",
	}, []string{"method", "status_class"})

	upstreamErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crewgate_proxy_upstream_errors_total",
		Help: "Requests converted to 502 by upstream failure or redirect exhaustion.",
	})

	redirectsFollowed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crewgate_proxy_redirects_followed_total",
		Help: "Upstream redirects followed on behalf of clients.",
	})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crewgate_proxy_request_duration_seconds",
		Help:    "End-to-end proxied request duration.",
		Buckets: prometheus.DefBuckets,
	})
)

func statusClass(code int) string { return fmt.Sprintf("%dxx", code/100) }
