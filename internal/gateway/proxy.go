// internal/gateway/proxy.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"crewgate/pkg/config"
	"crewgate/pkg/httperr"
	"crewgate/pkg/middleware"
	"crewgate/pkg/upstreams"
)

// hopByHopHeaders are transport-scoped and never forwarded in either
// direction. Headers named by a Connection header are stripped on top.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy forwards inbound requests to the resolved upstream, following a
// bounded number of redirects server-side so clients never see an
// intermediate backend location.
type Proxy struct {
	cfg    config.Config
	rules  *Rules
	policy *RoutePolicy
	audit  *auditor
	client *http.Client
	log    *zap.SugaredLogger
}

func NewProxy(cfg config.Config, rules *Rules, policy *RoutePolicy, pool *pgxpool.Pool, log *zap.SugaredLogger) *Proxy {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// Relay upstream bytes as-is; a transparent gzip layer would break
		// byte-exact passthrough and Content-Length fidelity.
		DisableCompression:    true,
		ResponseHeaderTimeout: cfg.UpstreamTimeout,
		MaxIdleConnsPerHost:   32,
	}
	return &Proxy{
		cfg:    cfg,
		rules:  rules,
		policy: policy,
		audit:  &auditor{pool: pool, log: log},
		client: &http.Client{
			Transport: transport,
			// Redirects are followed by our own bounded loop, not net/http.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: log,
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	up := middleware.UpstreamFrom(r.Context())
	if up.BaseURL == "" {
		httperr.NotFound(w, "unknown upstream host")
		return
	}

	path := p.normalizePath(up, r.URL.Path)
	if !p.policy.Allow(r.Context(), r.Host, r.Method, path) {
		httperr.Forbidden(w, "blocked by route policy")
		return
	}

	target := strings.TrimRight(up.BaseURL, "/") + "/" + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	body, ok := p.readBody(w, r)
	if !ok {
		return
	}

	entry := auditEntry{
		RequestID:   middleware.RequestIDFrom(r.Context()),
		UpstreamID:  up.ID,
		Host:        r.Host,
		Method:      r.Method,
		Path:        path,
		UpstreamURL: target,
		Started:     start,
	}

	resp, hops, err := p.forward(r.Context(), r, target, body)
	entry.Hops = hops
	if err != nil {
		p.log.Warnw("upstream failure", "url", target, "hops", hops, "err", err)
		upstreamErrors.Inc()
		httperr.BadGateway(w, err.Error())
		requestDuration.Observe(time.Since(start).Seconds())
		entry.Status = http.StatusBadGateway
		p.audit.record(r.Context(), entry)
		return
	}
	defer resp.Body.Close()

	status := p.relay(w, r.Method, path, resp)
	proxiedTotal.WithLabelValues(r.Method, statusClass(status)).Inc()
	requestDuration.Observe(time.Since(start).Seconds())
	entry.Status = status
	p.audit.record(r.Context(), entry)
}

// normalizePath strips the configured mount prefix and appends the trailing
// slash on collection roots the backend would otherwise 307/308-redirect.
func (p *Proxy) normalizePath(up upstreams.Upstream, inbound string) string {
	path := strings.TrimPrefix(inbound, "/")
	if mp := strings.Trim(p.cfg.MountPrefix, "/"); mp != "" {
		// Strip whole segments only: gatewayfoo/x is not under gateway.
		switch {
		case path == mp:
			path = ""
		case strings.HasPrefix(path, mp+"/"):
			path = path[len(mp)+1:]
		}
	}
	if path != "" && !strings.HasSuffix(path, "/") && p.rules.NeedsSlash(up, path) {
		path += "/"
	}
	return path
}

// readBody buffers the request body so redirect hops can replay it and the
// forwarded Content-Length is exact. GET/HEAD carry none.
func (p *Proxy) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Body == nil {
		return nil, true
	}
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.cfg.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httperr.PayloadTooLarge(w, "request body too large")
			return nil, false
		}
		httperr.Write(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return nil, false
	}
	return b, true
}

// forward issues the request and follows up to MaxRedirects upstream hops.
// 303 downgrades the next hop to a bodyless GET; other redirects preserve
// method and body. A redirect still pending after the last allowed hop is an
// error, terminal with no partial data.
func (p *Proxy) forward(ctx context.Context, in *http.Request, target string, body []byte) (*http.Response, int, error) {
	method := in.Method
	headers := outboundHeaders(in.Header)
	current := target
	hops := 0

	for attempt := 0; attempt < p.cfg.MaxRedirects; attempt++ {
		var reader io.Reader
		if len(body) > 0 && method != http.MethodGet && method != http.MethodHead {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, current, reader)
		if err != nil {
			return nil, hops, err
		}
		req.Header = headers.Clone()
		if reader != nil {
			req.ContentLength = int64(len(body))
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, hops, err
		}

		loc := resp.Header.Get("Location")
		if !isRedirect(resp.StatusCode) || loc == "" {
			return resp, hops, nil
		}
		next, err := resp.Request.URL.Parse(loc)
		if err != nil {
			drainAndClose(resp.Body)
			return nil, hops, fmt.Errorf("redirect to unparsable location %q: %v", loc, err)
		}
		drainAndClose(resp.Body)
		hops++
		redirectsFollowed.Inc()
		if resp.StatusCode == http.StatusSeeOther {
			method = http.MethodGet
			body = nil
			headers.Del("Content-Type")
		}
		current = next.String()
	}
	return nil, hops, fmt.Errorf("redirect loop: upstream did not settle within %d hops", p.cfg.MaxRedirects)
}

// relay copies the upstream response to the client and returns the status the
// client saw. JSON bodies without a content-encoding are decoded, optionally
// transformed, and re-encoded; everything else streams through flush-on-write
// so SSE and large downloads flow without buffering.
func (p *Proxy) relay(w http.ResponseWriter, method, path string, resp *http.Response) int {
	ct := resp.Header.Get("Content-Type")
	bodyless := method == http.MethodHead || resp.StatusCode == http.StatusNoContent ||
		resp.StatusCode == http.StatusNotModified || resp.StatusCode < 200

	if !bodyless && strings.Contains(ct, "application/json") && resp.Header.Get("Content-Encoding") == "" {
		return p.relayJSON(w, method, path, resp)
	}

	copyFilteredHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if bodyless {
		return resp.StatusCode
	}
	if _, err := io.Copy(&flushWriter{w: w}, resp.Body); err != nil {
		p.log.Warnw("response relay interrupted", "err", err)
	}
	return resp.StatusCode
}

// relayJSON buffers, decodes, and re-encodes a JSON body so per-route
// transforms can shape it. Undecodable JSON collapses to the 502 path. Bodies
// past the buffering bound are relayed verbatim instead, transforms skipped.
func (p *Proxy) relayJSON(w http.ResponseWriter, method, path string, resp *http.Response) int {
	buf, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes+1))
	if err != nil {
		upstreamErrors.Inc()
		httperr.BadGateway(w, "reading upstream response: "+err.Error())
		return http.StatusBadGateway
	}
	if int64(len(buf)) > p.cfg.MaxBodyBytes {
		copyFilteredHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		fw := &flushWriter{w: w}
		_, _ = fw.Write(buf)
		if _, err := io.Copy(fw, resp.Body); err != nil {
			p.log.Warnw("response relay interrupted", "err", err)
		}
		return resp.StatusCode
	}

	var doc any
	if err := json.Unmarshal(buf, &doc); err != nil {
		upstreamErrors.Inc()
		httperr.BadGateway(w, fmt.Sprintf("upstream sent undecodable JSON: %v", err))
		return http.StatusBadGateway
	}
	doc = applyTransform(p.rules.TransformFor(method, path), doc)
	out, err := json.Marshal(doc)
	if err != nil {
		upstreamErrors.Inc()
		httperr.BadGateway(w, "re-encoding upstream JSON: "+err.Error())
		return http.StatusBadGateway
	}

	copyFilteredHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(out)
	return resp.StatusCode
}

// outboundHeaders clones the inbound headers minus Host, Content-Length (the
// forwarded value is recomputed from the buffered body), and the hop-by-hop
// set.
func outboundHeaders(in http.Header) http.Header {
	out := in.Clone()
	stripHopByHop(out)
	out.Del("Host")
	out.Del("Content-Length")
	return out
}

// copyFilteredHeaders relays upstream response headers minus the hop-by-hop
// set. Content-Length is kept: the streamed bytes are exactly the upstream's.
func copyFilteredHeaders(dst, src http.Header) {
	filtered := src.Clone()
	stripHopByHop(filtered)
	for k, vv := range filtered {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// stripHopByHop deletes transport-scoped headers from h, including any header
// named by a Connection header.
func stripHopByHop(h http.Header) {
	for _, conn := range h.Values("Connection") {
		for _, name := range strings.Split(conn, ",") {
			if n := strings.TrimSpace(name); n != "" {
				h.Del(n)
			}
		}
	}
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func drainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4<<10))
	_ = rc.Close()
}

// flushWriter flushes after every write so streamed upstream responses (SSE,
// long downloads) reach the client incrementally.
type flushWriter struct {
	w http.ResponseWriter
}

func (f *flushWriter) Write(b []byte) (int, error) {
	n, err := f.w.Write(b)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, err
}
