// pkg/apiclient/client.go
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshPath is where the backend mints new access tokens.
const DefaultRefreshPath = "/api/v1/auth/refresh"

// ErrNoRefreshToken means the session holds nothing to refresh with.
var ErrNoRefreshToken = errors.New("no refresh token held")

// Client attaches bearer credentials to outgoing requests and recovers from an
// expired access token without surfacing the failure to the caller: a 401 reply
// triggers one de-duplicated refresh and one retry. Immutable after New; safe
// for concurrent use. Each Client owns its own refresh flight, so independent
// instances never interfere.
type Client struct {
	base         string
	http         *http.Client
	session      SessionStore
	refreshPath  string
	userAgent    string
	expiryLeeway time.Duration
	notify       func(error)
	log          *zap.SugaredLogger

	flight singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithRefreshPath(p string) Option { return func(c *Client) { c.refreshPath = p } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

func WithLogger(log *zap.SugaredLogger) Option { return func(c *Client) { c.log = log } }

// WithExpiryLeeway refreshes eagerly before sending when the held access token
// is a JWT expiring within d. Opaque tokens skip this silently; the 401 path
// stays the behavior of record.
func WithExpiryLeeway(d time.Duration) Option {
	return func(c *Client) { c.expiryLeeway = d }
}

// WithErrorNotifier registers a fire-and-forget hook invoked on transport
// errors and refresh failures (banner-level UI signals). Never affects the
// data path.
func WithErrorNotifier(fn func(error)) Option {
	return func(c *Client) { c.notify = fn }
}

func New(baseURL string, session SessionStore, opts ...Option) *Client {
	c := &Client{
		base:        strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		session:     session,
		refreshPath: DefaultRefreshPath,
		log:         zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do sends req with the held access token attached (header omitted when none
// is held). Any status other than 401 returns unchanged; transport errors
// propagate unchanged. On 401 the client refreshes through the shared flight
// and retries exactly once with the re-read token; if the refresh fails the
// ORIGINAL 401 response is returned for the caller to interpret.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.maybeEagerRefresh(req.Context())

	if err := ensureReplayable(req); err != nil {
		return nil, err
	}
	access := c.session.Tokens().AccessToken
	resp, err := c.send(req, access)
	if err != nil {
		c.notifyErr(err)
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	if _, err := c.refreshIfStale(req.Context(), access); err != nil {
		return resp, nil
	}
	retry, err := cloneForRetry(req)
	if err != nil {
		return resp, nil
	}
	drainAndClose(resp.Body)
	resp2, err := c.send(retry, c.session.Tokens().AccessToken)
	if err != nil {
		c.notifyErr(err)
		return nil, err
	}
	return resp2, nil
}

// Refresh forces a new token pair through the shared flight (hosts call this
// after login races or clock skew). Concurrent callers share one backend call.
func (c *Client) Refresh(ctx context.Context) (TokenPair, error) {
	return c.refreshIfStale(ctx, "")
}

// refreshIfStale runs the refresh inside the single-flight group. stale is the
// access token the caller saw fail; when the store already holds a different
// one, a concurrent flight just rotated the pair and the backend call is
// skipped. Empty stale forces the call. Logout fires inside the flight fn, so
// a failed chain logs the session out once no matter how many callers wait.
func (c *Client) refreshIfStale(ctx context.Context, stale string) (TokenPair, error) {
	v, err, _ := c.flight.Do("refresh", func() (any, error) {
		if stale != "" {
			if cur := c.session.Tokens(); cur.AccessToken != "" && cur.AccessToken != stale {
				return cur, nil
			}
		}
		pair, err := c.doRefresh(ctx)
		if err != nil {
			c.log.Debugw("token refresh failed", "err", err)
			c.session.Logout()
			c.notifyErr(err)
			return TokenPair{}, err
		}
		return pair, nil
	})
	if err != nil {
		return TokenPair{}, err
	}
	return v.(TokenPair), nil
}

// doRefresh calls the backend refresh endpoint and persists the new pair via
// SetTokens before returning. The refresh token itself is the credential, so
// no bearer header is attached. A rotated refresh token replaces the stored
// one; otherwise the old refresh token is kept.
func (c *Client) doRefresh(ctx context.Context) (TokenPair, error) {
	cur := c.session.Tokens()
	if cur.RefreshToken == "" {
		return TokenPair{}, ErrNoRefreshToken
	}
	body, _ := json.Marshal(map[string]string{"refresh_token": cur.RefreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+c.refreshPath, bytes.NewReader(body))
	if err != nil {
		return TokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return TokenPair{}, fmt.Errorf("refresh rejected: %s", resp.Status)
	}
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TokenPair{}, fmt.Errorf("refresh decode: %w", err)
	}
	if out.AccessToken == "" {
		return TokenPair{}, errors.New("refresh reply missing access token")
	}
	next := TokenPair{AccessToken: out.AccessToken, RefreshToken: cur.RefreshToken}
	if out.RefreshToken != "" {
		next.RefreshToken = out.RefreshToken
	}
	c.session.SetTokens(next)
	return next, nil
}

// maybeEagerRefresh rotates ahead of expiry when WithExpiryLeeway is set and
// the held access token parses as a JWT. Failures are ignored here; the
// reactive 401 path still covers the request.
func (c *Client) maybeEagerRefresh(ctx context.Context) {
	if c.expiryLeeway <= 0 {
		return
	}
	cur := c.session.Tokens()
	if cur.AccessToken == "" || cur.RefreshToken == "" {
		return
	}
	tok, err := jwt.ParseInsecure([]byte(cur.AccessToken))
	if err != nil {
		return
	}
	exp := tok.Expiration()
	if exp.IsZero() || time.Until(exp) > c.expiryLeeway {
		return
	}
	_, _ = c.refreshIfStale(ctx, cur.AccessToken)
}

func (c *Client) send(req *http.Request, access string) (*http.Response, error) {
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.http.Do(req)
}

func (c *Client) notifyErr(err error) {
	if c.notify != nil && err != nil {
		c.notify(err)
	}
}

// NewRequest builds a request against the client's base URL.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, c.base+"/"+strings.TrimLeft(path, "/"), body)
}

func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

func (c *Client) Delete(ctx context.Context, path string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post sends a JSON body. Callers with other content types build their own
// request via NewRequest and set the header themselves.
func (c *Client) Post(ctx context.Context, path string, body io.Reader) (*http.Response, error) {
	return c.sendJSON(ctx, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, path string, body io.Reader) (*http.Response, error) {
	return c.sendJSON(ctx, http.MethodPut, path, body)
}

func (c *Client) Patch(ctx context.Context, path string, body io.Reader) (*http.Response, error) {
	return c.sendJSON(ctx, http.MethodPatch, path, body)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Do(req)
}

// ensureReplayable buffers the request body and installs GetBody when the
// caller did not provide one, so the 401 retry can resend the same bytes.
func ensureReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	buf, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(bytes.NewReader(buf))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	req.ContentLength = int64(len(buf))
	return nil
}

func cloneForRetry(req *http.Request) (*http.Request, error) {
	r2 := req.Clone(req.Context())
	if req.GetBody == nil {
		r2.Body = nil
		return r2, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	r2.Body = body
	return r2, nil
}

// drainAndClose releases the connection for reuse before a retry.
func drainAndClose(rc io.ReadCloser) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4<<10))
	_ = rc.Close()
}
