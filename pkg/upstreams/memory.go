// pkg/upstreams/memory.go
package upstreams

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"go.uber.org/zap"
)

type memProvider struct {
	log    *zap.SugaredLogger
	byHost map[string]Upstream
}

// NewMemoryProvider builds a provider from explicit entries (tests, embedded use).
func NewMemoryProvider(log *zap.SugaredLogger, ups ...Upstream) Provider {
	p := &memProvider{log: log, byHost: map[string]Upstream{}}
	for _, u := range ups {
		p.byHost[u.Host] = u
	}
	return p
}

// NewMemoryProviderFromEnv seeds from UPSTREAM_SEED_JSON, falling back to
// localhost synonyms pointing at defaultBaseURL for dev.
func NewMemoryProviderFromEnv(log *zap.SugaredLogger, defaultBaseURL string) Provider {
	p := &memProvider{log: log, byHost: map[string]Upstream{}}
	seed := os.Getenv("UPSTREAM_SEED_JSON")
	if seed != "" {
		var entries []struct {
			ID            string   `json:"id"`
			Slug          string   `json:"slug"`
			Host          string   `json:"host"`
			BaseURL       string   `json:"base_url"`
			SlashPatterns []string `json:"slash_patterns"`
		}
		_ = json.Unmarshal([]byte(seed), &entries)
		for _, e := range entries {
			p.byHost[e.Host] = Upstream{
				ID: e.ID, Slug: e.Slug, Host: e.Host,
				BaseURL: e.BaseURL, SlashPatterns: e.SlashPatterns,
			}
		}
	} else {
		// sensible localhost defaults for dev and common variants; keyed by
		// bare host since resolution strips the port before lookup
		dev := Upstream{
			ID: "00000000-0000-0000-0000-000000000001", Slug: "dev",
			BaseURL: defaultBaseURL,
		}
		for _, h := range []string{
			"localhost", "127.0.0.1", "host.docker.internal", "gateway",
		} {
			dd := dev
			dd.Host = h
			p.byHost[h] = dd
		}
	}
	return p
}

func (m *memProvider) ResolveByHost(ctx context.Context, host string) (Upstream, error) {
	if u, ok := m.byHost[host]; ok {
		return u, nil
	}
	return Upstream{}, errors.New("upstream not found")
}
func (m *memProvider) ResolveByID(ctx context.Context, id string) (Upstream, error) {
	for _, u := range m.byHost {
		if u.ID == id {
			return u, nil
		}
	}
	return Upstream{}, errors.New("upstream not found")
}
