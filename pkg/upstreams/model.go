package upstreams

// Upstream is a backend origin the gateway proxies to.
type Upstream struct {
	ID      string // uuid
	Slug    string // short name (hr-core)
	Host    string // public host the gateway is addressed by (api.acme.com)
	BaseURL string // origin to forward to (http://hr-core.internal:8000)

	// SlashPatterns optionally overrides the gateway's default set of
	// collection routes that require a trailing slash. Raw regexp source,
	// compiled lazily by the gateway.
	SlashPatterns []string
}
