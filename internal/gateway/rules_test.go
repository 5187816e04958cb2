package gateway

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewgate/pkg/upstreams"
)

func TestNeedsSlashDefaults(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)

	cases := []struct {
		path string
		want bool
	}{
		{"api/v1/employees", true},
		{"employees", true},
		{"auth", true},
		{"api/v1/auth", true},
		{"client/metrics", true},
		{"metrics", true},
		{"api/v1/metrics", true},
		{"api/v1/employees/123", false},
		{"api/v1/auth/login", false},
		{"api/v1/employeesx", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, rules.NeedsSlash(upstreams.Upstream{}, tc.path), "path %q", tc.path)
	}
}

func TestNeedsSlashPerUpstreamOverride(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)

	custom := upstreams.Upstream{
		ID:            "11111111-1111-1111-1111-111111111111",
		SlashPatterns: []string{`^v2/(orders|invoices)$`},
	}
	assert.True(t, rules.NeedsSlash(custom, "v2/orders"))
	assert.True(t, rules.NeedsSlash(custom, "v2/invoices"))
	// override replaces the defaults for that upstream
	assert.False(t, rules.NeedsSlash(custom, "api/v1/employees"))
	// other upstreams keep the defaults
	assert.True(t, rules.NeedsSlash(upstreams.Upstream{ID: "other"}, "api/v1/employees"))
}

func TestNeedsSlashDropsInvalidOverride(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)

	up := upstreams.Upstream{
		ID:            "22222222-2222-2222-2222-222222222222",
		SlashPatterns: []string{`^v2/(orders$`, `^ok$`},
	}
	assert.True(t, rules.NeedsSlash(up, "ok"))
	assert.False(t, rules.NeedsSlash(up, "v2/orders"))
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := `slash_patterns:
  - ^(v2/)?(orders|customers)$
transforms:
  - name: orders-list
    method: GET
    path: ^v2/orders/$
    jmespath: results
  - name: any-method
    path: ^v2/customers/$
    jmespath: "data.customers"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)

	assert.True(t, rules.NeedsSlash(upstreams.Upstream{}, "v2/orders"))
	assert.True(t, rules.NeedsSlash(upstreams.Upstream{}, "customers"))
	// file patterns replace the built-in defaults
	assert.False(t, rules.NeedsSlash(upstreams.Upstream{}, "api/v1/employees"))

	tr := rules.TransformFor(http.MethodGet, "v2/orders/")
	require.NotNil(t, tr)
	assert.Equal(t, "orders-list", tr.Name)
	assert.Nil(t, rules.TransformFor(http.MethodPost, "v2/orders/"))

	// empty method matches any method
	assert.NotNil(t, rules.TransformFor(http.MethodDelete, "v2/customers/"))
	assert.Nil(t, rules.TransformFor(http.MethodGet, "v2/unknown/"))
}

func TestLoadRulesRejectsBadInput(t *testing.T) {
	t.Run("invalid slash pattern", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("slash_patterns: [\"(\"]\n"), 0o600))
		_, err := LoadRules(path)
		assert.Error(t, err)
	})

	t.Run("transform missing jmespath", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		doc := `transforms:
  - name: broken
    path: ^v2/orders/$
`
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
		_, err := LoadRules(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestApplyTransform(t *testing.T) {
	doc := map[string]any{
		"items": []any{map[string]any{"id": float64(1)}},
		"total": float64(1),
	}

	t.Run("nil transform returns document", func(t *testing.T) {
		assert.Equal(t, doc, applyTransform(nil, doc))
	})

	t.Run("expression extracts subtree", func(t *testing.T) {
		got := applyTransform(&Transform{Expr: "items"}, doc)
		assert.Equal(t, doc["items"], got)
	})

	t.Run("no match falls back to document", func(t *testing.T) {
		got := applyTransform(&Transform{Expr: "missing"}, doc)
		assert.Equal(t, doc, got)
	})

	t.Run("invalid expression falls back to document", func(t *testing.T) {
		got := applyTransform(&Transform{Expr: "]["}, doc)
		assert.Equal(t, doc, got)
	})
}
