// internal/gateway/rules.go
package gateway

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"crewgate/pkg/upstreams"
)

// defaultSlashPatterns name the collection roots our backends 307/308-redirect
// when the trailing slash is missing. Normalizing at the edge keeps POST
// bodies intact (a client following the redirect would re-issue as GET).
var defaultSlashPatterns = []string{
	`^(api/v1/)?(employees|auth|client/metrics|metrics)/?$`,
}

// Transform rewrites a JSON response body for routes that need edge-side
// shaping before it reaches the client.
type Transform struct {
	Name   string `yaml:"name"`
	Method string `yaml:"method"`   // empty = any method
	Path   string `yaml:"path"`     // regexp on the normalized path
	Expr   string `yaml:"jmespath"` // applied to the decoded body

	re *regexp.Regexp
}

// Rules is the optional rule file (GATEWAY_RULES_FILE). Absent file or absent
// sections fall back to the built-in defaults.
type Rules struct {
	SlashPatterns []string    `yaml:"slash_patterns"`
	Transforms    []Transform `yaml:"transforms"`

	slashRes []*regexp.Regexp
	perUp    sync.Map // upstream ID -> []*regexp.Regexp
}

func LoadRules(path string) (*Rules, error) {
	rules := &Rules{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, rules); err != nil {
			return nil, fmt.Errorf("yaml parse: %w", err)
		}
	}
	if len(rules.SlashPatterns) == 0 {
		rules.SlashPatterns = defaultSlashPatterns
	}
	for _, p := range rules.SlashPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("slash pattern %q: %w", p, err)
		}
		rules.slashRes = append(rules.slashRes, re)
	}
	for i := range rules.Transforms {
		tr := &rules.Transforms[i]
		if tr.Path == "" || tr.Expr == "" {
			return nil, fmt.Errorf("transform %q: path and jmespath are required", tr.Name)
		}
		re, err := regexp.Compile(tr.Path)
		if err != nil {
			return nil, fmt.Errorf("transform %q: %w", tr.Name, err)
		}
		tr.re = re
	}
	return rules, nil
}

// NeedsSlash reports whether a normalized path (no leading slash) is a
// collection root that requires the trailing slash. An upstream carrying its
// own pattern set overrides the defaults; its patterns are compiled once and
// cached, invalid ones are dropped.
func (r *Rules) NeedsSlash(up upstreams.Upstream, path string) bool {
	res := r.slashRes
	if len(up.SlashPatterns) > 0 && up.ID != "" {
		if cached, ok := r.perUp.Load(up.ID); ok {
			res = cached.([]*regexp.Regexp)
		} else {
			compiled := make([]*regexp.Regexp, 0, len(up.SlashPatterns))
			for _, p := range up.SlashPatterns {
				if re, err := regexp.Compile(p); err == nil {
					compiled = append(compiled, re)
				}
			}
			r.perUp.Store(up.ID, compiled)
			res = compiled
		}
	}
	for _, re := range res {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// TransformFor returns the first transform matching method+path, or nil.
func (r *Rules) TransformFor(method, path string) *Transform {
	for i := range r.Transforms {
		tr := &r.Transforms[i]
		if tr.Method != "" && !strings.EqualFold(tr.Method, method) {
			continue
		}
		if tr.re != nil && tr.re.MatchString(path) {
			return tr
		}
	}
	return nil
}
