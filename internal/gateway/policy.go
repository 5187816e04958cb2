// internal/gateway/policy.go
package gateway

import (
	"context"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// RoutePolicy gates forwarding with a Rego document evaluated per request
// against `data.crewgate.allow`. No policy file means allow everything.
type RoutePolicy struct {
	query rego.PreparedEvalQuery
	ready bool
}

func LoadRoutePolicy(ctx context.Context, path string) (*RoutePolicy, error) {
	if path == "" {
		return &RoutePolicy{}, nil
	}
	mod, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	q, err := rego.New(
		rego.Query("data.crewgate.allow"),
		rego.Module("gateway_policy.rego", string(mod)),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &RoutePolicy{query: q, ready: true}, nil
}

// Allow evaluates the policy for one request. Evaluation errors deny.
func (p *RoutePolicy) Allow(ctx context.Context, host, method, path string) bool {
	if p == nil || !p.ready {
		return true
	}
	rs, err := p.query.Eval(ctx, rego.EvalInput(map[string]any{
		"host":   host,
		"method": method,
		"path":   path,
	}))
	if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	return ok && allowed
}
