// internal/gateway/transform.go
package gateway

import (
	jmes "github.com/jmespath/go-jmespath"
)

// applyTransform shapes a decoded JSON document with the transform's JMESPath
// expression. A failed or empty search falls back to the original document so
// a stale expression cannot blank out a response.
func applyTransform(tr *Transform, doc any) any {
	if tr == nil || tr.Expr == "" {
		return doc
	}
	val, err := jmes.Search(tr.Expr, doc)
	if err != nil || val == nil {
		return doc
	}
	return val
}
