package model

import (
	"encoding/json"
	"fmt"
)

// CanonicalPolicyJSON renders p as JSON with sorted keys, the stable form the
// render fingerprint hashes over. encoding/json already emits map[string]any
// keys in sorted order, so building a plain map and marshaling it is
// sufficient — no custom encoder is needed.
func CanonicalPolicyJSON(p Policy) (string, error) {
	m := make(map[string]any, len(p.RawExtra)+2)
	for k, v := range p.RawExtra {
		m[k] = v
	}
	m["budget_tokens"] = p.BudgetTokens
	m["ordering"] = p.Ordering

	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("canonicalize policy: %w", err)
	}
	return string(b), nil
}
