// Package redact implements a pure function that applies an ordered list of
// named regex patterns to a string and reports what it found.
package redact

import (
	"fmt"
	"regexp"
)

// Pattern is a single named secret-shape matcher. Order matters: redaction
// is only deterministic with a stable pattern order.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// Match records how many times a named pattern fired.
type Match struct {
	Name  string
	Count int
}

// Redactor applies a fixed, ordered pattern list. Immutable after
// construction and safe to share across goroutines.
type Redactor struct {
	patterns []Pattern
}

// New copies the already-compiled patterns, keeping their order.
func New(patterns []Pattern) *Redactor {
	cp := make([]Pattern, len(patterns))
	copy(cp, patterns)
	return &Redactor{patterns: cp}
}

// Redact applies each pattern once, in order, to the output of the previous
// pattern, replacing every match with "[REDACTED:<name>]", and reports a
// (name, count) tuple per pattern that fired. Each pattern runs exactly
// once, so a pattern that could itself match the replacement marker is
// never given a second chance to re-match it; a later pattern does see the
// markers inserted by earlier ones.
func (r *Redactor) Redact(input string) (string, []Match) {
	text := input
	var out []Match

	for _, p := range r.patterns {
		matches := p.Re.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		text = p.Re.ReplaceAllString(text, "[REDACTED:"+p.Name+"]")
		out = append(out, Match{Name: p.Name, Count: len(matches)})
	}
	return text, out
}

// mustCompile panics at package-init time on a malformed default pattern;
// never on caller input.
func mustCompile(name, expr string) Pattern {
	re, err := regexp.Compile(expr)
	if err != nil {
		panic(fmt.Sprintf("redact: invalid default pattern %q: %v", name, err))
	}
	return Pattern{Name: name, Re: re}
}

// DefaultCatalog is the default secret-pattern set: AWS access key, GitHub
// token, JWT, PEM private-key header, bearer token, and a generic API-key
// assignment. Order is part of the contract.
func DefaultCatalog() []Pattern {
	return []Pattern{
		mustCompile("AWS_ACCESS_KEY", `\bAKIA[0-9A-Z]{16}\b`),
		mustCompile("GITHUB_TOKEN", `\bgh[pousr]_[0-9A-Za-z]{36}\b`),
		mustCompile("JWT", `\bey[A-Za-z0-9_-]+\.ey[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
		mustCompile("PEM_PRIVATE_KEY", `-----BEGIN [A-Z ]*PRIVATE KEY-----`),
		mustCompile("BEARER_TOKEN", `\bBearer\s+[A-Za-z0-9\-._~+/]+=*`),
		mustCompile("GENERIC_API_KEY", `(?i)\b(api[_-]?key|secret|token)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}['"]?`),
	}
}
