// Package tokenest implements a pure function mapping a string to an
// integer token count under a fixed tokenizer, built once and shared.
package tokenest

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// encoding is fixed, not caller-configurable per call.
const encoding = "cl100k_base"

// Estimator counts tokens under a single fixed encoding. Immutable after
// construction and safe to share across goroutines.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// New builds the shared estimator once, loading the cl100k_base encoding.
func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokenest: load %s encoding: %w", encoding, err)
	}
	return &Estimator{enc: enc}, nil
}

// Estimate returns the token count of s under the fixed encoding. Pure: no
// I/O, never suspends.
func (e *Estimator) Estimate(s string) int {
	return len(e.enc.Encode(s, nil, nil))
}
