package tokenest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateNonNegative(t *testing.T) {
	est, err := New()
	require.NoError(t, err)

	assert.Equal(t, 0, est.Estimate(""))
	assert.Greater(t, est.Estimate("hello world"), 0)
}

func TestEstimateMonotonicForRepetition(t *testing.T) {
	est, err := New()
	require.NoError(t, err)

	short := est.Estimate("hello")
	long := est.Estimate("hello hello hello hello hello")
	assert.Greater(t, long, short)
}

func TestEstimateDeterministic(t *testing.T) {
	est, err := New()
	require.NoError(t, err)

	a := est.Estimate("the quick brown fox jumps over the lazy dog")
	b := est.Estimate("the quick brown fox jumps over the lazy dog")
	assert.Equal(t, a, b)
}
