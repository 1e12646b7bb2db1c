package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctx/model"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	hash, err := store.Put(context.Background(), []byte("hello world"))
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	got, err := store.Get(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func TestPutIdempotent(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	h1, err := store.Put(context.Background(), []byte("same bytes"))
	require.NoError(t, err)
	h2, err := store.Put(context.Background(), []byte("same bytes"))
	require.NoError(t, err)
	h3, err := store.Put(context.Background(), []byte("same bytes"))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, h2, h3)
}

func TestGetNotFound(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "deadbeef")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestExists(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	assert.False(t, store.Exists(Hash([]byte("nope"))))

	hash, err := store.Put(context.Background(), []byte("present"))
	require.NoError(t, err)
	assert.True(t, store.Exists(hash))
}

func TestSweepRemovesUnreferenced(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	keepHash, err := store.Put(context.Background(), []byte("keep me"))
	require.NoError(t, err)
	dropHash, err := store.Put(context.Background(), []byte("drop me"))
	require.NoError(t, err)

	removed, err := store.Sweep(map[string]struct{}{keepHash: {}})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.True(t, store.Exists(keepHash))
	assert.False(t, store.Exists(dropHash))
}
