package metadata

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctx/blob"
	"ctx/model"
)

func setupTestStore(t *testing.T) (*Store, *blob.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "metadata.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bs, err := blob.Open(filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	return store, bs
}

func TestCreatePackConflict(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.CreatePack(ctx, "demo", model.DefaultPolicy())
	require.NoError(t, err)

	_, err = store.CreatePack(ctx, "demo", model.DefaultPolicy())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConflict))
}

func TestListPackArtifactsCanonicalOrder(t *testing.T) {
	store, bs := setupTestStore(t)
	ctx := context.Background()

	pack, err := store.CreatePack(ctx, "demo", model.DefaultPolicy())
	require.NoError(t, err)

	add := func(content string, priority int) string {
		id, err := store.AddArtifactWithContent(ctx, pack.ID,
			model.Type{Kind: model.KindText, Content: content},
			"text:"+content, []byte(content), model.Meta{Bytes: int64(len(content))}, 1, priority, bs.Put)
		require.NoError(t, err)
		return id
	}

	// Priorities 0, 10, 0 in that order: "A", "B", "C".
	add("A", 0)
	add("B", 10)
	add("C", 0)

	artifacts, err := store.ListPackArtifacts(ctx, pack.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 3)

	assert.Equal(t, "text:B", artifacts[0].Artifact.SourceURI)
	assert.Equal(t, "text:A", artifacts[1].Artifact.SourceURI)
	assert.Equal(t, "text:C", artifacts[2].Artifact.SourceURI)
}

func TestRemoveArtifactKeepsArtifactRow(t *testing.T) {
	store, bs := setupTestStore(t)
	ctx := context.Background()

	pack, err := store.CreatePack(ctx, "demo", model.DefaultPolicy())
	require.NoError(t, err)

	id, err := store.AddArtifactWithContent(ctx, pack.ID,
		model.Type{Kind: model.KindText, Content: "x"}, "text:x", []byte("x"), model.Meta{Bytes: 1}, 1, 0, bs.Put)
	require.NoError(t, err)

	require.NoError(t, store.RemoveArtifact(ctx, pack.ID, id))

	artifacts, err := store.ListPackArtifacts(ctx, pack.ID)
	require.NoError(t, err)
	assert.Empty(t, artifacts)

	var rows int
	require.NoError(t, store.db.QueryRow(ctx, `SELECT COUNT(*) FROM artifacts WHERE artifact_id = ?`, id).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestDeletePackCascades(t *testing.T) {
	store, bs := setupTestStore(t)
	ctx := context.Background()

	pack, err := store.CreatePack(ctx, "demo", model.DefaultPolicy())
	require.NoError(t, err)

	_, err = store.AddArtifactWithContent(ctx, pack.ID,
		model.Type{Kind: model.KindText, Content: "x"}, "text:x", []byte("x"), model.Meta{Bytes: 1}, 1, 0, bs.Put)
	require.NoError(t, err)

	require.NoError(t, store.DeletePack(ctx, pack.Name))

	_, err = store.GetPack(ctx, pack.Name)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	var memberships int
	require.NoError(t, store.db.QueryRow(ctx, `SELECT COUNT(*) FROM pack_items WHERE pack_id = ?`, pack.ID).Scan(&memberships))
	assert.Equal(t, 0, memberships)
}
