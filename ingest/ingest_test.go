package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctx/blob"
	"ctx/metadata"
	"ctx/model"
	"ctx/source"
	"ctx/tokenest"
)

func setupService(t *testing.T) (*Service, *metadata.Store, string) {
	t.Helper()
	dir := t.TempDir()

	md, err := metadata.Open(filepath.Join(dir, "metadata.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { md.Close() })

	bs, err := blob.Open(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	est, err := tokenest.New()
	require.NoError(t, err)

	handlers := source.NewRegistry(5)
	return New(handlers, md, bs, est), md, dir
}

func TestAddArtifactTextLeaf(t *testing.T) {
	svc, md, _ := setupService(t)
	ctx := context.Background()

	pack, err := md.CreatePack(ctx, "demo", model.DefaultPolicy())
	require.NoError(t, err)

	id, err := svc.AddArtifact(ctx, pack.ID, "text:hello", 0, source.Options{}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	artifacts, err := md.ListPackArtifacts(ctx, pack.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.NotEmpty(t, artifacts[0].Artifact.ContentHash)
}

func TestAddArtifactDenylisted(t *testing.T) {
	svc, md, dir := setupService(t)
	ctx := context.Background()

	pack, err := md.CreatePack(ctx, "demo", model.DefaultPolicy())
	require.NoError(t, err)

	secretPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(secretPath, []byte("SECRET=1"), 0o644))

	_, err = svc.AddArtifact(ctx, pack.ID, "file:"+secretPath, 0, source.Options{}, []string{"**/.env"})
	require.Error(t, err)
	var denyErr *model.DenylistMatchError
	require.True(t, errors.As(err, &denyErr))
	assert.Equal(t, "**/.env", denyErr.Pattern)
}

func TestAddArtifactCollectionSkipsDenylistAtAddTime(t *testing.T) {
	svc, md, dir := setupService(t)
	ctx := context.Background()

	pack, err := md.CreatePack(ctx, "demo", model.DefaultPolicy())
	require.NoError(t, err)

	docsDir := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docsDir, 0o755))

	id, err := svc.AddArtifact(ctx, pack.ID, "md_dir:"+docsDir, 0,
		source.Options{Recursive: true, Exclude: []string{"**/.env"}}, []string{"**/.env"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	artifacts, err := md.ListPackArtifacts(ctx, pack.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Empty(t, artifacts[0].Artifact.ContentHash)
	assert.Equal(t, model.KindCollectionMdDir, artifacts[0].Artifact.Type.Kind)
}
