package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctx/model"
)

func TestSchemeOf(t *testing.T) {
	assert.Equal(t, "file", SchemeOf("./relative/path.go"))
	assert.Equal(t, "file", SchemeOf("file:./relative/path.go"))
	assert.Equal(t, "text", SchemeOf("text:hello"))
	assert.Equal(t, "md_dir", SchemeOf("md_dir:docs"))
	assert.Equal(t, "glob", SchemeOf("glob:**/*.go"))
	assert.Equal(t, "git", SchemeOf("git:diff"))
}

func TestRegistryLookupUnknownScheme(t *testing.T) {
	r := NewRegistry(0)
	_, err := r.Lookup("ftp:nope")
	require.Error(t, err)
	var unk *model.UnknownSchemeError
	require.True(t, errors.As(err, &unk))
	assert.Equal(t, "ftp", unk.Scheme)
}

func TestFileHandlerParseAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))

	h := NewFileHandler()
	typ, err := h.Parse(context.Background(), "file:"+path, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.KindFile, typ.Kind)

	content, err := h.Load(context.Background(), model.Artifact{Type: typ, SourceURI: "file:" + path})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", content)
}

func TestFileHandlerRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0o644))

	h := NewFileHandler()
	typ, err := h.Parse(context.Background(), "file:"+path+"#L2-L3", Options{})
	require.NoError(t, err)
	require.Equal(t, model.KindFileRange, typ.Kind)
	assert.Equal(t, 2, typ.StartLine)
	assert.Equal(t, 3, typ.EndLine)

	content, err := h.Load(context.Background(), model.Artifact{Type: typ, SourceURI: "file:" + path})
	require.NoError(t, err)
	assert.Equal(t, "two\nthree", content)
}

func TestFileHandlerNotFound(t *testing.T) {
	h := NewFileHandler()
	_, err := h.Load(context.Background(), model.Artifact{
		Type:      model.Type{Kind: model.KindFile, Path: "/does/not/exist"},
		SourceURI: "file:/does/not/exist",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSourceFailure))
}

func TestFileHandlerRejectsInvalidUTF8(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "binary.dat")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x01}, 0o644))

	h := NewFileHandler()
	_, err := h.Load(context.Background(), model.Artifact{
		Type:      model.Type{Kind: model.KindFile, Path: path},
		SourceURI: "file:" + path,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSourceFailure))
}

func TestTextHandler(t *testing.T) {
	h := NewTextHandler()
	typ, err := h.Parse(context.Background(), "text:hello world", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello world", typ.Content)

	content, err := h.Load(context.Background(), model.Artifact{Type: typ})
	require.NoError(t, err)
	assert.Equal(t, "hello world", content)
}

func TestMarkdownDirExpandSortAndExclude(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("y"), 0o644))

	h := NewMarkdownDirHandler()
	typ, err := h.Parse(context.Background(), "md_dir:"+dir, Options{Exclude: []string{"skip.md"}})
	require.NoError(t, err)

	children, err := h.Expand(context.Background(), model.Artifact{Type: typ})
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, filepath.Join(dir, "a.md"), children[0].Type.Path)
	assert.Equal(t, filepath.Join(dir, "b.md"), children[1].Type.Path)
	assert.NotEmpty(t, children[0].ID)
	assert.NotEmpty(t, children[1].ID)
	assert.NotEqual(t, children[0].ID, children[1].ID)

	again, err := h.Expand(context.Background(), model.Artifact{Type: typ})
	require.NoError(t, err)
	assert.Equal(t, children[0].ID, again[0].ID, "expansion ids must be deterministic across renders")
}

func TestMarkdownDirMaxFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("b"), 0o644))

	max := 1
	h := NewMarkdownDirHandler()
	typ, err := h.Parse(context.Background(), "md_dir:"+dir, Options{MaxFiles: &max})
	require.NoError(t, err)

	children, err := h.Expand(context.Background(), model.Artifact{Type: typ})
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, filepath.Join(dir, "a.md"), children[0].Type.Path)
}

func TestGlobHandlerExpand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "z.go"), []byte("z"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.go"), []byte("a"), 0o644))

	h := NewGlobHandler()
	typ, err := h.Parse(context.Background(), "glob:"+dir+"/sub/*.go", Options{})
	require.NoError(t, err)

	children, err := h.Expand(context.Background(), model.Artifact{Type: typ})
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, filepath.Join(dir, "sub", "a.go"), children[0].Type.Path)
	assert.Equal(t, filepath.Join(dir, "sub", "z.go"), children[1].Type.Path)
}

func TestGitDiffParse(t *testing.T) {
	h := NewGitDiffHandler(5)
	typ, err := h.Parse(context.Background(), "git:diff --base=main --head=feature", Options{})
	require.NoError(t, err)
	assert.Equal(t, "main", typ.Base)
	assert.Equal(t, "feature", typ.Head)

	_, err = h.Parse(context.Background(), "git:bogus", Options{})
	require.Error(t, err)
}

func TestGitDiffParseHeadOnly(t *testing.T) {
	h := NewGitDiffHandler(5)
	typ, err := h.Parse(context.Background(), "git:diff --head=feature", Options{})
	require.NoError(t, err)
	assert.Equal(t, "", typ.Base)
	assert.Equal(t, "feature", typ.Head)
}

func TestDiffArgs(t *testing.T) {
	assert.Equal(t, []string{"diff", "HEAD"}, diffArgs("", ""))
	assert.Equal(t, []string{"diff", "main"}, diffArgs("main", ""))
	assert.Equal(t, []string{"diff", "feature"}, diffArgs("", "feature"))
	assert.Equal(t, []string{"diff", "main..feature"}, diffArgs("main", "feature"))
}
