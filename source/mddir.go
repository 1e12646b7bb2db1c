package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"ctx/model"
)

// MarkdownDirHandler implements CollectionMdDir: a lazy set of Markdown
// artifacts discovered by walking a directory.
type MarkdownDirHandler struct{}

func NewMarkdownDirHandler() *MarkdownDirHandler { return &MarkdownDirHandler{} }

func (h *MarkdownDirHandler) CanHandle(uri string) bool {
	return SchemeOf(uri) == "md_dir"
}

func (h *MarkdownDirHandler) Parse(ctx context.Context, uri string, options Options) (model.Type, error) {
	return model.Type{
		Kind:      model.KindCollectionMdDir,
		Path:      rest(uri),
		Recursive: options.Recursive,
		MaxFiles:  options.MaxFiles,
		Exclude:   options.Exclude,
	}, nil
}

// Load is never called directly on a collection; the engine always expands
// it into Markdown leaf artifacts first.
func (h *MarkdownDirHandler) Load(ctx context.Context, artifact model.Artifact) (string, error) {
	return "", fmt.Errorf("CollectionMdDir artifacts must be expanded before loading")
}

// Expand walks the directory, keeps files named "*.md", drops anything
// matching an exclude glob, sorts by strict ascending lexicographic byte
// order, and truncates to MaxFiles.
func (h *MarkdownDirHandler) Expand(ctx context.Context, artifact model.Artifact) ([]model.Artifact, error) {
	t := artifact.Type
	var matches []string

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != t.Path && !t.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		for _, pattern := range t.Exclude {
			if ok, _ := doublestar.Match(pattern, path); ok {
				return nil
			}
			if ok, _ := doublestar.Match(pattern, d.Name()); ok {
				return nil
			}
		}
		matches = append(matches, path)
		return nil
	}

	if err := filepath.WalkDir(t.Path, walkFn); err != nil {
		if os.IsNotExist(err) {
			return nil, sourceFailure(artifact.SourceURI, fmt.Sprintf("directory %q not found", t.Path), err)
		}
		return nil, sourceFailure(artifact.SourceURI, fmt.Sprintf("walk %q", t.Path), err)
	}

	sort.Strings(matches)

	if t.MaxFiles != nil && len(matches) > *t.MaxFiles {
		matches = matches[:*t.MaxFiles]
	}

	out := make([]model.Artifact, 0, len(matches))
	for _, path := range matches {
		sourceURI := "file:" + path
		out = append(out, model.Artifact{
			ID:        deterministicID(sourceURI),
			Type:      model.Type{Kind: model.KindMarkdown, Path: path},
			SourceURI: sourceURI,
		})
	}
	return out, nil
}
