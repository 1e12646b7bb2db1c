package source

import (
	"context"
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"ctx/model"
)

// GlobHandler implements CollectionGlob: a lazy set of File artifacts
// matched by a doublestar pattern (supports "**").
type GlobHandler struct{}

func NewGlobHandler() *GlobHandler { return &GlobHandler{} }

func (h *GlobHandler) CanHandle(uri string) bool {
	return SchemeOf(uri) == "glob"
}

func (h *GlobHandler) Parse(ctx context.Context, uri string, options Options) (model.Type, error) {
	return model.Type{Kind: model.KindCollectionGlob, Pattern: rest(uri)}, nil
}

func (h *GlobHandler) Load(ctx context.Context, artifact model.Artifact) (string, error) {
	return "", fmt.Errorf("CollectionGlob artifacts must be expanded before loading")
}

// Expand matches the pattern against the filesystem, sorts lexicographically,
// and emits one File artifact per match.
func (h *GlobHandler) Expand(ctx context.Context, artifact model.Artifact) ([]model.Artifact, error) {
	pattern := artifact.Type.Pattern

	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, sourceFailure(artifact.SourceURI, fmt.Sprintf("invalid glob pattern %q", pattern), err)
	}

	sort.Strings(matches)

	out := make([]model.Artifact, 0, len(matches))
	for _, path := range matches {
		sourceURI := "file:" + path
		out = append(out, model.Artifact{
			ID:        deterministicID(sourceURI),
			Type:      model.Type{Kind: model.KindFile, Path: path},
			SourceURI: sourceURI,
		})
	}
	return out, nil
}
