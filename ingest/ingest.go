// Package ingest implements the add-time half of the pipeline: parsing a
// source URI, checking it against the caller's denylist, loading leaf
// content eagerly so it can be hashed and estimated up front, and recording
// the result as pack membership. Collections are deliberately not loaded
// here — they stay lazy sets, expanded only at render time.
package ingest

import (
	"context"

	"github.com/bmatcuk/doublestar/v4"

	"ctx/blob"
	"ctx/metadata"
	"ctx/model"
	"ctx/source"
	"ctx/tokenest"
)

// Service wires the stores and handlers needed to add an artifact to a
// pack. Stateless beyond its dependencies; safe to share.
type Service struct {
	handlers  *source.Registry
	metadata  *metadata.Store
	blobs     *blob.Store
	estimator *tokenest.Estimator
}

func New(handlers *source.Registry, md *metadata.Store, blobs *blob.Store, estimator *tokenest.Estimator) *Service {
	return &Service{handlers: handlers, metadata: md, blobs: blobs, estimator: estimator}
}

// AddArtifact parses uri, denies it if its resolved path matches any
// denylist glob (leaf kinds only — collection artifacts are stored without
// a denylist check, and the files they expand into at render time are not
// checked against any denylist either), loads and hashes leaf content
// immediately, and inserts the resulting artifact as a pack member at the
// given priority.
func (s *Service) AddArtifact(ctx context.Context, packID, uri string, priority int, opts source.Options, denylist []string) (string, error) {
	handler, err := s.handlers.Lookup(uri)
	if err != nil {
		return "", err
	}

	typ, err := handler.Parse(ctx, uri, opts)
	if err != nil {
		return "", err
	}

	if !typ.Kind.IsCollection() {
		if pattern, denied := matchDenylist(typ.Path, uri, denylist); denied {
			return "", &model.DenylistMatchError{Pattern: pattern, Path: resolvedPath(typ, uri)}
		}
		return s.addLeaf(ctx, packID, typ, uri, priority, handler)
	}

	return s.metadata.AddCollectionArtifact(ctx, packID, typ, uri, priority)
}

func (s *Service) addLeaf(ctx context.Context, packID string, typ model.Type, uri string, priority int, handler source.Handler) (string, error) {
	content, err := handler.Load(ctx, model.Artifact{Type: typ, SourceURI: uri})
	if err != nil {
		return "", err
	}

	tokens := s.estimator.Estimate(content)
	meta := model.Meta{Bytes: int64(len(content)), Mime: "text/plain"}

	return s.metadata.AddArtifactWithContent(ctx, packID, typ, uri, []byte(content), meta, tokens, priority, s.blobs.Put)
}

// resolvedPath picks the best available identifier for a leaf artifact: its
// filesystem path when it has one, else the raw URI (e.g. Text, GitDiff).
func resolvedPath(typ model.Type, uri string) string {
	if typ.Path != "" {
		return typ.Path
	}
	return uri
}

// matchDenylist reports the first denylist pattern (in order) that matches
// the artifact's resolved path.
func matchDenylist(path, uri string, denylist []string) (pattern string, matched bool) {
	candidate := path
	if candidate == "" {
		candidate = uri
	}
	for _, p := range denylist {
		if ok, _ := doublestar.Match(p, candidate); ok {
			return p, true
		}
	}
	return "", false
}
