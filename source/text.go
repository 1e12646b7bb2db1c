package source

import (
	"context"

	"ctx/model"
)

// TextHandler implements the Text kind: a literal string stored inline at
// add time, with no external source to re-fetch.
type TextHandler struct{}

func NewTextHandler() *TextHandler { return &TextHandler{} }

func (h *TextHandler) CanHandle(uri string) bool {
	return SchemeOf(uri) == "text"
}

// Parse treats the remainder of the URI as the literal content itself.
func (h *TextHandler) Parse(ctx context.Context, uri string, options Options) (model.Type, error) {
	return model.Type{Kind: model.KindText, Content: rest(uri)}, nil
}

// Load returns the content captured at parse time; Text artifacts carry
// their own content and never re-read an external source.
func (h *TextHandler) Load(ctx context.Context, artifact model.Artifact) (string, error) {
	return artifact.Type.Content, nil
}

func (h *TextHandler) Expand(ctx context.Context, artifact model.Artifact) ([]model.Artifact, error) {
	return nil, nil
}
