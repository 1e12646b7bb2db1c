package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ArtifactKind tags the variant carried by an Artifact's Type field. The set
// is closed and small by design rather than an open inheritance hierarchy.
type ArtifactKind string

const (
	KindFile             ArtifactKind = "file"
	KindFileRange        ArtifactKind = "file_range"
	KindText             ArtifactKind = "text"
	KindMarkdown         ArtifactKind = "markdown"
	KindCollectionMdDir  ArtifactKind = "collection_md_dir"
	KindCollectionGlob   ArtifactKind = "collection_glob"
	KindGitDiff          ArtifactKind = "git_diff"
)

// IsCollection reports whether this kind expands into child artifacts
// instead of loading content directly. The render engine only ever asks
// this question; it never switches on the concrete kind itself.
func (k ArtifactKind) IsCollection() bool {
	switch k {
	case KindCollectionMdDir, KindCollectionGlob:
		return true
	default:
		return false
	}
}

// Type is the tagged-union payload for an artifact. Exactly the fields
// relevant to Kind are populated; json tags match the on-disk type_json
// column.
type Type struct {
	Kind ArtifactKind `json:"kind"`

	// File / FileRange / Markdown
	Path      string `json:"path,omitempty"`
	StartLine int    `json:"start_line,omitempty"` // 1-based inclusive
	EndLine   int    `json:"end_line,omitempty"`   // 1-based inclusive

	// Text
	Content string `json:"content,omitempty"`

	// CollectionMdDir
	Recursive bool     `json:"recursive,omitempty"`
	MaxFiles  *int     `json:"max_files,omitempty"`
	Exclude   []string `json:"exclude,omitempty"`

	// CollectionGlob
	Pattern string `json:"pattern,omitempty"`

	// GitDiff
	Base string `json:"base,omitempty"`
	Head string `json:"head,omitempty"`
}

// Meta holds presentation metadata alongside a materialized artifact.
type Meta struct {
	Bytes int64  `json:"bytes"`
	Mime  string `json:"mime,omitempty"`
}

// Artifact is a single unit of source material.
type Artifact struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	SourceURI    string    `json:"source_uri"`
	ContentHash  string    `json:"content_hash,omitempty"`
	Meta         Meta      `json:"meta"`
	TokenEstimate int      `json:"token_estimate"`
	CreatedAt    time.Time `json:"created_at"`
}

// MarshalType serializes t the way the artifacts.type_json column stores it.
func MarshalType(t Type) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal artifact type: %w", err)
	}
	return string(b), nil
}

// UnmarshalType parses an artifacts.type_json column value.
func UnmarshalType(s string) (Type, error) {
	var t Type
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return Type{}, fmt.Errorf("unmarshal artifact type: %w", err)
	}
	return t, nil
}
