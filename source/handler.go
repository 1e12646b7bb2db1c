// Package source implements the source-handler abstraction: a small, closed
// set of handlers behind a common interface, each owning a URI scheme and
// knowing how to parse it, load its content, and (for collection schemes)
// expand into constituent artifacts. A registry keyed by scheme prefix
// dispatches; the set of artifact kinds is small and known, so a capability
// interface over a handful of concrete handlers is the right shape rather
// than a dynamically-registered plugin system.
package source

import (
	"context"
	"fmt"
	"strings"

	"lukechampine.com/blake3"

	"ctx/model"
)

// Handler is the common contract every source handler satisfies.
type Handler interface {
	// CanHandle reports whether this handler owns uri's scheme.
	CanHandle(uri string) bool

	// Parse turns uri into artifact metadata. Cheap: no I/O beyond what is
	// needed to validate the URI shape.
	Parse(ctx context.Context, uri string, options Options) (model.Type, error)

	// Load returns content for a non-collection artifact.
	Load(ctx context.Context, artifact model.Artifact) (string, error)

	// Expand returns the ordered child artifacts of a collection artifact.
	// Empty for leaf kinds.
	Expand(ctx context.Context, artifact model.Artifact) ([]model.Artifact, error)
}

// Options carries handler-specific parse-time parameters that do not fit in
// the URI itself (e.g. CollectionMdDir's recursive/max_files/exclude).
type Options struct {
	Recursive bool
	MaxFiles  *int
	Exclude   []string
	Base      string
	Head      string
	GitTimeoutSeconds int
}

// defaultScheme is assumed when a URI carries none.
const defaultScheme = "file"

// Registry dispatches URIs to the handler that owns their scheme.
type Registry struct {
	handlers []Handler
}

// NewRegistry builds a registry with the handlers needed to satisfy every
// supported URI scheme: file:, text:, md_dir:, glob:, git:diff.
func NewRegistry(gitTimeoutSeconds int) *Registry {
	return &Registry{handlers: []Handler{
		NewFileHandler(),
		NewTextHandler(),
		NewMarkdownDirHandler(),
		NewGlobHandler(),
		NewGitDiffHandler(gitTimeoutSeconds),
	}}
}

// Lookup returns the handler owning uri's scheme, or UnknownSchemeError.
func (r *Registry) Lookup(uri string) (Handler, error) {
	for _, h := range r.handlers {
		if h.CanHandle(uri) {
			return h, nil
		}
	}
	return nil, &model.UnknownSchemeError{Scheme: SchemeOf(uri)}
}

// SchemeOf extracts the scheme portion of uri, defaulting to "file" when
// none is present.
func SchemeOf(uri string) string {
	if idx := strings.Index(uri, ":"); idx > 0 && isSchemeLike(uri[:idx]) {
		return uri[:idx]
	}
	return defaultScheme
}

// isSchemeLike reports whether s has the shape of a scheme: two or more
// ASCII letters, digits or underscores. This guards against treating a
// Windows-style drive letter or a line-range fragment ("path/to/file:42")
// as a scheme prefix, while an unknown scheme such as "ftp" is still
// recognised as one so that Lookup can reject it.
func isSchemeLike(s string) bool {
	if len(s) < 2 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}

// rest returns the URI with its scheme prefix (and following colon)
// stripped, or the whole URI when it carried the default scheme.
func rest(uri string) string {
	scheme := SchemeOf(uri)
	if strings.HasPrefix(uri, scheme+":") {
		return strings.TrimPrefix(uri, scheme+":")
	}
	return uri
}

func sourceFailure(uri, detail string, err error) error {
	return &model.SourceFailureError{URI: uri, Detail: detail, Err: err}
}

// deterministicID derives a stable, opaque id for an artifact produced by
// Expand. A collection's children are never stored as their own row (only
// the collection artifact is persisted), so they never get a uuid from the
// metadata store; but render determinism requires each child to carry the
// same id on every render of the same inputs, so it is derived from the
// child's resolved source URI rather than randomly generated.
func deterministicID(sourceURI string) string {
	sum := blake3.Sum256([]byte(sourceURI))
	return fmt.Sprintf("%x", sum[:])
}
