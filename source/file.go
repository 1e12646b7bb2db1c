package source

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"ctx/model"
)

// FileHandler implements File, FileRange, and Markdown (a File subtype for
// handler routing and presentation only — identical load semantics).
type FileHandler struct{}

func NewFileHandler() *FileHandler { return &FileHandler{} }

func (h *FileHandler) CanHandle(uri string) bool {
	return SchemeOf(uri) == "file"
}

// Parse accepts "file:<path>" optionally suffixed with "#L<start>-L<end>"
// (1-based inclusive).
func (h *FileHandler) Parse(ctx context.Context, uri string, options Options) (model.Type, error) {
	body := rest(uri)

	path := body
	start, end := 0, 0
	if idx := strings.LastIndex(body, "#L"); idx >= 0 {
		path = body[:idx]
		rangeSpec := body[idx+2:]
		var err error
		start, end, err = parseLineRange(rangeSpec)
		if err != nil {
			return model.Type{}, sourceFailure(uri, fmt.Sprintf("invalid line range %q", rangeSpec), err)
		}
	}

	if start > 0 {
		return model.Type{Kind: model.KindFileRange, Path: path, StartLine: start, EndLine: end}, nil
	}
	return model.Type{Kind: model.KindFile, Path: path}, nil
}

func parseLineRange(spec string) (start, end int, err error) {
	parts := strings.SplitN(spec, "-L", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected form L<start>-L<end>")
	}
	start, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("start line: %w", err)
	}
	end, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("end line: %w", err)
	}
	if start < 1 || end < start {
		return 0, 0, fmt.Errorf("range must satisfy 1 <= start <= end, got %d-%d", start, end)
	}
	return start, end, nil
}

// Load reads the file as UTF-8 text, slicing to the inclusive 1-based
// range when the artifact is a FileRange.
func (h *FileHandler) Load(ctx context.Context, artifact model.Artifact) (string, error) {
	data, err := os.ReadFile(artifact.Type.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", sourceFailure(artifact.SourceURI, fmt.Sprintf("file %q not found", artifact.Type.Path), err)
		}
		return "", sourceFailure(artifact.SourceURI, fmt.Sprintf("read %q", artifact.Type.Path), err)
	}
	if !utf8.Valid(data) {
		return "", sourceFailure(artifact.SourceURI, fmt.Sprintf("%q is not valid UTF-8", artifact.Type.Path), nil)
	}

	if artifact.Type.Kind != model.KindFileRange {
		return string(data), nil
	}

	lines := strings.Split(string(data), "\n")
	start, end := artifact.Type.StartLine, artifact.Type.EndLine
	if start < 1 || end > len(lines) || start > end {
		return "", sourceFailure(artifact.SourceURI,
			fmt.Sprintf("range %d-%d out of bounds for %d lines", start, end, len(lines)), nil)
	}
	// start/end are 1-based inclusive; lines is 0-indexed.
	return strings.Join(lines[start-1:end], "\n"), nil
}

// Expand is empty: File/FileRange/Markdown are leaves.
func (h *FileHandler) Expand(ctx context.Context, artifact model.Artifact) ([]model.Artifact, error) {
	return nil, nil
}
