package source

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"ctx/model"
)

const defaultGitTimeoutSeconds = 10

// GitDiffHandler implements GitDiff{base, head}: the textual diff between
// two refs, produced by shelling out to git.
type GitDiffHandler struct {
	timeout time.Duration
}

func NewGitDiffHandler(timeoutSeconds int) *GitDiffHandler {
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultGitTimeoutSeconds
	}
	return &GitDiffHandler{timeout: time.Duration(timeoutSeconds) * time.Second}
}

func (h *GitDiffHandler) CanHandle(uri string) bool {
	return SchemeOf(uri) == "git"
}

// Parse accepts "git:diff [--base=<ref>] [--head=<ref>]". With no refs, Load
// diffs the working tree against HEAD (see diffArgs).
func (h *GitDiffHandler) Parse(ctx context.Context, uri string, options Options) (model.Type, error) {
	body := strings.TrimSpace(rest(uri))
	fields := strings.Fields(body)
	if len(fields) == 0 || fields[0] != "diff" {
		return model.Type{}, sourceFailure(uri, fmt.Sprintf("expected %q to start with \"diff\"", body), nil)
	}

	t := model.Type{Kind: model.KindGitDiff, Base: options.Base, Head: options.Head}
	for _, f := range fields[1:] {
		switch {
		case strings.HasPrefix(f, "--base="):
			t.Base = strings.TrimPrefix(f, "--base=")
		case strings.HasPrefix(f, "--head="):
			t.Head = strings.TrimPrefix(f, "--head=")
		default:
			return model.Type{}, sourceFailure(uri, fmt.Sprintf("unrecognized flag %q", f), nil)
		}
	}
	return t, nil
}

// diffArgs builds the "git diff" argument list for a (base, head) pair.
// With both refs set it diffs base..head; with only one ref set it diffs
// the working tree against that ref; with neither set it diffs the working
// tree against HEAD.
func diffArgs(base, head string) []string {
	switch {
	case base != "" && head != "":
		return []string{"diff", base + ".." + head}
	case base != "":
		return []string{"diff", base}
	case head != "":
		return []string{"diff", head}
	default:
		return []string{"diff", "HEAD"}
	}
}

// Load shells out to "git diff" with a bounded timeout, wrapping any process
// failure as a SourceFailureError.
func (h *GitDiffHandler) Load(ctx context.Context, artifact model.Artifact) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	args := diffArgs(artifact.Type.Base, artifact.Type.Head)

	cmd := exec.CommandContext(runCtx, "git", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return "", sourceFailure(artifact.SourceURI, "git diff timed out", runCtx.Err())
		}
		return "", sourceFailure(artifact.SourceURI, fmt.Sprintf("git diff failed: %s", strings.TrimSpace(stderr.String())), err)
	}
	return stdout.String(), nil
}

func (h *GitDiffHandler) Expand(ctx context.Context, artifact model.Artifact) ([]model.Artifact, error) {
	return nil, nil
}
