// Package render implements the render engine: the deterministic pipeline
// that turns a pack's membership into a budgeted, redacted, fingerprinted
// text payload. The engine itself is stateless — all state lives in the
// metadata and blob stores it's handed at construction — so it is safe to
// invoke concurrently for distinct packs.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"lukechampine.com/blake3"

	"ctx/blob"
	"ctx/metadata"
	"ctx/model"
	"ctx/redact"
	"ctx/source"
	"ctx/tokenest"
)

// maxConcurrentLoads bounds the fan-out over sibling artifacts' load/redact/
// estimate work. Each result is written into its own reserved slot, so
// running the work concurrently never disturbs the canonical order the
// caller already established.
const maxConcurrentLoads = 8

// ExclusionReason names why an artifact did not make it into a render.
type ExclusionReason string

const (
	// ExclusionOverBudget is the only reason the core algorithm produces
	// today: the artifact did not fit within the remaining budget. Later,
	// smaller artifacts still get a chance — an overflow does not stop
	// the scan.
	ExclusionOverBudget ExclusionReason = "OverBudget"
)

// ArtifactSummary is the lightweight view of an artifact carried in a
// RenderResult's included/excluded lists.
type ArtifactSummary struct {
	ID          string
	URI         string
	TokenCount  int
	ContentHash string
}

// Excluded pairs a summary with why it didn't make the cut.
type Excluded struct {
	Summary ArtifactSummary
	Reason  ExclusionReason
}

// Redaction records one pattern firing against one artifact's content.
type Redaction struct {
	ArtifactID  string
	PatternName string
	Count       int
}

// Result is the render engine's output.
type Result struct {
	BudgetTokens       int
	TotalTokens        int
	Included           []ArtifactSummary
	Excluded           []Excluded
	Redactions         []Redaction
	RenderFingerprint  string
	PayloadFingerprint string
	PayloadText        string
}

// Engine composes the stores and pure services needed to render a pack. It
// holds no per-render state of its own.
type Engine struct {
	metadata  *metadata.Store
	blobs     *blob.Store
	handlers  *source.Registry
	redactor  *redact.Redactor
	estimator *tokenest.Estimator
	log       *slog.Logger
}

// New builds a render engine from its already-constructed dependencies.
// Redactor and estimator are immutable and may be shared across engines.
// logger defaults to slog.Default() when nil.
func New(md *metadata.Store, blobs *blob.Store, handlers *source.Registry, redactor *redact.Redactor, estimator *tokenest.Estimator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{metadata: md, blobs: blobs, handlers: handlers, redactor: redactor, estimator: estimator, log: logger}
}

// loadedArtifact is a leaf artifact after expansion, paired with the
// membership it inherited (its own if it was never part of a collection,
// or its parent collection's if it was).
type loadedArtifact struct {
	artifact   model.Artifact
	membership model.Membership
}

// processedArtifact is a leaf artifact after load/redact/estimate, still
// carrying enough to either include or exclude it.
type processedArtifact struct {
	membership  model.Membership
	uri         string
	artifactID  string
	content     string
	contentHash string
	tokens      int
	redactions  []Redaction
}

// Render expands, loads, redacts, estimates, budgets, concatenates, and
// fingerprints the membership of packID into a final payload. policyOverride,
// if non-nil, replaces the pack's stored policy for this render only (the
// stored pack itself is never mutated by a render).
func (e *Engine) Render(ctx context.Context, packID string, policyOverride *model.Policy) (Result, error) {
	pack, err := e.metadata.GetPack(ctx, packID)
	if err != nil {
		return Result{}, err
	}

	policy := pack.Policy
	if policyOverride != nil {
		policy = *policyOverride
	}

	// Step 1: fetch membership — already in canonical order.
	members, err := e.metadata.ListPackArtifacts(ctx, pack.ID)
	if err != nil {
		return Result{}, err
	}

	// Step 2: expand collections in place, preserving canonical order.
	leaves, err := e.expand(ctx, members)
	if err != nil {
		return Result{}, err
	}

	// Steps 3-5: load, redact, estimate — independently per artifact, so
	// siblings are fanned out across a bounded set of goroutines; each
	// writes into its own reserved slot so the canonical order established
	// by `leaves` is re-materialized for free when the slice is read back.
	items, err := e.processAll(ctx, leaves)
	if err != nil {
		return Result{}, err
	}

	// Step 6: enforce budget. A later, smaller artifact may still fit
	// after an earlier one overflows, so an overflow does not stop the scan.
	var (
		included   []processedArtifact
		excluded   []Excluded
		runningSum int
	)
	for _, it := range items {
		if runningSum+it.tokens <= policy.BudgetTokens {
			included = append(included, it)
			runningSum += it.tokens
			continue
		}
		excluded = append(excluded, Excluded{
			Summary: ArtifactSummary{ID: it.artifactID, URI: it.uri, TokenCount: it.tokens, ContentHash: it.contentHash},
			Reason:  ExclusionOverBudget,
		})
		e.log.Debug("artifact excluded", "pack_id", pack.ID, "artifact_id", it.artifactID, "reason", ExclusionOverBudget)
	}

	// Step 7: concatenate, in canonical order, with byte-stable delimiters.
	var payload []byte
	for _, it := range included {
		payload = append(payload, fmt.Sprintf("=== %s ===\n", it.uri)...)
		payload = append(payload, it.content...)
		payload = append(payload, '\n')
	}

	// Step 8: fingerprint.
	policyJSON, err := model.CanonicalPolicyJSON(policy)
	if err != nil {
		return Result{}, err
	}
	renderFingerprint := fingerprintRender(pack.ID, policyJSON, included)
	payloadFingerprint := blob.Hash(payload)

	result := Result{
		BudgetTokens:       policy.BudgetTokens,
		TotalTokens:        runningSum,
		RenderFingerprint:  renderFingerprint,
		PayloadFingerprint: payloadFingerprint,
		PayloadText:        string(payload),
	}
	for _, it := range included {
		result.Included = append(result.Included, ArtifactSummary{ID: it.artifactID, URI: it.uri, TokenCount: it.tokens, ContentHash: it.contentHash})
		result.Redactions = append(result.Redactions, it.redactions...)
		for _, r := range it.redactions {
			e.log.Debug("redaction applied", "pack_id", pack.ID, "artifact_id", r.ArtifactID, "pattern", r.PatternName, "count", r.Count)
		}
	}
	result.Excluded = excluded

	e.log.Info("pack rendered", "pack_id", pack.ID, "included", len(result.Included), "excluded", len(result.Excluded),
		"total_tokens", result.TotalTokens, "render_fingerprint", result.RenderFingerprint, "payload_fingerprint", result.PayloadFingerprint)

	return result, nil
}

// fingerprintRender hashes, in a fixed order: the pack id bytes, the
// canonical policy JSON, then each included artifact's content hash bytes
// (hash of the post-redaction content), in canonical order. Any change to
// membership, policy, or content flips the fingerprint.
func fingerprintRender(packID, policyJSON string, included []processedArtifact) string {
	h := blake3.New(32, nil)
	h.Write([]byte(packID))
	h.Write([]byte(policyJSON))
	for _, it := range included {
		h.Write([]byte(it.contentHash))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// expand replaces each collection member with its handler's expand()
// result, inheriting the parent membership's priority and insertion
// ordering fields so the expanded children sort alongside their siblings
// as if the collection had never been expanded.
func (e *Engine) expand(ctx context.Context, members []model.PackArtifact) ([]loadedArtifact, error) {
	out := make([]loadedArtifact, 0, len(members))
	for _, pa := range members {
		if !pa.Artifact.Type.Kind.IsCollection() {
			out = append(out, loadedArtifact{artifact: pa.Artifact, membership: pa.Membership})
			continue
		}

		handler, err := e.handlers.Lookup(pa.Artifact.SourceURI)
		if err != nil {
			return nil, err
		}
		children, err := handler.Expand(ctx, pa.Artifact)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			out = append(out, loadedArtifact{artifact: child, membership: pa.Membership})
		}
	}
	return out, nil
}

// processAll runs load→redact→estimate for every leaf artifact
// concurrently, bounded by maxConcurrentLoads, and returns the results in
// the same order as leaves.
func (e *Engine) processAll(ctx context.Context, leaves []loadedArtifact) ([]processedArtifact, error) {
	out := make([]processedArtifact, len(leaves))
	errs := make([]error, len(leaves))

	sem := make(chan struct{}, maxConcurrentLoads)
	var wg sync.WaitGroup
	for i, la := range leaves {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, la loadedArtifact) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i], errs[i] = e.processOne(ctx, la)
		}(i, la)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// processOne loads, redacts, and estimates a single leaf artifact.
func (e *Engine) processOne(ctx context.Context, la loadedArtifact) (processedArtifact, error) {
	content, err := e.load(ctx, la.artifact)
	if err != nil {
		return processedArtifact{}, err
	}

	redactedContent, matches := e.redactor.Redact(content)
	var red []Redaction
	for _, m := range matches {
		red = append(red, Redaction{ArtifactID: la.artifact.ID, PatternName: m.Name, Count: m.Count})
	}

	tokens := e.estimator.Estimate(redactedContent)

	return processedArtifact{
		membership:  la.membership,
		uri:         la.artifact.SourceURI,
		artifactID:  la.artifact.ID,
		content:     redactedContent,
		contentHash: blob.Hash([]byte(redactedContent)),
		tokens:      tokens,
		redactions:  red,
	}, nil
}

// load obtains content for a leaf artifact: from the blob store when a
// content hash is already known and cached there, otherwise via the owning
// handler.
func (e *Engine) load(ctx context.Context, artifact model.Artifact) (string, error) {
	if artifact.ContentHash != "" && e.blobs.Exists(artifact.ContentHash) {
		data, err := e.blobs.Get(ctx, artifact.ContentHash)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	handler, err := e.handlers.Lookup(artifact.SourceURI)
	if err != nil {
		return "", err
	}
	return handler.Load(ctx, artifact)
}
