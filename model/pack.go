package model

import "time"

// Policy is the render policy attached to a pack. Additional keys are
// reserved for future versions and round-trip through RawExtra untouched so
// that an older binary never silently discards a newer field.
type Policy struct {
	BudgetTokens int    `json:"budget_tokens"`
	Ordering     string `json:"ordering"`

	// RawExtra preserves any reserved/unknown keys found on decode so that
	// CanonicalPolicyJSON (used for fingerprinting) is stable across versions
	// that only understand a subset of the policy's fields.
	RawExtra map[string]any `json:"-"`
}

const OrderingPriorityThenTime = "PriorityThenTime"

// DefaultPolicy returns the policy used when a pack is created without one.
func DefaultPolicy() Policy {
	return Policy{BudgetTokens: 8000, Ordering: OrderingPriorityThenTime}
}

// Pack is a named bundle of artifacts with a render policy.
type Pack struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Policy    Policy    `json:"policy"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership is the many-to-many association between a pack and an
// artifact, carrying priority and insertion time.
type Membership struct {
	PackID     string
	ArtifactID string
	Priority   int
	AddedAt    time.Time
	Seq        uint64 // tiebreak within the same wall-clock second, see clock.Sequence
}

// PackArtifact pairs an artifact with its membership row, pre-sorted by the
// metadata store's canonical order contract.
type PackArtifact struct {
	Artifact   Artifact
	Membership Membership
}

// Snapshot is an immutable record of a render.
type Snapshot struct {
	ID                string    `json:"id"`
	PackID            string    `json:"pack_id"`
	Label             string    `json:"label,omitempty"`
	RenderFingerprint string    `json:"render_fingerprint"`
	PayloadFingerprint string   `json:"payload_fingerprint"`
	CreatedAt         time.Time `json:"created_at"`
}
