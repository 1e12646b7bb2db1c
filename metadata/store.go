// Package metadata implements the transactional relational store: packs,
// artifacts, pack membership, and snapshots, plus the ordered retrieval
// contract the render engine depends on. It runs over a sqlite database
// opened in WAL mode with foreign keys and a busy timeout, via the
// github.com/mattn/go-sqlite3 driver.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"ctx/clock"
	"ctx/model"
	sqlitewrap "ctx/sqlite"
)

// Store is the sqlite-backed metadata store.
type Store struct {
	db  *sqlitewrap.Database
	seq *clock.Sequence
	log *slog.Logger
}

// Open opens (and migrates, if needed) a metadata store at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sqlitewrap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: open: %w", errors.Join(model.ErrStorageFailure, err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("metadata: migrate: %w", errors.Join(model.ErrStorageFailure, err))
	}

	return &Store{db: db, seq: clock.NewSequence(), log: logger}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreatePack creates a new pack with the given name and policy.
func (s *Store) CreatePack(ctx context.Context, name string, policy model.Policy) (model.Pack, error) {
	var existing string
	err := s.db.QueryRow(ctx, `SELECT pack_id FROM packs WHERE name = ?`, name).Scan(&existing)
	if err == nil {
		return model.Pack{}, fmt.Errorf("metadata: pack %q: %w", name, model.ErrConflict)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Pack{}, fmt.Errorf("metadata: check pack name: %w", errors.Join(model.ErrStorageFailure, err))
	}

	policyJSON, err := model.CanonicalPolicyJSON(policy)
	if err != nil {
		return model.Pack{}, err
	}

	now := time.Now().UTC()
	pack := model.Pack{
		ID:        uuid.NewString(),
		Name:      name,
		Policy:    policy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO packs (pack_id, name, policies_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		pack.ID, pack.Name, policyJSON, now.Unix(), now.Unix())
	if err != nil {
		return model.Pack{}, fmt.Errorf("metadata: insert pack: %w", errors.Join(model.ErrStorageFailure, err))
	}

	s.log.Info("pack created", "pack_id", pack.ID, "name", name)
	return pack, nil
}

// GetPack looks up a pack by id or name.
func (s *Store) GetPack(ctx context.Context, nameOrID string) (model.Pack, error) {
	row := s.db.QueryRow(ctx,
		`SELECT pack_id, name, policies_json, created_at, updated_at FROM packs WHERE pack_id = ? OR name = ?`,
		nameOrID, nameOrID)
	return scanPack(row)
}

func scanPack(row *sql.Row) (model.Pack, error) {
	var (
		p          model.Pack
		policyJSON string
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(&p.ID, &p.Name, &policyJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Pack{}, fmt.Errorf("metadata: pack: %w", model.ErrNotFound)
		}
		return model.Pack{}, fmt.Errorf("metadata: scan pack: %w", errors.Join(model.ErrStorageFailure, err))
	}
	policy, err := decodePolicy(policyJSON)
	if err != nil {
		return model.Pack{}, err
	}
	p.Policy = policy
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return p, nil
}

func decodePolicy(raw string) (model.Policy, error) {
	var m map[string]any
	if err := jsonUnmarshal(raw, &m); err != nil {
		return model.Policy{}, fmt.Errorf("metadata: decode policy: %w", err)
	}
	policy := model.Policy{RawExtra: map[string]any{}}
	for k, v := range m {
		switch k {
		case "budget_tokens":
			if f, ok := v.(float64); ok {
				policy.BudgetTokens = int(f)
			}
		case "ordering":
			if str, ok := v.(string); ok {
				policy.Ordering = str
			}
		default:
			policy.RawExtra[k] = v
		}
	}
	return policy, nil
}

// ListPacks returns every pack, in a stable (creation) order.
func (s *Store) ListPacks(ctx context.Context) ([]model.Pack, error) {
	rows, err := s.db.Query(ctx, `SELECT pack_id, name, policies_json, created_at, updated_at FROM packs ORDER BY created_at ASC, pack_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("metadata: list packs: %w", errors.Join(model.ErrStorageFailure, err))
	}
	defer rows.Close()

	var out []model.Pack
	for rows.Next() {
		var (
			p          model.Pack
			policyJSON string
			createdAt  int64
			updatedAt  int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &policyJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("metadata: scan pack: %w", errors.Join(model.ErrStorageFailure, err))
		}
		policy, err := decodePolicy(policyJSON)
		if err != nil {
			return nil, err
		}
		p.Policy = policy
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePack deletes a pack; ON DELETE CASCADE removes its memberships.
func (s *Store) DeletePack(ctx context.Context, nameOrID string) error {
	pack, err := s.GetPack(ctx, nameOrID)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM packs WHERE pack_id = ?`, pack.ID); err != nil {
		return fmt.Errorf("metadata: delete pack: %w", errors.Join(model.ErrStorageFailure, err))
	}
	return nil
}

// AddArtifactWithContent atomically stores content in the blob store,
// inserts the artifact row with the resulting hash, and inserts the
// membership row. put is the blob store's Put function, injected so this
// package does not need to import blob directly.
func (s *Store) AddArtifactWithContent(
	ctx context.Context,
	packID string,
	artifactType model.Type,
	sourceURI string,
	content []byte,
	meta model.Meta,
	tokenEstimate int,
	priority int,
	put func(ctx context.Context, data []byte) (string, error),
) (string, error) {
	hash, err := put(ctx, content)
	if err != nil {
		return "", fmt.Errorf("metadata: store blob: %w", err)
	}
	return s.insertArtifact(ctx, packID, artifactType, sourceURI, sql.NullString{String: hash, Valid: true}, meta, tokenEstimate, priority)
}

// AddCollectionArtifact inserts a collection artifact (CollectionMdDir,
// CollectionGlob) with no blob-backed content: collections are lazy sets
// expanded at render time, so there is nothing to hash yet and content_hash
// stays NULL.
func (s *Store) AddCollectionArtifact(
	ctx context.Context,
	packID string,
	artifactType model.Type,
	sourceURI string,
	priority int,
) (string, error) {
	return s.insertArtifact(ctx, packID, artifactType, sourceURI, sql.NullString{}, model.Meta{}, 0, priority)
}

func (s *Store) insertArtifact(
	ctx context.Context,
	packID string,
	artifactType model.Type,
	sourceURI string,
	contentHash sql.NullString,
	meta model.Meta,
	tokenEstimate int,
	priority int,
) (string, error) {
	typeJSON, err := model.MarshalType(artifactType)
	if err != nil {
		return "", err
	}
	metaJSON, err := jsonMarshal(meta)
	if err != nil {
		return "", fmt.Errorf("metadata: marshal meta: %w", err)
	}

	artifactID := uuid.NewString()
	now := time.Now().UTC()
	seq := s.seq.Next()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("metadata: begin tx: %w", errors.Join(model.ErrStorageFailure, err))
	}
	defer tx.Rollback()

	if _, err := tx.Exec(ctx,
		`INSERT INTO artifacts (artifact_id, type_json, source_uri, content_hash, meta_json, token_est, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		artifactID, typeJSON, sourceURI, contentHash, metaJSON, tokenEstimate, now.Unix()); err != nil {
		return "", fmt.Errorf("metadata: insert artifact: %w", errors.Join(model.ErrStorageFailure, err))
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO pack_items (pack_id, artifact_id, priority, added_at, seq) VALUES (?, ?, ?, ?, ?)`,
		packID, artifactID, priority, now.Unix(), seq); err != nil {
		return "", fmt.Errorf("metadata: insert membership: %w", errors.Join(model.ErrStorageFailure, err))
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("metadata: commit: %w", errors.Join(model.ErrStorageFailure, err))
	}

	s.log.Debug("artifact added", "pack_id", packID, "artifact_id", artifactID, "uri", sourceURI)
	return artifactID, nil
}

// RemoveArtifact deletes only the membership row; the artifact record may
// persist, referenced by other packs or orphaned.
func (s *Store) RemoveArtifact(ctx context.Context, packID, artifactID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM pack_items WHERE pack_id = ? AND artifact_id = ?`, packID, artifactID); err != nil {
		return fmt.Errorf("metadata: remove membership: %w", errors.Join(model.ErrStorageFailure, err))
	}
	return nil
}

// ListPackArtifacts returns a pack's artifacts in canonical order: priority
// DESC, insertion_time ASC, artifact_id ASC — with the internal seq column
// breaking insertion_time ties before the artifact_id tiebreak ever applies.
func (s *Store) ListPackArtifacts(ctx context.Context, packID string) ([]model.PackArtifact, error) {
	rows, err := s.db.Query(ctx, `
		SELECT a.artifact_id, a.type_json, a.source_uri, a.content_hash, a.meta_json, a.token_est, a.created_at,
		       p.priority, p.added_at, p.seq
		FROM pack_items p
		JOIN artifacts a ON a.artifact_id = p.artifact_id
		WHERE p.pack_id = ?
		ORDER BY p.priority DESC, p.added_at ASC, p.seq ASC, a.artifact_id ASC
	`, packID)
	if err != nil {
		return nil, fmt.Errorf("metadata: list pack artifacts: %w", errors.Join(model.ErrStorageFailure, err))
	}
	defer rows.Close()

	var out []model.PackArtifact
	for rows.Next() {
		var (
			pa          model.PackArtifact
			typeJSON    string
			contentHash sql.NullString
			metaJSON    string
			createdAt   int64
			addedAt     int64
			seq         uint64
		)
		if err := rows.Scan(&pa.Artifact.ID, &typeJSON, &pa.Artifact.SourceURI, &contentHash, &metaJSON,
			&pa.Artifact.TokenEstimate, &createdAt, &pa.Membership.Priority, &addedAt, &seq); err != nil {
			return nil, fmt.Errorf("metadata: scan pack artifact: %w", errors.Join(model.ErrStorageFailure, err))
		}
		t, err := model.UnmarshalType(typeJSON)
		if err != nil {
			return nil, err
		}
		pa.Artifact.Type = t
		if contentHash.Valid {
			pa.Artifact.ContentHash = contentHash.String
		}
		var meta model.Meta
		if err := jsonUnmarshal(metaJSON, &meta); err != nil {
			return nil, fmt.Errorf("metadata: decode meta: %w", err)
		}
		pa.Artifact.Meta = meta
		pa.Artifact.CreatedAt = time.Unix(createdAt, 0).UTC()
		pa.Membership.PackID = packID
		pa.Membership.ArtifactID = pa.Artifact.ID
		pa.Membership.AddedAt = time.Unix(addedAt, 0).UTC()
		pa.Membership.Seq = seq
		out = append(out, pa)
	}
	return out, rows.Err()
}

// CreateSnapshot inserts an immutable snapshot row. If recordMembership is
// true, included (in canonical order) is also persisted to snapshot_items;
// this per-artifact membership is optional and most callers skip it.
func (s *Store) CreateSnapshot(ctx context.Context, snap model.Snapshot, included []string, recordMembership bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: begin tx: %w", errors.Join(model.ErrStorageFailure, err))
	}
	defer tx.Rollback()

	var label any
	if snap.Label != "" {
		label = snap.Label
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO snapshots (snapshot_id, pack_id, label, render_hash, payload_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.PackID, label, snap.RenderFingerprint, snap.PayloadFingerprint, snap.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("metadata: insert snapshot: %w", errors.Join(model.ErrStorageFailure, err))
	}

	if recordMembership {
		for i, artifactID := range included {
			if _, err := tx.Exec(ctx,
				`INSERT INTO snapshot_items (snapshot_id, artifact_id, position) VALUES (?, ?, ?)`,
				snap.ID, artifactID, i); err != nil {
				return fmt.Errorf("metadata: insert snapshot item: %w", errors.Join(model.ErrStorageFailure, err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("metadata: commit snapshot: %w", errors.Join(model.ErrStorageFailure, err))
	}
	return nil
}

// GetSnapshot looks up a snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, snapshotID string) (model.Snapshot, error) {
	row := s.db.QueryRow(ctx,
		`SELECT snapshot_id, pack_id, label, render_hash, payload_hash, created_at FROM snapshots WHERE snapshot_id = ?`,
		snapshotID)

	var (
		snap      model.Snapshot
		label     sql.NullString
		createdAt int64
	)
	if err := row.Scan(&snap.ID, &snap.PackID, &label, &snap.RenderFingerprint, &snap.PayloadFingerprint, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Snapshot{}, fmt.Errorf("metadata: snapshot: %w", model.ErrNotFound)
		}
		return model.Snapshot{}, fmt.Errorf("metadata: scan snapshot: %w", errors.Join(model.ErrStorageFailure, err))
	}
	if label.Valid {
		snap.Label = label.String
	}
	snap.CreatedAt = time.Unix(createdAt, 0).UTC()
	return snap, nil
}
