// Package blob implements a content-addressed, immutable blob store:
// put/get/exists keyed by a BLAKE3-256 hash, sharded on disk, written via
// temp-file-then-rename so that a reader never observes a partial write. An
// LRU cache sits in front of disk reads for hot blobs.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"lukechampine.com/blake3"

	"ctx/model"
)

// Concurrent Put calls racing to the same content-addressed path are safe
// without an explicit lock: both writers produce byte-identical content
// (the hash guarantees it), and the temp-file-then-rename write means the
// loser of the race just overwrites an already-correct file.

const (
	// Algo is the fixed hash algorithm name used in the on-disk layout:
	// <root>/<algo>/<hh>/<hex-hash>.
	Algo = "blake3"

	hashSize   = 32
	cacheSize  = 1000
	shardChars = 2
)

// Store is a content-addressed immutable byte store.
type Store struct {
	root  string
	cache *lru.Cache[string, []byte]
}

// Open creates (if needed) root and returns a Store rooted there.
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("blob: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("blob: create cache: %w", err)
	}
	return &Store{root: root, cache: cache}, nil
}

// Hash computes the BLAKE3-256 hash of data as lowercase hex, without
// storing anything. Used by callers that need a content hash before
// deciding whether to materialize a blob (e.g. the render engine's
// fingerprint input).
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}

// Put stores data and returns its hash. Idempotent: putting the same bytes
// twice is a no-op the second time and yields the same hash.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("blob put: %w", model.ErrCancelled)
	}

	hash := Hash(data)
	s.cache.Add(hash, data)

	path := s.pathFor(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("blob put %s: %w", hash, errors.Join(model.ErrStorageFailure, err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "blob-*.tmp")
	if err != nil {
		return "", fmt.Errorf("blob put %s: %w", hash, errors.Join(model.ErrStorageFailure, err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("blob put %s: %w", hash, errors.Join(model.ErrStorageFailure, err))
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("blob put %s: %w", hash, errors.Join(model.ErrStorageFailure, err))
	}

	if err := os.Rename(tmpName, path); err != nil {
		// Another writer may have raced us to the same content-addressed
		// path; that's fine, the bytes are identical by construction.
		if _, statErr := os.Stat(path); statErr == nil {
			return hash, nil
		}
		return "", fmt.Errorf("blob put %s: %w", hash, errors.Join(model.ErrStorageFailure, err))
	}

	return hash, nil
}

// Get returns the bytes previously stored under hash.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("blob get: %w", model.ErrCancelled)
	}

	if data, ok := s.cache.Get(hash); ok {
		return data, nil
	}

	data, err := os.ReadFile(s.pathFor(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob get %s: %w", hash, model.ErrNotFound)
		}
		return nil, fmt.Errorf("blob get %s: %w", hash, errors.Join(model.ErrStorageFailure, err))
	}

	s.cache.Add(hash, data)
	return data, nil
}

// Exists reports whether hash is present, without reading its content.
func (s *Store) Exists(hash string) bool {
	if _, ok := s.cache.Get(hash); ok {
		return true
	}
	_, err := os.Stat(s.pathFor(hash))
	return err == nil
}

// Sweep deletes every stored blob whose hash is not in keep. It is never
// called by Put or by the render engine; callers invoke it explicitly as an
// opt-in garbage-collection pass.
func (s *Store) Sweep(keep map[string]struct{}) (removed int, err error) {
	err = filepath.WalkDir(s.root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		hash := filepath.Base(path)
		if _, ok := keep[hash]; ok {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		s.cache.Remove(hash)
		removed++
		return nil
	})
	return removed, err
}

func (s *Store) pathFor(hash string) string {
	if len(hash) < shardChars {
		return filepath.Join(s.root, Algo, hash)
	}
	return filepath.Join(s.root, Algo, hash[:shardChars], hash)
}

var _ io.Closer = (*Store)(nil)

// Close is a no-op; the store holds no file descriptors between calls. It
// exists so Store satisfies io.Closer for callers that manage storage
// lifecycle uniformly.
func (s *Store) Close() error { return nil }
