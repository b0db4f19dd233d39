// Package kvstore implements the KV Buffer Store (C1): a unified
// key→bytes mapping with three lifecycles — an on-disk content-addressed
// store, an in-memory bounded LRU, and composition of either behind one
// interface. Grounded on the teacher's diskLRU in core/storage.go, split
// into a Store interface so the filesystem and memory tiers are
// interchangeable and composable, and generalized from a single fixed-size
// eviction cache keyed by a CID string to an arbitrary byte-key store.
package kvstore

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

// Store is the capability set every backing tier implements. Content
// addressed values are add-only: a Put for a key that already exists is a
// no-op success (idempotent), matching §3's "a successful write under a
// given key implies no other bytes are ever stored under that key"
// invariant.
type Store interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Put(ctx context.Context, key []byte, value []byte) error
	Has(ctx context.Context, key []byte) (bool, error)
	Del(ctx context.Context, key []byte) error
}

// FSStore is a filesystem-backed Store keyed by the hex encoding of the
// key bytes, one file per entry, directly descended from the teacher's
// diskLRU.put/get (core/storage.go) but without a bounded eviction policy
// — chunk/metadata stores are content addressed and expected to grow;
// eviction, where wanted, belongs to a wrapping MemoryStore tier instead.
type FSStore struct {
	dir string
}

// NewFSStore opens (creating if necessary) a filesystem store rooted at
// dir.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, "kvstore: mkdir", err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) path(key []byte) string {
	name := hex.EncodeToString(key)
	// Shard by the first byte to avoid a flat directory with millions of
	// entries, matching the CDB64 partitioning idea used elsewhere in
	// this module for the same reason.
	if len(name) >= 2 {
		return filepath.Join(s.dir, name[:2], name)
	}
	return filepath.Join(s.dir, name)
}

func (s *FSStore) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errs.Wrap(errs.KindUnavailable, "kvstore: read", err)
	}
	return b, true, nil
}

func (s *FSStore) Put(_ context.Context, key []byte, value []byte) error {
	p := s.path(key)
	if _, err := os.Stat(p); err == nil {
		return nil // already present; content-addressed writes are idempotent
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errs.Wrap(errs.KindUnavailable, "kvstore: mkdir", err)
	}
	tmp := p + ".tmp-" + hex.EncodeToString(key[:min(4, len(key))])
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return errs.Wrap(errs.KindUnavailable, "kvstore: write", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return errs.Wrap(errs.KindUnavailable, "kvstore: rename", err)
	}
	return nil
}

func (s *FSStore) Has(_ context.Context, key []byte) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errs.Wrap(errs.KindUnavailable, "kvstore: stat", err)
}

func (s *FSStore) Del(_ context.Context, key []byte) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindUnavailable, "kvstore: remove", err)
	}
	return nil
}

// MemoryStore is a bounded in-memory Store, directly descended from the
// teacher's diskLRU eviction logic (core/storage.go newDiskLRU/put) but
// backed by hashicorp/golang-lru instead of a hand-rolled slice-ordered
// index, and holding values in memory rather than paths on disk.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, []byte]
}

// NewMemoryStore builds a bounded in-memory Store holding up to maxEntries
// values.
func NewMemoryStore(maxEntries int) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	c, err := lru.New[string, []byte](maxEntries)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, "kvstore: lru init", err)
	}
	return &MemoryStore{cache: c}, nil
}

func (s *MemoryStore) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(string(key))
	return v, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache.Contains(string(key)) {
		return nil
	}
	s.cache.Add(string(key), value)
	return nil
}

func (s *MemoryStore) Has(_ context.Context, key []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Contains(string(key)), nil
}

func (s *MemoryStore) Del(_ context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(string(key))
	return nil
}

// Tiered layers a fast MemoryStore in front of a slower durable Store
// (typically an FSStore), populating the memory tier on read-through.
type Tiered struct {
	hot  Store
	cold Store
}

// NewTiered composes hot (checked first, populated on miss) over cold
// (the durable tier).
func NewTiered(hot, cold Store) *Tiered {
	return &Tiered{hot: hot, cold: cold}
}

func (t *Tiered) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if v, ok, err := t.hot.Get(ctx, key); err != nil {
		return nil, false, err
	} else if ok {
		return v, true, nil
	}
	v, ok, err := t.cold.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	_ = t.hot.Put(ctx, key, v)
	return v, true, nil
}

func (t *Tiered) Put(ctx context.Context, key []byte, value []byte) error {
	if err := t.cold.Put(ctx, key, value); err != nil {
		return err
	}
	return t.hot.Put(ctx, key, value)
}

func (t *Tiered) Has(ctx context.Context, key []byte) (bool, error) {
	if ok, err := t.hot.Has(ctx, key); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	return t.cold.Has(ctx, key)
}

func (t *Tiered) Del(ctx context.Context, key []byte) error {
	_ = t.hot.Del(ctx, key)
	return t.cold.Del(ctx, key)
}
