// Package cache implements the Read-Through Cache (C4): wraps a
// composite source and a content-addressed store, serving hits directly
// and falling through to the composite on miss, then populating the
// store. Grounded on the teacher's Pin/Retrieve flow in core/storage.go
// (check disk LRU, else fetch from the IPFS gateway and cache the
// result), generalized from a single HTTP gateway to an arbitrary
// source.Source.
package cache

import (
	"context"

	"github.com/ar-gateway/weave-gateway/internal/kvstore"
	"github.com/ar-gateway/weave-gateway/internal/source"
	"github.com/ar-gateway/weave-gateway/internal/telemetry"
)

// Cache wraps a source.Composite with a store consulted first. Its Get takes
// the store key in addition to the params passed to the composite on a miss.
type Cache struct {
	upstream *source.Composite
	store    kvstore.Store
	sink     telemetry.Sink
}

// New wraps upstream with store, consulting store before upstream on every
// Get and populating it (best-effort) on upstream success.
func New(upstream *source.Composite, store kvstore.Store, sink telemetry.Sink) *Cache {
	if sink == nil {
		sink = telemetry.Noop()
	}
	return &Cache{upstream: upstream, store: store, sink: sink}
}

// Get implements the read-through policy documented in §4.2. key is the
// content-addressed store key (e.g. chunkstore.Key(dataRoot, offset));
// params is the opaque descriptor passed to the wrapped composite source
// on miss.
func (c *Cache) Get(ctx context.Context, key []byte, params any) ([]byte, error) {
	if v, ok, err := c.store.Get(ctx, key); err == nil && ok {
		c.sink.Counter("cache_hit_total")
		return v, nil
	} else if err != nil {
		// A store read failure is not a cache hit; fall through to
		// upstream rather than failing the read outright (§4.2.4 — store
		// write failures don't fail reads; the same posture applies to
		// store read failures, which are just a slower path, not an
		// authoritative miss).
		c.sink.Logger().Warnw("cache: store read failed, falling through", "error", err)
	}

	c.sink.Counter("cache_miss_total")
	val, err := c.upstream.Get(ctx, params)
	if err != nil {
		return nil, err
	}

	// The store write completes before Get returns; a failure is only logged
	// and does not fail the read. Concurrent misses on the same key may
	// double-fetch and double-write; both are idempotent and tolerated per
	// §4.2.
	if err := c.store.Put(ctx, key, val); err != nil {
		c.sink.Logger().Warnw("cache: store write failed", "error", err)
	}
	return val, nil
}
