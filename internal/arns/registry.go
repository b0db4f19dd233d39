// Package arns implements the ArNS Resolver Pipeline (C7): a debounced,
// hydrated registry cache in front of an ordered list of resolvers with
// per-resolver timeouts and bounded concurrency.
//
// Grounded on the "share one in-flight computation among concurrent
// callers" pattern from §9 Design Notes (modeled here with
// golang.org/x/sync/singleflight, the same family of primitive §9 calls
// out as equivalent to "a sync.Once-per-key guarded by a shared map"). The
// default registry store, MemoryRegistryStore, is a plain map with no size
// bound; no LRU eviction is applied to registry records.
package arns

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

// RegistryRecord is one base-name record held by the registry store.
type RegistryRecord struct {
	Name      string
	ProcessID string
	Limit     int
	Index     int
}

// RegistryStore holds hydrated base-name records. Implementations are
// typically an in-memory map; it's deliberately not persistent, matching
// §3's "TTL-bound for name resolutions and registry entries" lifecycle.
type RegistryStore interface {
	Get(name string) (RegistryRecord, bool)
	ReplaceAll(records []RegistryRecord)
}

// MemoryRegistryStore is the default RegistryStore.
type MemoryRegistryStore struct {
	mu      sync.RWMutex
	records map[string]RegistryRecord
}

func NewMemoryRegistryStore() *MemoryRegistryStore {
	return &MemoryRegistryStore{records: make(map[string]RegistryRecord)}
}

func (s *MemoryRegistryStore) Get(name string) (RegistryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[name]
	return r, ok
}

func (s *MemoryRegistryStore) ReplaceAll(records []RegistryRecord) {
	m := make(map[string]RegistryRecord, len(records))
	for _, r := range records {
		m[r.Name] = r
	}
	s.mu.Lock()
	s.records = m
	s.mu.Unlock()
}

// PageFetcher pulls one page of registry records. cursor is empty for the
// first page; hasMore reports whether another page follows.
type PageFetcher func(ctx context.Context, cursor string) (records []RegistryRecord, nextCursor string, hasMore bool, err error)

const (
	maxPageRetries    = 3
	pageRetryBaseWait = 100 * time.Millisecond
)

// Debouncer hydrates a RegistryStore from a PageFetcher, ensuring at most
// one hydrate runs at a time (concurrent callers share the in-flight
// result via singleflight) and that callers can distinguish a miss-path
// (must await) from a hit-path (fire-and-forget) refresh per §4.5.
type Debouncer struct {
	store    RegistryStore
	fetch    PageFetcher
	missTTL  time.Duration
	hitTTL   time.Duration
	group    singleflight.Group

	mu          sync.Mutex
	lastRefresh time.Time
}

// NewDebouncer builds a Debouncer. If debounceImmediately, a hydrate is
// kicked off (fire-and-forget) right away, matching §4.5's "triggered
// immediately on construction (unless debounce_immediately=false)".
func NewDebouncer(store RegistryStore, fetch PageFetcher, missTTL, hitTTL time.Duration, debounceImmediately bool) *Debouncer {
	d := &Debouncer{store: store, fetch: fetch, missTTL: missTTL, hitTTL: hitTTL}
	if debounceImmediately {
		go func() { _, _ = d.hydrate(context.Background()) }()
	}
	return d
}

// NotifyMiss is called after a resolution-cache miss; if at least missTTL
// has elapsed since the last refresh, the caller awaits the (possibly
// shared) hydrate before proceeding.
func (d *Debouncer) NotifyMiss(ctx context.Context) error {
	if !d.due(d.missTTL) {
		return nil
	}
	_, err := d.hydrate(ctx)
	return err
}

// NotifyHit is called after a resolution-cache hit; if at least hitTTL has
// elapsed since the last refresh, a hydrate is kicked off fire-and-forget.
func (d *Debouncer) NotifyHit() {
	if !d.due(d.hitTTL) {
		return
	}
	go func() { _, _ = d.hydrate(context.Background()) }()
}

func (d *Debouncer) due(ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Since(d.lastRefresh) >= ttl
}

// Lookup returns the registry record for name, if hydrated.
func (d *Debouncer) Lookup(name string) (RegistryRecord, bool) {
	return d.store.Get(name)
}

func (d *Debouncer) hydrate(ctx context.Context) (any, error) {
	v, err, _ := d.group.Do("hydrate", func() (any, error) {
		records, err := fetchAllPages(ctx, d.fetch)
		if err != nil {
			return nil, err
		}
		d.store.ReplaceAll(records)
		d.mu.Lock()
		d.lastRefresh = time.Now()
		d.mu.Unlock()
		return records, nil
	})
	return v, err
}

func fetchAllPages(ctx context.Context, fetch PageFetcher) ([]RegistryRecord, error) {
	var all []RegistryRecord
	cursor := ""
	for {
		page, next, hasMore, err := fetchPageWithRetry(ctx, fetch, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if !hasMore {
			return all, nil
		}
		cursor = next
	}
}

func fetchPageWithRetry(ctx context.Context, fetch PageFetcher, cursor string) ([]RegistryRecord, string, bool, error) {
	var lastErr error
	wait := pageRetryBaseWait
	for attempt := 0; attempt <= maxPageRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, "", false, errs.Wrap(errs.KindCanceled, "arns: hydrate canceled", ctx.Err())
			}
			wait *= 2
		}
		records, next, hasMore, err := fetch(ctx, cursor)
		if err == nil {
			return records, next, hasMore, nil
		}
		lastErr = err
	}
	return nil, "", false, errs.Wrap(errs.KindUnavailable, "arns: page fetch exhausted retries", lastErr)
}
