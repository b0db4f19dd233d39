package arns

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestResolutionFresh(t *testing.T) {
	r := Resolution{ResolvedID: "abc", ResolvedAtMs: 1000, TTLSeconds: 10}
	if !r.Fresh(1000 + 9999) {
		t.Error("Fresh at 9.999s elapsed: false, want true")
	}
	if r.Fresh(1000 + 10001) {
		t.Error("Fresh at 10.001s elapsed: true, want false")
	}
}

func TestResolutionNegativeNeverFresh(t *testing.T) {
	r := Resolution{Name: "nope"}
	if r.Fresh(0) {
		t.Error("Fresh on a negative resolution (empty ResolvedID): true, want false")
	}
}

type fakeResolver struct {
	name  string
	delay time.Duration
	res   Resolution
	err   error
}

func (f *fakeResolver) Name() string { return f.name }

func (f *fakeResolver) Resolve(ctx context.Context, name string) (Resolution, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Resolution{}, ctx.Err()
		}
	}
	return f.res, f.err
}

func TestPipelineResolvesFromResolver(t *testing.T) {
	r := &fakeResolver{name: "r1", res: Resolution{Name: "foo", ResolvedID: "tx123", TTLSeconds: 60}}
	p := New(Config{Resolvers: []Resolver{r}, MaxConcurrent: 1, Now: func() time.Time { return time.Unix(0, 0) }})

	got, err := p.Resolve(context.Background(), "foo")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ResolvedID != "tx123" {
		t.Errorf("ResolvedID = %q, want %q", got.ResolvedID, "tx123")
	}
}

func TestPipelineCachesSuccess(t *testing.T) {
	var calls int32
	r := &fakeResolver{name: "r1", res: Resolution{Name: "foo", ResolvedID: "tx123", TTLSeconds: 60}}
	wrapped := &countingResolver{Resolver: r, calls: &calls}
	p := New(Config{Resolvers: []Resolver{wrapped}, MaxConcurrent: 1})

	if _, err := p.Resolve(context.Background(), "foo"); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if _, err := p.Resolve(context.Background(), "foo"); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("resolver called %d times, want 1 (second call should hit cache)", calls)
	}
}

type countingResolver struct {
	Resolver
	calls *int32
}

func (c *countingResolver) Resolve(ctx context.Context, name string) (Resolution, error) {
	atomic.AddInt32(c.calls, 1)
	return c.Resolver.Resolve(ctx, name)
}

func TestPipelineNegativeResolutionOnExhaustion(t *testing.T) {
	r := &fakeResolver{name: "r1", err: errors.New("unresolvable")}
	p := New(Config{Resolvers: []Resolver{r}, MaxConcurrent: 1})

	got, err := p.Resolve(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ResolvedID != "" {
		t.Errorf("ResolvedID = %q, want empty (negative resolution)", got.ResolvedID)
	}
}

func TestPipelineNoResolversNegativeResolution(t *testing.T) {
	p := New(Config{})
	got, err := p.Resolve(context.Background(), "foo")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ResolvedID != "" {
		t.Error("Resolve with zero resolvers should return a negative resolution, not an error")
	}
}

func TestResolveOrderedPrefersEarlierResolver(t *testing.T) {
	first := &fakeResolver{name: "first", delay: 10 * time.Millisecond, res: Resolution{ResolvedID: "from-first"}}
	second := &fakeResolver{name: "second", res: Resolution{ResolvedID: "from-second"}}

	res, ok := resolveOrdered(context.Background(), "x", []Resolver{first, second}, 2, time.Second)
	if !ok {
		t.Fatal("resolveOrdered: ok = false, want true")
	}
	if res.ResolvedID != "from-first" {
		t.Errorf("ResolvedID = %q, want %q (strict preference order)", res.ResolvedID, "from-first")
	}
}

func TestResolveOrderedFallsBackOnFailure(t *testing.T) {
	failing := &fakeResolver{name: "failing", err: errors.New("down")}
	ok2 := &fakeResolver{name: "ok", res: Resolution{ResolvedID: "backup"}}

	res, ok := resolveOrdered(context.Background(), "x", []Resolver{failing, ok2}, 2, time.Second)
	if !ok {
		t.Fatal("resolveOrdered: ok = false, want true")
	}
	if res.ResolvedID != "backup" {
		t.Errorf("ResolvedID = %q, want %q", res.ResolvedID, "backup")
	}
}

func TestResolveOrderedAllFail(t *testing.T) {
	a := &fakeResolver{name: "a", err: errors.New("down")}
	b := &fakeResolver{name: "b", err: errors.New("down")}
	_, ok := resolveOrdered(context.Background(), "x", []Resolver{a, b}, 2, time.Second)
	if ok {
		t.Error("resolveOrdered with all resolvers failing: ok = true, want false")
	}
}

func TestPipelineRateLimitAllowsBurstThroughToResolver(t *testing.T) {
	var calls int32
	r := &fakeResolver{name: "r1", res: Resolution{Name: "foo", ResolvedID: "tx123", TTLSeconds: 60}}
	wrapped := &countingResolver{Resolver: r, calls: &calls}
	p := New(Config{Resolvers: []Resolver{wrapped}, MaxConcurrent: 1, RateLimit: 1000, RateBurst: 1})

	if _, err := p.Resolve(context.Background(), "foo"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("resolver called %d times, want 1", calls)
	}
}

func TestPipelineRateLimitCanceledContextNoCacheReturnsNegative(t *testing.T) {
	p := New(Config{
		Resolvers: []Resolver{&fakeResolver{name: "r1", res: Resolution{Name: "foo", ResolvedID: "tx123", TTLSeconds: 60}}},
		RateLimit: 1,
		RateBurst: 1,
	})
	// The context is canceled before Resolve, so the limiter wait fails; with
	// nothing cached for the name, Resolve returns a negative resolution.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := p.Resolve(ctx, "foo")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ResolvedID != "" {
		t.Errorf("ResolvedID = %q, want empty (rate-limited with no cached fallback)", got.ResolvedID)
	}
}

func TestMemoryResolutionCache(t *testing.T) {
	c := NewMemoryResolutionCache()
	if _, ok := c.Get("foo"); ok {
		t.Error("Get on empty cache: ok = true, want false")
	}
	c.Put("foo", Resolution{Name: "foo", ResolvedID: "tx1"})
	got, ok := c.Get("foo")
	if !ok || got.ResolvedID != "tx1" {
		t.Errorf("Get() = %+v, ok=%v", got, ok)
	}
}

func TestMemoryRegistryStoreReplaceAll(t *testing.T) {
	s := NewMemoryRegistryStore()
	s.ReplaceAll([]RegistryRecord{{Name: "foo", ProcessID: "p1"}})
	rec, ok := s.Get("foo")
	if !ok || rec.ProcessID != "p1" {
		t.Fatalf("Get(\"foo\") = %+v, ok=%v", rec, ok)
	}
	// ReplaceAll should discard prior entries, not merge.
	s.ReplaceAll([]RegistryRecord{{Name: "bar", ProcessID: "p2"}})
	if _, ok := s.Get("foo"); ok {
		t.Error("stale entry \"foo\" survived ReplaceAll, want it discarded")
	}
}

func TestDebouncerHydratesOnMiss(t *testing.T) {
	store := NewMemoryRegistryStore()
	var calls int32
	fetch := func(ctx context.Context, cursor string) ([]RegistryRecord, string, bool, error) {
		atomic.AddInt32(&calls, 1)
		return []RegistryRecord{{Name: "foo", ProcessID: "p1"}}, "", false, nil
	}
	d := NewDebouncer(store, fetch, 0, time.Hour, false)

	if err := d.NotifyMiss(context.Background()); err != nil {
		t.Fatalf("NotifyMiss: %v", err)
	}
	if _, ok := d.Lookup("foo"); !ok {
		t.Error("Lookup after NotifyMiss hydrate: not found, want hydrated record")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("fetch called %d times, want 1", calls)
	}
}

func TestDebouncerPaginates(t *testing.T) {
	store := NewMemoryRegistryStore()
	fetch := func(ctx context.Context, cursor string) ([]RegistryRecord, string, bool, error) {
		switch cursor {
		case "":
			return []RegistryRecord{{Name: "a"}}, "page2", true, nil
		case "page2":
			return []RegistryRecord{{Name: "b"}}, "", false, nil
		default:
			return nil, "", false, errors.New("unexpected cursor")
		}
	}
	d := NewDebouncer(store, fetch, 0, time.Hour, false)
	if err := d.NotifyMiss(context.Background()); err != nil {
		t.Fatalf("NotifyMiss: %v", err)
	}
	if _, ok := d.Lookup("a"); !ok {
		t.Error("page 1 record \"a\" missing after hydrate")
	}
	if _, ok := d.Lookup("b"); !ok {
		t.Error("page 2 record \"b\" missing after hydrate")
	}
}

func TestDebouncerSkipsWhenNotDue(t *testing.T) {
	store := NewMemoryRegistryStore()
	var calls int32
	fetch := func(ctx context.Context, cursor string) ([]RegistryRecord, string, bool, error) {
		atomic.AddInt32(&calls, 1)
		return nil, "", false, nil
	}
	d := NewDebouncer(store, fetch, time.Hour, time.Hour, false)
	_ = d.NotifyMiss(context.Background())
	_ = d.NotifyMiss(context.Background())
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("fetch called %d times, want 1 (second call within missTTL should be a no-op)", calls)
	}
}
