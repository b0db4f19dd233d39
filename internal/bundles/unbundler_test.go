package bundles

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeDownloader struct {
	mu      sync.Mutex
	bundles map[string][]byte
	err     map[string]error
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{bundles: make(map[string][]byte), err: make(map[string]error)}
}

func (f *fakeDownloader) Download(ctx context.Context, bundleID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.err[bundleID]; ok {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(f.bundles[bundleID])), nil
}

type collectingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectingSink) Emit(ctx context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *collectingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition was never satisfied")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestUnbundlerProcessesSubmittedBundle(t *testing.T) {
	pub, priv := genKey(t)
	ib, id := buildItemBytes(t, priv, testItem{owner: pub, data: []byte("x")})
	bundleBytes := buildBundle(t, [][]byte{ib}, [][32]byte{id})

	dl := newFakeDownloader()
	dl.bundles["bundle1"] = bundleBytes

	sink := &collectingSink{}
	u := New(dl, sink, MatchAll, t.TempDir(), Config{Qa: 2, Qb: 4}, zap.NewNop().Sugar())

	jobs := NewQueue(4)
	if err := u.Submit(context.Background(), jobs, BundleJob{BundleID: "bundle1"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	jobs.Close()

	u.Run(context.Background(), jobs)

	events := sink.snapshot()
	var gotComplete, gotMatched bool
	for _, ev := range events {
		if ev.Kind == EventUnbundleComplete {
			gotComplete = true
			if ev.ItemCount != 1 || ev.MatchedCount != 1 {
				t.Errorf("complete event = %+v, want 1/1", ev)
			}
		}
		if ev.Kind == EventDataItemMatched {
			gotMatched = true
		}
	}
	if !gotComplete || !gotMatched {
		t.Fatalf("events = %+v, want both a matched item and a complete event", events)
	}
	if got := u.StateOf("bundle1"); got != StateComplete {
		t.Errorf("StateOf(bundle1) = %v, want StateComplete", got)
	}
}

func TestUnbundlerDownloadFailureDropsSilently(t *testing.T) {
	dl := newFakeDownloader()
	dl.err["bad-bundle"] = io.ErrUnexpectedEOF

	sink := &collectingSink{}
	u := New(dl, sink, MatchAll, t.TempDir(), Config{Qa: 1, Qb: 1}, zap.NewNop().Sugar())

	jobs := NewQueue(4)
	u.Submit(context.Background(), jobs, BundleJob{BundleID: "bad-bundle"})
	jobs.Close()
	u.Run(context.Background(), jobs)

	if events := sink.snapshot(); len(events) != 0 {
		t.Errorf("events = %+v, want none for a bundle whose download failed", events)
	}
}

func TestUnbundlerParseFailureMarksError(t *testing.T) {
	dl := newFakeDownloader()
	dl.bundles["corrupt"] = []byte{0x01, 0x02, 0x03} // far too short to be a valid header

	sink := &collectingSink{}
	u := New(dl, sink, MatchAll, t.TempDir(), Config{Qa: 1, Qb: 1}, zap.NewNop().Sugar())

	jobs := NewQueue(4)
	u.Submit(context.Background(), jobs, BundleJob{BundleID: "corrupt"})
	jobs.Close()
	u.Run(context.Background(), jobs)

	waitFor(t, func() bool { return u.StateOf("corrupt") == StateError })

	events := sink.snapshot()
	var gotErr bool
	for _, ev := range events {
		if ev.Kind == EventUnbundleError {
			gotErr = true
		}
	}
	if !gotErr {
		t.Errorf("events = %+v, want an EventUnbundleError for a corrupt bundle", events)
	}
}

func TestUnbundlerDefaultFilterIsMatchAll(t *testing.T) {
	pub, priv := genKey(t)
	ib, id := buildItemBytes(t, priv, testItem{owner: pub, data: []byte("y")})
	bundleBytes := buildBundle(t, [][]byte{ib}, [][32]byte{id})

	dl := newFakeDownloader()
	dl.bundles["bundle1"] = bundleBytes

	sink := &collectingSink{}
	u := New(dl, sink, nil, t.TempDir(), Config{Qa: 1, Qb: 1}, zap.NewNop().Sugar())

	jobs := NewQueue(4)
	u.Submit(context.Background(), jobs, BundleJob{BundleID: "bundle1"})
	jobs.Close()
	u.Run(context.Background(), jobs)

	matched := 0
	for _, ev := range sink.snapshot() {
		if ev.Kind == EventDataItemMatched {
			matched++
		}
	}
	if matched != 1 {
		t.Errorf("matched = %d with a nil filter, want 1 (defaults to MatchAll)", matched)
	}
}
