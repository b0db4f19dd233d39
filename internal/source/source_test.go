package source

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

type fakeSource struct {
	name  string
	delay time.Duration
	value []byte
	err   error
	calls int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Get(ctx context.Context, params any) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.value, nil
}

func TestCompositeFirstSuccessWins(t *testing.T) {
	slow := &fakeSource{name: "slow", delay: 30 * time.Millisecond, value: []byte("slow")}
	fast := &fakeSource{name: "fast", value: []byte("fast")}
	c := New([]Source{slow, fast}, 2)

	got, err := c.Get(context.Background(), "key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "fast" {
		t.Errorf("Get() = %q, want %q", got, "fast")
	}
}

func TestCompositeFallsBackOnFailure(t *testing.T) {
	failing := &fakeSource{name: "failing", err: errs.New(errs.KindNotFound, "missing")}
	ok := &fakeSource{name: "ok", value: []byte("data")}
	c := New([]Source{failing, ok}, 2)

	got, err := c.Get(context.Background(), "key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("Get() = %q, want %q", got, "data")
	}
}

func TestCompositeAllSourcesFailed(t *testing.T) {
	a := &fakeSource{name: "a", err: errs.New(errs.KindNotFound, "nope a")}
	b := &fakeSource{name: "b", err: errs.New(errs.KindTimeout, "nope b")}
	c := New([]Source{a, b}, 2)

	_, err := c.Get(context.Background(), "key")
	if err == nil {
		t.Fatal("Get: got nil error, want AllSourcesFailed")
	}
	if !errs.Is(err, errs.KindAllSourcesFailed) {
		t.Errorf("err kind = %v, want AllSourcesFailed", errs.KindOf(err))
	}
	var agg *errs.AllSourcesFailedError
	if !errors.As(err, &agg) {
		t.Fatal("error does not unwrap to *AllSourcesFailedError")
	}
	if len(agg.Failures) != 2 {
		t.Fatalf("len(Failures) = %d, want 2", len(agg.Failures))
	}
	if agg.Failures[0].Source != "a" || agg.Failures[1].Source != "b" {
		t.Errorf("Failures out of order: %+v", agg.Failures)
	}
}

func TestCompositeNoSourcesConfigured(t *testing.T) {
	c := New(nil, 2)
	_, err := c.Get(context.Background(), "key")
	if err == nil || !errs.Is(err, errs.KindNoSourcesConfigured) {
		t.Fatalf("Get with no sources: err = %v, want NoSourcesConfigured", err)
	}
}

func TestCompositeParallelismClamped(t *testing.T) {
	c := New([]Source{&fakeSource{name: "a"}}, 99)
	if c.parallelism != 1 {
		t.Errorf("parallelism = %d, want 1 (clamped to len(sources))", c.parallelism)
	}
	c2 := New([]Source{&fakeSource{name: "a"}, &fakeSource{name: "b"}}, 0)
	if c2.parallelism != 1 {
		t.Errorf("parallelism = %d, want 1 (clamped to minimum)", c2.parallelism)
	}
}

func TestCompositeContextCanceled(t *testing.T) {
	slow := &fakeSource{name: "slow", delay: time.Second, value: []byte("x")}
	c := New([]Source{slow}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, "key")
	if err == nil || !errs.Is(err, errs.KindCanceled) {
		t.Fatalf("Get with canceled context: err = %v, want Canceled", err)
	}
}
