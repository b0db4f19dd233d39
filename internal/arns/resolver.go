package arns

import (
	"context"
	"sync/atomic"
	"time"
)

// Resolution is the ArNS Resolution tuple from §3. ResolvedID is empty for
// a negative resolution.
type Resolution struct {
	Name         string
	ResolvedID   string
	ResolvedAtMs int64
	TTLSeconds   int64
	ProcessID    string
	Limit        int
	Index        int
}

// Fresh reports whether r is still within its TTL at nowMs.
func (r Resolution) Fresh(nowMs int64) bool {
	return r.ResolvedID != "" && nowMs < r.ResolvedAtMs+r.TTLSeconds*1000
}

// Resolver is a single named-resolution backend, tried in configured
// order.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, name string) (Resolution, error)
}

type resolverOutcome struct {
	idx int
	res Resolution
	err error
}

// resolveOrdered fans out to resolvers with bounded concurrency, honoring
// strict preference order: resolver k's result is only accepted once every
// resolver <k has settled (succeeded or timed out), per DESIGN.md's Open
// Question 1 decision. maxConcurrent bounds how many resolver attempts run
// concurrently at any instant; dispatch still proceeds in list order.
func resolveOrdered(ctx context.Context, name string, resolvers []Resolver, maxConcurrent int, perCallTimeout time.Duration) (Resolution, bool) {
	n := len(resolvers)
	if n == 0 {
		return Resolution{}, false
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxConcurrent > n {
		maxConcurrent = n
	}

	outcomes := make(chan resolverOutcome, n)
	sem := make(chan struct{}, maxConcurrent)
	stopCh := make(chan struct{})
	dispatchDone := make(chan struct{})
	var stopped atomic.Bool

	go func() {
		defer close(dispatchDone)
		for i, r := range resolvers {
			select {
			case <-stopCh:
				return
			default:
			}
			select {
			case sem <- struct{}{}:
			case <-stopCh:
				return
			}
			go func(i int, r Resolver) {
				defer func() { <-sem }()
				callCtx := ctx
				var cancel context.CancelFunc
				if perCallTimeout > 0 {
					callCtx, cancel = context.WithTimeout(ctx, perCallTimeout)
					defer cancel()
				}
				res, err := r.Resolve(callCtx, name)
				outcomes <- resolverOutcome{idx: i, res: res, err: err}
			}(i, r)
		}
	}()

	settled := make([]*resolverOutcome, n)
	doneCh := dispatchDone
	dispatchFinished := false

	// acceptFrom returns the first index whose outcome is known, starting
	// at 0; true/false indicates whether that index succeeded.
	acceptFrom := func() (Resolution, bool, bool) {
		for i := 0; i < n; i++ {
			if settled[i] == nil {
				return Resolution{}, false, false // unknown: can't decide yet
			}
			if settled[i].err == nil {
				return settled[i].res, true, true
			}
		}
		return Resolution{}, false, true // all settled, none succeeded
	}

	received := 0
	for {
		if res, ok, decided := acceptFrom(); decided {
			if ok {
				stopped.CompareAndSwap(false, true)
				close(stopCh)
				return res, true
			}
			if dispatchFinished && received >= n {
				return Resolution{}, false
			}
		}
		select {
		case o := <-outcomes:
			received++
			out := o
			settled[o.idx] = &out
		case <-doneCh:
			dispatchFinished = true
			doneCh = nil
		case <-ctx.Done():
			return Resolution{}, false
		}
	}
}
