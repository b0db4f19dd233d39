// Package source implements the Composite Source (C3): an ordered list of
// sources tried with bounded parallelism, first-success-wins, exhaustion
// reported as an aggregate of every attempted source's failure in attempt
// order. Used independently for chunk-data and chunk-metadata lookups.
//
// Grounded on §9's "share one in-flight computation" note and the
// rationale sketch in §4.1: a signalling channel that in-flight attempts
// check (implicitly, by the collector never starting new dispatches once
// a success is observed — dispatched attempts always run to completion
// and their results are simply discarded by the collector).
package source

import (
	"context"
	"sync/atomic"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

// Source is a single child lookup. Params is the opaque descriptor
// documented per call site (e.g. a chunkKey for chunk data, a tx id for
// chain lookups).
type Source interface {
	Name() string
	Get(ctx context.Context, params any) ([]byte, error)
}

// Composite races/falls back across Sources with bounded parallelism.
type Composite struct {
	sources     []Source
	parallelism int
}

// New builds a Composite over sources, trying up to parallelism of them
// concurrently. parallelism is clamped into [1, len(sources)].
func New(sources []Source, parallelism int) *Composite {
	p := parallelism
	if p < 1 {
		p = 1
	}
	if p > len(sources) {
		p = len(sources)
	}
	return &Composite{sources: sources, parallelism: p}
}

type childResult struct {
	index int
	name  string
	value []byte
	err   error
}

// Get dispatches sources in list order, up to c.parallelism concurrently,
// and returns the first success. See package doc and SPEC_FULL.md §4.1 for
// the full contract (properties 1–3 in §8).
func (c *Composite) Get(ctx context.Context, params any) ([]byte, error) {
	n := len(c.sources)
	if n == 0 {
		return nil, errs.New(errs.KindNoSourcesConfigured, "composite source: no sources configured")
	}

	resultCh := make(chan childResult, n)
	sem := make(chan struct{}, c.parallelism)
	stopCh := make(chan struct{})
	dispatchDone := make(chan struct{})
	var stopped atomic.Bool
	var dispatchedCount int64

	go func() {
		defer close(dispatchDone)
		for i, src := range c.sources {
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
			atomic.AddInt64(&dispatchedCount, 1)
			go func(i int, src Source) {
				defer func() { <-sem }()
				val, err := src.Get(ctx, params)
				resultCh <- childResult{index: i, name: src.Name(), value: val, err: err}
			}(i, src)
		}
	}()

	failures := make([]errs.SourceFailure, n)
	attempted := make([]bool, n)
	received := 0
	doneCh := dispatchDone

	for {
		if doneCh == nil && int64(received) >= atomic.LoadInt64(&dispatchedCount) {
			break
		}
		select {
		case r := <-resultCh:
			received++
			if r.err == nil {
				if stopped.CompareAndSwap(false, true) {
					close(stopCh)
				}
				return r.value, nil
			}
			attempted[r.index] = true
			failures[r.index] = errs.SourceFailure{
				Kind:    errs.KindOf(r.err),
				Source:  r.name,
				Message: r.err.Error(),
			}
		case <-doneCh:
			doneCh = nil
		case <-ctx.Done():
			return nil, errs.Wrap(errs.KindCanceled, "composite source: canceled", ctx.Err())
		}
	}

	ordered := make([]errs.SourceFailure, 0, n)
	for i := 0; i < n; i++ {
		if attempted[i] {
			ordered = append(ordered, failures[i])
		}
	}
	return nil, &errs.AllSourcesFailedError{Failures: ordered}
}
