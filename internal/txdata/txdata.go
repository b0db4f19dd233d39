// Package txdata implements the TX Data Assembler (C6): turns a
// (txId → offset,size) lookup into an ordered, lazily-prefetched chunk
// stream with one chunk of read-ahead and backpressure bounded to a
// single buffered chunk.
//
// Grounded on the chunk-receiver transport pattern observed in the pack
// (other_examples chunk_receiver.go and the go-ethereum trie/snap sync
// workers' "fetch ahead while draining" shape), adapted to the spec's
// exact backpressure rule: the next chunk fetch does not begin until the
// current chunk's consumer has accepted at least one byte.
package txdata

import (
	"context"
	"io"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

// ChainSource is the narrow slice of the §6 Chain Source interface this
// package needs.
type ChainSource interface {
	GetTxOffset(ctx context.Context, txID string) (absoluteEndOffset uint64, size uint64, err error)
}

// ChunkFetcher fetches the bytes of the chunk covering absoluteOffset,
// typically backed by a cache.Cache.Get call against C4.
type ChunkFetcher func(ctx context.Context, absoluteOffset uint64) ([]byte, error)

// Assembler produces Streams for transaction ids.
type Assembler struct {
	chain ChainSource
	fetch ChunkFetcher
}

// New builds an Assembler.
func New(chain ChainSource, fetch ChunkFetcher) *Assembler {
	return &Assembler{chain: chain, fetch: fetch}
}

// Open resolves txID's (absoluteEndOffset, size) and returns a Stream of
// exactly size bytes starting at start = absoluteEndOffset - size + 1.
func (a *Assembler) Open(ctx context.Context, txID string) (*Stream, error) {
	end, size, err := a.chain.GetTxOffset(ctx, txID)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return newStream(ctx, a.fetch, 0, 0), nil
	}
	start := end - size + 1
	return newStream(ctx, a.fetch, start, size), nil
}

type fetchResult struct {
	data []byte
	err  error
}

// Stream is a lazy, finite io.ReadCloser over a transaction's contiguous
// bytes, walking absolute offsets through the chunk cache in ascending
// order (§5 ordering guarantee: "chunks of a single transaction are
// emitted strictly in ascending offset order").
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc

	size uint64

	results chan fetchResult
	advance chan struct{}

	current         []byte
	pos             int
	emitted         uint64
	advancedForCur  bool
	resultsClosed   bool
	terminalErr     error
}

func newStream(ctx context.Context, fetch ChunkFetcher, start, size uint64) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ctx:     ctx,
		cancel:  cancel,
		size:    size,
		results: make(chan fetchResult, 1),
		advance: make(chan struct{}, 1),
	}
	if size == 0 {
		close(s.results)
		s.resultsClosed = true
		return s
	}
	s.advance <- struct{}{} // permit the first fetch immediately
	go s.run(fetch, start)
	return s
}

func (s *Stream) run(fetch ChunkFetcher, start uint64) {
	defer close(s.results)
	offset := start
	var fetched uint64
	for fetched < s.size {
		select {
		case <-s.advance:
		case <-s.ctx.Done():
			return
		}
		data, err := fetch(s.ctx, offset)
		if err != nil {
			select {
			case s.results <- fetchResult{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		// Clip any trailing overshoot past the transaction's declared
		// size — the stream ends exactly at size bytes regardless of the
		// underlying chunk's raw length.
		if remaining := s.size - fetched; uint64(len(data)) > remaining {
			data = data[:remaining]
		}
		offset += uint64(len(data))
		fetched += uint64(len(data))
		select {
		case s.results <- fetchResult{data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// Read implements io.Reader. It is not safe for concurrent use by
// multiple goroutines, matching the single-consumer contract of an HTTP
// response body drain.
func (s *Stream) Read(p []byte) (int, error) {
	if s.terminalErr != nil {
		return 0, s.terminalErr
	}
	for s.pos >= len(s.current) {
		if s.emitted >= s.size {
			return 0, io.EOF
		}
		res, ok := <-s.results
		if !ok {
			// Producer stopped before emitting size bytes: a short read
			// is a hard error per §4.4, never silent truncation (§9 Open
			// Question 3).
			s.terminalErr = errs.New(errs.KindUnavailable, "txdata: stream ended short of declared size")
			return 0, s.terminalErr
		}
		if res.err != nil {
			s.terminalErr = res.err
			return 0, res.err
		}
		s.current = res.data
		s.pos = 0
		s.advancedForCur = false
	}

	n := copy(p, s.current[s.pos:])
	s.pos += n
	s.emitted += uint64(n)
	if n > 0 && !s.advancedForCur {
		s.advancedForCur = true
		select {
		case s.advance <- struct{}{}:
		default:
		}
	}
	if s.emitted >= s.size {
		return n, io.EOF
	}
	return n, nil
}

// Close aborts any in-flight fetch. Already-started fetches may still
// complete and populate the cache (§5: "in-flight chunk fetches that were
// started to serve it may still complete and populate the cache").
func (s *Stream) Close() error {
	s.cancel()
	return nil
}
