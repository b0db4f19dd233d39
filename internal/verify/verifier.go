package verify

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

// Status is a verification record's lifecycle state, per SPEC_FULL.md's
// Verification Record (id, root_tx_id, status, retry_count, last_attempt_at).
type Status int

const (
	StatusPending Status = iota
	StatusVerified
	StatusFailed
)

// Record is one row the verifier reads and updates.
type Record struct {
	ID          string
	RootTxID    string
	Status      Status
	RetryCount  int
	LastAttempt time.Time
}

// Index is the narrow read/write surface the verifier needs from the
// content index: a batch of verifiable candidates, the indexed root to
// compare against, and a place to write the outcome back.
type Index interface {
	// PullVerifiable returns up to limit records currently pending
	// verification.
	PullVerifiable(ctx context.Context, limit int) ([]Record, error)
	// IndexedRoot returns the previously-recorded data root for rootTxID.
	IndexedRoot(ctx context.Context, rootTxID string) ([32]byte, error)
	// MarkVerified records a successful reconciliation.
	MarkVerified(ctx context.Context, rootTxID string) error
	// MarkFailed records a mismatch or stream error, incrementing the
	// stored retry counter.
	MarkFailed(ctx context.Context, rootTxID string, err error) error
}

// DataSource fetches a root tx's byte stream and declared size.
type DataSource interface {
	Open(ctx context.Context, rootTxID string) (r io.ReadCloser, size int64, err error)
}

// ChunkReimporter re-enqueues a download-from-raw-chunks pass for a root tx
// whose streamed reconstruction didn't match the indexed root, when such a
// path exists (§4.7 step 4). A nil ChunkReimporter means the capability is
// unavailable and mismatches are only recorded, never re-driven.
type ChunkReimporter interface {
	ReimportFromChunks(ctx context.Context, rootTxID string) error
}

const (
	defaultBatchSize   = 64
	defaultIdleTimeout = 30 * time.Second
)

// Config configures a Verifier.
type Config struct {
	PollInterval    time.Duration
	BatchSize       int
	IdleTimeout     time.Duration
	Workers         int
	ChunkReimporter ChunkReimporter // optional
}

// Verifier periodically pulls a batch of verifiable ids, dedups by root tx
// id against what's already queued, and reconciles each via a bounded
// worker pool streaming the transaction through StreamingDataRoot.
type Verifier struct {
	index  Index
	source DataSource
	cfg    Config
	log    *zap.SugaredLogger

	mu     sync.Mutex
	queued map[string]bool
}

// New builds a Verifier, filling unset Config fields with defaults
// (64-record batches, 30s idle timeout, one poll per PollInterval).
func New(index Index, source DataSource, cfg Config, log *zap.SugaredLogger) *Verifier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Verifier{index: index, source: source, cfg: cfg, log: log, queued: make(map[string]bool)}
}

// Run polls on cfg.PollInterval until ctx is canceled, dispatching newly
// seen root tx ids to a fixed-size worker pool.
func (v *Verifier) Run(ctx context.Context) {
	jobs := make(chan Record)
	var wg sync.WaitGroup
	wg.Add(v.cfg.Workers)
	for i := 0; i < v.cfg.Workers; i++ {
		go func() {
			defer wg.Done()
			for rec := range jobs {
				v.verifyOne(ctx, rec)
			}
		}()
	}

	ticker := time.NewTicker(v.cfg.PollInterval)
	defer ticker.Stop()
	for {
		v.pollOnce(ctx, jobs)
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case <-ticker.C:
		}
	}
}

func (v *Verifier) pollOnce(ctx context.Context, jobs chan<- Record) {
	batch, err := v.index.PullVerifiable(ctx, v.cfg.BatchSize)
	if err != nil {
		v.log.Warnw("verifier: pull batch failed", "error", err)
		return
	}
	for _, rec := range batch {
		v.mu.Lock()
		already := v.queued[rec.RootTxID]
		if !already {
			v.queued[rec.RootTxID] = true
		}
		v.mu.Unlock()
		if already {
			continue
		}
		select {
		case jobs <- rec:
		case <-ctx.Done():
			return
		}
	}
}

func (v *Verifier) verifyOne(ctx context.Context, rec Record) {
	defer func() {
		v.mu.Lock()
		delete(v.queued, rec.RootTxID)
		v.mu.Unlock()
	}()

	streamCtx, cancel := context.WithTimeout(ctx, v.cfg.IdleTimeout)
	defer cancel()

	r, size, err := v.source.Open(streamCtx, rec.RootTxID)
	if err != nil {
		v.markFailed(ctx, rec, errs.Wrap(errs.KindUnavailable, "verify: open stream failed", err))
		return
	}
	defer r.Close()

	computed, err := StreamingDataRoot(idleAwareReader{ctx: streamCtx, r: r}, size)
	if err != nil {
		v.markFailed(ctx, rec, errs.Wrap(errs.KindTimeout, "verify: streaming data root failed", err))
		return
	}

	expected, err := v.index.IndexedRoot(ctx, rec.RootTxID)
	if err != nil {
		v.markFailed(ctx, rec, errs.Wrap(errs.KindUnavailable, "verify: indexed root lookup failed", err))
		return
	}

	if computed != expected {
		mismatchErr := errs.New(errs.KindIntegrityError, "verify: computed data root does not match indexed root")
		if v.cfg.ChunkReimporter != nil {
			if rerr := v.cfg.ChunkReimporter.ReimportFromChunks(ctx, rec.RootTxID); rerr != nil {
				v.log.Warnw("verify: chunk reimport failed", "root_tx_id", rec.RootTxID, "error", rerr)
			}
		}
		v.markFailed(ctx, rec, mismatchErr)
		return
	}

	if err := v.index.MarkVerified(ctx, rec.RootTxID); err != nil {
		v.log.Warnw("verify: mark verified failed", "root_tx_id", rec.RootTxID, "error", err)
	}
}

func (v *Verifier) markFailed(ctx context.Context, rec Record, err error) {
	v.log.Warnw("verify: verification failed", "root_tx_id", rec.RootTxID, "error", err)
	if merr := v.index.MarkFailed(ctx, rec.RootTxID, err); merr != nil {
		v.log.Warnw("verify: mark failed failed", "root_tx_id", rec.RootTxID, "error", merr)
	}
}

// idleAwareReader aborts a Read that hasn't completed by the time ctx is
// done, giving the per-stream idle timeout (§4.7) teeth even though the
// underlying io.ReadCloser has no context-aware Read itself.
type idleAwareReader struct {
	ctx context.Context
	r   io.Reader
}

func (i idleAwareReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := i.r.Read(p)
		done <- result{n, err}
	}()
	select {
	case res := <-done:
		return res.n, res.err
	case <-i.ctx.Done():
		return 0, i.ctx.Err()
	}
}
