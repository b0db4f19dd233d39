package bundles

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
)

// State is a bundle's position in the two-stage pipeline.
type State int

const (
	StateQueued State = iota
	StateDownloading
	StateParsing
	StateComplete
	StateError
)

// Unbundler runs the ANS-104 unbundle pipeline (C8): Stage A downloads
// bundles with Qa parallel workers; Stage B parses them one at a time
// behind a single mutex (parsing is CPU- and memory-heavy enough that the
// pack's comparable workers never run it concurrently), queued through a
// bounded Queue of capacity Qb so a slow parse stage throttles Stage A
// rather than letting temp files pile up unbounded.
type Unbundler struct {
	importer *importer
	stageB   *Queue
	filter   Filter
	sink     Sink
	parseMu  sync.Mutex
	log      *zap.SugaredLogger

	mu     sync.Mutex
	states map[string]State
}

// Config bounds the pipeline's concurrency: Qa is Stage A's worker count,
// Qb is Stage B's queue capacity.
type Config struct {
	Qa, Qb int
}

// New builds an Unbundler. tempDir receives one file per in-flight bundle
// download; files are removed as soon as Stage B finishes with them,
// successfully or not.
func New(downloader Downloader, sink Sink, filter Filter, tempDir string, cfg Config, log *zap.SugaredLogger) *Unbundler {
	if filter == nil {
		filter = MatchAll
	}
	stageB := NewQueue(cfg.Qb)
	u := &Unbundler{
		stageB: stageB,
		filter: filter,
		sink:   sink,
		log:    log,
		states: make(map[string]State),
	}
	u.importer = newImporter(downloader, tempDir, cfg.Qa, log, stageB)
	return u
}

// emit implements sinkEmitter, adapting bundles.Sink (context-aware) to the
// context-free interface Unbundle uses internally.
type boundSink struct {
	ctx  context.Context
	sink Sink
}

func (b boundSink) emit(ev Event) { b.sink.Emit(b.ctx, ev) }

// Submit enqueues a bundle for download and parsing. It blocks only long
// enough to hand the job to Stage A's input queue, not for the download or
// parse itself.
func (u *Unbundler) Submit(ctx context.Context, jobs *Queue, job BundleJob) error {
	u.setState(job.BundleID, StateQueued)
	return jobs.Push(ctx, QueueItem{
		BundleID:     job.BundleID,
		ParentID:     job.ParentID,
		RootTxID:     job.RootTxID,
		BypassFilter: job.BypassFilter,
	}, job.Prioritized)
}

// Run drives both pipeline stages until jobs is closed and drained and
// every in-flight bundle has reached a terminal state. Stage A and Stage B
// run concurrently; Run returns once both have exited.
func (u *Unbundler) Run(ctx context.Context, jobs *Queue) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		u.importer.run(ctx, jobs)
		u.stageB.Close()
	}()

	go func() {
		defer wg.Done()
		u.runStageB(ctx)
	}()

	wg.Wait()
}

func (u *Unbundler) runStageB(ctx context.Context) {
	for {
		item, ok := u.stageB.Pop(ctx)
		if !ok {
			return
		}
		u.parseOne(ctx, item)
	}
}

func (u *Unbundler) parseOne(ctx context.Context, item QueueItem) {
	u.setState(item.BundleID, StateDownloading)
	defer os.Remove(item.TempPath)

	f, err := os.Open(item.TempPath)
	if err != nil {
		u.fail(ctx, item.BundleID, err)
		return
	}
	defer f.Close()

	u.parseMu.Lock()
	u.setState(item.BundleID, StateParsing)
	result, err := Unbundle(f, item.BundleID, item.ParentID, item.RootTxID, u.filter, item.BypassFilter, boundSink{ctx: ctx, sink: u.sink})
	u.parseMu.Unlock()

	if err != nil {
		u.fail(ctx, item.BundleID, err)
		return
	}

	u.setState(item.BundleID, StateComplete)
	u.sink.Emit(ctx, Event{
		Kind:         EventUnbundleComplete,
		BundleID:     item.BundleID,
		ItemCount:    result.ItemCount,
		MatchedCount: result.MatchedCount,
	})
}

func (u *Unbundler) fail(ctx context.Context, bundleID string, err error) {
	u.setState(bundleID, StateError)
	u.log.Warnw("bundle unbundle failed", "bundle_id", bundleID, "error", err)
	u.sink.Emit(ctx, Event{Kind: EventUnbundleError, BundleID: bundleID, Err: err})
}

func (u *Unbundler) setState(bundleID string, s State) {
	u.mu.Lock()
	u.states[bundleID] = s
	u.mu.Unlock()
}

// StateOf reports the last observed pipeline state of bundleID, or
// StateQueued if it has never been submitted (the zero value).
func (u *Unbundler) StateOf(bundleID string) State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.states[bundleID]
}
