package bundles

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
)

// Downloader opens a bundle's raw ANS-104 byte stream; the caller closes it.
type Downloader interface {
	Download(ctx context.Context, bundleID string) (io.ReadCloser, error)
}

// BundleJob is one bundle submitted for import and unbundling.
type BundleJob struct {
	BundleID     string
	ParentID     [32]byte
	RootTxID     string
	Prioritized  bool
	BypassFilter bool
}

// importer is Stage A: a download-only worker pool of fixed size that
// streams each bundle to a temp file and hands the file off to Stage B.
// Grounded on the pack's bounded worker-pool download stage (the snap-sync
// request/response workers in other_examples), generalized to ANS-104
// bundles: a stream error here is logged and the job dropped without
// blocking the rest of the pool, never propagated as a fatal pipeline error.
type importer struct {
	downloader Downloader
	tempDir    string
	workers    int
	log        *zap.SugaredLogger
	out        *Queue
}

func newImporter(downloader Downloader, tempDir string, workers int, log *zap.SugaredLogger, out *Queue) *importer {
	return &importer{downloader: downloader, tempDir: tempDir, workers: workers, log: log, out: out}
}

// run drains jobs until it is closed or ctx is done, fanning out across
// i.workers goroutines, and returns once all of them have exited.
func (i *importer) run(ctx context.Context, jobs *Queue) {
	done := make(chan struct{}, i.workers)
	for w := 0; w < i.workers; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				job, ok := jobs.Pop(ctx)
				if !ok {
					return
				}
				i.importOne(ctx, BundleJob{
					BundleID:     job.BundleID,
					ParentID:     job.ParentID,
					RootTxID:     job.RootTxID,
					BypassFilter: job.BypassFilter,
				})
			}
		}()
	}
	for w := 0; w < i.workers; w++ {
		<-done
	}
}

func (i *importer) importOne(ctx context.Context, job BundleJob) {
	rc, err := i.downloader.Download(ctx, job.BundleID)
	if err != nil {
		i.log.Warnw("bundle download failed, dropping", "bundle_id", job.BundleID, "error", err)
		return
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(i.tempDir, "bundle-*.ans104")
	if err != nil {
		i.log.Warnw("temp file creation failed, dropping bundle", "bundle_id", job.BundleID, "error", err)
		return
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		i.log.Warnw("bundle stream copy failed, dropping", "bundle_id", job.BundleID, "error", err)
		tmp.Close()
		os.Remove(tmp.Name())
		return
	}

	item := QueueItem{
		BundleID:     job.BundleID,
		ParentID:     job.ParentID,
		RootTxID:     job.RootTxID,
		BypassFilter: job.BypassFilter,
		TempPath:     tmp.Name(),
	}
	if err := i.out.Push(ctx, item, job.Prioritized); err != nil {
		i.log.Warnw("stage B queue push canceled, dropping", "bundle_id", job.BundleID, "error", err)
		tmp.Close()
		os.Remove(tmp.Name())
		return
	}
	tmp.Close()
}
