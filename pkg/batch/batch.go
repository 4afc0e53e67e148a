package batch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/attachsync/attachsync/pkg/config"
	"github.com/attachsync/attachsync/pkg/stats"
	"github.com/attachsync/attachsync/pkg/types"
)

// Pipeline retrieves one artifact and reports its terminal outcome. It never
// returns an error; failures are encoded in the outcome.
type Pipeline interface {
	Fetch(ctx context.Context, id string) types.Outcome
}

// Recorder receives every terminal outcome plus progress and summary
// snapshots.
type Recorder interface {
	Result(out types.Outcome)
	Progress(sum types.Summary)
	Summary(sum types.Summary)
}

// Runner partitions the work set into fixed-size batches and drives each
// batch under a bounded worker pool. Batches run strictly sequentially; the
// pool is drained before the pacing delay and the next batch.
type Runner struct {
	cfg      config.Config
	pipeline Pipeline
	stats    *stats.Stats
	recorder Recorder
	clock    clock.Clock
}

func NewRunner(cfg config.Config, pipeline Pipeline, st *stats.Stats, rec Recorder) *Runner {
	return &Runner{
		cfg:      cfg,
		pipeline: pipeline,
		stats:    st,
		recorder: rec,
		clock:    clock.RealClock{},
	}
}

// WithClock substitutes the clock used for pacing and duration measurement.
func (r *Runner) WithClock(cl clock.Clock) *Runner {
	r.clock = cl
	return r
}

// Run processes the identifiers to completion and returns the run summary.
// The summary is valid even when ctx is canceled mid-run; cancellation is
// checked between batches and between task submissions, never preempting an
// in-flight fetch.
func (r *Runner) Run(ctx context.Context, ids []string) (types.Summary, error) {
	start := r.clock.Now()
	batches := lo.Chunk(ids, r.cfg.BatchSize)

	var runErr error
loop:
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		slog.Info("Processing batch",
			slog.Int("batch", i+1),
			slog.Int("batches", len(batches)),
			slog.Int("size", len(batch)))

		// The pool lives for exactly one batch.
		limit := semaphore.NewWeighted(int64(r.cfg.Workers))
		var wg sync.WaitGroup
		for _, id := range batch {
			if err := limit.Acquire(ctx, 1); err != nil {
				runErr = err
				break
			}
			wg.Add(1)
			go func(id string) {
				defer limit.Release(1)
				defer wg.Done()
				out := r.pipeline.Fetch(ctx, id)
				r.stats.Add(out)
				r.recorder.Result(out)
			}(id)
		}
		wg.Wait()

		r.recorder.Progress(r.stats.Snapshot())

		if runErr != nil {
			break loop
		}
		if i < len(batches)-1 {
			r.clock.Sleep(r.cfg.BatchDelay)
		}
	}

	sum := r.stats.Snapshot()
	sum.Duration = r.clock.Since(start)
	r.recorder.Summary(sum)
	return sum, runErr
}
