package batch_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/attachsync/attachsync/pkg/batch"
	"github.com/attachsync/attachsync/pkg/config"
	"github.com/attachsync/attachsync/pkg/stats"
	"github.com/attachsync/attachsync/pkg/types"
)

// fakePipeline returns canned outcomes and tracks worker concurrency.
type fakePipeline struct {
	fail        map[string]types.Kind
	delay       time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (p *fakePipeline) Fetch(_ context.Context, id string) types.Outcome {
	cur := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		max := p.maxInFlight.Load()
		if cur <= max || p.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if kind, ok := p.fail[id]; ok {
		return types.Outcome{ID: id, Succeeded: false, Kind: kind, Timestamp: time.Now()}
	}
	return types.Outcome{ID: id, Succeeded: true, Kind: types.KindSuccess, Timestamp: time.Now()}
}

// fakeRecorder collects everything the runner emits.
type fakeRecorder struct {
	mu        sync.Mutex
	results   []types.Outcome
	progress  int
	summaries []types.Summary
}

func (r *fakeRecorder) Result(out types.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, out)
}

func (r *fakeRecorder) Progress(types.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress++
}

func (r *fakeRecorder) Summary(sum types.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, sum)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.BaseURL = "http://example.invalid/"
	cfg.Workers = 2
	cfg.BatchSize = 3
	cfg.BatchDelay = 0
	return cfg
}

func TestRunConservation(t *testing.T) {
	ids := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}
	pipeline := &fakePipeline{fail: map[string]types.Kind{
		"3": types.KindNotFound,
		"7": types.KindRateLimited,
	}}
	rec := &fakeRecorder{}
	st := stats.New()
	st.AddSkipped(4)

	sum, err := batch.NewRunner(testConfig(), pipeline, st, rec).Run(context.Background(), ids)
	require.NoError(t, err)

	assert.Equal(t, 10, sum.Processed)
	assert.Equal(t, 8, sum.Successful)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 4, sum.Skipped)
	assert.Equal(t, sum.Processed, sum.Successful+sum.Failed)
	assert.Equal(t, map[types.Kind]int{
		types.KindNotFound:    1,
		types.KindRateLimited: 1,
	}, sum.ErrorKinds)

	// one record per identifier, completion order free
	assert.Len(t, rec.results, 10)
	seen := map[string]int{}
	for _, out := range rec.results {
		seen[out.ID]++
	}
	for _, id := range ids {
		assert.Equal(t, 1, seen[id], "id %s", id)
	}

	// one progress snapshot per batch, one final summary
	assert.Equal(t, 4, rec.progress)
	require.Len(t, rec.summaries, 1)
	assert.Equal(t, sum.Processed, rec.summaries[0].Processed)
}

func TestRunBoundedConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 2
	cfg.BatchSize = 20

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = "1" // duplicates are processed independently
	}
	pipeline := &fakePipeline{delay: 5 * time.Millisecond}

	_, err := batch.NewRunner(cfg, pipeline, stats.New(), &fakeRecorder{}).Run(context.Background(), ids)
	require.NoError(t, err)
	assert.LessOrEqual(t, pipeline.maxInFlight.Load(), int32(2))
}

func TestRunNoCrossBatchConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 10 // pool larger than batch
	cfg.BatchSize = 2

	ids := []string{"1", "2", "3", "4", "5", "6"}
	pipeline := &fakePipeline{delay: 5 * time.Millisecond}

	_, err := batch.NewRunner(cfg, pipeline, stats.New(), &fakeRecorder{}).Run(context.Background(), ids)
	require.NoError(t, err)
	// A batch is fully drained before the next starts, so in-flight work
	// never exceeds the batch size.
	assert.LessOrEqual(t, pipeline.maxInFlight.Load(), int32(2))
}

func TestRunEmptyWorkSet(t *testing.T) {
	rec := &fakeRecorder{}
	sum, err := batch.NewRunner(testConfig(), &fakePipeline{}, stats.New(), rec).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, sum.Processed)
	assert.Len(t, rec.summaries, 1)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &fakeRecorder{}
	sum, err := batch.NewRunner(testConfig(), &fakePipeline{}, stats.New(), rec).Run(ctx, []string{"1", "2"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Processed)
	// the summary is still emitted so a partial run stays reportable
	assert.Len(t, rec.summaries, 1)
}

func TestRunPacingBetweenBatches(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 2
	cfg.BatchDelay = 5 * time.Second

	fc := clocktesting.NewFakeClock(time.Now())
	runner := batch.NewRunner(cfg, &fakePipeline{}, stats.New(), &fakeRecorder{}).WithClock(fc)

	done := make(chan types.Summary, 1)
	go func() {
		sum, _ := runner.Run(context.Background(), []string{"1", "2", "3", "4"})
		done <- sum
	}()

	// first batch drained, runner is pacing
	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("second batch started before the pacing delay elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	fc.Step(5 * time.Second)
	select {
	case sum := <-done:
		assert.Equal(t, 4, sum.Processed)
		assert.Equal(t, 5*time.Second, sum.Duration)
	case <-time.After(time.Second):
		t.Fatal("run did not complete after stepping the clock")
	}
}
