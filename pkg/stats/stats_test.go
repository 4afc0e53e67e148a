package stats_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/attachsync/attachsync/pkg/stats"
	"github.com/attachsync/attachsync/pkg/types"
)

func TestAdd(t *testing.T) {
	st := stats.New()
	st.AddSkipped(2)
	st.Add(types.Outcome{Succeeded: true, Kind: types.KindSuccess})
	st.Add(types.Outcome{Succeeded: true, Kind: types.KindAlreadyExists})
	st.Add(types.Outcome{Succeeded: false, Kind: types.KindNotFound})
	st.Add(types.Outcome{Succeeded: false, Kind: types.KindNotFound})
	st.Add(types.Outcome{Succeeded: false, Kind: types.KindTimeout})

	sum := st.Snapshot()
	assert.Equal(t, 5, sum.Processed)
	assert.Equal(t, 2, sum.Successful)
	assert.Equal(t, 3, sum.Failed)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, map[types.Kind]int{
		types.KindNotFound: 2,
		types.KindTimeout:  1,
	}, sum.ErrorKinds)
	assert.InDelta(t, 40.0, sum.SuccessRate(), 0.001)
}

func TestAddConcurrent(t *testing.T) {
	const (
		workers = 20
		perW    = 500
	)
	st := stats.New()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perW; i++ {
				if i%2 == 0 {
					st.Add(types.Outcome{Succeeded: true, Kind: types.KindSuccess})
				} else {
					st.Add(types.Outcome{Succeeded: false, Kind: types.KindServerError})
				}
			}
		}(w)
	}
	wg.Wait()

	sum := st.Snapshot()
	assert.Equal(t, workers*perW, sum.Processed)
	assert.Equal(t, sum.Processed, sum.Successful+sum.Failed)
	assert.Equal(t, workers*perW/2, sum.ErrorKinds[types.KindServerError])
}

func TestSnapshotIsCopy(t *testing.T) {
	st := stats.New()
	st.Add(types.Outcome{Succeeded: false, Kind: types.KindNotFound})

	sum := st.Snapshot()
	sum.ErrorKinds[types.KindNotFound] = 99

	assert.Equal(t, 1, st.Snapshot().ErrorKinds[types.KindNotFound])
}

func TestSuccessRateEmpty(t *testing.T) {
	assert.Zero(t, stats.New().Snapshot().SuccessRate())
}
