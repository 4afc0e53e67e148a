package stats

import (
	"sync"

	"github.com/attachsync/attachsync/pkg/types"
)

// Stats aggregates run counters across concurrent workers. All mutation goes
// through a single critical section; a snapshot is a point-in-time copy.
type Stats struct {
	mu         sync.Mutex
	processed  int
	successful int
	failed     int
	skipped    int
	errorKinds map[types.Kind]int
}

func New() *Stats {
	return &Stats{errorKinds: map[types.Kind]int{}}
}

// AddSkipped records identifiers removed by the resume filter before any
// network activity.
func (s *Stats) AddSkipped(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped += n
}

// Add records one terminal outcome. ALREADY_EXISTS counts as successful;
// every failure also lands in the error-kind histogram.
func (s *Stats) Add(out types.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	if out.Succeeded {
		s.successful++
		return
	}
	s.failed++
	s.errorKinds[out.Kind]++
}

// Processed returns the current processed count.
func (s *Stats) Processed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed
}

// Snapshot returns a consistent copy of the current counters.
func (s *Stats) Snapshot() types.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds := make(map[types.Kind]int, len(s.errorKinds))
	for k, v := range s.errorKinds {
		kinds[k] = v
	}
	return types.Summary{
		Processed:  s.processed,
		Successful: s.successful,
		Failed:     s.failed,
		Skipped:    s.skipped,
		ErrorKinds: kinds,
	}
}
