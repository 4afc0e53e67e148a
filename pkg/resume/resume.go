package resume

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/lo"

	"github.com/attachsync/attachsync/pkg/fileutil"
	"github.com/attachsync/attachsync/pkg/source"
)

// Index is the set of identifiers whose artifact already exists in the
// destination directory. It is built once per run, before any network
// activity, so the per-item membership check stays O(1).
type Index struct {
	done map[string]struct{}
}

// ScanDir scans the destination directory once and extracts the identifier
// prefix from each stored artifact name. A missing directory means nothing
// has been downloaded yet.
func ScanDir(dir, sep string, valid source.Predicate) (Index, error) {
	if valid == nil {
		valid = source.Digits
	}

	names, err := fileutil.Names(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Index{done: map[string]struct{}{}}, nil
		}
		return Index{}, err
	}

	done := make(map[string]struct{}, len(names))
	for _, name := range names {
		id, rest, found := strings.Cut(name, sep)
		if !found || rest == "" || !valid(id) {
			continue
		}
		done[id] = struct{}{}
	}
	return Index{done: done}, nil
}

// Contains reports whether the identifier's artifact already exists.
func (ix Index) Contains(id string) bool {
	_, ok := ix.done[id]
	return ok
}

// Len returns the number of completed identifiers found by the scan.
func (ix Index) Len() int {
	return len(ix.done)
}

// Remaining subtracts completed identifiers from the work set and returns
// the remainder together with the skipped count.
func (ix Index) Remaining(ids []string) ([]string, int) {
	remaining := lo.Filter(ids, func(id string, _ int) bool {
		return !ix.Contains(id)
	})
	if skipped := len(ids) - len(remaining); skipped > 0 {
		slog.Info("Resuming previous run", slog.Int("skipped", skipped))
		return remaining, skipped
	}
	return remaining, 0
}
