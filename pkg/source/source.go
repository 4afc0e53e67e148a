package source

import (
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/lo"
)

// Predicate reports whether an identifier is well-formed.
type Predicate func(id string) bool

// Digits is the default predicate: non-empty, ASCII digits only.
func Digits(id string) bool {
	if id == "" {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Option configures CSV identifier loading.
type Option struct {
	// Column is the header name of the identifier column.
	Column string

	// StartLine skips data rows before this 1-indexed row. Zero or one
	// means start from the beginning.
	StartLine int

	// Valid filters identifiers; nil means Digits.
	Valid Predicate
}

// FromCSV loads identifiers from a CSV file with a header row. Malformed
// values are dropped silently; a source that cannot be opened or read is
// logged and yields an empty work set, the run is not aborted.
func FromCSV(path string, opt Option) []string {
	f, err := os.Open(path)
	if err != nil {
		slog.Error("Unable to open identifier source", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	defer f.Close()

	ids, err := FromRecords(f, opt)
	if err != nil {
		slog.Error("Unable to read identifier source", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	return ids
}

// FromRecords reads delimited records with a header row from r and returns
// the identifiers found in the designated column.
func FromRecords(r io.Reader, opt Option) ([]string, error) {
	valid := opt.Valid
	if valid == nil {
		valid = Digits
	}

	reader := newCSVReader(r)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	col := -1
	for i, name := range header {
		// Files exported on Windows often carry a UTF-8 BOM before the
		// first header cell.
		if strings.TrimPrefix(strings.TrimSpace(name), "\ufeff") == opt.Column {
			col = i
			break
		}
	}
	if col < 0 {
		slog.Error("Identifier column not found", slog.String("column", opt.Column))
		return nil, nil
	}

	var ids []string
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if opt.StartLine > 0 && line < opt.StartLine {
			continue
		}
		if col >= len(record) {
			continue
		}
		if id := strings.TrimSpace(record[col]); valid(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FromList applies the validity filter to an explicit identifier list.
// Duplicates pass through; resume handling is a separate stage.
func FromList(ids []string, valid Predicate) []string {
	if valid == nil {
		valid = Digits
	}
	trimmed := lo.Map(ids, func(id string, _ int) string {
		return strings.TrimSpace(id)
	})
	return lo.Filter(trimmed, func(id string, _ int) bool {
		return valid(id)
	})
}

func newCSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // tolerate ragged rows, short ones are skipped
	reader.ReuseRecord = false
	return reader
}
