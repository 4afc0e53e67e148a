package report

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/samber/lo"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/attachsync/attachsync/pkg/db"
	"github.com/attachsync/attachsync/pkg/fileutil"
	"github.com/attachsync/attachsync/pkg/types"
)

// progressEvery is the processed-count modulus at which a progress snapshot
// is emitted.
const progressEvery = 50

// Options configures a per-run Reporter.
type Options struct {
	// LogDir receives the timestamp-scoped result files.
	LogDir string

	// Source describes the identifier source, for the log header.
	Source string

	// Total is the number of items this run will process.
	Total int

	// Bar enables a console progress bar.
	Bar bool

	// DB, when set, receives every result record under RunID.
	DB    *db.DB
	RunID int64

	// Clock defaults to the real clock.
	Clock clock.PassiveClock
}

// Reporter emits one structured record per completed item, periodic
// progress snapshots, and a final summary. Sinks are scoped to one run by a
// timestamp in the filename, so two runs never interleave records.
type Reporter struct {
	opts  Options
	clock clock.PassiveClock
	start time.Time

	mu      sync.Mutex
	logFile *os.File
	csvFile *os.File
	csvw    *csv.Writer
	bar     *pb.ProgressBar

	logPath string
	csvPath string
	stamp   string
}

// New initializes the per-run sinks and writes their headers.
func New(opts Options) (*Reporter, error) {
	if err := os.MkdirAll(opts.LogDir, os.ModePerm); err != nil {
		return nil, xerrors.Errorf("unable to create log dir: %w", err)
	}
	cl := opts.Clock
	if cl == nil {
		cl = clock.RealClock{}
	}

	now := cl.Now()
	stamp := now.Format("150405")
	r := &Reporter{
		opts:    opts,
		clock:   cl,
		start:   now,
		logPath: filepath.Join(opts.LogDir, fmt.Sprintf("download_log_%s.txt", stamp)),
		csvPath: filepath.Join(opts.LogDir, fmt.Sprintf("download_detailed_%s.csv", stamp)),
		stamp:   stamp,
	}

	var err error
	if r.logFile, err = os.Create(r.logPath); err != nil {
		return nil, xerrors.Errorf("unable to create log file: %w", err)
	}
	if r.csvFile, err = os.Create(r.csvPath); err != nil {
		_ = r.logFile.Close()
		return nil, xerrors.Errorf("unable to create record file: %w", err)
	}
	r.csvw = csv.NewWriter(r.csvFile)

	fmt.Fprintf(r.logFile, "=== CONCURRENT BASE64 DOWNLOADER LOG ===\n")
	fmt.Fprintf(r.logFile, "Started: %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(r.logFile, "Source: %s\n", opts.Source)
	fmt.Fprintf(r.logFile, "Files to process: %d\n", opts.Total)
	fmt.Fprintf(r.logFile, "=== DOWNLOAD RESULTS ===\n")

	if err = r.csvw.Write([]string{"ATTACHMENT_ID", "STATUS", "ERROR_TYPE", "MESSAGE", "TIMESTAMP"}); err != nil {
		_ = r.Close()
		return nil, xerrors.Errorf("unable to write record header: %w", err)
	}
	r.csvw.Flush()

	if opts.Bar {
		r.bar = pb.StartNew(opts.Total)
	}
	return r, nil
}

// LogPath returns the text log path for this run.
func (r *Reporter) LogPath() string { return r.logPath }

// RecordPath returns the structured record file path for this run.
func (r *Reporter) RecordPath() string { return r.csvPath }

// Result emits the structured record for one completed item to every sink.
func (r *Reporter) Result(out types.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := out.Timestamp.Format("15:04:05")
	fmt.Fprintf(r.logFile, "%s,%s,%s,%s\n", ts, out.ID, out.Status(), out.Message)

	if err := r.csvw.Write([]string{out.ID, out.Status(), string(out.Kind), out.Message, ts}); err != nil {
		slog.Warn("Unable to write result record", slog.String("error", err.Error()))
	}
	r.csvw.Flush()

	if r.opts.DB != nil {
		if err := r.opts.DB.InsertResults(r.opts.RunID, []types.Outcome{out}); err != nil {
			slog.Warn("Unable to store result record", slog.String("error", err.Error()))
		}
	}

	if r.bar != nil {
		r.bar.Increment()
	}

	slog.Debug("Item completed",
		slog.String("id", out.ID),
		slog.String("status", out.Status()),
		slog.String("kind", string(out.Kind)),
		slog.String("message", out.Message))
}

// Progress emits a snapshot when the processed count crosses the fixed
// modulus or reaches the run total. The ETA extrapolates instantaneous
// throughput and is best-effort.
func (r *Reporter) Progress(sum types.Summary) {
	if sum.Processed == 0 || (sum.Processed%progressEvery != 0 && sum.Processed != r.opts.Total) {
		return
	}

	elapsed := r.clock.Since(r.start)
	var rate float64
	if elapsed > 0 {
		rate = float64(sum.Processed) / elapsed.Seconds()
	}
	var eta time.Duration
	if rate > 0 {
		eta = time.Duration(float64(r.opts.Total-sum.Processed) / rate * float64(time.Second))
	}

	slog.Info("Progress",
		slog.Int("processed", sum.Processed),
		slog.Int("total", r.opts.Total),
		slog.Int("successful", sum.Successful),
		slog.Int("failed", sum.Failed),
		slog.Int("skipped", sum.Skipped),
		slog.String("rate", fmt.Sprintf("%.1f/s", rate)),
		slog.Duration("eta", eta))
}

// Summary writes the final counters to the console, the text log, and a
// JSON export next to the logs.
func (r *Reporter) Summary(sum types.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar != nil {
		r.bar.Finish()
	}

	fmt.Fprintf(r.logFile, "\n=== FINAL SUMMARY ===\n")
	fmt.Fprintf(r.logFile, "Duration: %.1f minutes\n", sum.Duration.Minutes())
	fmt.Fprintf(r.logFile, "Processed: %d\n", sum.Processed)
	fmt.Fprintf(r.logFile, "Success: %d\n", sum.Successful)
	fmt.Fprintf(r.logFile, "Failed: %d\n", sum.Failed)
	fmt.Fprintf(r.logFile, "Skipped: %d\n", sum.Skipped)
	if sum.Processed > 0 {
		fmt.Fprintf(r.logFile, "Success rate: %.2f%%\n", sum.SuccessRate())
	}
	if len(sum.ErrorKinds) > 0 {
		fmt.Fprintf(r.logFile, "\nError breakdown:\n")
		for _, e := range sortedKinds(sum.ErrorKinds) {
			fmt.Fprintf(r.logFile, "  %s: %d\n", e.Key, e.Value)
		}
	}

	slog.Info("Download complete",
		slog.Duration("duration", sum.Duration),
		slog.Int("processed", sum.Processed),
		slog.Int("successful", sum.Successful),
		slog.Int("failed", sum.Failed),
		slog.Int("skipped", sum.Skipped),
		slog.String("success_rate", fmt.Sprintf("%.2f%%", sum.SuccessRate())))
	for _, e := range sortedKinds(sum.ErrorKinds) {
		slog.Info("Error breakdown", slog.String("kind", string(e.Key)), slog.Int("count", e.Value))
	}

	summaryPath := filepath.Join(r.opts.LogDir, fmt.Sprintf("download_summary_%s.json", r.stamp))
	if err := fileutil.WriteJSON(summaryPath, sum); err != nil {
		slog.Warn("Unable to export summary", slog.String("error", err.Error()))
	}
}

// Close flushes and closes the per-run sinks.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.csvw.Flush()
	cerr := r.csvFile.Close()
	if err := r.logFile.Close(); err != nil {
		return err
	}
	return cerr
}

// sortedKinds orders the histogram by descending count.
func sortedKinds(kinds map[types.Kind]int) []lo.Entry[types.Kind, int] {
	entries := lo.Entries(kinds)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].Key < entries[j].Key
	})
	return entries
}
