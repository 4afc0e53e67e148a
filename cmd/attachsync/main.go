package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/attachsync/attachsync/pkg/batch"
	"github.com/attachsync/attachsync/pkg/config"
	"github.com/attachsync/attachsync/pkg/db"
	"github.com/attachsync/attachsync/pkg/fetcher"
	"github.com/attachsync/attachsync/pkg/fileutil"
	"github.com/attachsync/attachsync/pkg/metadata"
	"github.com/attachsync/attachsync/pkg/report"
	"github.com/attachsync/attachsync/pkg/resume"
	"github.com/attachsync/attachsync/pkg/source"
	"github.com/attachsync/attachsync/pkg/stats"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "attachsync",
		Short:         "Bulk retrieval of base64-encoded attachments from a REST API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newFetchCmd(), newStatusCmd())
	return root
}

type fetchFlags struct {
	csvPath   string
	column    string
	startLine int
	idList    []string
	headers   []string
	noResume  bool
	bar       bool
}

func newFetchCmd() *cobra.Command {
	cfg := config.Default()
	var flags fetchFlags

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download attachments listed in a CSV file or given as IDs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, cfg, flags)
		},
	}

	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "", "endpoint prefix; the attachment ID is appended")
	cmd.Flags().StringVar(&cfg.DownloadDir, "download-dir", cfg.DownloadDir, "destination directory for decoded files")
	cmd.Flags().StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for per-run logs and the results db")
	cmd.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent downloads per batch")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "IDs per batch")
	cmd.Flags().DurationVar(&cfg.BatchDelay, "batch-delay", cfg.BatchDelay, "pause between batches")
	cmd.Flags().DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "per-request timeout")
	cmd.Flags().IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "retries for timeout/connection failures")
	cmd.Flags().BoolVar(&cfg.RetryOnFailure, "retry", cfg.RetryOnFailure, "retry transient failures")
	cmd.Flags().StringArrayVar(&flags.headers, "header", nil, "request header, key=value (repeatable)")
	cmd.Flags().StringVar(&flags.csvPath, "csv", "", "CSV file holding attachment IDs")
	cmd.Flags().StringVar(&flags.column, "column", "ATTACHMENTID", "CSV column holding the IDs")
	cmd.Flags().IntVar(&flags.startLine, "start-line", 0, "1-indexed data row to start from")
	cmd.Flags().StringSliceVar(&flags.idList, "ids", nil, "explicit attachment IDs")
	cmd.Flags().BoolVar(&flags.noResume, "no-resume", false, "process IDs even when the file already exists")
	cmd.Flags().BoolVar(&flags.bar, "progress", false, "show a progress bar")
	_ = cmd.MarkFlagRequired("base-url")

	return cmd
}

func runFetch(cmd *cobra.Command, cfg config.Config, flags fetchFlags) error {
	for _, h := range flags.headers {
		k, v, found := strings.Cut(h, "=")
		if !found {
			return xerrors.Errorf("invalid header %q, expected key=value", h)
		}
		cfg.Headers[k] = v
	}
	if err := cfg.Validate(); err != nil {
		return xerrors.Errorf("invalid configuration: %w", err)
	}

	var ids []string
	var desc string
	switch {
	case flags.csvPath != "":
		ids = source.FromCSV(flags.csvPath, source.Option{
			Column:    flags.column,
			StartLine: flags.startLine,
		})
		desc = fmt.Sprintf("CSV: %s (line %d+)", flags.csvPath, max(flags.startLine, 1))
	case len(flags.idList) > 0:
		ids = source.FromList(flags.idList, nil)
		desc = "ID list"
	default:
		return xerrors.New("either --csv or --ids must be given")
	}

	if len(ids) == 0 {
		slog.Info("No IDs to process")
		return nil
	}

	st := stats.New()
	if !flags.noResume {
		ix, err := resume.ScanDir(cfg.DownloadDir, cfg.Separator, nil)
		if err != nil {
			return xerrors.Errorf("resume scan error: %w", err)
		}
		var skipped int
		ids, skipped = ix.Remaining(ids)
		st.AddSkipped(skipped)
	}
	if len(ids) == 0 {
		slog.Info("No new files to process")
		return nil
	}

	dbc, err := db.New(cfg.LogDir)
	if err != nil {
		return xerrors.Errorf("results db error: %w", err)
	}
	defer dbc.Close()
	if err = dbc.Init(); err != nil {
		return xerrors.Errorf("results db init error: %w", err)
	}
	runID, err := dbc.BeginRun(desc)
	if err != nil {
		return xerrors.Errorf("unable to begin run: %w", err)
	}

	f, err := fetcher.New(cfg)
	if err != nil {
		return xerrors.Errorf("fetcher init error: %w", err)
	}

	rep, err := report.New(report.Options{
		LogDir: cfg.LogDir,
		Source: desc,
		Total:  len(ids),
		Bar:    flags.bar,
		DB:     &dbc,
		RunID:  runID,
	})
	if err != nil {
		return xerrors.Errorf("reporter init error: %w", err)
	}
	defer rep.Close()

	slog.Info("Starting concurrent download",
		slog.String("source", desc),
		slog.Int("files", len(ids)),
		slog.Int("workers", cfg.Workers),
		slog.Int("batch_size", cfg.BatchSize),
		slog.String("log", rep.LogPath()),
		slog.String("records", rep.RecordPath()))

	sum, runErr := batch.NewRunner(cfg, f, st, rep).Run(cmd.Context(), ids)

	if err = dbc.CompleteRun(runID, sum); err != nil {
		slog.Warn("Unable to finalize run record", slog.String("error", err.Error()))
	}
	meta := metadata.New(cfg.LogDir)
	if err = meta.Update(metadata.Manifest{
		RunID:       runID,
		Source:      desc,
		CompletedAt: time.Now().UTC(),
		Processed:   sum.Processed,
		Successful:  sum.Successful,
		Failed:      sum.Failed,
		Skipped:     sum.Skipped,
	}); err != nil {
		slog.Warn("Unable to update manifest", slog.String("error", err.Error()))
	}
	return runErr
}

func newStatusCmd() *cobra.Command {
	var logDir, downloadDir string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last run and the current artifact count",
		RunE: func(_ *cobra.Command, _ []string) error {
			meta := metadata.New(logDir)
			m, err := meta.Get()
			if err != nil {
				slog.Info("No completed runs recorded")
			} else {
				slog.Info("Last run",
					slog.Int64("run_id", m.RunID),
					slog.String("source", m.Source),
					slog.Time("completed_at", m.CompletedAt),
					slog.Int("processed", m.Processed),
					slog.Int("successful", m.Successful),
					slog.Int("failed", m.Failed),
					slog.Int("skipped", m.Skipped))
			}

			if count, err := fileutil.Count(downloadDir); err == nil {
				slog.Info("Destination", slog.String("dir", downloadDir), slog.Int("artifacts", count))
			}

			dbc, err := db.New(logDir)
			if err != nil {
				return nil
			}
			defer dbc.Close()
			if err = dbc.Init(); err != nil {
				return nil
			}
			run, err := dbc.LastRun()
			if err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					slog.Warn("Unable to read results db", slog.String("error", err.Error()))
				}
				return nil
			}
			failed, err := dbc.SelectFailed(run.ID)
			if err != nil {
				return nil
			}
			for _, r := range failed {
				slog.Info("Failed item",
					slog.String("id", r.AttachmentID),
					slog.String("kind", string(r.Kind)),
					slog.String("message", r.Message))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logDir, "log-dir", "logs", "directory holding run logs and the results db")
	cmd.Flags().StringVar(&downloadDir, "download-dir", "downloads", "destination directory for decoded files")
	return cmd
}
