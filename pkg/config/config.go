package config

import (
	"time"

	"golang.org/x/xerrors"
)

// Config holds the immutable settings for one retrieval run.
type Config struct {
	// BaseURL is the endpoint prefix; the item identifier is appended to it
	// to form the request URL.
	BaseURL string

	// Headers are sent with every request (auth, content negotiation).
	Headers map[string]string

	// DownloadDir is where decoded artifacts are written.
	DownloadDir string

	// LogDir is where per-run result logs are written.
	LogDir string

	// Workers bounds the number of concurrent fetches within a batch.
	Workers int

	// BatchSize is the number of identifiers processed per batch.
	BatchSize int

	// BatchDelay is the pause inserted between batches.
	BatchDelay time.Duration

	// RequestTimeout bounds a single HTTP request.
	RequestTimeout time.Duration

	// RetryOnFailure enables retrying transient (timeout/connection)
	// failures. MaxRetries bounds the retries, so a transient failure is
	// attempted at most MaxRetries+1 times.
	RetryOnFailure bool
	MaxRetries     int

	// BackoffUnit scales the exponential retry backoff: the wait before
	// retry attempt n is 2^n * BackoffUnit.
	BackoffUnit time.Duration

	// Separator joins the identifier and the sanitized remote name in the
	// stored artifact filename. The resume scan splits on the same value.
	Separator string

	// DataField and NameField select the payload and display-name keys in
	// the response items. NameFallbackField is consulted when NameField is
	// absent.
	DataField         string
	NameField         string
	NameFallbackField string
}

// Default returns a Config with defaults for everything but the endpoint.
func Default() Config {
	return Config{
		Headers:           map[string]string{},
		DownloadDir:       "downloads",
		LogDir:            "logs",
		Workers:           5,
		BatchSize:         20,
		BatchDelay:        time.Second,
		RequestTimeout:    30 * time.Second,
		RetryOnFailure:    true,
		MaxRetries:        3,
		BackoffUnit:       time.Second,
		Separator:         "_",
		DataField:         "data",
		NameField:         "fullPath",
		NameFallbackField: "fileName",
	}
}

// Validate reports the first violated constraint.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return xerrors.New("base URL must be set")
	}
	if c.Workers < 1 {
		return xerrors.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.BatchSize < 1 {
		return xerrors.Errorf("batch size must be >= 1, got %d", c.BatchSize)
	}
	if c.RetryOnFailure && c.MaxRetries < 0 {
		return xerrors.Errorf("max retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.Separator == "" {
		return xerrors.New("separator must not be empty")
	}
	return nil
}
