package fetcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"k8s.io/utils/clock"

	"github.com/attachsync/attachsync/pkg/config"
	"github.com/attachsync/attachsync/pkg/types"
)

// Fetcher retrieves one artifact per identifier: fetch, decode the embedded
// base64 payload, persist. Every failure is converted to a terminal Outcome;
// no error escapes to the scheduler.
type Fetcher struct {
	cfg   config.Config
	http  *retryablehttp.Client
	clock clock.PassiveClock
}

// envelope is the remote response shape: an items array whose first element
// carries the payload and display-name fields.
type envelope struct {
	Items []map[string]any `json:"items"`
}

// New creates a Fetcher and the destination directory.
func New(cfg config.Config) (*Fetcher, error) {
	if err := os.MkdirAll(cfg.DownloadDir, os.ModePerm); err != nil {
		return nil, err
	}
	return &Fetcher{
		cfg:   cfg,
		http:  newClient(cfg),
		clock: clock.RealClock{},
	}, nil
}

// newClient builds the HTTP client. Transient transport failures (timeout,
// connection) are retried here with 2^attempt * BackoffUnit waits; HTTP
// statuses are never retried and fall through to pipeline classification.
func newClient(cfg config.Config) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = slog.Default()
	client.HTTPClient.Timeout = cfg.RequestTimeout
	client.RetryMax = 0
	if cfg.RetryOnFailure {
		client.RetryMax = cfg.MaxRetries
	}
	client.RetryWaitMin = cfg.BackoffUnit
	client.RetryWaitMax = cfg.BackoffUnit << uint(cfg.MaxRetries)
	client.Backoff = func(min, max time.Duration, attemptNum int, _ *http.Response) time.Duration {
		wait := min << uint(attemptNum)
		if wait > max {
			return max
		}
		return wait
	}
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// Only transport errors are transient. Status codes (404, 429, 5xx
		// included) are classified by the pipeline and reported immediately.
		return resp == nil && err != nil, nil
	}
	client.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		if err != nil {
			slog.Warn("Request failed after retries",
				slog.Int("num_tries", numTries), slog.String("error", err.Error()))
		}
		return resp, err
	}
	return client
}

// Fetch runs the pipeline for a single identifier and returns its terminal
// outcome.
func (f *Fetcher) Fetch(ctx context.Context, id string) (out types.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = f.outcome(id, false, types.KindUnknownError,
				"Unexpected error: "+truncate(fmt.Sprint(r), 50))
		}
	}()

	resp, err := f.get(ctx, f.cfg.BaseURL+id)
	if err != nil {
		kind, msg := classifyTransport(err)
		return f.outcome(id, false, kind, msg)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind, msg := classifyStatus(resp.StatusCode)
		return f.outcome(id, false, kind, msg)
	}

	var env envelope
	if err = json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return f.outcome(id, false, types.KindUnknownError,
			"Unexpected error: "+truncate(err.Error(), 50))
	}
	if len(env.Items) == 0 {
		return f.outcome(id, false, types.KindNoData, "No data in response")
	}

	item := env.Items[0]
	payload, _ := item[f.cfg.DataField].(string)
	if payload == "" {
		return f.outcome(id, false, types.KindNoBase64, "No base64 data")
	}

	name, _ := item[f.cfg.NameField].(string)
	if name == "" {
		name, _ = item[f.cfg.NameFallbackField].(string)
	}
	safeName := SanitizeName(name, id)

	dest := filepath.Join(f.cfg.DownloadDir, id+f.cfg.Separator+safeName)
	if info, err := os.Stat(dest); err == nil {
		return f.outcome(id, true, types.KindAlreadyExists,
			fmt.Sprintf("Already exists: %s (%db)", safeName, info.Size()))
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return f.outcome(id, false, types.KindDecodeError,
			"Base64 decode error: "+truncate(err.Error(), 50))
	}

	if err = os.WriteFile(dest, decoded, 0644); err != nil {
		return f.outcome(id, false, types.KindUnknownError,
			"Unexpected error: "+truncate(err.Error(), 50))
	}
	return f.outcome(id, true, types.KindSuccess, fmt.Sprintf("%s (%db)", safeName, len(decoded)))
}

func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range f.cfg.Headers {
		req.Header.Set(k, v)
	}
	return f.http.Do(req)
}

func (f *Fetcher) outcome(id string, ok bool, kind types.Kind, msg string) types.Outcome {
	return types.Outcome{
		ID:        id,
		Succeeded: ok,
		Message:   msg,
		Kind:      kind,
		Timestamp: f.clock.Now(),
	}
}

// classifyTransport splits exhausted transport failures into the two
// transient kinds.
func classifyTransport(err error) (types.Kind, string) {
	var nerr net.Error
	if (errors.As(err, &nerr) && nerr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return types.KindTimeout, "Request timeout"
	}
	return types.KindConnectionError, "Connection error"
}

// classifyStatus maps non-200 status codes onto the fixed taxonomy.
func classifyStatus(code int) (types.Kind, string) {
	switch code {
	case http.StatusNotFound:
		return types.KindNotFound, "File not found"
	case http.StatusInternalServerError:
		return types.KindServerError, "Server error"
	case http.StatusUnauthorized:
		return types.KindAuthError, "Unauthorized"
	case http.StatusForbidden:
		return types.KindForbidden, "Forbidden"
	case http.StatusTooManyRequests:
		return types.KindRateLimited, "Rate limited"
	default:
		return types.HTTPKind(code), fmt.Sprintf("HTTP %d", code)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
