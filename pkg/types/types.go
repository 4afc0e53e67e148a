package types

import (
	"fmt"
	"time"
)

// Kind classifies the terminal result of one identifier in one run.
type Kind string

const (
	KindSuccess         Kind = "SUCCESS"
	KindAlreadyExists   Kind = "ALREADY_EXISTS"
	KindNoData          Kind = "NO_DATA"
	KindNoBase64        Kind = "NO_BASE64"
	KindDecodeError     Kind = "DECODE_ERROR"
	KindNotFound        Kind = "NOT_FOUND"
	KindServerError     Kind = "SERVER_ERROR"
	KindAuthError       Kind = "AUTH_ERROR"
	KindForbidden       Kind = "FORBIDDEN"
	KindRateLimited     Kind = "RATE_LIMITED"
	KindTimeout         Kind = "TIMEOUT"
	KindConnectionError Kind = "CONNECTION_ERROR"
	KindUnknownError    Kind = "UNKNOWN_ERROR"
)

// HTTPKind returns the kind for an HTTP status code without a dedicated
// mapping, e.g. HTTP_502.
func HTTPKind(statusCode int) Kind {
	return Kind(fmt.Sprintf("HTTP_%d", statusCode))
}

// Outcome is the terminal result for one identifier. Retried attempts do not
// produce intermediate outcomes; only the final classification is reported.
type Outcome struct {
	ID        string
	Succeeded bool
	Message   string
	Kind      Kind
	Timestamp time.Time
}

// Status returns the literal written to result records.
func (o Outcome) Status() string {
	if o.Succeeded {
		return "SUCCESS"
	}
	return "FAILED"
}

// Summary holds the counters for one completed run.
type Summary struct {
	Processed  int
	Successful int
	Failed     int
	Skipped    int
	Duration   time.Duration
	ErrorKinds map[Kind]int
}

// SuccessRate returns the percentage of processed items that succeeded.
func (s Summary) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Processed) * 100
}
