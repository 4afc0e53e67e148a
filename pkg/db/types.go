package db

import (
	"time"

	"github.com/attachsync/attachsync/pkg/types"
)

type Run struct {
	ID          int64
	Source      string
	StartedAt   time.Time
	CompletedAt time.Time
	Processed   int
	Successful  int
	Failed      int
	Skipped     int
}

type Result struct {
	RunID        int64
	AttachmentID string
	Status       string
	Kind         types.Kind
	Message      string
	CreatedAt    time.Time
}
