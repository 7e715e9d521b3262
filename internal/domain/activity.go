package domain

import (
	"time"
)

// ActivityStatus is the state of one backend operation in the activity log.
type ActivityStatus string

const (
	ActivityPending ActivityStatus = "pending"
	ActivityRunning ActivityStatus = "running"
	ActivitySuccess ActivityStatus = "success"
	ActivityError   ActivityStatus = "error"
)

// ActivityEntry is an observability record of one backend operation,
// surfaced to the UI for transparency. It is not correctness-critical:
// failures updating the log never block a turn.
type ActivityEntry struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Details   string         `json:"details,omitempty"`
	Status    ActivityStatus `json:"status"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// Duration is filled when the entry leaves ActivityRunning, in ms.
	Duration int64 `json:"duration,omitempty"`
}
