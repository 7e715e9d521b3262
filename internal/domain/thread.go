package domain

import (
	"time"
)

// Thread is a conversation container. LastUpdated is bumped on every
// message mutation and orders the thread list, newest first.
type Thread struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastUpdated time.Time `json:"last_updated"`
	CreatedAt   time.Time `json:"created_at"`
}
