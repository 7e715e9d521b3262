package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evowork/evochat/internal/domain"
)

// ActivityLog records backend operation status per thread, purely for UI
// transparency. It is best-effort: nothing in the turn pipeline waits on
// it or fails because of it.
type ActivityLog struct {
	mu      sync.Mutex
	entries map[string][]domain.ActivityEntry
}

// NewActivityLog returns an empty activity log.
func NewActivityLog() *ActivityLog {
	return &ActivityLog{entries: make(map[string][]domain.ActivityEntry)}
}

// Add appends a new entry for a thread and returns its id.
func (l *ActivityLog) Add(threadID, title, details string, status domain.ActivityStatus) string {
	entry := domain.ActivityEntry{
		ID:        uuid.NewString(),
		Title:     title,
		Details:   details,
		Status:    status,
		Timestamp: time.Now(),
	}
	l.mu.Lock()
	l.entries[threadID] = append(l.entries[threadID], entry)
	l.mu.Unlock()
	return entry.ID
}

// Update transitions an entry's status. Duration is computed when the
// entry leaves ActivityRunning. Unknown ids are ignored.
func (l *ActivityLog) Update(threadID, entryID string, status domain.ActivityStatus, result, errMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.entries[threadID]
	for i := range entries {
		if entries[i].ID != entryID {
			continue
		}
		if entries[i].Status == domain.ActivityRunning && status != domain.ActivityRunning {
			entries[i].Duration = time.Since(entries[i].Timestamp).Milliseconds()
		}
		entries[i].Status = status
		if result != "" {
			entries[i].Result = result
		}
		if errMsg != "" {
			entries[i].Error = errMsg
		}
		return
	}
}

// Snapshot returns a copy of a thread's entries, oldest first.
func (l *ActivityLog) Snapshot(threadID string) []domain.ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.entries[threadID]
	if len(entries) == 0 {
		return nil
	}
	out := make([]domain.ActivityEntry, len(entries))
	copy(out, entries)
	return out
}

// Clear drops a thread's entries (called at the start of a new turn).
func (l *ActivityLog) Clear(threadID string) {
	l.mu.Lock()
	delete(l.entries, threadID)
	l.mu.Unlock()
}
