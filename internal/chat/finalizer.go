package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evowork/evochat/internal/domain"
	"github.com/evowork/evochat/internal/store"
)

// Outcome is the explicit result of a finalization attempt. Exactly one
// of Committed/Skipped is set on success paths; Err carries the store
// failure when the message was marked degraded instead. Finalize never
// panics and never lets an error escape unreported.
type Outcome struct {
	// Committed is true when the durable write succeeded; MessageID then
	// holds the canonical store-assigned id.
	Committed bool
	// Skipped is true when there was nothing to do: duplicate trigger,
	// missing message, or an already-committed message.
	Skipped bool
	// MessageID is the id of the final visible entry.
	MessageID string
	// Err is the store failure that degraded the message, if any.
	Err error
}

// Finalizer converts a streaming message into a durable record exactly
// once. It is the single authoritative entry point for ending a turn: the
// stream-completion path, the transport-error path, and the
// client-disconnect path all funnel through Finalize, and a message-id
// keyed in-flight set makes every trigger after the first a no-op.
//
// The set is acquired for the decision to finalize, not just the write, so
// a second trigger arriving mid-write observes it and exits immediately.
// Release happens on every exit path.
type Finalizer struct {
	live     *LiveStore
	repo     store.Repository
	activity *ActivityLog
	ownerID  string

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewFinalizer wires the coordinator to the live container and the store.
func NewFinalizer(live *LiveStore, repo store.Repository, activity *ActivityLog, ownerID string) *Finalizer {
	return &Finalizer{
		live:     live,
		repo:     repo,
		activity: activity,
		ownerID:  ownerID,
		inFlight: make(map[string]struct{}),
	}
}

func (f *Finalizer) acquire(messageID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.inFlight[messageID]; busy {
		return false
	}
	f.inFlight[messageID] = struct{}{}
	return true
}

func (f *Finalizer) release(messageID string) {
	f.mu.Lock()
	delete(f.inFlight, messageID)
	f.mu.Unlock()
}

// Finalize ends the streaming turn for the given message. Safe to invoke
// from any number of concurrent triggers; exactly one proceeds.
//
// The durable write runs detached from the caller's cancellation: a client
// navigating away mid-stream must not abort persisting the content that
// already arrived.
func (f *Finalizer) Finalize(ctx context.Context, threadID, messageID string) Outcome {
	if !f.acquire(messageID) {
		slog.Debug("duplicate finalization absorbed", "thread_id", threadID, "message_id", messageID)
		return Outcome{Skipped: true, MessageID: messageID}
	}
	defer f.release(messageID)

	// Mark the commit window open and snapshot the current message state
	// in the same atomic update, so chunks that mutated it after this
	// trigger was scheduled are included and later chunks are rejected.
	var (
		snap            domain.Message
		found           bool
		alreadyTerminal bool
	)
	f.live.Update(threadID, func(msgs []domain.Message) []domain.Message {
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			found = true
			if msgs[i].Phase.Terminal() {
				// Committed or degraded: both are final, neither gets
				// another write attempt.
				alreadyTerminal = true
				msgs[i].IsStreaming = false
				msgs[i].IsThinking = false
			} else {
				msgs[i].Phase = domain.PhaseFinalizing
				if msgs[i].IsThinking && msgs[i].ThinkDuration == 0 {
					// Stream ended inside an unterminated think block and
					// the classifier never saw the close tag.
					msgs[i].ThinkDuration = time.Since(msgs[i].Timestamp).Milliseconds()
				}
			}
			snap = msgs[i]
			break
		}
		return msgs
	})

	if !found {
		// Turn already removed, e.g. thread deleted mid-stream.
		slog.Info("message missing at finalization, skipping", "thread_id", threadID, "message_id", messageID)
		return Outcome{Skipped: true, MessageID: messageID}
	}
	if alreadyTerminal {
		slog.Debug("finalization re-entry on terminal message", "thread_id", threadID, "message_id", messageID)
		return Outcome{Skipped: true, MessageID: messageID}
	}

	saveEntry := f.activity.Add(threadID, "Saving agent reply", "Persisting the finished turn.", domain.ActivityRunning)

	rec, err := f.repo.CreateMessage(context.WithoutCancel(ctx), store.NewMessage{
		ThreadID:      threadID,
		UserID:        f.ownerID,
		Sender:        snap.Sender,
		Text:          snap.DisplayText(),
		ThinkContent:  snap.ThinkContent,
		ReplyContent:  snap.ReplyContent,
		ThinkDuration: snap.ThinkDuration,
		ToolCalls:     snap.ToolCalls,
		Timestamp:     snap.Timestamp,
	})
	if err != nil {
		slog.Error("finalization write failed", "thread_id", threadID, "message_id", messageID, "error", err)
		f.live.UpdateMessage(threadID, messageID, func(m *domain.Message) bool {
			m.Phase = domain.PhaseDegraded
			m.IsStreaming = false
			m.IsThinking = false
			m.Error = "failed to save this reply: " + err.Error()
			return true
		})
		f.activity.Update(threadID, saveEntry, domain.ActivityError, "", err.Error())
		// The thread still mutated (a degraded turn is visible), so its
		// ordering timestamp gets bumped even though no row was written.
		if touchErr := f.repo.TouchThread(context.WithoutCancel(ctx), threadID, time.Now()); touchErr != nil {
			slog.Warn("failed to bump thread after degraded turn", "thread_id", threadID, "error", touchErr)
		}
		return Outcome{MessageID: messageID, Err: err}
	}

	// Swap the temporary-id entry for the canonical one. Local
	// classification stays authoritative for content; the store is
	// authoritative for identity and persistence time. De-dup by id
	// defensively before insert.
	f.live.Update(threadID, func(msgs []domain.Message) []domain.Message {
		out := msgs[:0]
		for _, m := range msgs {
			if m.ID == messageID || m.ID == rec.ID {
				continue
			}
			out = append(out, m)
		}
		committed := snap
		committed.ID = rec.ID
		committed.Canonical = true
		committed.CreatedAt = &rec.CreatedAt
		committed.Phase = domain.PhaseCommitted
		committed.IsStreaming = false
		committed.IsThinking = false
		return append(out, committed)
	})

	f.activity.Update(threadID, saveEntry, domain.ActivitySuccess, "Reply saved.", "")
	slog.Info("message finalized", "thread_id", threadID, "local_id", messageID, "canonical_id", rec.ID)
	return Outcome{Committed: true, MessageID: rec.ID}
}
