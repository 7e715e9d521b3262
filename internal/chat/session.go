package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/evowork/evochat/internal/domain"
	"github.com/evowork/evochat/internal/store"
)

// Service drives chat turns end-to-end: it owns the live message state,
// the activity log, and the finalization coordinator, and consumes the
// model-stream source one turn at a time.
type Service struct {
	live      *LiveStore
	repo      store.Repository
	source    Streamer
	activity  *ActivityLog
	finalizer *Finalizer
	ownerID   string
}

// NewService wires a chat service around a persistence gateway and a
// model-stream source. ownerID identifies the local user on persisted rows.
func NewService(repo store.Repository, source Streamer, ownerID string) *Service {
	live := NewLiveStore()
	activity := NewActivityLog()
	return &Service{
		live:      live,
		repo:      repo,
		source:    source,
		activity:  activity,
		finalizer: NewFinalizer(live, repo, activity, ownerID),
		ownerID:   ownerID,
	}
}

// Live exposes the live message container to the presentation layer.
func (s *Service) Live() *LiveStore { return s.live }

// Activity exposes the per-thread activity log.
func (s *Service) Activity() *ActivityLog { return s.activity }

// Finalize is the single finalization entry point, exposed so that every
// independent trigger (stream end, transport error, client disconnect)
// funnels through the same id-keyed lock.
func (s *Service) Finalize(ctx context.Context, threadID, messageID string) Outcome {
	return s.finalizer.Finalize(ctx, threadID, messageID)
}

// DropThread discards live state for a deleted thread. A finalization
// already in flight for one of its messages degrades to a logged no-op.
func (s *Service) DropThread(threadID string) {
	s.live.Drop(threadID)
	s.activity.Clear(threadID)
}

// EnsureLoaded seeds the live container from the durable store the first
// time a thread is touched after startup.
func (s *Service) EnsureLoaded(ctx context.Context, threadID string) error {
	if len(s.live.Snapshot(threadID)) > 0 {
		return nil
	}
	stored, err := s.repo.ListMessages(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load thread messages: %w", err)
	}
	if len(stored) == 0 {
		return nil
	}
	msgs := make([]domain.Message, 0, len(stored))
	for _, m := range stored {
		msgs = append(msgs, *m)
	}
	s.live.Seed(threadID, msgs)
	return nil
}

// Send runs one request/response turn: it persists the user message,
// creates the streaming agent placeholder, consumes the model stream
// through the classifier and the tool-call accumulator, and finalizes the
// turn through the coordinator regardless of how the stream ended.
//
// The returned id is the agent message's final visible id (canonical when
// the commit succeeded, the local id when it degraded). Stream and store
// failures during the turn are surfaced in the live state, not as an
// error; only a failure to accept the user message returns one.
func (s *Service) Send(ctx context.Context, threadID, text string) (string, error) {
	if err := s.EnsureLoaded(ctx, threadID); err != nil {
		return "", err
	}
	s.activity.Clear(threadID)

	prepEntry := s.activity.Add(threadID, "Preparing request", "Formatting message and history for the model.", domain.ActivityRunning)

	userRec, err := s.repo.CreateMessage(ctx, store.NewMessage{
		ThreadID:  threadID,
		UserID:    s.ownerID,
		Sender:    domain.SenderUser,
		Text:      text,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.activity.Update(threadID, prepEntry, domain.ActivityError, "", err.Error())
		return "", fmt.Errorf("persist user message: %w", err)
	}
	s.live.Append(threadID, domain.Message{
		ID:        userRec.ID,
		Canonical: true,
		Sender:    domain.SenderUser,
		RawText:   text,
		Timestamp: userRec.CreatedAt,
		CreatedAt: &userRec.CreatedAt,
		Phase:     domain.PhaseCommitted,
	})

	history := s.live.Snapshot(threadID)

	agentID := uuid.NewString()
	s.live.Append(threadID, domain.Message{
		ID:          agentID,
		Sender:      domain.SenderAgent,
		IsStreaming: true,
		IsThinking:  true,
		Timestamp:   time.Now(),
		Phase:       domain.PhaseCreated,
	})

	s.activity.Update(threadID, prepEntry, domain.ActivitySuccess, "Request prepared and sent to backend.", "")
	streamEntry := s.activity.Add(threadID, "Streaming model response", "Processing response from the model.", domain.ActivityRunning)

	classifier := NewClassifier()
	acc := NewToolCallAccumulator()
	var raw strings.Builder
	var streamErr error

	for unit, err := range s.source.Stream(ctx, history) {
		if err != nil {
			streamErr = err
			break
		}
		if unit == nil {
			continue
		}
		if unit.Text != "" {
			raw.WriteString(unit.Text)
			classifier.Feed(unit.Text)
		}
		if len(unit.ToolCalls) > 0 {
			acc.Apply(unit.ToolCalls...)
		}
		if !s.applyStreamState(threadID, agentID, classifier, acc, raw.String()) {
			slog.Debug("chunk dropped after finalization started", "thread_id", threadID, "message_id", agentID)
			break
		}
	}

	classifier.Flush()
	s.applyStreamState(threadID, agentID, classifier, acc, raw.String())

	switch {
	case errors.Is(streamErr, context.Canceled):
		// Client went away. The partial content still finalizes below; no
		// error notice belongs in the thread.
		slog.Info("model stream cancelled", "thread_id", threadID, "message_id", agentID)
		s.activity.Update(threadID, streamEntry, domain.ActivityError, "", "cancelled")
	case streamErr != nil:
		slog.Error("model stream failed", "thread_id", threadID, "message_id", agentID, "error", streamErr)
		s.activity.Update(threadID, streamEntry, domain.ActivityError, "", streamErr.Error())
		s.injectSystemError(threadID, streamErr)
	default:
		s.activity.Update(threadID, streamEntry, domain.ActivitySuccess,
			fmt.Sprintf("Received %d characters.", raw.Len()), "")
	}

	outcome := s.finalizer.Finalize(ctx, threadID, agentID)
	if outcome.Err != nil {
		// Already surfaced as a degraded message; the turn itself succeeded.
		slog.Warn("turn finalized degraded", "thread_id", threadID, "message_id", agentID, "error", outcome.Err)
	}
	if outcome.MessageID != "" {
		return outcome.MessageID, nil
	}
	return agentID, nil
}

// applyStreamState writes the merged classifier/accumulator state into the
// streaming message. Returns false when the message is gone or no longer
// accepts chunks, which stops the read loop.
func (s *Service) applyStreamState(threadID, messageID string, classifier *Classifier, acc *ToolCallAccumulator, raw string) bool {
	return s.live.UpdateMessage(threadID, messageID, func(m *domain.Message) bool {
		if !m.AcceptsChunks() {
			return false
		}
		m.Phase = domain.PhaseStreaming
		m.RawText = raw
		m.ThinkContent = classifier.Think()
		m.ReplyContent = classifier.Reply()
		m.IsThinking = classifier.IsThinking()
		if d := classifier.ThinkDuration(); d > 0 {
			m.ThinkDuration = d.Milliseconds()
		}
		m.ToolCalls = acc.Calls()
		m.IsStreaming = true
		return true
	})
}

// injectSystemError adds a visible error notice to the thread, distinct
// from the agent's (possibly partial) turn. It lives only in the local
// view and is never persisted.
func (s *Service) injectSystemError(threadID string, cause error) {
	msg := cause.Error()
	if len(msg) > 150 {
		cut := 150
		// Back up to a rune boundary so the cut never splits a multi-byte
		// character.
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	s.live.Append(threadID, domain.Message{
		ID:        uuid.NewString(),
		Sender:    domain.SenderSystemError,
		RawText:   "Sorry, I encountered an error: " + msg,
		Timestamp: time.Now(),
	})
}
