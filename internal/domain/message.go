// Package domain contains core domain types for the EvoChat application.
package domain

import (
	"time"
)

// Sender identifies who produced a message.
type Sender string

const (
	// SenderUser is a message typed by the user.
	SenderUser Sender = "user"
	// SenderAgent is a model-generated turn.
	SenderAgent Sender = "agent"
	// SenderSystemError is a locally-injected error notice, distinct from
	// the agent's (possibly partial) turn.
	SenderSystemError Sender = "system-error"
)

// Phase tracks the lifecycle of a streaming message. Phases only move
// forward; PhaseCommitted and PhaseDegraded are terminal.
type Phase int

const (
	// PhaseCreated is the initial placeholder state before any chunk arrived.
	PhaseCreated Phase = iota
	// PhaseStreaming means at least one chunk has been applied.
	PhaseStreaming
	// PhaseFinalizing means the commit window is open; no further chunks
	// may be applied.
	PhaseFinalizing
	// PhaseCommitted means the durable write succeeded and the message
	// carries its canonical store-assigned id.
	PhaseCommitted
	// PhaseDegraded means the durable write failed; the message stays
	// visible locally with a failure annotation.
	PhaseDegraded
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseCommitted:
		return "committed"
	case PhaseDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase allows no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseCommitted || p == PhaseDegraded
}

// ToolCall is one structured tool invocation accumulated during a turn.
// Arguments is the concatenation of all argument fragments as received;
// it is treated as opaque text and may not be valid JSON.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one turn in a conversation.
//
// The id has two regimes: while streaming it is a client-generated local id
// (Canonical == false); after a successful durable write it is replaced by
// the store-assigned canonical id (Canonical == true). The Phase field,
// not the id shape, decides lifecycle questions.
type Message struct {
	ID        string
	Canonical bool
	Sender    Sender

	// RawText is the full accumulated text as received, tags included.
	// Retained for fallback and debugging.
	RawText string

	ThinkContent string
	ReplyContent string
	IsThinking   bool
	IsStreaming  bool

	// ThinkDuration is the wall-clock length of the thinking phase in
	// milliseconds, computed once at tag-close or forced finalization.
	ThinkDuration int64

	ToolCalls []ToolCall

	// Timestamp is the logical time of the turn; CreatedAt is the
	// store-assigned persistence time, absent until committed.
	Timestamp time.Time
	CreatedAt *time.Time

	Phase Phase

	// Error carries the visible failure annotation of a degraded message.
	Error string
}

// AcceptsChunks reports whether stream chunks may still be applied.
// Late chunks arriving at or after PhaseFinalizing are dropped.
func (m *Message) AcceptsChunks() bool {
	return m.Phase < PhaseFinalizing
}

// DisplayText resolves the text shown for (and persisted with) the message:
// reply content, falling back to think content, falling back to a
// placeholder. Never empty for agent turns.
func (m *Message) DisplayText() string {
	if m.ReplyContent != "" {
		return m.ReplyContent
	}
	if m.ThinkContent != "" {
		return m.ThinkContent
	}
	if m.RawText != "" {
		return m.RawText
	}
	return "(no response)"
}
