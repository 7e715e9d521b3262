package chat

import (
	"context"
	"iter"

	"github.com/evowork/evochat/internal/domain"
)

// StreamUnit is one inbound unit of a model stream: plain text (which may
// contain think tags), tool-call fragments, or both.
type StreamUnit struct {
	Text      string
	ToolCalls []ToolCallFragment
}

// Streamer is the model-stream source: it produces a lazy, finite,
// non-restartable sequence of stream units for the given conversation
// history, then signals completion (sequence end) or failure (a non-nil
// error yielded from the sequence).
type Streamer interface {
	Stream(ctx context.Context, history []domain.Message) iter.Seq2[*StreamUnit, error]
}
