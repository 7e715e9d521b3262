package llm

import (
	"context"
	"iter"
	"time"

	"github.com/evowork/evochat/internal/chat"
	"github.com/evowork/evochat/internal/domain"
)

// StubStreamer replays a canned response in small chunks. It backs local
// development when no model backend is configured, and keeps the full
// streaming path (tags, chunk splits, finalization) exercised.
type StubStreamer struct {
	// Chunks override the default canned response when non-empty.
	Chunks []string
	// Delay between chunks; zero means no pacing.
	Delay time.Duration
}

var _ chat.Streamer = (*StubStreamer)(nil)

var defaultStubChunks = []string{
	"<think>No model backend is configured, so I am a canned respon",
	"se. I still stream in pieces to exercise the transcoder.</think>",
	"Hi! The server is running without a model backend. ",
	"Set LLM_BASE_URL, LLM_MODEL_NAME and LLM_API_KEY to talk to a real model.",
}

// Stream yields the canned chunks, honoring context cancellation between
// chunks.
func (s *StubStreamer) Stream(ctx context.Context, _ []domain.Message) iter.Seq2[*chat.StreamUnit, error] {
	chunks := s.Chunks
	if len(chunks) == 0 {
		chunks = defaultStubChunks
	}
	return func(yield func(*chat.StreamUnit, error) bool) {
		for _, chunk := range chunks {
			if s.Delay > 0 {
				select {
				case <-ctx.Done():
					yield(nil, ctx.Err())
					return
				case <-time.After(s.Delay):
				}
			} else if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			if !yield(&chat.StreamUnit{Text: chunk}, nil) {
				return
			}
		}
	}
}
