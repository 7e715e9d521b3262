package chat

import (
	"github.com/evowork/evochat/internal/domain"
)

// ToolCallFragment is one incrementally-delivered piece of a structured
// tool invocation: a call id, an optional function name, and an optional
// fragment of the JSON-encoded arguments string.
type ToolCallFragment struct {
	CallID            string
	Name              string
	ArgumentsFragment string
}

// ToolCallAccumulator merges tool-call fragments into whole call records,
// preserving arrival order. Argument text is appended as received and
// treated as opaque: malformed JSON never fails the stream.
type ToolCallAccumulator struct {
	calls []domain.ToolCall
	byID  map[string]int
}

// NewToolCallAccumulator returns an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{byID: make(map[string]int)}
}

// Apply folds a batch of fragments into the accumulated calls. A fragment
// with an unseen call id opens a new entry at the end of the list; existing
// entries are never reordered. A fragment with an empty call id continues
// the most recent call (streaming sources omit the id on continuation
// fragments).
func (a *ToolCallAccumulator) Apply(frags ...ToolCallFragment) {
	for _, f := range frags {
		idx, ok := a.index(f.CallID)
		if !ok {
			continue
		}
		call := &a.calls[idx]
		if f.Name != "" {
			call.Name = f.Name
		}
		call.Arguments += f.ArgumentsFragment
	}
}

func (a *ToolCallAccumulator) index(callID string) (int, bool) {
	if callID == "" {
		if len(a.calls) == 0 {
			// Continuation fragment with nothing to continue; drop it.
			return 0, false
		}
		return len(a.calls) - 1, true
	}
	if idx, ok := a.byID[callID]; ok {
		return idx, true
	}
	a.calls = append(a.calls, domain.ToolCall{ID: callID})
	a.byID[callID] = len(a.calls) - 1
	return len(a.calls) - 1, true
}

// Len returns the number of accumulated calls.
func (a *ToolCallAccumulator) Len() int { return len(a.calls) }

// Calls returns a copy of the accumulated calls in arrival order.
func (a *ToolCallAccumulator) Calls() []domain.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	out := make([]domain.ToolCall, len(a.calls))
	copy(out, a.calls)
	return out
}
