package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/evowork/evochat/internal/store"
)

// chatRequest is the body of POST /api/chat.
type chatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

type turnResult struct {
	messageID string
	err       error
}

// HandleChat handles POST /api/chat: it runs one agent turn and streams
// live message-list snapshots to the client as SSE events until the turn
// finalizes.
//
// The turn itself runs on the request context, so a client navigating away
// mid-stream aborts the model read loop; the content received up to that
// point is still finalized and persisted (the coordinator's write is
// detached from request cancellation).
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.ThreadID == "" {
		Error(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	if _, err := h.repo.GetThread(r.Context(), req.ThreadID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "thread not found")
			return
		}
		slog.Error("failed to get thread", "thread_id", req.ThreadID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get thread")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	slog.Info("chat turn started", "thread_id", req.ThreadID, "message_length", len(req.Message))

	notify, cancel := h.svc.Live().Subscribe(req.ThreadID)
	defer cancel()

	done := make(chan turnResult, 1)
	go func() {
		id, err := h.svc.Send(r.Context(), req.ThreadID, req.Message)
		done <- turnResult{messageID: id, err: err}
	}()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("chat client disconnected mid-stream", "thread_id", req.ThreadID)
			return

		case <-notify:
			if err := h.writeSnapshot(w, req.ThreadID); err != nil {
				slog.Warn("failed to write snapshot event", "error", err)
				return
			}
			flusher.Flush()

		case res := <-done:
			if res.err != nil {
				slog.Error("chat turn failed", "thread_id", req.ThreadID, "error", res.err)
				if err := writeSSE(w, "error", `{"error":"failed to process message"}`); err != nil {
					slog.Warn("failed to write SSE error event", "error", err)
				}
				flusher.Flush()
				return
			}
			if err := h.writeSnapshot(w, req.ThreadID); err != nil {
				slog.Warn("failed to write final snapshot", "error", err)
				return
			}
			data, _ := json.Marshal(map[string]string{"message_id": res.messageID})
			if err := writeSSE(w, "done", string(data)); err != nil {
				slog.Warn("failed to write SSE done event", "error", err)
			}
			flusher.Flush()
			return
		}
	}
}

func (h *Handler) writeSnapshot(w io.Writer, threadID string) error {
	views := viewsOf(h.svc.Live().Snapshot(threadID))
	data, err := json.Marshal(views)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return writeSSE(w, "snapshot", string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
