package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// HandleEvents handles GET /api/threads/{threadID}/events: a WebSocket
// feed of live message-list snapshots, pushed on every change. This is the
// subscription-style update used by clients that keep a thread open while
// a turn streams elsewhere (or in another tab).
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	opts := &websocket.AcceptOptions{}
	if h.isDevelopment() {
		opts.OriginPatterns = []string{"*"}
	} else if h.frontendRedirectURL != "" {
		opts.OriginPatterns = []string{h.frontendRedirectURL}
	}

	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("failed to accept websocket", "thread_id", threadID, "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed closed"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.svc.EnsureLoaded(ctx, threadID); err != nil {
		slog.Warn("failed to load thread for event feed", "thread_id", threadID, "error", err)
	}

	notify, unsubscribe := h.svc.Live().Subscribe(threadID)
	defer unsubscribe()

	slog.Info("event feed connected", "thread_id", threadID)

	// Initial snapshot so the client renders current state immediately.
	if err := h.writeSnapshotWS(ctx, ws, threadID); err != nil {
		slog.Debug("failed to write initial snapshot", "thread_id", threadID, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("event feed disconnected", "thread_id", threadID)
			return
		case <-notify:
			if err := h.writeSnapshotWS(ctx, ws, threadID); err != nil {
				if websocket.CloseStatus(err) == -1 {
					slog.Debug("failed to write snapshot", "thread_id", threadID, "error", err)
				}
				return
			}
		}
	}
}

func (h *Handler) writeSnapshotWS(ctx context.Context, ws *websocket.Conn, threadID string) error {
	views := viewsOf(h.svc.Live().Snapshot(threadID))
	data, err := json.Marshal(map[string]interface{}{
		"type":     "snapshot",
		"messages": views,
	})
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
