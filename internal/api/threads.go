package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/evowork/evochat/internal/store"
)

// maxRequestBodySize bounds JSON request bodies (1MB).
const maxRequestBodySize = 1 << 20

// RegisterRoutes registers the thread, message and chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/threads", h.HandleListThreads)
		r.Post("/threads", h.HandleCreateThread)
		r.Route("/threads/{threadID}", func(r chi.Router) {
			r.Get("/", h.HandleGetThread)
			r.Delete("/", h.HandleDeleteThread)
			r.Get("/events", h.HandleEvents)
			r.Get("/activity", h.HandleActivity)
		})
		r.Get("/messages", h.HandleListMessages)
		r.Post("/chat", h.HandleChat)
	})
}

// HandleListThreads handles GET /api/threads.
func (h *Handler) HandleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.repo.ListThreads(r.Context())
	if err != nil {
		slog.Error("failed to list threads", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	JSON(w, http.StatusOK, threads)
}

// HandleCreateThread handles POST /api/threads.
func (h *Handler) HandleCreateThread(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}

	thread, err := h.repo.CreateThread(r.Context(), title)
	if err != nil {
		slog.Error("failed to create thread", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create thread")
		return
	}
	slog.Info("thread created", "thread_id", thread.ID, "title", thread.Title)
	JSON(w, http.StatusCreated, thread)
}

// HandleGetThread handles GET /api/threads/{threadID}.
func (h *Handler) HandleGetThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	thread, err := h.repo.GetThread(r.Context(), threadID)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		slog.Error("failed to get thread", "thread_id", threadID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get thread")
		return
	}
	JSON(w, http.StatusOK, thread)
}

// HandleDeleteThread handles DELETE /api/threads/{threadID}. The delete
// cascades to the thread's messages and discards live streaming state; a
// finalization racing this delete finds its message gone and no-ops.
func (h *Handler) HandleDeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	err := h.repo.DeleteThread(r.Context(), threadID)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		slog.Error("failed to delete thread", "thread_id", threadID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete thread")
		return
	}

	h.svc.DropThread(threadID)
	slog.Info("thread deleted", "thread_id", threadID)
	JSON(w, http.StatusOK, map[string]string{"message": "thread and associated messages deleted"})
}

// HandleListMessages handles GET /api/messages?threadId=.
func (h *Handler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("threadId")
	if threadID == "" {
		Error(w, http.StatusBadRequest, "threadId is required")
		return
	}

	if _, err := h.repo.GetThread(r.Context(), threadID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "thread not found")
			return
		}
		slog.Error("failed to get thread", "thread_id", threadID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get thread")
		return
	}

	messages, err := h.repo.ListMessages(r.Context(), threadID)
	if err != nil {
		slog.Error("failed to list messages", "thread_id", threadID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, viewOf(*m))
	}
	JSON(w, http.StatusOK, views)
}

// HandleActivity handles GET /api/threads/{threadID}/activity.
func (h *Handler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	JSON(w, http.StatusOK, h.svc.Activity().Snapshot(threadID))
}
