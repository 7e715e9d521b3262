// Package api provides HTTP handlers for the EvoChat API.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/evowork/evochat/internal/chat"
	"github.com/evowork/evochat/internal/domain"
	"github.com/evowork/evochat/internal/store"
)

// Handler provides common handler utilities and dependencies.
type Handler struct {
	repo                store.Repository
	svc                 *chat.Service
	frontendRedirectURL string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, svc *chat.Service, frontendURL string) *Handler {
	return &Handler{
		repo:                repo,
		svc:                 svc,
		frontendRedirectURL: frontendURL,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// isDevelopment returns true if running in development mode.
func (h *Handler) isDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return h.frontendRedirectURL == "" ||
		strings.Contains(h.frontendRedirectURL, "localhost") ||
		strings.Contains(h.frontendRedirectURL, "127.0.0.1")
}

// messageView is the wire shape of one message in the live list. The field
// names match what the web client renders.
type messageView struct {
	ID            string            `json:"id"`
	Sender        domain.Sender     `json:"sender"`
	Text          string            `json:"text"`
	ThinkContent  string            `json:"thinkContent,omitempty"`
	ReplyContent  string            `json:"replyContent,omitempty"`
	IsThinking    bool              `json:"isThinking"`
	IsStreaming   bool              `json:"isStreaming"`
	ThinkDuration int64             `json:"thinkDuration,omitempty"`
	ToolCalls     []domain.ToolCall `json:"toolCalls,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	CreatedAt     *time.Time        `json:"created_at,omitempty"`
	Phase         string            `json:"phase"`
	Error         string            `json:"error,omitempty"`
}

func viewOf(m domain.Message) messageView {
	return messageView{
		ID:            m.ID,
		Sender:        m.Sender,
		Text:          m.RawText,
		ThinkContent:  m.ThinkContent,
		ReplyContent:  m.ReplyContent,
		IsThinking:    m.IsThinking,
		IsStreaming:   m.IsStreaming,
		ThinkDuration: m.ThinkDuration,
		ToolCalls:     m.ToolCalls,
		Timestamp:     m.Timestamp,
		CreatedAt:     m.CreatedAt,
		Phase:         m.Phase.String(),
		Error:         m.Error,
	}
}

func viewsOf(msgs []domain.Message) []messageView {
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, viewOf(m))
	}
	return views
}
