package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/evowork/evochat/internal/chat"
	"github.com/evowork/evochat/internal/domain"
	"github.com/evowork/evochat/internal/store"
)

// cannedStreamer yields a fixed response for every turn.
type cannedStreamer struct {
	chunks []string
}

func (s *cannedStreamer) Stream(context.Context, []domain.Message) iter.Seq2[*chat.StreamUnit, error] {
	return func(yield func(*chat.StreamUnit, error) bool) {
		for _, c := range s.chunks {
			if !yield(&chat.StreamUnit{Text: c}, nil) {
				return
			}
		}
	}
}

func newTestRouter(t *testing.T, chunks ...string) (chi.Router, store.Repository) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	if len(chunks) == 0 {
		chunks = []string{"<think>considering</think>", "Hi there!"}
	}
	svc := chat.NewService(repo, &cannedStreamer{chunks: chunks}, "local")
	h := NewHandler(repo, svc, "")

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r, repo
}

func createThread(t *testing.T, r chi.Router, title string) domain.Thread {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"title": title})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/threads", bytes.NewReader(body)))
	if w.Code != http.StatusCreated {
		t.Fatalf("create thread status = %d, body = %s", w.Code, w.Body.String())
	}
	var th domain.Thread
	if err := json.NewDecoder(w.Body).Decode(&th); err != nil {
		t.Fatal(err)
	}
	return th
}

func TestCreateThreadValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"title":"my thread"}`, http.StatusCreated},
		{"whitespace title", `{"title":"   "}`, http.StatusBadRequest},
		{"missing title", `{}`, http.StatusBadRequest},
		{"malformed json", `{"title":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/threads", strings.NewReader(tt.body))
			r.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body: %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestListThreads(t *testing.T) {
	r, _ := newTestRouter(t)
	createThread(t, r, "first")
	createThread(t, r, "second")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var threads []domain.Thread
	if err := json.NewDecoder(w.Body).Decode(&threads); err != nil {
		t.Fatal(err)
	}
	if len(threads) != 2 {
		t.Errorf("expected 2 threads, got %d", len(threads))
	}
}

func TestGetThread(t *testing.T) {
	r, _ := newTestRouter(t)
	th := createThread(t, r, "lookup me")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads/"+th.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var got domain.Thread
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != th.ID || got.Title != "lookup me" {
		t.Errorf("got %+v", got)
	}
}

func TestGetThreadNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDeleteThread(t *testing.T) {
	r, repo := newTestRouter(t)
	th := createThread(t, r, "doomed")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/threads/"+th.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	if _, err := repo.GetThread(context.Background(), th.ID); err == nil {
		t.Error("thread must be gone after delete")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/threads/"+th.ID, nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestListMessagesValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing threadId status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/messages?threadId=missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown thread status = %d, want 404", w.Code)
	}
}

func TestChatValidation(t *testing.T) {
	r, _ := newTestRouter(t)
	th := createThread(t, r, "chat")

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"missing message", fmt.Sprintf(`{"thread_id":%q}`, th.ID), http.StatusBadRequest},
		{"unknown thread", `{"thread_id":"nope","message":"hi"}`, http.StatusNotFound},
		{"empty message", fmt.Sprintf(`{"thread_id":%q,"message":"  "}`, th.ID), http.StatusBadRequest},
		{"malformed body", `not json`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body))
			r.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body: %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

// One full turn over SSE: the stream must end with a done event carrying
// the canonical message id, and both turns must be durable afterwards.
func TestChatTurnOverSSE(t *testing.T) {
	r, repo := newTestRouter(t)
	th := createThread(t, r, "greetings")

	body, _ := json.Marshal(map[string]string{"thread_id": th.ID, "message": "hello"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	out := w.Body.String()
	if !strings.Contains(out, "event: done") {
		t.Fatalf("missing done event in stream:\n%s", out)
	}

	// Pull the canonical id out of the done event payload.
	var messageID string
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "data: ") || !strings.Contains(line, "message_id") {
			continue
		}
		var payload map[string]string
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload); err == nil {
			messageID = payload["message_id"]
		}
	}
	if messageID == "" {
		t.Fatal("done event must carry the canonical message id")
	}

	msgs, err := repo.ListMessages(context.Background(), th.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user + agent messages durable, got %d", len(msgs))
	}
	agent := msgs[1]
	if agent.ID != messageID {
		t.Errorf("durable agent id = %s, done event said %s", agent.ID, messageID)
	}
	if agent.ThinkContent != "considering" || agent.ReplyContent != "Hi there!" {
		t.Errorf("agent content = %+v", agent)
	}
}

func TestActivityEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	th := createThread(t, r, "activity")

	body, _ := json.Marshal(map[string]string{"thread_id": th.ID, "message": "hello"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatal("chat turn failed")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads/"+th.ID+"/activity", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var entries []domain.ActivityEntry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Error("expected activity entries after a turn")
	}
}
