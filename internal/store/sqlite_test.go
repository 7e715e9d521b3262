package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/evowork/evochat/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return repo
}

func TestThreadLifecycle(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	th, err := repo.CreateThread(ctx, "my first thread")
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if th.ID == "" {
		t.Error("thread must get an id")
	}
	if th.Title != "my first thread" {
		t.Errorf("title = %q", th.Title)
	}

	got, err := repo.GetThread(ctx, th.ID)
	if err != nil {
		t.Fatalf("GetThread() error = %v", err)
	}
	if got.ID != th.ID || got.Title != th.Title {
		t.Errorf("GetThread() = %+v, want %+v", got, th)
	}

	if err := repo.DeleteThread(ctx, th.ID); err != nil {
		t.Fatalf("DeleteThread() error = %v", err)
	}
	if _, err := repo.GetThread(ctx, th.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetThread() after delete error = %v, want ErrNotFound", err)
	}
}

func TestGetThreadNotFound(t *testing.T) {
	repo := newTestStore(t)
	if _, err := repo.GetThread(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDeleteThreadNotFound(t *testing.T) {
	repo := newTestStore(t)
	if err := repo.DeleteThread(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListThreadsOrderedByLastUpdated(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	a, _ := repo.CreateThread(ctx, "a")
	b, _ := repo.CreateThread(ctx, "b")
	c, _ := repo.CreateThread(ctx, "c")

	// Touch in reverse creation order with explicit timestamps.
	base := time.Now()
	if err := repo.TouchThread(ctx, c.ID, base.Add(1*time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := repo.TouchThread(ctx, a.ID, base.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := repo.TouchThread(ctx, b.ID, base.Add(3*time.Second)); err != nil {
		t.Fatal(err)
	}

	threads, err := repo.ListThreads(ctx)
	if err != nil {
		t.Fatalf("ListThreads() error = %v", err)
	}
	if len(threads) != 3 {
		t.Fatalf("expected 3 threads, got %d", len(threads))
	}
	wantOrder := []string{b.ID, a.ID, c.ID}
	for i, want := range wantOrder {
		if threads[i].ID != want {
			t.Errorf("position %d = %s, want %s", i, threads[i].ID, want)
		}
	}
}

func TestTouchThreadNotFound(t *testing.T) {
	repo := newTestStore(t)
	if err := repo.TouchThread(context.Background(), "missing", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCreateMessageAndListBack(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	th, _ := repo.CreateThread(ctx, "chat")
	ts := time.Now().Truncate(time.Millisecond)

	rec, err := repo.CreateMessage(ctx, NewMessage{
		ThreadID:      th.ID,
		UserID:        "local",
		Sender:        domain.SenderAgent,
		Text:          "Hi there!",
		ThinkContent:  "considering",
		ReplyContent:  "Hi there!",
		ThinkDuration: 750,
		ToolCalls: []domain.ToolCall{
			{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Oslo"}`},
		},
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if rec.ID == "" {
		t.Error("record must get a canonical id")
	}

	msgs, err := repo.ListMessages(ctx, th.ID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	m := msgs[0]
	if m.ID != rec.ID {
		t.Errorf("id = %s, want %s", m.ID, rec.ID)
	}
	if !m.Canonical || m.Phase != domain.PhaseCommitted {
		t.Error("stored messages load as canonical and committed")
	}
	if m.Sender != domain.SenderAgent {
		t.Errorf("sender = %v", m.Sender)
	}
	if m.RawText != "Hi there!" || m.ThinkContent != "considering" || m.ReplyContent != "Hi there!" {
		t.Errorf("content round trip failed: %+v", m)
	}
	if m.ThinkDuration != 750 {
		t.Errorf("think duration = %d", m.ThinkDuration)
	}
	if !m.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", m.Timestamp, ts)
	}
	if m.CreatedAt == nil {
		t.Error("created_at must be set")
	}
	if len(m.ToolCalls) != 1 || m.ToolCalls[0].Name != "get_weather" {
		t.Errorf("tool calls = %+v", m.ToolCalls)
	}
}

func TestCreateMessageMissingThread(t *testing.T) {
	repo := newTestStore(t)
	_, err := repo.CreateMessage(context.Background(), NewMessage{
		ThreadID:  "missing",
		UserID:    "local",
		Sender:    domain.SenderUser,
		Text:      "hello",
		Timestamp: time.Now(),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCreateMessageBumpsLastUpdated(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	th, _ := repo.CreateThread(ctx, "chat")
	if err := repo.TouchThread(ctx, th.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	before, _ := repo.GetThread(ctx, th.ID)

	if _, err := repo.CreateMessage(ctx, NewMessage{
		ThreadID:  th.ID,
		UserID:    "local",
		Sender:    domain.SenderUser,
		Text:      "hello",
		Timestamp: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	after, _ := repo.GetThread(ctx, th.ID)
	if !after.LastUpdated.After(before.LastUpdated) {
		t.Errorf("last_updated not bumped: before=%v after=%v", before.LastUpdated, after.LastUpdated)
	}
}

func TestListMessagesOrderedByTimestamp(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	th, _ := repo.CreateThread(ctx, "chat")
	base := time.Now().Truncate(time.Millisecond)

	// Insert out of timestamp order.
	for _, d := range []time.Duration{2 * time.Second, 0, time.Second} {
		if _, err := repo.CreateMessage(ctx, NewMessage{
			ThreadID:  th.ID,
			UserID:    "local",
			Sender:    domain.SenderUser,
			Text:      d.String(),
			Timestamp: base.Add(d),
		}); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := repo.ListMessages(ctx, th.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Errorf("messages out of order at %d: %v before %v", i, msgs[i].Timestamp, msgs[i-1].Timestamp)
		}
	}
}

func TestDeleteThreadCascades(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	th, _ := repo.CreateThread(ctx, "doomed")
	other, _ := repo.CreateThread(ctx, "survivor")

	for _, id := range []string{th.ID, other.ID} {
		if _, err := repo.CreateMessage(ctx, NewMessage{
			ThreadID:  id,
			UserID:    "local",
			Sender:    domain.SenderUser,
			Text:      "hello",
			Timestamp: time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	if err := repo.DeleteThread(ctx, th.ID); err != nil {
		t.Fatalf("DeleteThread() error = %v", err)
	}

	msgs, err := repo.ListMessages(ctx, th.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("deleted thread still has %d messages", len(msgs))
	}

	kept, err := repo.ListMessages(ctx, other.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 1 {
		t.Errorf("other thread lost its messages, got %d", len(kept))
	}
}

func TestEmptyFieldsStoredAsNull(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	th, _ := repo.CreateThread(ctx, "chat")
	if _, err := repo.CreateMessage(ctx, NewMessage{
		ThreadID:  th.ID,
		UserID:    "local",
		Sender:    domain.SenderUser,
		Text:      "just text",
		Timestamp: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	msgs, err := repo.ListMessages(ctx, th.ID)
	if err != nil {
		t.Fatal(err)
	}
	m := msgs[0]
	if m.ThinkContent != "" || m.ReplyContent != "" || m.ToolCalls != nil {
		t.Errorf("empty fields must round-trip empty: %+v", m)
	}
}

func TestPing(t *testing.T) {
	repo := newTestStore(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
