package chat

import (
	"sort"
	"sync"

	"github.com/evowork/evochat/internal/domain"
)

// LiveStore holds the in-progress message collections, keyed by thread.
// It is the single shared resource between chunk application, finalization,
// and the presentation layer, so every mutation goes through an atomic
// read-modify-write: callbacks always operate on the latest collection
// state, never on a snapshot captured before a suspension point.
//
// The collection for a thread is kept sorted by timestamp after any
// mutation that can affect ordering. Subscribers are notified (coalesced)
// on every change.
type LiveStore struct {
	mu       sync.Mutex
	messages map[string][]domain.Message
	subs     map[string]map[int]chan struct{}
	nextSub  int
}

// NewLiveStore returns an empty live store.
func NewLiveStore() *LiveStore {
	return &LiveStore{
		messages: make(map[string][]domain.Message),
		subs:     make(map[string]map[int]chan struct{}),
	}
}

// Update atomically replaces a thread's message list with fn's result.
// fn receives the current list and may mutate it in place or return a new
// slice. The result is re-sorted by timestamp before it becomes visible.
func (s *LiveStore) Update(threadID string, fn func(msgs []domain.Message) []domain.Message) {
	s.mu.Lock()
	msgs := fn(s.messages[threadID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	s.messages[threadID] = msgs
	s.mu.Unlock()
	s.notify(threadID)
}

// UpdateMessage atomically applies fn to the message with the given id.
// fn returns false to leave the message untouched (the change is then not
// broadcast). Reports whether the message was found and changed.
func (s *LiveStore) UpdateMessage(threadID, messageID string, fn func(m *domain.Message) bool) bool {
	s.mu.Lock()
	changed := false
	msgs := s.messages[threadID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			changed = fn(&msgs[i])
			break
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify(threadID)
	}
	return changed
}

// Append adds a message to a thread's collection.
func (s *LiveStore) Append(threadID string, msg domain.Message) {
	s.Update(threadID, func(msgs []domain.Message) []domain.Message {
		return append(msgs, msg)
	})
}

// Get returns a copy of one message by id.
func (s *LiveStore) Get(threadID, messageID string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[threadID] {
		if m.ID == messageID {
			return m, true
		}
	}
	return domain.Message{}, false
}

// Snapshot returns a copy of a thread's message list.
func (s *LiveStore) Snapshot(threadID string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[threadID]
	if len(msgs) == 0 {
		return nil
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Drop removes all live state for a thread (used when the thread is
// deleted; an in-flight finalization then becomes a no-op).
func (s *LiveStore) Drop(threadID string) {
	s.mu.Lock()
	delete(s.messages, threadID)
	s.mu.Unlock()
	s.notify(threadID)
}

// Seed merges messages loaded from the durable store into a thread's
// collection. Live entries win by id: a turn that started while the load
// round trip was in flight (its placeholder, its user entry) must survive
// the seed, so the merge decision happens inside the atomic update, never
// against a collection observed before the load.
func (s *LiveStore) Seed(threadID string, msgs []domain.Message) {
	s.Update(threadID, func(current []domain.Message) []domain.Message {
		if len(current) == 0 {
			out := make([]domain.Message, len(msgs))
			copy(out, msgs)
			return out
		}
		have := make(map[string]struct{}, len(current))
		for _, m := range current {
			have[m.ID] = struct{}{}
		}
		for _, m := range msgs {
			if _, ok := have[m.ID]; !ok {
				current = append(current, m)
			}
		}
		return current
	})
}

// Subscribe registers for change notifications on a thread. The returned
// channel receives a coalesced signal after every mutation; the cancel
// function must be called to release the subscription.
func (s *LiveStore) Subscribe(threadID string) (<-chan struct{}, func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	if s.subs[threadID] == nil {
		s.subs[threadID] = make(map[int]chan struct{})
	}
	s.subs[threadID][id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if subs, ok := s.subs[threadID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(s.subs, threadID)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *LiveStore) notify(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[threadID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
