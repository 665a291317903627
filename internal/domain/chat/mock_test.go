package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	messages map[uuid.UUID][]*Message
	clock    time.Time

	// failAppend makes Append fail for messages from that sender;
	// failAppendOnce does so for the next such message only.
	failAppend     map[Sender]error
	failAppendOnce map[Sender]error
	failList       error
}

func newMemStore() *memStore {
	return &memStore{
		sessions:   make(map[uuid.UUID]*Session),
		messages:   make(map[uuid.UUID][]*Message),
		clock:      time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		failAppend:     make(map[Sender]error),
		failAppendOnce: make(map[Sender]error),
	}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.ID = uuid.New()
	sess.CreatedAt = s.tick()
	c := *sess
	s.sessions[sess.ID] = &c
	return nil
}

func (s *memStore) ListByUser(_ context.Context, userID string) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList != nil {
		return nil, s.failList
	}
	var out []*Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			c := *sess
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return a.LastMessageAt.After(*b.LastMessageAt)
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return true
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return false
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out, nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *sess
	return &c, nil
}

func (s *memStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *memStore) Append(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failAppend[m.Sender]; err != nil {
		return err
	}
	if err := s.failAppendOnce[m.Sender]; err != nil {
		delete(s.failAppendOnce, m.Sender)
		return err
	}
	sess, ok := s.sessions[m.SessionID]
	if !ok {
		return ErrNotFound
	}
	m.ID = uuid.New()
	m.CreatedAt = s.tick()
	c := *m
	s.messages[m.SessionID] = append(s.messages[m.SessionID], &c)
	sess.MessageCount++
	t := m.CreatedAt
	sess.LastMessageAt = &t
	return nil
}

func (s *memStore) ListBySession(_ context.Context, id uuid.UUID) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Message, len(s.messages[id]))
	copy(out, s.messages[id])
	return out, nil
}

func (s *memStore) log(id uuid.UUID) []*Message {
	msgs, _ := s.ListBySession(context.Background(), id)
	return msgs
}
