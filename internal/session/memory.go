package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pavelanni/examforge/internal/model"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.FeedbackSession
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*model.FeedbackSession)}
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *model.FeedbackSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = clone(sess)
	return nil
}

// GetSession returns a copy of the stored session.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*model.FeedbackSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return clone(sess), nil
}

func (s *MemoryStore) AppendTurns(_ context.Context, id string, turns ...model.ChatTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return &model.UnknownSessionError{ID: id}
	}
	sess.Turns = append(sess.Turns, turns...)
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// DeleteExpiredSessions drops every session expired at now.
func (s *MemoryStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func clone(sess *model.FeedbackSession) *model.FeedbackSession {
	c := *sess
	c.Turns = slices.Clone(sess.Turns)
	if c.Turns == nil {
		c.Turns = []model.ChatTurn{}
	}
	return &c
}
