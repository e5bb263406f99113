// Package session manages conversational feedback sessions built on one
// teacher-vs-student script comparison.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examforge/internal/i18n"
	"github.com/pavelanni/examforge/internal/model"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

// Store persists feedback sessions. GetSession returns nil, nil for an
// unknown id.
type Store interface {
	CreateSession(ctx context.Context, s *model.FeedbackSession) error
	GetSession(ctx context.Context, id string) (*model.FeedbackSession, error)
	AppendTurns(ctx context.Context, id string, turns ...model.ChatTurn) error
	DeleteSession(ctx context.Context, id string) error
}

// Sweeper is implemented by stores that must remove expired sessions
// themselves.
type Sweeper interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Chatter is the conversational collaborator.
type Chatter interface {
	// Compare returns feedback on a student's script against the teacher's.
	Compare(ctx context.Context, teacherScript, studentScript string) (string, error)
	// Reply answers a follow-up message given the session so far.
	Reply(ctx context.Context, s *model.FeedbackSession, message string) (string, error)
}

var exitWords = map[string]bool{
	"exit": true,
	"quit": true,
	"bye":  true,
	"end":  true,
	"stop": true,
}

// IsExitWord reports whether msg asks to end the conversation.
func IsExitWord(msg string) bool {
	return exitWords[strings.ToLower(strings.TrimSpace(msg))]
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the session lifetime. Zero disables expiry.
func WithTTL(ttl time.Duration) Option { return func(m *Manager) { m.ttl = ttl } }

// WithClock overrides the manager's time source.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Manager creates sessions and serializes chat turns per session.
type Manager struct {
	store Store
	chat  Chatter
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// NewManager creates a Manager over store and chat.
func NewManager(store Store, chat Chatter, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		chat:  chat,
		ttl:   DefaultTTL,
		now:   time.Now,
		locks: make(map[string]*sessionLock),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// lock acquires the per-session mutex for id and returns its release
// function. Entries are dropped once nobody holds or waits on them.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// Start compares the two scripts and opens a session around the feedback.
func (m *Manager) Start(ctx context.Context, teacherScript, studentScript string) (*model.FeedbackSession, error) {
	if strings.TrimSpace(teacherScript) == "" {
		return nil, &model.InvalidConfigError{Field: "teacher_script", Reason: "must not be empty"}
	}
	if strings.TrimSpace(studentScript) == "" {
		return nil, &model.InvalidConfigError{Field: "student_script", Reason: "must not be empty"}
	}

	feedback, err := m.chat.Compare(ctx, teacherScript, studentScript)
	if err != nil {
		return nil, externalErr("compare scripts", err)
	}

	now := m.now()
	s := &model.FeedbackSession{
		ID:             uuid.NewString(),
		OriginFeedback: feedback,
		TeacherScript:  teacherScript,
		StudentScript:  studentScript,
		Turns:          []model.ChatTurn{},
		CreatedAt:      now,
	}
	if m.ttl > 0 {
		s.ExpiresAt = now.Add(m.ttl)
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}
	slog.Info("feedback session started", "session_id", s.ID)
	return s, nil
}

// Get returns a live session or an *model.UnknownSessionError.
func (m *Manager) Get(ctx context.Context, id string) (*model.FeedbackSession, error) {
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil || s.Expired(m.now()) {
		return nil, &model.UnknownSessionError{ID: id}
	}
	return s, nil
}

// Ask sends message to the collaborator and records the exchange. An
// unknown or expired id leaves the store untouched. The user and assistant
// turns are appended together only after a successful reply. Exit words
// close the session instead.
func (m *Manager) Ask(ctx context.Context, id, message string) (string, error) {
	unlock := m.lock(id)
	defer unlock()

	s, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}

	if IsExitWord(message) {
		if err := m.store.DeleteSession(ctx, id); err != nil {
			return "", err
		}
		slog.Info("feedback session closed by user", "session_id", id)
		return i18n.T(ctx, "SessionClosed"), nil
	}

	reply, err := m.chat.Reply(ctx, s, message)
	if err != nil {
		return "", externalErr("reply", err)
	}

	now := m.now()
	err = m.store.AppendTurns(ctx, id,
		model.ChatTurn{Role: model.RoleUser, Text: message, At: now},
		model.ChatTurn{Role: model.RoleAssistant, Text: reply, At: now},
	)
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Close ends a session explicitly.
func (m *Manager) Close(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()

	if _, err := m.Get(ctx, id); err != nil {
		return err
	}
	return m.store.DeleteSession(ctx, id)
}

// Sweep removes expired sessions from stores that do not expire them on
// their own.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	sw, ok := m.store.(Sweeper)
	if !ok {
		return 0, nil
	}
	return sw.DeleteExpiredSessions(ctx, m.now())
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if _, ok := m.store.(Sweeper); !ok || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				slog.Error("sweep expired sessions", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("swept expired sessions", "count", n)
			}
		}
	}
}

func externalErr(op string, err error) error {
	var extErr *model.ExternalServiceError
	if errors.As(err, &extErr) {
		return err
	}
	return &model.ExternalServiceError{Service: "chat", Op: op, Err: err}
}
