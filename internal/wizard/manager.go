package wizard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"taskbot/internal/metrics"
)

// Key identifies one conversation: a user in a chat.
type Key struct {
	UserID string
	ChatID string
}

// Actor is the user driving a conversation.
type Actor struct {
	UserID   string
	UserName string
	ChatID   string
}

func (a Actor) Key() Key {
	return Key{UserID: a.UserID, ChatID: a.ChatID}
}

// Submission is a finished draft handed to the Submitter.
type Submission struct {
	Actor Actor
	Draft Draft
}

// Submitter persists a finished draft.
type Submitter interface {
	Submit(ctx context.Context, sub Submission) error
}

type session struct {
	mu      sync.Mutex
	conv    *Conversation
	touched time.Time
	gone    atomic.Bool
}

// Manager keeps one Conversation per Key. Inputs for the same key are
// handled one at a time; different keys do not block each other.
type Manager struct {
	submitter   Submitter
	idleTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	sessions map[Key]*session
}

// NewManager returns a manager. An idleTimeout of zero keeps drafts forever.
func NewManager(submitter Submitter, idleTimeout time.Duration) *Manager {
	return &Manager{
		submitter:   submitter,
		idleTimeout: idleTimeout,
		now:         time.Now,
		sessions:    make(map[Key]*session),
	}
}

// Begin starts a new draft for the actor, dropping any draft in progress.
func (m *Manager) Begin(actor Actor) Reply {
	key := actor.Key()
	s := &session{conv: NewConversation()}

	m.mu.Lock()
	if old, ok := m.sessions[key]; ok {
		old.gone.Store(true)
	}
	s.touched = m.now()
	m.sessions[key] = s
	m.mu.Unlock()

	return Reply{State: StateTitle}
}

// Active reports whether the key has a draft in progress.
func (m *Manager) Active(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	return ok
}

// Len returns the number of drafts in progress.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Handle feeds an input to the actor's conversation. ok is false when there
// is no conversation for the actor. Reaching StateDone submits the draft; if
// that fails the conversation goes back to the photo step and the error is
// returned.
func (m *Manager) Handle(ctx context.Context, actor Actor, in Input) (reply Reply, ok bool, err error) {
	s := m.acquire(actor.Key())
	if s == nil {
		return Reply{}, false, nil
	}
	defer s.mu.Unlock()

	before := *s.conv
	reply = s.conv.Advance(in)
	if reply.Err != nil {
		metrics.WizardSteps.WithLabelValues(before.state.String(), "invalid").Inc()
		return reply, true, nil
	}
	if reply.State != StateDone {
		metrics.WizardSteps.WithLabelValues(before.state.String(), "advanced").Inc()
		return reply, true, nil
	}

	if err := m.submitter.Submit(ctx, Submission{Actor: actor, Draft: s.conv.Draft()}); err != nil {
		*s.conv = before
		metrics.WizardSteps.WithLabelValues(before.state.String(), "failed").Inc()
		return Reply{State: before.state}, true, fmt.Errorf("submit draft: %w", err)
	}

	metrics.WizardSteps.WithLabelValues(before.state.String(), "submitted").Inc()
	m.release(actor.Key(), s)
	return reply, true, nil
}

// Cancel abandons the actor's draft. ok is false when there was none.
func (m *Manager) Cancel(actor Actor) (Reply, bool) {
	s := m.acquire(actor.Key())
	if s == nil {
		return Reply{}, false
	}
	defer s.mu.Unlock()

	reply := s.conv.Cancel()
	m.release(actor.Key(), s)
	return reply, true
}

// Sweep drops drafts untouched for longer than the idle timeout and returns
// how many were dropped.
func (m *Manager) Sweep() int {
	if m.idleTimeout <= 0 {
		return 0
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for key, s := range m.sessions {
		if now.Sub(s.touched) > m.idleTimeout {
			s.gone.Store(true)
			delete(m.sessions, key)
			evicted++
		}
	}
	metrics.WizardEvictions.Add(float64(evicted))
	return evicted
}

// Run sweeps idle drafts every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.idleTimeout <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// acquire returns the locked session for key, or nil.
func (m *Manager) acquire(key Key) *session {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		s.touched = m.now()
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	if s.gone.Load() {
		// Replaced by Begin or evicted while we waited.
		s.mu.Unlock()
		return nil
	}
	return s
}

func (m *Manager) release(key Key, s *session) {
	s.gone.Store(true)
	m.mu.Lock()
	if m.sessions[key] == s {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
}
