package agentbrowser

import (
	"context"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
	"github.com/restockhq/restock-backend/pkg/logger"
)

// SessionManager bounds how many browser sessions run at once and tracks
// their lifetimes. A session released with keepOpen stays usable for a human
// to finish a halted checkout; the reaper closes it once the TTL passes.
type SessionManager struct {
	capability Capability
	logg       *logger.Logger
	ttl        time.Duration
	slots      chan struct{}

	mu   sync.Mutex
	open map[string]time.Time
}

// SessionManagerParams configure the session manager.
type SessionManagerParams struct {
	Capability  Capability
	Logger      *logger.Logger
	SessionTTL  time.Duration
	MaxSessions int
}

// NewSessionManager builds a session manager.
func NewSessionManager(params SessionManagerParams) (*SessionManager, error) {
	if params.Capability == nil {
		return nil, fmt.Errorf("browsing capability required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	maxSessions := params.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 4
	}
	return &SessionManager{
		capability: params.Capability,
		logg:       params.Logger,
		ttl:        ttl,
		slots:      make(chan struct{}, maxSessions),
		open:       map[string]time.Time{},
	}, nil
}

// ReleaseFunc returns a session. keepOpen leaves the remote session alive for
// manual completion; otherwise it is closed immediately.
type ReleaseFunc func(ctx context.Context, keepOpen bool)

// Acquire opens a session once a slot is free, or fails when the context
// expires first.
func (m *SessionManager) Acquire(ctx context.Context) (Session, ReleaseFunc, error) {
	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return Session{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "waiting for browser session slot")
	}

	session, err := m.capability.OpenSession(ctx)
	if err != nil {
		<-m.slots
		return Session{}, nil, err
	}
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = time.Now().UTC().Add(m.ttl)
	}

	m.mu.Lock()
	m.open[session.Handle] = session.ExpiresAt
	m.mu.Unlock()

	var once sync.Once
	release := func(ctx context.Context, keepOpen bool) {
		once.Do(func() {
			defer func() { <-m.slots }()
			if keepOpen {
				return
			}
			m.forget(session.Handle)
			if err := m.capability.CloseSession(ctx, session.Handle); err != nil {
				m.logg.Error(ctx, "failed to close browser session", err)
			}
		})
	}
	return session, release, nil
}

// ReapExpired closes sessions whose TTL has lapsed. Sessions kept open for
// manual completion are swept here once their window ends.
func (m *SessionManager) ReapExpired(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	var expired []string
	for handle, deadline := range m.open {
		if now.After(deadline) {
			expired = append(expired, handle)
		}
	}
	for _, handle := range expired {
		delete(m.open, handle)
	}
	m.mu.Unlock()

	closed := 0
	for _, handle := range expired {
		if err := m.capability.CloseSession(ctx, handle); err != nil {
			m.logg.Error(ctx, "failed to close expired browser session", err)
			continue
		}
		closed++
	}
	return closed
}

// OpenCount reports how many sessions the manager is tracking.
func (m *SessionManager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

func (m *SessionManager) forget(handle string) {
	m.mu.Lock()
	delete(m.open, handle)
	m.mu.Unlock()
}
