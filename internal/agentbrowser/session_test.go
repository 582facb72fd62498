package agentbrowser

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restockhq/restock-backend/pkg/logger"
)

type stubCapability struct {
	mu      sync.Mutex
	opened  int
	closed  []string
	openErr error
}

func (s *stubCapability) OpenSession(_ context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return Session{}, s.openErr
	}
	s.opened++
	return Session{Handle: "sess-" + time.Now().Format("150405.000000000")}, nil
}

func (s *stubCapability) ExecuteCheckout(_ context.Context, _ string, _ CheckoutRequest) (CheckoutResult, error) {
	return CheckoutResult{}, nil
}

func (s *stubCapability) CloseSession(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, handle)
	return nil
}

func newTestManager(t *testing.T, capability Capability, maxSessions int, ttl time.Duration) *SessionManager {
	t.Helper()
	manager, err := NewSessionManager(SessionManagerParams{
		Capability:  capability,
		Logger:      logger.New(logger.Options{Output: io.Discard}),
		SessionTTL:  ttl,
		MaxSessions: maxSessions,
	})
	require.NoError(t, err)
	return manager
}

func TestAcquireAndRelease(t *testing.T) {
	capability := &stubCapability{}
	manager := newTestManager(t, capability, 2, time.Minute)

	session, release, err := manager.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, session.Handle)
	assert.Equal(t, 1, manager.OpenCount())

	release(context.Background(), false)
	assert.Equal(t, 0, manager.OpenCount())
	assert.Equal(t, []string{session.Handle}, capability.closed)

	// Double release is a no-op.
	release(context.Background(), false)
	assert.Len(t, capability.closed, 1)
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	capability := &stubCapability{}
	manager := newTestManager(t, capability, 1, time.Minute)

	_, release, err := manager.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = manager.Acquire(ctx)
	require.Error(t, err)

	release(context.Background(), false)

	_, release2, err := manager.Acquire(context.Background())
	require.NoError(t, err)
	release2(context.Background(), false)
}

func TestKeepOpenSurvivesReleaseUntilReaped(t *testing.T) {
	capability := &stubCapability{}
	manager := newTestManager(t, capability, 1, time.Minute)

	session, release, err := manager.Acquire(context.Background())
	require.NoError(t, err)

	// Halted checkout: the slot frees up but the remote session stays
	// alive for a human to finish.
	release(context.Background(), true)
	assert.Equal(t, 1, manager.OpenCount())
	assert.Empty(t, capability.closed)

	closed := manager.ReapExpired(context.Background(), time.Now().Add(2*time.Hour))
	assert.Equal(t, 1, closed)
	assert.Equal(t, 0, manager.OpenCount())
	assert.Equal(t, []string{session.Handle}, capability.closed)
}

func TestReapSkipsUnexpired(t *testing.T) {
	capability := &stubCapability{}
	manager := newTestManager(t, capability, 2, time.Hour)

	_, release, err := manager.Acquire(context.Background())
	require.NoError(t, err)
	release(context.Background(), true)

	closed := manager.ReapExpired(context.Background(), time.Now())
	assert.Equal(t, 0, closed)
	assert.Equal(t, 1, manager.OpenCount())
}
