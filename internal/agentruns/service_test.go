package agentruns

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/pkg/enums"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
)

func setupAgentRunsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS agent_runs (
  id TEXT PRIMARY KEY,
  intent_id TEXT,
  subscription_id TEXT,
  status TEXT NOT NULL DEFAULT 'plan',
  input TEXT,
  output TEXT,
  error_text TEXT,
  session_handle TEXT,
  created_at DATETIME,
  ended_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestService(t *testing.T) Service {
	t.Helper()
	db := setupAgentRunsTestDB(t)
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(db),
		TransactionRunner: testTxRunner{db: db},
	})
	require.NoError(t, err)
	return svc
}

func TestBeginIsIdempotentByRunID(t *testing.T) {
	svc := newTestService(t)
	runID := uuid.New()
	intentID := uuid.New()

	first, err := svc.Begin(context.Background(), BeginInput{RunID: runID, IntentID: &intentID})
	require.NoError(t, err)
	assert.Equal(t, enums.AgentRunStatusPlan, first.Status)

	second, err := svc.Begin(context.Background(), BeginInput{RunID: runID, IntentID: &intentID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	runs, err := svc.ListBySubscription(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestBeginRequiresSubject(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Begin(context.Background(), BeginInput{RunID: uuid.New()})
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}

func TestTransitionForwardOnly(t *testing.T) {
	svc := newTestService(t)
	runID := uuid.New()
	subID := uuid.New()
	_, err := svc.Begin(context.Background(), BeginInput{RunID: runID, SubscriptionID: &subID})
	require.NoError(t, err)

	handle := "sess-123"
	run, err := svc.Transition(context.Background(), TransitionInput{
		RunID:         runID,
		Next:          enums.AgentRunStatusCheckout,
		SessionHandle: &handle,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.AgentRunStatusCheckout, run.Status)
	require.NotNil(t, run.SessionHandle)
	assert.Nil(t, run.EndedAt)

	// plan is behind checkout; moving backwards is a state conflict.
	_, err = svc.Transition(context.Background(), TransitionInput{
		RunID: runID,
		Next:  enums.AgentRunStatusPlan,
	})
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
}

func TestTerminalTransitionSetsEndedAt(t *testing.T) {
	svc := newTestService(t)
	runID := uuid.New()
	subID := uuid.New()
	_, err := svc.Begin(context.Background(), BeginInput{RunID: runID, SubscriptionID: &subID})
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), TransitionInput{RunID: runID, Next: enums.AgentRunStatusCheckout})
	require.NoError(t, err)

	done, err := svc.Transition(context.Background(), TransitionInput{RunID: runID, Next: enums.AgentRunStatusDone})
	require.NoError(t, err)
	require.NotNil(t, done.EndedAt)

	// Terminal runs accept no further transitions.
	_, err = svc.Transition(context.Background(), TransitionInput{RunID: runID, Next: enums.AgentRunStatusDone})
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
}

func TestFailedTransitionRequiresError(t *testing.T) {
	svc := newTestService(t)
	runID := uuid.New()
	subID := uuid.New()
	_, err := svc.Begin(context.Background(), BeginInput{RunID: runID, SubscriptionID: &subID})
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), TransitionInput{RunID: runID, Next: enums.AgentRunStatusFailed})
	require.Error(t, err)

	reason := "merchant page timed out"
	failed, err := svc.Transition(context.Background(), TransitionInput{
		RunID:     runID,
		Next:      enums.AgentRunStatusFailed,
		ErrorText: &reason,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.AgentRunStatusFailed, failed.Status)
	require.NotNil(t, failed.EndedAt)
	require.NotNil(t, failed.ErrorText)
}
