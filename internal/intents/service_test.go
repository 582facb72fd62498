package intents

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/pkg/enums"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
)

func setupIntentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS subscription_intents (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  title TEXT NOT NULL,
  product_ref TEXT NOT NULL,
  cadence_days INTEGER NOT NULL,
  price_cap_cents INTEGER,
  constraints TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  last_error TEXT,
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
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

type stubDerivedCanceler struct {
	calls    int
	intentID uuid.UUID
}

func (s *stubDerivedCanceler) CancelAllForIntent(_ context.Context, _ *gorm.DB, intentID uuid.UUID, _ time.Time) (int64, error) {
	s.calls++
	s.intentID = intentID
	return 1, nil
}

func newTestService(t *testing.T) (Service, *stubDerivedCanceler, *gorm.DB) {
	t.Helper()
	db := setupIntentsTestDB(t)
	derived := &stubDerivedCanceler{}
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(db),
		Derived:           derived,
		TransactionRunner: testTxRunner{db: db},
	})
	require.NoError(t, err)
	return svc, derived, db
}

func TestCreateIntent(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := uuid.New()
	priceCap := int64(2500)

	intent, err := svc.Create(context.Background(), CreateInput{
		OwnerID:       owner,
		Title:         "Coffee beans",
		ProductRef:    "https://example.com/p/beans",
		CadenceDays:   14,
		PriceCapCents: &priceCap,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusActive, intent.Status)
	assert.Equal(t, owner, intent.OwnerID)
	assert.NotEqual(t, uuid.Nil, intent.ID)

	got, err := svc.Get(context.Background(), owner, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Coffee beans", got.Title)
	require.NotNil(t, got.PriceCapCents)
	assert.Equal(t, int64(2500), *got.PriceCapCents)
}

func TestCreateIntentValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := uuid.New()

	cases := []struct {
		name  string
		input CreateInput
	}{
		{"missing title", CreateInput{OwnerID: owner, ProductRef: "ref", CadenceDays: 7}},
		{"missing product ref", CreateInput{OwnerID: owner, Title: "x", CadenceDays: 7}},
		{"zero cadence", CreateInput{OwnerID: owner, Title: "x", ProductRef: "ref"}},
		{"negative cadence", CreateInput{OwnerID: owner, Title: "x", ProductRef: "ref", CadenceDays: -3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.input)
			require.Error(t, err)
			appErr := pkgerrors.As(err)
			require.NotNil(t, appErr)
			assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
		})
	}
}

func TestGetIntentScopedToOwner(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := uuid.New()
	intent, err := svc.Create(context.Background(), CreateInput{
		OwnerID: owner, Title: "Soap", ProductRef: "ref", CadenceDays: 30,
	})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), uuid.New(), intent.ID)
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeNotFound, appErr.Code())
}

func TestPauseAndResumeIntent(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := uuid.New()
	intent, err := svc.Create(context.Background(), CreateInput{
		OwnerID: owner, Title: "Soap", ProductRef: "ref", CadenceDays: 30,
	})
	require.NoError(t, err)

	paused, err := svc.Pause(context.Background(), owner, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusPaused, paused.Status)

	resumed, err := svc.Resume(context.Background(), owner, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusActive, resumed.Status)
}

func TestCancelIntentCascades(t *testing.T) {
	svc, derived, _ := newTestService(t)
	owner := uuid.New()
	intent, err := svc.Create(context.Background(), CreateInput{
		OwnerID: owner, Title: "Soap", ProductRef: "ref", CadenceDays: 30,
	})
	require.NoError(t, err)

	canceled, err := svc.Cancel(context.Background(), owner, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)
	assert.Equal(t, 1, derived.calls)
	assert.Equal(t, intent.ID, derived.intentID)

	// Cancel is terminal: repeated calls are a no-op, the cascade does not
	// run again.
	again, err := svc.Cancel(context.Background(), owner, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusCanceled, again.Status)
	assert.Equal(t, 1, derived.calls)

	_, err = svc.Pause(context.Background(), owner, intent.ID)
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
}

func TestMarkErrorAndResumeClears(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := uuid.New()
	intent, err := svc.Create(context.Background(), CreateInput{
		OwnerID: owner, Title: "Soap", ProductRef: "ref", CadenceDays: 30,
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkError(context.Background(), intent.ID, "merchant rejected card"))

	got, err := svc.Get(context.Background(), owner, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusError, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "merchant rejected card", *got.LastError)

	resumed, err := svc.Resume(context.Background(), owner, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusActive, resumed.Status)
	assert.Nil(t, resumed.LastError)
}

func TestUpdateIntent(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := uuid.New()
	priceCap := int64(1000)
	intent, err := svc.Create(context.Background(), CreateInput{
		OwnerID: owner, Title: "Soap", ProductRef: "ref", CadenceDays: 30, PriceCapCents: &priceCap,
	})
	require.NoError(t, err)

	newTitle := "Hand soap"
	newCadence := 21
	updated, err := svc.Update(context.Background(), UpdateInput{
		OwnerID:     owner,
		IntentID:    intent.ID,
		Title:       &newTitle,
		CadenceDays: &newCadence,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hand soap", updated.Title)
	assert.Equal(t, 21, updated.CadenceDays)
	require.NotNil(t, updated.PriceCapCents)

	cleared, err := svc.Update(context.Background(), UpdateInput{
		OwnerID:       owner,
		IntentID:      intent.ID,
		ClearPriceCap: true,
	})
	require.NoError(t, err)
	assert.Nil(t, cleared.PriceCapCents)
}
