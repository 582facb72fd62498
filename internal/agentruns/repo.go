package agentruns

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/restockhq/restock-backend/pkg/db/models"
)

// Repository persists agent runs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, run *models.AgentRun) (*models.AgentRun, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.AgentRun, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.AgentRun, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.AgentRun, error)
	Update(ctx context.Context, run *models.AgentRun) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an agent run repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, run *models.AgentRun) (*models.AgentRun, error) {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.AgentRun, error) {
	var run models.AgentRun
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.AgentRun, error) {
	var run models.AgentRun
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("id = ?", id).
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.AgentRun, error) {
	var runs []models.AgentRun
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *repository) Update(ctx context.Context, run *models.AgentRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}
