package intents

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/pkg/db/models"
)

// Repository persists subscription intents.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, intent *models.SubscriptionIntent) (*models.SubscriptionIntent, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionIntent, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.SubscriptionIntent, error)
	Update(ctx context.Context, intent *models.SubscriptionIntent) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an intents repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, intent *models.SubscriptionIntent) (*models.SubscriptionIntent, error) {
	if err := r.db.WithContext(ctx).Create(intent).Error; err != nil {
		return nil, err
	}
	return intent, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionIntent, error) {
	var intent models.SubscriptionIntent
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.SubscriptionIntent, error) {
	var intents []models.SubscriptionIntent
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repository) Update(ctx context.Context, intent *models.SubscriptionIntent) error {
	return r.db.WithContext(ctx).Save(intent).Error
}
