package addresses

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/pkg/db/models"
)

// Repository persists delivery addresses.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, address *models.DeliveryAddress) (*models.DeliveryAddress, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.DeliveryAddress, error)
	FindDefaultByOwner(ctx context.Context, ownerID uuid.UUID) (*models.DeliveryAddress, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.DeliveryAddress, error)
	Update(ctx context.Context, address *models.DeliveryAddress) error
	ClearDefaultForOwner(ctx context.Context, ownerID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a delivery address repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, address *models.DeliveryAddress) (*models.DeliveryAddress, error) {
	if err := r.db.WithContext(ctx).Create(address).Error; err != nil {
		return nil, err
	}
	return address, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.DeliveryAddress, error) {
	var address models.DeliveryAddress
	if err := r.db.WithContext(ctx).First(&address, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &address, nil
}

func (r *repository) FindDefaultByOwner(ctx context.Context, ownerID uuid.UUID) (*models.DeliveryAddress, error) {
	var address models.DeliveryAddress
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND is_default", ownerID).
		First(&address).Error
	if err != nil {
		return nil, err
	}
	return &address, nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.DeliveryAddress, error) {
	var rows []models.DeliveryAddress
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Update(ctx context.Context, address *models.DeliveryAddress) error {
	return r.db.WithContext(ctx).Save(address).Error
}

func (r *repository) ClearDefaultForOwner(ctx context.Context, ownerID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.DeliveryAddress{}).
		Where("owner_id = ? AND is_default", ownerID).
		Update("is_default", false).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.DeliveryAddress{}, "id = ?", id).Error
}
