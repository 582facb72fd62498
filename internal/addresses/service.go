package addresses

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/restockhq/restock-backend/internal/agentbrowser"
	"github.com/restockhq/restock-backend/pkg/db/models"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages an owner's delivery addresses.
type Service interface {
	Create(ctx context.Context, ownerID uuid.UUID, input CreateInput) (*models.DeliveryAddress, error)
	Get(ctx context.Context, ownerID, addressID uuid.UUID) (*models.DeliveryAddress, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]models.DeliveryAddress, error)
	SetDefault(ctx context.Context, ownerID, addressID uuid.UUID) (*models.DeliveryAddress, error)
	Delete(ctx context.Context, ownerID, addressID uuid.UUID) error
	ResolveForCheckout(ctx context.Context, ownerID uuid.UUID, addressID *uuid.UUID) (*models.DeliveryAddress, error)
}

// ServiceParams configure the address service.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
}

type service struct {
	repo Repository
	tx   txRunner
}

// NewService builds an address service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("address repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: params.Repo, tx: params.TransactionRunner}, nil
}

// CreateInput is a new delivery address.
type CreateInput struct {
	Line1       string
	Line2       *string
	City        string
	State       string
	PostalCode  string
	Country     string
	MakeDefault bool
}

func (input CreateInput) validate() error {
	if strings.TrimSpace(input.Line1) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "line1 is required")
	}
	if strings.TrimSpace(input.City) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "city is required")
	}
	if strings.TrimSpace(input.PostalCode) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "postal code is required")
	}
	return nil
}

// Create stores the address. The owner's first address becomes the default
// regardless of the flag.
func (s *service) Create(ctx context.Context, ownerID uuid.UUID, input CreateInput) (*models.DeliveryAddress, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	country := strings.ToUpper(strings.TrimSpace(input.Country))
	if country == "" {
		country = "US"
	}

	var created *models.DeliveryAddress
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.ListByOwner(ctx, ownerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list addresses")
		}
		makeDefault := input.MakeDefault || len(existing) == 0
		if makeDefault && len(existing) > 0 {
			if err := repo.ClearDefaultForOwner(ctx, ownerID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear default address")
			}
		}

		address := &models.DeliveryAddress{
			ID:         uuid.New(),
			OwnerID:    ownerID,
			Line1:      strings.TrimSpace(input.Line1),
			Line2:      input.Line2,
			City:       strings.TrimSpace(input.City),
			State:      strings.TrimSpace(input.State),
			PostalCode: strings.TrimSpace(input.PostalCode),
			Country:    country,
			IsDefault:  makeDefault,
		}
		created, err = repo.Create(ctx, address)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create address")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Get(ctx context.Context, ownerID, addressID uuid.UUID) (*models.DeliveryAddress, error) {
	return s.loadOwned(ctx, s.repo, ownerID, addressID)
}

func (s *service) List(ctx context.Context, ownerID uuid.UUID) ([]models.DeliveryAddress, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	rows, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list addresses")
	}
	return rows, nil
}

func (s *service) SetDefault(ctx context.Context, ownerID, addressID uuid.UUID) (*models.DeliveryAddress, error) {
	var updated *models.DeliveryAddress
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		address, err := s.loadOwned(ctx, repo, ownerID, addressID)
		if err != nil {
			return err
		}
		if err := repo.ClearDefaultForOwner(ctx, ownerID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear default address")
		}
		address.IsDefault = true
		if err := repo.Update(ctx, address); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update address")
		}
		updated = address
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) Delete(ctx context.Context, ownerID, addressID uuid.UUID) error {
	address, err := s.loadOwned(ctx, s.repo, ownerID, addressID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, address.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete address")
	}
	return nil
}

// ResolveForCheckout picks the explicit address when given, otherwise the
// owner's default. No address at all is a validation error; checkout cannot
// proceed without one.
func (s *service) ResolveForCheckout(ctx context.Context, ownerID uuid.UUID, addressID *uuid.UUID) (*models.DeliveryAddress, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	if addressID != nil && *addressID != uuid.Nil {
		return s.loadOwned(ctx, s.repo, ownerID, *addressID)
	}
	address, err := s.repo.FindDefaultByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "no delivery address on file")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load default address")
	}
	return address, nil
}

func (s *service) loadOwned(ctx context.Context, repo Repository, ownerID, addressID uuid.UUID) (*models.DeliveryAddress, error) {
	if ownerID == uuid.Nil || addressID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner and address ids required")
	}
	address, err := repo.FindByID(ctx, addressID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "address not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load address")
	}
	if address.OwnerID != ownerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "address not found")
	}
	return address, nil
}

// Wire converts a stored address into the browsing capability's wire shape.
func Wire(address *models.DeliveryAddress) *agentbrowser.Address {
	if address == nil {
		return nil
	}
	wire := &agentbrowser.Address{
		Line1:      address.Line1,
		City:       address.City,
		State:      address.State,
		PostalCode: address.PostalCode,
		Country:    address.Country,
	}
	if address.Line2 != nil {
		wire.Line2 = *address.Line2
	}
	return wire
}
