package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"locker-backend/internal/models"
)

// LockerRepository read access to the locker registry
type LockerRepository interface {
	Create(ctx context.Context, locker *models.Locker) error
	GetByID(ctx context.Context, id string) (*models.Locker, error)
	FindByAddress(ctx context.Context, chainID int64, address string) (*models.Locker, error)
}

type lockerRepository struct {
	db *gorm.DB
}

// NewLockerRepository creates a new LockerRepository instance
func NewLockerRepository(db *gorm.DB) LockerRepository {
	return &lockerRepository{db: db}
}

// Create registers a locker; addresses are stored lower-case
func (r *lockerRepository) Create(ctx context.Context, locker *models.Locker) error {
	if locker.ID == "" {
		locker.ID = uuid.New().String()
	}
	locker.Address = strings.ToLower(locker.Address)
	return r.db.WithContext(ctx).Create(locker).Error
}

// GetByID retrieves a locker by ID
func (r *lockerRepository) GetByID(ctx context.Context, id string) (*models.Locker, error) {
	var locker models.Locker
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&locker).Error; err != nil {
		return nil, err
	}
	return &locker, nil
}

// FindByAddress resolves a locker by its on-chain address.
// Returns nil, nil when the address does not belong to a locker.
func (r *lockerRepository) FindByAddress(ctx context.Context, chainID int64, address string) (*models.Locker, error) {
	if address == "" {
		return nil, nil
	}
	var locker models.Locker
	err := r.db.WithContext(ctx).
		Where("chain_id = ? AND address = ?", chainID, strings.ToLower(address)).
		First(&locker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &locker, nil
}
