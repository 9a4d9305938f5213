package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"locker-backend/internal/models"
)

// PolicyRepository access to split policies. Policies are authored elsewhere;
// Create and Save exist for provisioning tools and tests.
type PolicyRepository interface {
	Create(ctx context.Context, policy *models.Policy) error
	Save(ctx context.Context, policy *models.Policy) error
	GetByLockerAndChain(ctx context.Context, lockerID string, chainID int64) (*models.Policy, error)
}

type policyRepository struct {
	db *gorm.DB
}

// NewPolicyRepository creates a new PolicyRepository instance
func NewPolicyRepository(db *gorm.DB) PolicyRepository {
	return &policyRepository{db: db}
}

// Create inserts a policy
func (r *policyRepository) Create(ctx context.Context, policy *models.Policy) error {
	if policy.ID == "" {
		policy.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(policy).Error
}

// Save updates all policy columns
func (r *policyRepository) Save(ctx context.Context, policy *models.Policy) error {
	return r.db.WithContext(ctx).Save(policy).Error
}

// GetByLockerAndChain returns nil, nil when the locker has no policy on the chain
func (r *policyRepository) GetByLockerAndChain(ctx context.Context, lockerID string, chainID int64) (*models.Policy, error) {
	var policy models.Policy
	err := r.db.WithContext(ctx).
		Where("locker_id = ? AND chain_id = ?", lockerID, chainID).
		First(&policy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}
