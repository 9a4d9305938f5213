// Package repository provides data access interfaces and implementations
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"locker-backend/internal/models"
)

// ErrUpsertConflict the unique (chain_id, tx_hash) check raced twice; the caller should retry
var ErrUpsertConflict = errors.New("token transfer upsert lost a uniqueness race")

// TransferRepository defines the interface for TokenTransfer ledger access
type TransferRepository interface {
	// Write paths
	Upsert(ctx context.Context, transfer *models.TokenTransfer) (*models.TokenTransfer, bool, error)
	MarkAutomationStarted(ctx context.Context, id string) (bool, error)

	// Lookups
	GetByID(ctx context.Context, id string) (*models.TokenTransfer, error)
	GetByHash(ctx context.Context, txHash string, chainID int64) (*models.TokenTransfer, error)
	FindByLocker(ctx context.Context, lockerID string, direction *models.TransferDirection) ([]*models.TokenTransfer, error)
	FindByTrigger(ctx context.Context, inboundID string) ([]*models.TokenTransfer, error)

	// Operator queries
	FindStalled(ctx context.Context, olderThan time.Time) ([]*models.TokenTransfer, error)
	ListForReplay(ctx context.Context, lockerID string, chainID int64) ([]*models.TokenTransfer, error)
}

// transferRepository implements TransferRepository
type transferRepository struct {
	db *gorm.DB
}

// NewTransferRepository creates a new TransferRepository instance.
// The gorm session must be opened with TranslateError so duplicate keys surface as gorm.ErrDuplicatedKey.
func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &transferRepository{db: db}
}

// Upsert records an observation of a transfer keyed by (chain_id, tx_hash).
// created is true only when this call inserted the row. A confirmed row is never
// downgraded; a pending row is promoted when a confirmed observation arrives.
func (r *transferRepository) Upsert(ctx context.Context, transfer *models.TokenTransfer) (*models.TokenTransfer, bool, error) {
	incoming := normalizeTransfer(transfer)

	// first pass handles the common case; second pass is the insert race loser re-reading the winner's row
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := r.GetByHash(ctx, incoming.TxHash, incoming.ChainID)
		if err == nil {
			stored, err := r.mergeObservation(ctx, existing, incoming)
			return stored, false, err
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("failed to look up transfer %s: %w", incoming.TxHash, err)
		}

		row := *incoming
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
		err = r.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			return &row, true, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, fmt.Errorf("failed to insert transfer %s: %w", incoming.TxHash, err)
		}
	}
	return nil, false, ErrUpsertConflict
}

// mergeObservation applies the confirmation ordering rule to an existing row
func (r *transferRepository) mergeObservation(ctx context.Context, existing, incoming *models.TokenTransfer) (*models.TokenTransfer, error) {
	if incoming.TriggeredByTransferID != nil && existing.TriggeredByTransferID == nil {
		claimed, err := r.claimSpawned(ctx, existing, incoming)
		if err != nil {
			return nil, err
		}
		existing = claimed
	}

	if existing.IsConfirmed || !incoming.IsConfirmed {
		return existing, nil
	}

	// automation_state, locker_id, direction and triggered_by_transfer_id are owned by the engine
	result := r.db.WithContext(ctx).
		Model(&models.TokenTransfer{}).
		Where("id = ? AND is_confirmed = ?", existing.ID, false).
		Updates(map[string]interface{}{
			"is_confirmed":     true,
			"contract_address": incoming.ContractAddress,
			"token_symbol":     incoming.TokenSymbol,
			"token_decimals":   incoming.TokenDecimals,
			"from_address":     incoming.FromAddress,
			"to_address":       incoming.ToAddress,
			"amount":           incoming.Amount,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to confirm transfer %s: %w", existing.TxHash, result.Error)
	}

	// RowsAffected == 0 means a concurrent writer confirmed it first; either way reload the row
	return r.GetByID(ctx, existing.ID)
}

// claimSpawned attaches the engine's back-reference to a row the indexer recorded first.
// Only a row without a back-reference is claimed.
func (r *transferRepository) claimSpawned(ctx context.Context, existing, incoming *models.TokenTransfer) (*models.TokenTransfer, error) {
	result := r.db.WithContext(ctx).
		Model(&models.TokenTransfer{}).
		Where("id = ? AND triggered_by_transfer_id IS NULL", existing.ID).
		Updates(map[string]interface{}{
			"triggered_by_transfer_id": *incoming.TriggeredByTransferID,
			"automation_state":         models.AutomationStateStarted,
			"updated_at":               time.Now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to link spawned transfer %s: %w", existing.TxHash, result.Error)
	}
	return r.GetByID(ctx, existing.ID)
}

// MarkAutomationStarted compare-and-set NOT_STARTED -> STARTED on an inbound row.
// Returns true only for the caller that performed the transition.
func (r *transferRepository) MarkAutomationStarted(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.TokenTransfer{}).
		Where("id = ? AND direction = ? AND automation_state = ?",
			id, models.TransferDirectionIn, models.AutomationStateNotStarted).
		Updates(map[string]interface{}{
			"automation_state": models.AutomationStateStarted,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark transfer %s started: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// GetByID retrieves a transfer by ID
func (r *transferRepository) GetByID(ctx context.Context, id string) (*models.TokenTransfer, error) {
	var transfer models.TokenTransfer
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&transfer).Error
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// GetByHash retrieves a transfer by transaction hash and chain
func (r *transferRepository) GetByHash(ctx context.Context, txHash string, chainID int64) (*models.TokenTransfer, error) {
	var transfer models.TokenTransfer
	err := r.db.WithContext(ctx).
		Where("chain_id = ? AND tx_hash = ?", chainID, strings.ToLower(txHash)).
		First(&transfer).Error
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// FindByLocker lists a locker's transfers, newest first, optionally filtered by direction
func (r *transferRepository) FindByLocker(ctx context.Context, lockerID string, direction *models.TransferDirection) ([]*models.TokenTransfer, error) {
	var transfers []*models.TokenTransfer
	query := r.db.WithContext(ctx).Where("locker_id = ?", lockerID)
	if direction != nil {
		query = query.Where("direction = ?", *direction)
	}
	err := query.Order("created_at DESC").Find(&transfers).Error
	return transfers, err
}

// FindByTrigger outbound transfers spawned by the given deposit
func (r *transferRepository) FindByTrigger(ctx context.Context, inboundID string) ([]*models.TokenTransfer, error) {
	var transfers []*models.TokenTransfer
	err := r.db.WithContext(ctx).
		Where("triggered_by_transfer_id = ?", inboundID).
		Order("created_at ASC").
		Find(&transfers).Error
	return transfers, err
}

// FindStalled deposits marked STARTED before the cutoff that no outbound transfer references
func (r *transferRepository) FindStalled(ctx context.Context, olderThan time.Time) ([]*models.TokenTransfer, error) {
	var transfers []*models.TokenTransfer
	children := r.db.Table("token_transfers AS children").
		Select("1").
		Where("children.triggered_by_transfer_id = token_transfers.id")

	err := r.db.WithContext(ctx).
		Where("token_transfers.direction = ? AND token_transfers.automation_state = ? AND token_transfers.updated_at < ?",
			models.TransferDirectionIn, models.AutomationStateStarted, olderThan).
		Where("NOT EXISTS (?)", children).
		Order("token_transfers.updated_at ASC").
		Find(&transfers).Error
	return transfers, err
}

// ListForReplay inbound transfers of a locker on a chain, oldest first
func (r *transferRepository) ListForReplay(ctx context.Context, lockerID string, chainID int64) ([]*models.TokenTransfer, error) {
	var transfers []*models.TokenTransfer
	err := r.db.WithContext(ctx).
		Where("locker_id = ? AND chain_id = ? AND direction = ?", lockerID, chainID, models.TransferDirectionIn).
		Order("created_at ASC").
		Find(&transfers).Error
	return transfers, err
}

func normalizeTransfer(transfer *models.TokenTransfer) *models.TokenTransfer {
	normalized := *transfer
	normalized.TxHash = strings.ToLower(strings.TrimSpace(normalized.TxHash))
	normalized.ContractAddress = strings.ToLower(normalized.ContractAddress)
	normalized.FromAddress = strings.ToLower(normalized.FromAddress)
	normalized.ToAddress = strings.ToLower(normalized.ToAddress)
	if normalized.AutomationState == "" {
		normalized.AutomationState = models.AutomationStateNotStarted
	}
	return &normalized
}
