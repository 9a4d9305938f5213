package models

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// NativeAssetAddress is the contract address recorded for native (non-token) transfers
const NativeAssetAddress = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// TransferDirection direction of a transfer relative to the locker
type TransferDirection string

const (
	TransferDirectionIn  TransferDirection = "IN"  // locker is the recipient
	TransferDirectionOut TransferDirection = "OUT" // locker is the sender
)

// AutomationState automation progress of an inbound transfer
type AutomationState string

const (
	AutomationStateNotStarted AutomationState = "NOT_STARTED"
	AutomationStateStarted    AutomationState = "STARTED"
)

// TokenTransfer ledger row for every observed on-chain transfer touching a locker.
// (chain_id, tx_hash) is unique; once IsConfirmed is true it never goes back to false.
type TokenTransfer struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"` // UUID
	ChainID  int64  `json:"chain_id" gorm:"not null;uniqueIndex:idx_token_transfers_chain_hash,priority:1"`
	TxHash   string `json:"tx_hash" gorm:"not null;size:66;uniqueIndex:idx_token_transfers_chain_hash,priority:2"`
	LockerID string `json:"locker_id" gorm:"not null;size:36;index"`

	Direction       TransferDirection `json:"direction" gorm:"not null;size:8"`
	ContractAddress string            `json:"contract_address" gorm:"not null;size:42"`
	TokenSymbol     string            `json:"token_symbol" gorm:"size:32"`
	TokenDecimals   int               `json:"token_decimals"`
	FromAddress     string            `json:"from_address" gorm:"not null;size:42"`
	ToAddress       string            `json:"to_address" gorm:"not null;size:42"`
	Amount          string            `json:"amount" gorm:"not null;size:78"` // smallest unit, base-10

	IsConfirmed     bool            `json:"is_confirmed" gorm:"not null"`
	AutomationState AutomationState `json:"automation_state" gorm:"not null;size:16;default:NOT_STARTED"`

	// Audit link to the deposit that caused this outbound transfer. Never used for ownership.
	TriggeredByTransferID *string `json:"triggered_by_transfer_id,omitempty" gorm:"size:36;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName table name
func (TokenTransfer) TableName() string {
	return "token_transfers"
}

// AmountInt parses Amount as an arbitrary-precision integer
func (t *TokenTransfer) AmountInt() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(t.Amount), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q on transfer %s", t.Amount, t.TxHash)
	}
	return amount, nil
}

// IsNativeAsset reports whether the transfer moved the chain's native asset
func (t *TokenTransfer) IsNativeAsset() bool {
	return strings.EqualFold(t.ContractAddress, NativeAssetAddress)
}

// IsAutomationCandidate confirmed inbound rows that have not been automated yet
func (t *TokenTransfer) IsAutomationCandidate() bool {
	return t.Direction == TransferDirectionIn &&
		t.AutomationState == AutomationStateNotStarted &&
		t.IsConfirmed
}
