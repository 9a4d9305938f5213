package models

import (
	"time"
)

// Locker custodial on-chain account automated on behalf of a user.
// The engine only reads lockers; provisioning happens elsewhere.
type Locker struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    string    `json:"user_id" gorm:"not null;index"`
	ChainID   int64     `json:"chain_id" gorm:"not null;uniqueIndex:idx_lockers_chain_address,priority:1"`
	Address   string    `json:"address" gorm:"not null;size:42;uniqueIndex:idx_lockers_chain_address,priority:2"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName table name
func (Locker) TableName() string {
	return "lockers"
}
