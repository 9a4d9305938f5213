package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// AutomationType kind of redistribution an automation performs
type AutomationType string

const (
	AutomationTypeSavings   AutomationType = "SAVINGS"    // accounting only, never moves funds
	AutomationTypeForwardTo AutomationType = "FORWARD_TO" // send to RecipientAddress
	AutomationTypeOffRamp   AutomationType = "OFF_RAMP"   // send to the off-ramp settlement address
)

// AutomationStatus lifecycle of an automation entry, owned by policy management
type AutomationStatus string

const (
	AutomationStatusNew     AutomationStatus = "NEW"
	AutomationStatusPending AutomationStatus = "PENDING"
	AutomationStatusReady   AutomationStatus = "READY"
	AutomationStatusFailed  AutomationStatus = "FAILED"
)

// Automation one entry of a policy.
// Allocation is a fraction of the deposit in [0, 1] written as a decimal string ("0.1").
type Automation struct {
	ID               string           `json:"id"`
	Type             AutomationType   `json:"type"`
	Allocation       string           `json:"allocation"`
	Status           AutomationStatus `json:"status"`
	RecipientAddress string           `json:"recipientAddress,omitempty"`
	OffRampAccountID string           `json:"offRampAccountId,omitempty"`
}

// AutomationList ordered automations stored as a JSON column
type AutomationList []Automation

// Value implements driver.Valuer
func (l AutomationList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal automations: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (l *AutomationList) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*l = AutomationList{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported automations column type %T", value)
	}
	return json.Unmarshal(data, l)
}

// GormDBDataType jsonb on postgres, text elsewhere
func (AutomationList) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}

// Policy split policy of a locker on one chain plus its encrypted execution credential.
// Owned by policy management; the engine only reads it.
type Policy struct {
	ID                  string         `json:"id" gorm:"primaryKey;size:36"`
	LockerID            string         `json:"locker_id" gorm:"not null;size:36;uniqueIndex:idx_policies_locker_chain,priority:1"`
	ChainID             int64          `json:"chain_id" gorm:"not null;uniqueIndex:idx_policies_locker_chain,priority:2"`
	Automations         AutomationList `json:"automations"`
	EncryptedSessionKey string         `json:"-" gorm:"type:text"`
	SessionKeyInvalid   bool           `json:"session_key_invalid" gorm:"not null"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// TableName table name
func (Policy) TableName() string {
	return "policies"
}

// HasSessionKey whether a session key was ever provisioned (locker deployed and authorized)
func (p *Policy) HasSessionKey() bool {
	return p.EncryptedSessionKey != ""
}
