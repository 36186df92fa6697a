package model

import (
	"time"

	"gorm.io/gorm"
)

// Audit event types.
const (
	EventGenerated = "generated"
	EventDenied    = "denied"
	EventRedeemed  = "redeemed"
	EventRejected  = "rejected"
	EventSwept     = "swept"
)

// AuditEvent is an append-only trail entry for the key lifecycle.
// Only the last characters of a key are stored.
type AuditEvent struct {
	gorm.Model
	Type      string    `gorm:"type:varchar(32);index;not null" json:"type"`
	KeySuffix string    `gorm:"type:varchar(8)" json:"keySuffix,omitempty"`
	Address   string    `gorm:"type:varchar(64)" json:"ipAddress,omitempty"`
	Reason    string    `gorm:"type:varchar(64)" json:"reason,omitempty"`
	At        time.Time `gorm:"index;not null" json:"at"`
}
