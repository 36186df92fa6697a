package model

import "time"

// Key statuses derived from a record's state at a point in time.
const (
	KeyStatusActive  = "active"
	KeyStatusUsed    = "used"
	KeyStatusExpired = "expired"
)

// KeyRecord is a one-time executor key held by the key manager.
type KeyRecord struct {
	ID            string     `json:"id"`
	Token         string     `json:"key"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	IsUsed        bool       `json:"isUsed"`
	UsedAt        *time.Time `json:"usedAt,omitempty"`
	IssuerAddress string     `json:"ipAddress"`
}

// Expired reports whether the key is past its expiry at now.
func (k *KeyRecord) Expired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}

// Status returns the record's status at now. A used key stays used even after expiry.
func (k *KeyRecord) Status(now time.Time) string {
	switch {
	case k.IsUsed:
		return KeyStatusUsed
	case k.Expired(now):
		return KeyStatusExpired
	default:
		return KeyStatusActive
	}
}

// Clone returns a copy that shares no pointers with k.
func (k *KeyRecord) Clone() KeyRecord {
	c := *k
	if k.UsedAt != nil {
		usedAt := *k.UsedAt
		c.UsedAt = &usedAt
	}
	return c
}

// RateLimitEntry records the last successful key issuance for an address.
type RateLimitEntry struct {
	IssuerAddress string    `json:"ipAddress"`
	LastIssuedAt  time.Time `json:"lastIssuedAt"`
}
