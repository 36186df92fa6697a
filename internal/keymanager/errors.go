package keymanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/Renetatomm/renetato-s-executor/internal/ratelimit"
)

// Validation failures, checked in this order.
var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrKeyAlreadyUsed = errors.New("key already used")
	ErrKeyExpired     = errors.New("key expired")
)

// CooldownError is returned by Generate while the caller's address is cooling down.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, %d minute(s) remaining", e.RemainingMinutes())
}

// RemainingMinutes returns the remaining cooldown rounded up to whole minutes.
func (e *CooldownError) RemainingMinutes() int {
	return ratelimit.CeilMinutes(e.Remaining)
}
