// Package ratelimit enforces a fixed cooldown between key issuances per address.
package ratelimit

import (
	"sort"
	"sync"
	"time"

	"github.com/Renetatomm/renetato-s-executor/internal/model"
)

// Decision is the outcome of a cooldown check.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
}

// RemainingMinutes returns the remaining cooldown rounded up to whole minutes.
func (d Decision) RemainingMinutes() int {
	return CeilMinutes(d.Remaining)
}

// CeilMinutes rounds d up to whole minutes. Non-positive durations yield 0.
func CeilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}

// Cooldown tracks the last issuance time per address.
type Cooldown struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]time.Time
}

// NewCooldown creates a Cooldown with the given window.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window:  window,
		entries: make(map[string]time.Time),
	}
}

// Window returns the configured cooldown window.
func (c *Cooldown) Window() time.Duration {
	return c.window
}

// Check reports whether address may be issued a key at now. It does not record anything;
// callers record with Record once issuance succeeded.
func (c *Cooldown) Check(address string, now time.Time) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.entries[address]
	if !ok {
		return Decision{Allowed: true}
	}
	end := last.Add(c.window)
	if !now.Before(end) {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Remaining: end.Sub(now)}
}

// Record sets now as the last issuance time for address.
func (c *Cooldown) Record(address string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[address] = now
}

// Prune drops entries whose cooldown has elapsed at now and returns how many were removed.
// A pruned address is allowed exactly as it would have been before pruning.
func (c *Cooldown) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for address, last := range c.entries {
		if !now.Before(last.Add(c.window)) {
			delete(c.entries, address)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked addresses.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a snapshot of all tracked addresses, most recent first.
func (c *Cooldown) Entries() []model.RateLimitEntry {
	c.mu.Lock()
	entries := make([]model.RateLimitEntry, 0, len(c.entries))
	for address, last := range c.entries {
		entries = append(entries, model.RateLimitEntry{IssuerAddress: address, LastIssuedAt: last})
	}
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastIssuedAt.After(entries[j].LastIssuedAt)
	})
	return entries
}
