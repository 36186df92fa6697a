package keymanager

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Renetatomm/renetato-s-executor/internal/config"
	"github.com/Renetatomm/renetato-s-executor/internal/keygen"
	"github.com/Renetatomm/renetato-s-executor/internal/logger"
	"github.com/Renetatomm/renetato-s-executor/internal/model"
	"github.com/Renetatomm/renetato-s-executor/internal/ratelimit"
	"github.com/Renetatomm/renetato-s-executor/internal/telemetry"

	"github.com/google/uuid"
)

const (
	// maxTokenAttempts bounds regeneration when a fresh token collides with a stored one.
	maxTokenAttempts = 5
	auditQueueSize   = 256
)

var errTokenCollision = errors.New("could not produce an unused key")

// TokenGenerator produces random key strings.
type TokenGenerator interface {
	Generate() (string, error)
}

// AuditRecorder persists audit events. db.Service satisfies it.
type AuditRecorder interface {
	RecordEvent(event *model.AuditEvent) error
}

// Manager defines the key lifecycle operations.
// This allows for mocking in tests and decouples the HTTP handlers from the concrete implementation.
type Manager interface {
	Generate(address string) (model.KeyRecord, error)
	Validate(token string) error
	List() []model.KeyRecord
	Stats() Stats
	Sweep() int
	PruneCooldowns() int
	Cooldowns() []model.RateLimitEntry
	Close()
}

// Stats summarises the in-memory key store.
type Stats struct {
	Total           int `json:"total"`
	Active          int `json:"active"`
	Used            int `json:"used"`
	Expired         int `json:"expired"`
	CooldownEntries int `json:"cooldownEntries"`
}

// KeyManager owns the key store and the issuance cooldown table.
// All reads and writes of key records happen under mutex, which makes the
// validate check-then-mark sequence atomic.
type KeyManager struct {
	mutex      sync.Mutex
	keys       map[string]*model.KeyRecord
	cooldown   *ratelimit.Cooldown
	generator  TokenGenerator
	ttl        time.Duration
	logger     *slog.Logger
	audit      AuditRecorder
	auditQueue chan model.AuditEvent
	wg         sync.WaitGroup
	closed     bool
	now        func() time.Time
}

// NewKeyManager creates a new KeyManager. audit may be nil, in which case no audit trail is written.
func NewKeyManager(cfg *config.Config, audit AuditRecorder, log *slog.Logger) *KeyManager {
	km := &KeyManager{
		keys:      make(map[string]*model.KeyRecord),
		cooldown:  ratelimit.NewCooldown(cfg.Keys.CooldownDuration()),
		generator: keygen.New(cfg.Keys.Length),
		ttl:       cfg.Keys.TTLDuration(),
		logger:    log.With("component", "keymanager"),
		now:       time.Now,
	}

	if audit != nil {
		km.audit = audit
		km.auditQueue = make(chan model.AuditEvent, auditQueueSize)
		km.wg.Add(1)
		go km.auditWriter()
	}

	return km
}

// Generate issues a new key for address unless the address is cooling down,
// in which case a *CooldownError is returned.
func (km *KeyManager) Generate(address string) (model.KeyRecord, error) {
	km.mutex.Lock()
	defer km.mutex.Unlock()

	now := km.now()
	if decision := km.cooldown.Check(address, now); !decision.Allowed {
		telemetry.KeyGenerationDeniedTotal.Inc()
		km.enqueueAudit(model.AuditEvent{Type: model.EventDenied, Address: address, At: now})
		km.logger.Debug("Key generation denied by cooldown", "address", address, "remaining", decision.Remaining)
		return model.KeyRecord{}, &CooldownError{Remaining: decision.Remaining}
	}

	token, err := km.unusedToken()
	if err != nil {
		km.logger.Error("Failed to generate key", "address", address, "error", err)
		return model.KeyRecord{}, fmt.Errorf("failed to generate key: %w", err)
	}

	record := &model.KeyRecord{
		ID:            uuid.NewString(),
		Token:         token,
		CreatedAt:     now,
		ExpiresAt:     now.Add(km.ttl),
		IssuerAddress: address,
	}
	km.keys[token] = record
	km.cooldown.Record(address, now)

	telemetry.KeysGeneratedTotal.Inc()
	km.enqueueAudit(model.AuditEvent{Type: model.EventGenerated, KeySuffix: logger.KeySuffix(token), Address: address, At: now})
	km.logger.Info("Key generated", "key_suffix", logger.KeySuffix(token), "address", address, "expires_at", record.ExpiresAt)

	return record.Clone(), nil
}

// unusedToken draws tokens until one is not already in the store. Assumes the lock is held.
func (km *KeyManager) unusedToken() (string, error) {
	for i := 0; i < maxTokenAttempts; i++ {
		token, err := km.generator.Generate()
		if err != nil {
			return "", err
		}
		if _, taken := km.keys[token]; !taken {
			return token, nil
		}
		km.logger.Warn("Generated key collided with an existing key, retrying", "attempt", i+1)
	}
	return "", errTokenCollision
}

// Validate redeems token. The first failing check wins: unknown, already used, expired.
// On success the key is marked used and can never validate again.
func (km *KeyManager) Validate(token string) error {
	km.mutex.Lock()
	defer km.mutex.Unlock()

	now := km.now()
	record, ok := km.keys[token]
	if !ok {
		km.rejected(token, telemetry.ResultNotFound, now)
		return ErrKeyNotFound
	}
	if record.IsUsed {
		km.rejected(token, telemetry.ResultAlreadyUsed, now)
		return ErrKeyAlreadyUsed
	}
	if record.Expired(now) {
		km.rejected(token, telemetry.ResultExpired, now)
		return ErrKeyExpired
	}

	record.IsUsed = true
	record.UsedAt = &now

	telemetry.KeyValidationsTotal.WithLabelValues(telemetry.ResultValid).Inc()
	km.enqueueAudit(model.AuditEvent{Type: model.EventRedeemed, KeySuffix: logger.KeySuffix(token), Address: record.IssuerAddress, At: now})
	km.logger.Info("Key redeemed", "key_suffix", logger.KeySuffix(token))
	return nil
}

func (km *KeyManager) rejected(token, reason string, now time.Time) {
	telemetry.KeyValidationsTotal.WithLabelValues(reason).Inc()
	km.enqueueAudit(model.AuditEvent{Type: model.EventRejected, KeySuffix: logger.KeySuffix(token), Reason: reason, At: now})
	km.logger.Debug("Key validation rejected", "key_suffix", logger.KeySuffix(token), "reason", reason)
}

// List returns copies of all stored records, newest first.
func (km *KeyManager) List() []model.KeyRecord {
	km.mutex.Lock()
	records := make([]model.KeyRecord, 0, len(km.keys))
	for _, k := range km.keys {
		records = append(records, k.Clone())
	}
	km.mutex.Unlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records
}

// Stats counts stored records by status.
func (km *KeyManager) Stats() Stats {
	km.mutex.Lock()
	defer km.mutex.Unlock()

	now := km.now()
	stats := Stats{Total: len(km.keys), CooldownEntries: km.cooldown.Len()}
	for _, k := range km.keys {
		switch k.Status(now) {
		case model.KeyStatusUsed:
			stats.Used++
		case model.KeyStatusExpired:
			stats.Expired++
		default:
			stats.Active++
		}
	}
	return stats
}

// Sweep removes used and expired records and returns how many were removed.
// Removed keys validate as not found afterwards.
func (km *KeyManager) Sweep() int {
	km.mutex.Lock()
	defer km.mutex.Unlock()

	now := km.now()
	removed := 0
	for token, k := range km.keys {
		if k.IsUsed || k.Expired(now) {
			delete(km.keys, token)
			removed++
		}
	}

	if removed > 0 {
		telemetry.KeysSweptTotal.Add(float64(removed))
		km.enqueueAudit(model.AuditEvent{Type: model.EventSwept, Reason: fmt.Sprintf("%d records", removed), At: now})
		km.logger.Info("Swept used and expired keys", "count", removed, "remaining", len(km.keys))
	}
	return removed
}

// PruneCooldowns drops cooldown entries whose window has already elapsed.
func (km *KeyManager) PruneCooldowns() int {
	removed := km.cooldown.Prune(km.now())
	if removed > 0 {
		km.logger.Debug("Pruned elapsed cooldown entries", "count", removed)
	}
	return removed
}

// Cooldowns returns the rate-limit table, most recent issuance first.
func (km *KeyManager) Cooldowns() []model.RateLimitEntry {
	return km.cooldown.Entries()
}

// enqueueAudit hands an event to the audit writer without blocking. Assumes the lock is held.
func (km *KeyManager) enqueueAudit(event model.AuditEvent) {
	if km.auditQueue == nil || km.closed {
		return
	}
	select {
	case km.auditQueue <- event:
	default:
		telemetry.AuditEventsDroppedTotal.Inc()
		km.logger.Error("Failed to queue audit event: queue is full", "type", event.Type)
	}
}

// auditWriter is a worker that persists audit events from the queue.
func (km *KeyManager) auditWriter() {
	defer km.wg.Done()
	km.logger.Info("Starting audit writer worker.")

	for event := range km.auditQueue {
		if err := km.audit.RecordEvent(&event); err != nil {
			km.logger.Warn("Failed to record audit event", "type", event.Type, "error", err)
		}
	}
	km.logger.Info("Audit writer worker stopped.")
}

// Close drains the audit queue and stops the audit writer.
func (km *KeyManager) Close() {
	km.mutex.Lock()
	if km.closed {
		km.mutex.Unlock()
		return
	}
	km.closed = true
	if km.auditQueue != nil {
		close(km.auditQueue)
	}
	km.mutex.Unlock()

	km.wg.Wait()
	km.logger.Info("KeyManager shutdown complete.")
}
