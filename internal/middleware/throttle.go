package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Renetatomm/renetato-s-executor/internal/auth"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle keeps a token bucket per client address.
type Throttle struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	entries map[string]*throttleEntry
	logger  *slog.Logger
	now     func() time.Time
}

// NewThrottle creates a Throttle allowing rps requests per second with the given burst per address.
func NewThrottle(rps float64, burst int, logger *slog.Logger) *Throttle {
	return &Throttle{
		rps:     rate.Limit(rps),
		burst:   burst,
		entries: make(map[string]*throttleEntry),
		logger:  logger.With("component", "throttle"),
		now:     time.Now,
	}
}

// Allow reports whether address may make a request now.
func (t *Throttle) Allow(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.entries[address]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.entries[address] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// retryAfter returns whole seconds until one token is available again.
func (t *Throttle) retryAfter() int {
	if t.rps <= 0 {
		return 1
	}
	return int(math.Ceil(1 / float64(t.rps)))
}

// Prune drops addresses not seen for idle and returns how many were removed.
func (t *Throttle) Prune(idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-idle)
	removed := 0
	for address, entry := range t.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(t.entries, address)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked addresses.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Middleware rejects requests over the per-address budget with 429.
func (t *Throttle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		address := auth.ClientAddress(c.Request)
		if !t.Allow(address) {
			t.logger.Warn("Request throttled", "address", address, "path", c.FullPath())
			c.Header("Retry-After", strconv.Itoa(t.retryAfter()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
