// Package idempotency deduplicates order intakes so a retried client POST
// cannot open two browser sessions for the same clinical order.
// Uses deterministic keys: Hash(ProviderNPI+MemberID+TestCodes+Timestamp)
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// InboxConfig holds configuration for the inbox
type InboxConfig struct {
	// DefaultTTL is how long a key blocks duplicates
	DefaultTTL time.Duration
}

// DefaultInboxConfig returns sensible defaults
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		DefaultTTL: 24 * time.Hour,
	}
}

// Inbox tracks recently seen intake keys. Entries expire after the
// configured TTL; an expired key admits the intake again, which is safe
// because the orchestrator also rejects orders that are still in flight.
type Inbox struct {
	cache *ttlcache.Cache[string, string]
}

// NewInbox creates a new inbox manager
func NewInbox(cfg InboxConfig) *Inbox {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultInboxConfig().DefaultTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](cfg.DefaultTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()
	return &Inbox{cache: cache}
}

// Register records a key and returns the order ID it maps to plus whether
// the key was already present. The first caller wins; later callers get the
// original order ID back.
func (i *Inbox) Register(key, orderID string) (string, bool) {
	if existing := i.cache.Get(key); existing != nil {
		return existing.Value(), true
	}
	i.cache.Set(key, orderID, ttlcache.DefaultTTL)
	return orderID, false
}

// Lookup returns the order ID for a key, if present.
func (i *Inbox) Lookup(key string) (string, bool) {
	item := i.cache.Get(key)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// Stop halts the expiration loop.
func (i *Inbox) Stop() {
	i.cache.Stop()
}

// GenerateKey creates a deterministic idempotency key from intake components
func GenerateKey(providerNPI, memberID string, testCodes []string, timestamp time.Time) string {
	codes := make([]string, len(testCodes))
	copy(codes, testCodes)
	sort.Strings(codes)

	// Truncate timestamp to minute for clock drift tolerance
	truncatedTime := timestamp.Truncate(time.Minute).Format(time.RFC3339)

	parts := []string{
		providerNPI,
		memberID,
		strings.Join(codes, ","),
		truncatedTime,
	}

	data := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
