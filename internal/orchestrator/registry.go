package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quartzhealth/portalbridge/internal/portal"
)

// RegistryConfig bounds how long a preview may wait for an operator.
type RegistryConfig struct {
	// TTL is how long a parked session survives without confirmation.
	TTL time.Duration
	// SweepInterval is how often expired sessions are evicted.
	SweepInterval time.Duration
}

// DefaultRegistryConfig returns sensible defaults
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		TTL:           15 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// ExpireFunc is invoked for each session evicted by the sweep. The session
// is already removed from the registry when it runs.
type ExpireFunc func(orderID string, session *portal.Session)

type registryEntry struct {
	session  *portal.Session
	parkedAt time.Time
}

// SessionRegistry holds browser sessions parked at the preview gate, keyed
// by order ID. A session leaves the registry exactly one way: taken by
// confirm or cancel, or evicted by the TTL sweep.
type SessionRegistry struct {
	config   RegistryConfig
	onExpire ExpireFunc
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessionRegistry creates a registry. Start must be called to activate
// the sweep.
func NewSessionRegistry(cfg RegistryConfig, onExpire ExpireFunc, logger *zap.Logger) *SessionRegistry {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRegistryConfig().TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultRegistryConfig().SweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionRegistry{
		config:   cfg,
		onExpire: onExpire,
		logger:   logger,
		entries:  make(map[string]*registryEntry),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep.
func (r *SessionRegistry) Start() {
	go r.sweepLoop()
	r.logger.Info("session registry started",
		zap.Duration("ttl", r.config.TTL),
		zap.Duration("sweep_interval", r.config.SweepInterval))
}

// Stop halts the sweep and cleans up every parked session.
func (r *SessionRegistry) Stop() {
	r.cancel()
	<-r.done

	r.mu.Lock()
	remaining := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for orderID, entry := range remaining {
		entry.session.Cleanup()
		r.logger.Info("parked session released on shutdown", zap.String("order_id", orderID))
	}
}

// Register parks a session awaiting operator confirmation.
func (r *SessionRegistry) Register(orderID string, session *portal.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[orderID] = &registryEntry{session: session, parkedAt: time.Now()}
}

// Take removes and returns the session for an order. The second return is
// false when the session was never parked or already evicted.
func (r *SessionRegistry) Take(orderID string) (*portal.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[orderID]
	if !ok {
		return nil, false
	}
	delete(r.entries, orderID)
	return entry.session, true
}

// Len returns the number of parked sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *SessionRegistry) sweepLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

// sweep evicts sessions older than the TTL and hands them to onExpire.
func (r *SessionRegistry) sweep(now time.Time) {
	r.mu.Lock()
	var expired []string
	for orderID, entry := range r.entries {
		if now.Sub(entry.parkedAt) >= r.config.TTL {
			expired = append(expired, orderID)
		}
	}
	evicted := make(map[string]*portal.Session, len(expired))
	for _, orderID := range expired {
		evicted[orderID] = r.entries[orderID].session
		delete(r.entries, orderID)
	}
	r.mu.Unlock()

	for orderID, session := range evicted {
		r.logger.Warn("preview confirmation window expired",
			zap.String("order_id", orderID),
			zap.Duration("ttl", r.config.TTL))
		if r.onExpire != nil {
			r.onExpire(orderID, session)
		} else {
			session.Cleanup()
		}
	}
}
