// Package presence runs the background reconciliation loops: expiring stale
// ringing calls, clearing idle typing flags, announcing incoming rings and
// repairing drifted contact projections.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vartasetu-backend/internal/bus"
	"vartasetu-backend/internal/storage"
)

type Store interface {
	ExpireRingingCalls(ctx context.Context, cutoffMs, nowMs int64) ([]storage.CallRow, error)
	ClearStaleTyping(ctx context.Context, cutoffMs, nowMs int64) ([]storage.TypingStateRow, error)
	ListContacts(ctx context.Context, userID, status string) ([]storage.ContactRow, error)
	RecomputeProjection(ctx context.Context, userID, contactID string, nowMs int64) (storage.ContactRow, bool, error)
	NextRingingCallForUser(ctx context.Context, userID string) (storage.CallRow, error)
}

type Config struct {
	Store  Store
	Bus    *bus.Bus
	Logger *slog.Logger

	// Subjects names the users worth reconciling, typically those with a
	// live connection.
	Subjects func() []string

	ReconcileInterval time.Duration
	FastInterval      time.Duration
	RingTimeout       time.Duration
	TypingIdleTimeout time.Duration
}

type Poller struct {
	store    Store
	bus      *bus.Bus
	logger   *slog.Logger
	subjects func() []string

	reconcileInterval time.Duration
	fastInterval      time.Duration
	ringTimeout       time.Duration
	typingIdleTimeout time.Duration

	mu        sync.Mutex
	seenRings map[string]string
}

func NewPoller(cfg Config) (*Poller, error) {
	if cfg.Store == nil || cfg.Bus == nil {
		return nil, errors.New("store and bus are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Subjects == nil {
		cfg.Subjects = func() []string { return nil }
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 3 * time.Second
	}
	if cfg.FastInterval <= 0 {
		cfg.FastInterval = time.Second
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 30 * time.Second
	}
	if cfg.TypingIdleTimeout <= 0 {
		cfg.TypingIdleTimeout = 2 * time.Second
	}
	return &Poller{
		store:             cfg.Store,
		bus:               cfg.Bus,
		logger:            cfg.Logger,
		subjects:          cfg.Subjects,
		reconcileInterval: cfg.ReconcileInterval,
		fastInterval:      cfg.FastInterval,
		ringTimeout:       cfg.RingTimeout,
		typingIdleTimeout: cfg.TypingIdleTimeout,
		seenRings:         make(map[string]string),
	}, nil
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	fast := time.NewTicker(p.fastInterval)
	defer fast.Stop()
	reconcile := time.NewTicker(p.reconcileInterval)
	defer reconcile.Stop()

	p.logger.Info("presence poller started",
		"fast_interval", p.fastInterval, "reconcile_interval", p.reconcileInterval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("presence poller stopped")
			return
		case <-fast.C:
			p.fastTick(ctx)
		case <-reconcile.C:
			p.reconcileTick(ctx)
		}
	}
}

// fastTick handles the second-granularity work: call expiry, ring
// announcements and typing staleness.
func (p *Poller) fastTick(ctx context.Context) {
	nowMs := storage.NowMs()

	expired, err := p.store.ExpireRingingCalls(ctx, nowMs-p.ringTimeout.Milliseconds(), nowMs)
	if err != nil {
		p.logger.Warn("expire ringing calls failed", "error", err)
	}
	for _, call := range expired {
		p.logger.Info("call expired to missed", "call_id", call.ID)
		p.bus.Publish(bus.New(bus.KindCallState, call, call.CallerID, call.ReceiverID))
	}

	cleared, err := p.store.ClearStaleTyping(ctx, nowMs-p.typingIdleTimeout.Milliseconds(), nowMs)
	if err != nil {
		p.logger.Warn("clear stale typing failed", "error", err)
	}
	for _, ts := range cleared {
		p.bus.Publish(bus.New(bus.KindPresenceTyping, ts, ts.PeerID))
	}

	for _, userID := range p.subjects() {
		call, err := p.store.NextRingingCallForUser(ctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			p.mu.Lock()
			delete(p.seenRings, userID)
			p.mu.Unlock()
			continue
		}
		if err != nil {
			p.logger.Warn("next ringing call failed", "user_id", userID, "error", err)
			continue
		}

		p.mu.Lock()
		announced := p.seenRings[userID] == call.ID
		p.seenRings[userID] = call.ID
		p.mu.Unlock()
		if announced {
			continue
		}
		p.bus.Publish(bus.New(bus.KindCallIncoming, call, userID))
	}
}

// reconcileTick repairs contact projections that drifted from message state.
func (p *Poller) reconcileTick(ctx context.Context) {
	nowMs := storage.NowMs()

	for _, userID := range p.subjects() {
		contacts, err := p.store.ListContacts(ctx, userID, storage.ContactStatusAccepted)
		if err != nil {
			p.logger.Warn("list contacts failed", "user_id", userID, "error", err)
			continue
		}
		for _, contact := range contacts {
			edge, changed, err := p.store.RecomputeProjection(ctx, userID, contact.ContactID, nowMs)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				p.logger.Warn("recompute projection failed",
					"user_id", userID, "contact_id", contact.ContactID, "error", err)
				continue
			}
			if changed {
				p.bus.Publish(bus.New(bus.KindContactUpdated, edge, userID))
			}
		}
	}
}
