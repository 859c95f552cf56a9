// Package broadcast distributes generation progress events to live
// subscribers and retains a last-known snapshot per book for clients that
// fall back to polling.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/fable/internal/events"
)

const (
	defaultBufferSize        = 64
	defaultHeartbeatInterval = 30 * time.Second
	defaultMissedLimit       = 3
)

// Config configures a Broadcaster.
type Config struct {
	Logger *slog.Logger

	// BufferSize is the per-subscriber event buffer (default 64). A
	// subscriber whose buffer is full misses events but never sees them
	// out of order.
	BufferSize int

	// HeartbeatInterval is how often liveness is checked (default 30s).
	HeartbeatInterval time.Duration

	// MissedLimit is how many intervals a subscriber may go untouched
	// before it is torn down (default 3).
	MissedLimit int
}

// Broadcaster is the status distribution channel. The orchestrator is the
// only publisher; transports subscribe on behalf of clients.
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[string]map[*Subscriber]struct{} // bookID -> subscribers
	snapshots map[string]Snapshot

	logger     *slog.Logger
	bufferSize int
	interval   time.Duration
	missed     int
}

// New creates a Broadcaster.
func New(cfg Config) *Broadcaster {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.MissedLimit <= 0 {
		cfg.MissedLimit = defaultMissedLimit
	}

	return &Broadcaster{
		subs:       make(map[string]map[*Subscriber]struct{}),
		snapshots:  make(map[string]Snapshot),
		logger:     logger,
		bufferSize: cfg.BufferSize,
		interval:   cfg.HeartbeatInterval,
		missed:     cfg.MissedLimit,
	}
}

// HeartbeatInterval returns the configured liveness check interval, shared
// with transports so ping cadence and reaping agree.
func (b *Broadcaster) HeartbeatInterval() time.Duration {
	return b.interval
}

// Subscribe registers a new live subscriber for a book's events. Events
// published after this call are delivered in order on Events().
func (b *Broadcaster) Subscribe(bookID string) *Subscriber {
	sub := newSubscriber(bookID, b.bufferSize)

	b.mu.Lock()
	set, ok := b.subs[bookID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.subs[bookID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	b.logger.Debug("subscriber attached", "book_id", bookID, "sub_id", sub.ID())
	return sub
}

// Unsubscribe removes a subscriber and closes its event channel.
// Safe to call multiple times and from any goroutine.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	if set, ok := b.subs[sub.bookID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.bookID)
		}
	}
	b.mu.Unlock()

	sub.close()
}

// Publish delivers ev to every live subscriber for its book and updates the
// retained snapshot. The snapshot advances even with no subscribers
// attached, so polling clients always see the latest state.
func (b *Broadcaster) Publish(ev events.Event) {
	b.mu.Lock()
	snap := b.snapshots[ev.Book()]
	snap.apply(ev)
	b.snapshots[ev.Book()] = snap

	targets := make([]*Subscriber, 0, len(b.subs[ev.Book()]))
	for sub := range b.subs[ev.Book()] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if !sub.deliver(ev) {
			b.logger.Warn("subscriber buffer full, dropping event",
				"book_id", ev.Book(), "sub_id", sub.ID(), "type", ev.EventType())
		}
	}
}

// Snapshot returns the last-known status for a book. ok is false when no
// event has ever been published for it.
func (b *Broadcaster) Snapshot(bookID string) (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.snapshots[bookID]
	return snap, ok
}

// SubscriberCount returns the number of live subscribers for a book.
func (b *Broadcaster) SubscriberCount(bookID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[bookID])
}

// Run reaps subscribers whose transport stopped touching them. Blocks until
// ctx is cancelled; call in a goroutine.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.reapStale()
		}
	}
}

func (b *Broadcaster) reapStale() {
	cutoff := time.Now().Add(-time.Duration(b.missed) * b.interval)

	b.mu.Lock()
	var stale []*Subscriber
	for _, set := range b.subs {
		for sub := range set {
			if sub.lastSeen().Before(cutoff) {
				stale = append(stale, sub)
			}
		}
	}
	b.mu.Unlock()

	for _, sub := range stale {
		b.logger.Info("reaping stale subscriber", "book_id", sub.bookID, "sub_id", sub.ID())
		b.Unsubscribe(sub)
	}
}
