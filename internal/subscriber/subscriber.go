package subscriber

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/marketbus/internal/broker"
	"github.com/rickgao/marketbus/internal/event"
)

// Subscriber is the common contract every consumer satisfies.
type Subscriber interface {
	// ID returns the subscriber's configured id.
	ID() string

	// Channels returns the channel set this subscriber wants.
	Channels() []string

	// Start subscribes to all declared channels and marks the subscriber
	// running. Safe to call repeatedly.
	Start(ctx context.Context) error

	// Stop unsubscribes, flushes pending work, and marks the subscriber
	// stopped. Safe to call repeatedly.
	Stop(ctx context.Context) error

	// OnMessage is the broker's entry point. It must never panic out and
	// must never block the dispatch path.
	OnMessage(channel string, ev event.Event)

	// Running reports the lifecycle flag the health monitor watches.
	Running() bool

	// Stats returns processing counters.
	Stats() Stats
}

// Stats holds the counters every subscriber tracks.
type Stats struct {
	Processed int64
	Errors    int64
}

// Base carries the shared lifecycle and counters. Concrete subscribers
// embed it and call StartSubscriptions/StopSubscriptions from their own
// Start/Stop.
type Base struct {
	id       string
	channels []string
	broker   broker.Broker
	logger   *slog.Logger

	mu      sync.Mutex
	running bool

	processed atomic.Int64
	errors    atomic.Int64
}

// NewBase wires the shared plumbing.
func NewBase(id string, channels []string, b broker.Broker, logger *slog.Logger) Base {
	if logger == nil {
		logger = slog.Default()
	}
	return Base{
		id:       id,
		channels: channels,
		broker:   b,
		logger:   logger,
	}
}

// ID returns the subscriber id.
func (b *Base) ID() string { return b.id }

// Channels returns the declared channel set.
func (b *Base) Channels() []string { return b.channels }

// Running reports whether the subscriber is started.
func (b *Base) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Stats returns processing counters.
func (b *Base) Stats() Stats {
	return Stats{
		Processed: b.processed.Load(),
		Errors:    b.errors.Load(),
	}
}

// Logger returns the subscriber's logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Broker returns the bus this subscriber is attached to. Derived subscribers
// publish their results back through it.
func (b *Base) Broker() broker.Broker { return b.broker }

// CountProcessed records one successfully handled message.
func (b *Base) CountProcessed() { b.processed.Add(1) }

// CountError records one processing failure.
func (b *Base) CountError() { b.errors.Add(1) }

// StartSubscriptions registers handler on every declared channel and sets
// the running flag. Returns true if this call did the transition (false if
// already running).
func (b *Base) StartSubscriptions(ctx context.Context, handler broker.Handler) (bool, error) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return false, nil
	}
	b.mu.Unlock()

	for _, ch := range b.channels {
		if err := b.broker.Subscribe(ctx, ch, b.id, handler); err != nil {
			// Roll back partial subscriptions so a retry starts clean.
			for _, done := range b.channels {
				if done == ch {
					break
				}
				b.broker.Unsubscribe(done, b.id)
			}
			return false, err
		}
	}

	b.mu.Lock()
	b.running = true
	b.mu.Unlock()

	b.logger.Info("subscriber started", "id", b.id, "channels", b.channels)
	return true, nil
}

// StopSubscriptions removes all channel registrations and clears the
// running flag. Returns true if this call did the transition.
func (b *Base) StopSubscriptions() bool {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return false
	}
	b.running = false
	b.mu.Unlock()

	for _, ch := range b.channels {
		b.broker.Unsubscribe(ch, b.id)
	}

	b.logger.Info("subscriber stopped", "id", b.id)
	return true
}

// MarkStopped clears the running flag without touching subscriptions; used
// when a background loop dies so the health monitor can see it.
func (b *Base) MarkStopped() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}
