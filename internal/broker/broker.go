package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickgao/marketbus/internal/codec"
	"github.com/rickgao/marketbus/internal/event"
)

// Backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// Errors
var (
	ErrNotConnected = errors.New("broker not connected")
	ErrNoChannel    = errors.New("channel is required")
)

// Handler receives decoded events for a channel. Handlers are invoked from
// the broker's dispatch path and must not block.
type Handler func(channel string, ev event.Event)

// Broker is the pub/sub transport abstraction.
type Broker interface {
	// Connect establishes the transport. Safe to call more than once.
	Connect(ctx context.Context) error

	// Disconnect tears the transport down and drops all subscriptions.
	Disconnect() error

	// Publish sends an event on a channel. Fire-and-forget: it returns as
	// soon as the transport accepts the message and never waits for
	// subscriber processing to complete or succeed.
	Publish(ctx context.Context, channel string, ev event.Event) error

	// Subscribe registers a handler under an owner id. One handler per
	// (channel, id) pair; re-subscribing replaces the previous handler.
	Subscribe(ctx context.Context, channel, id string, h Handler) error

	// Unsubscribe removes the handler registered under (channel, id).
	Unsubscribe(channel, id string) error

	// Stats returns transport counters.
	Stats() Stats
}

// Stats holds transport counters common to all backends.
type Stats struct {
	Published       int64 `json:"published"`
	Delivered       int64 `json:"delivered"`
	DecodeErrors    int64 `json:"decode_errors"`
	TransportErrors int64 `json:"transport_errors"`
}

// New constructs the backend with the given name. The codec is only used by
// networked backends; the memory backend dispatches event objects directly.
func New(backend, url, name string, c codec.Codec, logger *slog.Logger) (Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch backend {
	case BackendMemory:
		return NewMemory(logger), nil
	case BackendNATS:
		return NewNATS(url, name, c, logger), nil
	default:
		return nil, fmt.Errorf("unknown broker backend %q", backend)
	}
}
