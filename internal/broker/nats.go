package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rickgao/marketbus/internal/codec"
	"github.com/rickgao/marketbus/internal/event"
)

// NATS is the networked backend. Channel names map directly onto NATS
// subjects; payloads are envelopes encoded with the configured codec.
//
// Connection loss is tolerated transparently: the nats client reconnects on
// its own, and if the connection is closed outright the next Publish or
// Subscribe re-establishes it along with every active subscription.
type NATS struct {
	url    string
	name   string
	codec  codec.Codec
	logger *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	subs map[subKey]*natsSub

	statsMu sync.Mutex
	stats   Stats
}

type subKey struct {
	channel string
	id      string
}

type natsSub struct {
	handler Handler
	sub     *nats.Subscription
}

// NewNATS creates the networked backend. No connection is made until
// Connect (or the first Publish/Subscribe).
func NewNATS(url, name string, c codec.Codec, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{
		url:    url,
		name:   name,
		codec:  c,
		logger: logger,
		subs:   make(map[subKey]*natsSub),
	}
}

func (n *NATS) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ensureConnectedLocked()
}

// ensureConnectedLocked dials if needed and replays active subscriptions.
func (n *NATS) ensureConnectedLocked() error {
	if n.conn != nil && !n.conn.IsClosed() {
		return nil
	}

	conn, err := nats.Connect(n.url,
		nats.Name(n.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				n.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			n.logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		n.countTransportError()
		return fmt.Errorf("connect nats %s: %w", n.url, err)
	}
	n.conn = conn

	// Re-establish subscriptions that existed before the connection died.
	for key, s := range n.subs {
		sub, err := n.subscribeLocked(key.channel, s.handler)
		if err != nil {
			n.logger.Error("resubscribe failed", "channel", key.channel, "error", err)
			continue
		}
		s.sub = sub
	}

	n.logger.Info("nats connected", "url", conn.ConnectedUrl())
	return nil
}

func (n *NATS) Disconnect() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return nil
	}
	if err := n.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		n.conn.Close()
	}
	n.conn = nil
	n.subs = make(map[subKey]*natsSub)
	return nil
}

func (n *NATS) Publish(ctx context.Context, channel string, ev event.Event) error {
	if channel == "" {
		return ErrNoChannel
	}

	data, err := n.codec.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}

	n.mu.Lock()
	if err := n.ensureConnectedLocked(); err != nil {
		n.mu.Unlock()
		return err
	}
	conn := n.conn
	n.mu.Unlock()

	if err := conn.Publish(channel, data); err != nil {
		n.countTransportError()
		return fmt.Errorf("publish %s: %w", channel, err)
	}

	n.statsMu.Lock()
	n.stats.Published++
	n.statsMu.Unlock()
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, channel, id string, h Handler) error {
	if channel == "" {
		return ErrNoChannel
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.ensureConnectedLocked(); err != nil {
		return err
	}

	key := subKey{channel: channel, id: id}
	if prev, ok := n.subs[key]; ok && prev.sub != nil {
		prev.sub.Unsubscribe()
	}

	sub, err := n.subscribeLocked(channel, h)
	if err != nil {
		n.countTransportError()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	n.subs[key] = &natsSub{handler: h, sub: sub}
	return nil
}

func (n *NATS) subscribeLocked(channel string, h Handler) (*nats.Subscription, error) {
	return n.conn.Subscribe(channel, func(msg *nats.Msg) {
		ev, err := n.codec.Decode(msg.Data)
		if err != nil {
			// Malformed payload: count and drop, never crash the
			// consumer loop.
			n.statsMu.Lock()
			n.stats.DecodeErrors++
			n.statsMu.Unlock()
			n.logger.Warn("dropping undecodable message",
				"channel", msg.Subject,
				"error", err,
			)
			return
		}

		n.statsMu.Lock()
		n.stats.Delivered++
		n.statsMu.Unlock()
		h(msg.Subject, ev)
	})
}

func (n *NATS) Unsubscribe(channel, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := subKey{channel: channel, id: id}
	if s, ok := n.subs[key]; ok {
		delete(n.subs, key)
		if s.sub != nil {
			if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				return fmt.Errorf("unsubscribe %s: %w", channel, err)
			}
		}
	}
	return nil
}

func (n *NATS) Stats() Stats {
	n.statsMu.Lock()
	defer n.statsMu.Unlock()
	return n.stats
}

func (n *NATS) countTransportError() {
	n.statsMu.Lock()
	n.stats.TransportErrors++
	n.statsMu.Unlock()
}
