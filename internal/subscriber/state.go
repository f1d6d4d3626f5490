package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/marketbus/internal/broker"
	"github.com/rickgao/marketbus/internal/event"
)

// State keeps the latest candle per symbol and latest status per publisher.
// Last write wins; there is no history.
type State struct {
	Base

	mu       sync.RWMutex
	candles  map[string]*event.Candle
	statuses map[string]*event.Status
}

// NewState creates the in-memory state subscriber.
func NewState(id string, channels []string, b broker.Broker, logger *slog.Logger) *State {
	if len(channels) == 0 {
		channels = []string{event.ChannelCandle, event.ChannelStatus}
	}
	return &State{
		Base:     NewBase(id, channels, b, logger),
		candles:  make(map[string]*event.Candle),
		statuses: make(map[string]*event.Status),
	}
}

// Start subscribes to the candle and status channels.
func (s *State) Start(ctx context.Context) error {
	if _, err := s.StartSubscriptions(ctx, s.OnMessage); err != nil {
		return fmt.Errorf("start state %s: %w", s.ID(), err)
	}
	return nil
}

// Stop unsubscribes. Accumulated state stays readable.
func (s *State) Stop(ctx context.Context) error {
	s.StopSubscriptions()
	return nil
}

// OnMessage overwrites the per-key entry with the newest event.
func (s *State) OnMessage(channel string, ev event.Event) {
	switch e := ev.(type) {
	case *event.Candle:
		s.mu.Lock()
		s.candles[e.Symbol] = e
		s.mu.Unlock()
		s.CountProcessed()
	case *event.Status:
		s.mu.Lock()
		s.statuses[e.PublisherID] = e
		s.mu.Unlock()
		s.CountProcessed()
	default:
		s.CountError()
	}
}

// Candle returns the latest candle for symbol.
func (s *State) Candle(symbol string) (*event.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candles[symbol]
	return c, ok
}

// Candles returns a snapshot of the latest candle per symbol.
func (s *State) Candles() map[string]*event.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*event.Candle, len(s.candles))
	for k, v := range s.candles {
		out[k] = v
	}
	return out
}

// Status returns the latest status for a publisher id.
func (s *State) Status(id string) (*event.Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[id]
	return st, ok
}

// Statuses returns a snapshot of the latest status per publisher.
func (s *State) Statuses() map[string]*event.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*event.Status, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out
}
