package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rickgao/marketbus/internal/event"
)

// Memory is the in-process backend. Publish invokes every handler
// registered on the channel synchronously, skipping serialization
// entirely; from the subscriber's point of view this is indistinguishable
// from the networked path.
type Memory struct {
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
	handlers  map[string]map[string]Handler // channel → owner id → handler

	statsMu sync.Mutex
	stats   Stats
}

// NewMemory creates the in-process backend.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		logger:   logger,
		handlers: make(map[string]map[string]Handler),
	}
}

func (m *Memory) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Disconnect() error {
	m.mu.Lock()
	m.connected = false
	m.handlers = make(map[string]map[string]Handler)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Publish(ctx context.Context, channel string, ev event.Event) error {
	if channel == "" {
		return ErrNoChannel
	}

	m.mu.RLock()
	if !m.connected {
		m.mu.RUnlock()
		return ErrNotConnected
	}
	// Snapshot so handlers can subscribe/unsubscribe re-entrantly.
	var targets []Handler
	for _, h := range m.handlers[channel] {
		targets = append(targets, h)
	}
	m.mu.RUnlock()

	m.statsMu.Lock()
	m.stats.Published++
	m.statsMu.Unlock()

	for _, h := range targets {
		m.dispatch(channel, ev, h)
	}
	return nil
}

// dispatch invokes one handler. A handler panic is contained here so one
// broken subscriber cannot take the dispatch path down.
func (m *Memory) dispatch(channel string, ev event.Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscriber handler panicked",
				"channel", channel,
				"panic", r,
			)
		}
	}()

	h(channel, ev)

	m.statsMu.Lock()
	m.stats.Delivered++
	m.statsMu.Unlock()
}

func (m *Memory) Subscribe(ctx context.Context, channel, id string, h Handler) error {
	if channel == "" {
		return ErrNoChannel
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	if m.handlers[channel] == nil {
		m.handlers[channel] = make(map[string]Handler)
	}
	m.handlers[channel][id] = h
	return nil
}

func (m *Memory) Unsubscribe(channel, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owners, ok := m.handlers[channel]; ok {
		delete(owners, id)
		if len(owners) == 0 {
			delete(m.handlers, channel)
		}
	}
	return nil
}

func (m *Memory) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}
