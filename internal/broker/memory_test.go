package broker

import (
	"context"
	"log/slog"
	"testing"

	"github.com/rickgao/marketbus/internal/event"
)

func newConnectedMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory(slog.Default())
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return m
}

func TestMemory_PublishDelivery(t *testing.T) {
	m := newConnectedMemory(t)
	ctx := context.Background()

	var got []event.Event
	err := m.Subscribe(ctx, event.ChannelCandle, "sub-1", func(ch string, ev event.Event) {
		if ch != event.ChannelCandle {
			t.Errorf("channel = %q, want %q", ch, event.ChannelCandle)
		}
		got = append(got, ev)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	candle := &event.Candle{Symbol: "AAPL", Close: 232.75}
	if err := m.Publish(ctx, event.ChannelCandle, candle); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Memory dispatch is synchronous; delivery completed before Publish returned.
	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	if got[0] != event.Event(candle) {
		t.Errorf("delivered a different object than published")
	}
}

func TestMemory_ChannelIsolation(t *testing.T) {
	m := newConnectedMemory(t)
	ctx := context.Background()

	var candles, breadths int
	m.Subscribe(ctx, event.ChannelCandle, "sub-1", func(string, event.Event) { candles++ })
	m.Subscribe(ctx, event.ChannelBreadth, "sub-2", func(string, event.Event) { breadths++ })

	m.Publish(ctx, event.ChannelBreadth, &event.Breadth{Total: 5})

	if candles != 0 {
		t.Errorf("candle handler got %d events, want 0", candles)
	}
	if breadths != 1 {
		t.Errorf("breadth handler got %d events, want 1", breadths)
	}
}

func TestMemory_Unsubscribe(t *testing.T) {
	m := newConnectedMemory(t)
	ctx := context.Background()

	var count int
	m.Subscribe(ctx, event.ChannelCandle, "sub-1", func(string, event.Event) { count++ })
	m.Publish(ctx, event.ChannelCandle, &event.Candle{})

	if err := m.Unsubscribe(event.ChannelCandle, "sub-1"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	m.Publish(ctx, event.ChannelCandle, &event.Candle{})

	if count != 1 {
		t.Errorf("handler invoked %d times, want 1", count)
	}
}

func TestMemory_HandlerPanicContained(t *testing.T) {
	m := newConnectedMemory(t)
	ctx := context.Background()

	var delivered int
	m.Subscribe(ctx, event.ChannelCandle, "bad", func(string, event.Event) {
		panic("subscriber bug")
	})
	m.Subscribe(ctx, event.ChannelCandle, "good", func(string, event.Event) {
		delivered++
	})

	if err := m.Publish(ctx, event.ChannelCandle, &event.Candle{}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if delivered != 1 {
		t.Errorf("healthy handler got %d events, want 1", delivered)
	}
}

func TestMemory_PublishWhenDisconnected(t *testing.T) {
	m := NewMemory(slog.Default())
	err := m.Publish(context.Background(), event.ChannelCandle, &event.Candle{})
	if err != ErrNotConnected {
		t.Errorf("Publish error = %v, want ErrNotConnected", err)
	}
}

func TestMemory_Stats(t *testing.T) {
	m := newConnectedMemory(t)
	ctx := context.Background()

	m.Subscribe(ctx, event.ChannelCandle, "sub-1", func(string, event.Event) {})
	m.Publish(ctx, event.ChannelCandle, &event.Candle{})
	m.Publish(ctx, event.ChannelCandle, &event.Candle{})

	stats := m.Stats()
	if stats.Published != 2 {
		t.Errorf("Published = %d, want 2", stats.Published)
	}
	if stats.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", stats.Delivered)
	}
}
