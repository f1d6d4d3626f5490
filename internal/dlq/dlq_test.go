package dlq

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/rickgao/marketbus/internal/codec"
	"github.com/rickgao/marketbus/internal/event"
)

func newTestQueue(t *testing.T, redeliver RedeliverFunc) *Queue {
	t.Helper()

	c, err := codec.New(codec.NameJSON)
	if err != nil {
		t.Fatalf("codec.New failed: %v", err)
	}

	q, err := New(Config{
		Path:          ":memory:",
		MaxRetries:    3,
		Retention:     7 * 24 * time.Hour,
		AutoRetry:     false,
		RetryInterval: time.Second,
	}, c, redeliver, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { q.Stop(context.Background()) })
	return q
}

func TestRecordAndRedeliver(t *testing.T) {
	var delivered []event.Event
	q := newTestQueue(t, func(_ context.Context, channel string, ev event.Event) error {
		if channel != event.ChannelCandle {
			t.Errorf("channel = %q, want %q", channel, event.ChannelCandle)
		}
		delivered = append(delivered, ev)
		return nil
	})

	ctx := context.Background()
	candle := &event.Candle{Symbol: "AAPL", Close: 232.75}
	if err := q.Record(ctx, event.ChannelCandle, candle, "write failed"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	q.retryOnce(ctx, time.Now())

	if len(delivered) != 1 {
		t.Fatalf("redelivered %d events, want 1", len(delivered))
	}
	got, ok := delivered[0].(*event.Candle)
	if !ok || got.Symbol != "AAPL" {
		t.Errorf("redelivered event = %+v, want the recorded candle", delivered[0])
	}

	stats := q.Stats()
	if stats.Recorded != 1 || stats.Redelivered != 1 {
		t.Errorf("stats = %+v, want Recorded=1 Redelivered=1", stats)
	}
	if stats.Pending != 0 {
		t.Errorf("Pending = %d, want 0 after successful redelivery", stats.Pending)
	}
}

func TestRetryCountIncrements(t *testing.T) {
	q := newTestQueue(t, func(context.Context, string, event.Event) error {
		return errors.New("still failing")
	})

	ctx := context.Background()
	if err := q.Record(ctx, event.ChannelCandle, &event.Candle{Symbol: "MSFT"}, "boom"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// Burn the whole retry budget, then keep going.
	for i := 0; i < 5; i++ {
		q.retryOnce(ctx, time.Now())
	}

	entries, err := q.list(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].RetryCount != 3 {
		t.Errorf("RetryCount = %d, want exactly max_retries (3)", entries[0].RetryCount)
	}

	if got := q.Stats().Failed; got != 3 {
		t.Errorf("Failed = %d, want 3", got)
	}
}

func TestTerminalPurge(t *testing.T) {
	attempts := 0
	q := newTestQueue(t, func(context.Context, string, event.Event) error {
		attempts++
		return errors.New("still failing")
	})

	ctx := context.Background()
	if err := q.Record(ctx, event.ChannelCandle, &event.Candle{Symbol: "NVDA"}, "boom"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		q.retryOnce(ctx, now)
	}

	// Past the retention window the entry must be purged and reported, not
	// retried indefinitely.
	q.retryOnce(ctx, now.Add(8*24*time.Hour))

	if attempts != 3 {
		t.Errorf("redelivery attempts = %d, want 3", attempts)
	}

	stats := q.Stats()
	if stats.Purged != 1 {
		t.Errorf("Purged = %d, want 1", stats.Purged)
	}
	if stats.Pending != 0 {
		t.Errorf("Pending = %d, want 0 after purge", stats.Pending)
	}

	// Nothing left to retry.
	q.retryOnce(ctx, now.Add(9*24*time.Hour))
	if attempts != 3 {
		t.Errorf("redelivery attempted after purge; attempts = %d", attempts)
	}
}

func TestStartStopAutoRetry(t *testing.T) {
	c, _ := codec.New(codec.NameJSON)
	q, err := New(Config{
		Path:          ":memory:",
		MaxRetries:    1,
		Retention:     time.Hour,
		AutoRetry:     true,
		RetryInterval: 10 * time.Millisecond,
	}, c, func(context.Context, string, event.Event) error { return nil }, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
