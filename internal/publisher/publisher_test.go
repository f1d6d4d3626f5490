package publisher

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/rickgao/marketbus/internal/broker"
	"github.com/rickgao/marketbus/internal/event"
	"github.com/rickgao/marketbus/internal/quote"
)

// fakeFetcher returns canned rows per symbol and fails the rest.
type fakeFetcher struct {
	rows map[string]quote.Row
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, symbols []string, _, _ string) ([]quote.Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []quote.Row
	for _, s := range symbols {
		if row, ok := f.rows[s]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

type captured struct {
	candles  []*event.Candle
	statuses []*event.Status
}

func setupBus(t *testing.T) (*broker.Memory, *captured) {
	t.Helper()
	b := broker.NewMemory(slog.Default())
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Memory dispatch is synchronous, so no locking is needed here.
	sink := &captured{}
	b.Subscribe(ctx, event.ChannelCandle, "test", func(_ string, ev event.Event) {
		sink.candles = append(sink.candles, ev.(*event.Candle))
	})
	b.Subscribe(ctx, event.ChannelStatus, "test", func(_ string, ev event.Event) {
		sink.statuses = append(sink.statuses, ev.(*event.Status))
	})
	return b, sink
}

func newTestPublisher(t *testing.T, b broker.Broker, f quote.Fetcher) *Publisher {
	t.Helper()
	p := New(Config{
		ID:              "quotes-test",
		Symbols:         []string{"AAPL", "MSFT", "NVDA"},
		BatchSize:       2,
		RateLimit:       100,
		RateLimitPeriod: time.Second,
		PublishInterval: time.Hour,
		DataInterval:    "1d",
		Period:          "5d",
		Concurrency:     1,
	}, f, b, slog.Default())
	p.startedAt = time.Now()
	return p
}

func TestCyclePublishesCandlesAndStatus(t *testing.T) {
	b, sink := setupBus(t)
	fetcher := &fakeFetcher{rows: map[string]quote.Row{
		"AAPL": {Symbol: "AAPL", TradeDate: "2026-08-21", Close: 232.75, PrevClose: 229.9},
		"MSFT": {Symbol: "MSFT", TradeDate: "2026-08-21", Close: 415.2, PrevClose: 417.0},
		"NVDA": {Symbol: "NVDA", TradeDate: "2026-08-21", Close: 131.1, PrevClose: 131.1},
	}}

	p := newTestPublisher(t, b, fetcher)
	p.cycle(context.Background())

	if len(sink.candles) != 3 {
		t.Fatalf("published %d candles, want 3", len(sink.candles))
	}
	if sink.candles[0].Source != "quotes-test" {
		t.Errorf("candle Source = %q, want publisher id", sink.candles[0].Source)
	}
	if sink.candles[0].Series != "1d" {
		t.Errorf("candle Series = %q, want %q", sink.candles[0].Series, "1d")
	}

	if len(sink.statuses) != 1 {
		t.Fatalf("published %d status events, want exactly 1 per cycle", len(sink.statuses))
	}
	st := sink.statuses[0]
	if st.State != event.StateHealthy {
		t.Errorf("State = %q, want %q", st.State, event.StateHealthy)
	}
	if st.Succeeded != 3 || st.Failed != 0 {
		t.Errorf("Succeeded=%d Failed=%d, want 3/0", st.Succeeded, st.Failed)
	}
}

func TestCycleCountsFailedSymbols(t *testing.T) {
	b, sink := setupBus(t)
	// NVDA missing from the source: counted and skipped, not fatal.
	fetcher := &fakeFetcher{rows: map[string]quote.Row{
		"AAPL": {Symbol: "AAPL", Close: 232.75},
		"MSFT": {Symbol: "MSFT", Close: 415.2},
	}}

	p := newTestPublisher(t, b, fetcher)
	p.cycle(context.Background())

	if len(sink.candles) != 2 {
		t.Fatalf("published %d candles, want 2", len(sink.candles))
	}
	st := sink.statuses[0]
	if st.Succeeded != 2 || st.Failed != 1 {
		t.Errorf("Succeeded=%d Failed=%d, want 2/1", st.Succeeded, st.Failed)
	}
	if st.State != event.StateDegraded {
		t.Errorf("State = %q, want %q", st.State, event.StateDegraded)
	}
}

func TestCycleEmitsStatusWhenEverythingFails(t *testing.T) {
	b, sink := setupBus(t)
	fetcher := &fakeFetcher{err: errors.New("source down")}

	p := newTestPublisher(t, b, fetcher)
	p.cycle(context.Background())

	if len(sink.candles) != 0 {
		t.Errorf("published %d candles, want 0", len(sink.candles))
	}
	if len(sink.statuses) != 1 {
		t.Fatalf("published %d status events, want 1", len(sink.statuses))
	}
	st := sink.statuses[0]
	if st.State != event.StateUnhealthy {
		t.Errorf("State = %q, want %q", st.State, event.StateUnhealthy)
	}
	if st.Succeeded != 0 || st.Failed != 3 {
		t.Errorf("Succeeded=%d Failed=%d, want 0/3", st.Succeeded, st.Failed)
	}
}

func TestStartStop(t *testing.T) {
	b, _ := setupBus(t)
	p := newTestPublisher(t, b, &fakeFetcher{})

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !p.Running() {
		t.Error("Running() = false after Start")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if p.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, 50*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.acquire(ctx); err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
	}
	// Third acquire must have waited for the next window.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("three acquires took %v, want at least ~50ms", elapsed)
	}
}

func TestRateLimiterCancel(t *testing.T) {
	rl := newRateLimiter(1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	if err := rl.acquire(ctx); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	cancel()
	if err := rl.acquire(ctx); err == nil {
		t.Error("acquire succeeded after cancel, want context error")
	}
}
