package subscriber

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/rickgao/marketbus/internal/event"
)

func marketCandle(symbol string, prevClose, close float64) *event.Candle {
	return &event.Candle{Symbol: symbol, PrevClose: prevClose, Close: close}
}

func TestComputeBreadth(t *testing.T) {
	b := newTestBus(t)
	br := NewBreadth("breadth-test", 0, b, slog.Default())

	ctx := context.Background()
	if err := br.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer br.Stop(ctx)

	// 3 advancing, 2 declining.
	b.Publish(ctx, event.ChannelCandle, marketCandle("AAPL", 100, 101))
	b.Publish(ctx, event.ChannelCandle, marketCandle("MSFT", 400, 405))
	b.Publish(ctx, event.ChannelCandle, marketCandle("NVDA", 130, 131))
	b.Publish(ctx, event.ChannelCandle, marketCandle("AMD", 150, 148))
	b.Publish(ctx, event.ChannelCandle, marketCandle("INTC", 30, 29))

	got := br.ComputeBreadth()
	if got.Advances != 3 || got.Declines != 2 || got.Unchanged != 0 {
		t.Fatalf("adv/dec/unch = %d/%d/%d, want 3/2/0", got.Advances, got.Declines, got.Unchanged)
	}
	if got.Total != 5 {
		t.Errorf("Total = %d, want 5", got.Total)
	}
	if got.ADRatio != 1.5 {
		t.Errorf("ADRatio = %v, want 1.5", got.ADRatio)
	}
	if math.Abs(got.Sentiment-0.2) > 1e-9 {
		t.Errorf("Sentiment = %v, want 0.2", got.Sentiment)
	}
}

func TestComputeBreadthNoDeclines(t *testing.T) {
	b := newTestBus(t)
	br := NewBreadth("breadth-test", 0, b, slog.Default())

	ctx := context.Background()
	if err := br.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer br.Stop(ctx)

	b.Publish(ctx, event.ChannelCandle, marketCandle("AAPL", 100, 101))
	b.Publish(ctx, event.ChannelCandle, marketCandle("MSFT", 400, 400))

	got := br.ComputeBreadth()
	if got.ADRatio != 0 {
		t.Errorf("ADRatio = %v with zero declines, want 0 (undefined)", got.ADRatio)
	}
	if got.Unchanged != 1 {
		t.Errorf("Unchanged = %d, want 1", got.Unchanged)
	}
}

func TestBreadthLatestCandleWins(t *testing.T) {
	b := newTestBus(t)
	br := NewBreadth("breadth-test", 0, b, slog.Default())

	ctx := context.Background()
	if err := br.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer br.Stop(ctx)

	// Same symbol flips from advancing to declining; only the latest counts.
	b.Publish(ctx, event.ChannelCandle, marketCandle("AAPL", 100, 105))
	b.Publish(ctx, event.ChannelCandle, marketCandle("AAPL", 100, 95))

	got := br.ComputeBreadth()
	if got.Advances != 0 || got.Declines != 1 || got.Total != 1 {
		t.Errorf("adv/dec/total = %d/%d/%d, want 0/1/1", got.Advances, got.Declines, got.Total)
	}
}

func TestBreadthPublishesSummary(t *testing.T) {
	b := newTestBus(t)
	br := NewBreadth("breadth-test", time.Hour, b, slog.Default())

	ctx := context.Background()
	var got []*event.Breadth
	b.Subscribe(ctx, event.ChannelBreadth, "capture", func(_ string, ev event.Event) {
		got = append(got, ev.(*event.Breadth))
	})

	if err := br.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer br.Stop(ctx)

	// Nothing tracked yet: no summary should go out.
	br.publish(ctx)
	if len(got) != 0 {
		t.Fatalf("published %d summaries with no data, want 0", len(got))
	}

	b.Publish(ctx, event.ChannelCandle, marketCandle("AAPL", 100, 101))
	br.publish(ctx)
	if len(got) != 1 {
		t.Fatalf("published %d summaries, want 1", len(got))
	}
	if got[0].Advances != 1 {
		t.Errorf("Advances = %d, want 1", got[0].Advances)
	}
}
