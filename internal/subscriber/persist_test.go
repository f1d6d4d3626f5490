package subscriber

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/marketbus/internal/broker"
	"github.com/rickgao/marketbus/internal/event"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]*event.Candle
	err     error
}

func (f *fakeSink) WriteBatch(_ context.Context, candles []*event.Candle) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.batches = append(f.batches, candles)
	return int64(len(candles)), nil
}

func (f *fakeSink) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeDLQ struct {
	mu      sync.Mutex
	records []string
}

func (f *fakeDLQ) Record(_ context.Context, _ string, ev event.Event, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, ev.(*event.Candle).Symbol)
	return nil
}

func newTestBus(t *testing.T) *broker.Memory {
	t.Helper()
	b := broker.NewMemory(slog.Default())
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return b
}

func candle(symbol string, close float64) *event.Candle {
	return &event.Candle{Symbol: symbol, Close: close, Timestamp: time.Now().UnixMicro()}
}

func TestPersistFlushesExactlyAtBatchSize(t *testing.T) {
	b := newTestBus(t)
	sink := &fakeSink{}
	p := NewPersist(PersistConfig{ID: "persist-test", BatchSize: 3}, sink, nil, b, slog.Default())

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(ctx)

	b.Publish(ctx, event.ChannelCandle, candle("AAPL", 1))
	b.Publish(ctx, event.ChannelCandle, candle("MSFT", 2))
	if got := sink.batchCount(); got != 0 {
		t.Fatalf("flushed %d batches before batch_size reached, want 0", got)
	}

	b.Publish(ctx, event.ChannelCandle, candle("NVDA", 3))
	if got := sink.batchCount(); got != 1 {
		t.Fatalf("flushed %d batches after third candle, want exactly 1", got)
	}
	if got := len(sink.batches[0]); got != 3 {
		t.Errorf("batch size = %d, want 3", got)
	}
	if st := p.Stats(); st.Processed != 3 {
		t.Errorf("Processed = %d, want 3", st.Processed)
	}
}

func TestPersistStopFlushesRemainder(t *testing.T) {
	b := newTestBus(t)
	sink := &fakeSink{}
	p := NewPersist(PersistConfig{ID: "persist-test", BatchSize: 10}, sink, nil, b, slog.Default())

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	b.Publish(ctx, event.ChannelCandle, candle("AAPL", 1))
	b.Publish(ctx, event.ChannelCandle, candle("MSFT", 2))

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := sink.batchCount(); got != 1 {
		t.Fatalf("flushed %d batches on Stop, want 1", got)
	}
	if got := len(sink.batches[0]); got != 2 {
		t.Errorf("final batch size = %d, want 2", got)
	}
}

func TestPersistFailedBatchGoesToDeadLetter(t *testing.T) {
	b := newTestBus(t)
	sink := &fakeSink{err: errors.New("db down")}
	dl := &fakeDLQ{}
	p := NewPersist(PersistConfig{ID: "persist-test", BatchSize: 2}, sink, dl, b, slog.Default())

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(ctx)

	b.Publish(ctx, event.ChannelCandle, candle("AAPL", 1))
	b.Publish(ctx, event.ChannelCandle, candle("MSFT", 2))

	dl.mu.Lock()
	got := len(dl.records)
	dl.mu.Unlock()
	if got != 2 {
		t.Fatalf("dead-lettered %d candles, want 2", got)
	}
	if st := p.Stats(); st.Errors != 2 {
		t.Errorf("Errors = %d, want 2", st.Errors)
	}

	// Buffer must be cleared after the failed flush; the next fill is a
	// fresh batch, not a retry of the poisoned one.
	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	b.Publish(ctx, event.ChannelCandle, candle("NVDA", 3))
	b.Publish(ctx, event.ChannelCandle, candle("AMD", 4))
	if got := len(sink.batches[0]); got != 2 {
		t.Errorf("post-failure batch size = %d, want 2", got)
	}
}

func TestPersistIntervalFlush(t *testing.T) {
	b := newTestBus(t)
	sink := &fakeSink{}
	p := NewPersist(PersistConfig{
		ID:            "persist-test",
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
	}, sink, nil, b, slog.Default())

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(ctx)

	b.Publish(ctx, event.ChannelCandle, candle("AAPL", 1))

	deadline := time.Now().Add(time.Second)
	for sink.batchCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("interval flush never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
