package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/marketbus/internal/broker"
	"github.com/rickgao/marketbus/internal/event"
)

// CandleSink is the external bulk-write collaborator. One call per batch;
// an error fails the whole batch.
type CandleSink interface {
	WriteBatch(ctx context.Context, candles []*event.Candle) (int64, error)
}

// DeadLetter receives messages whose processing failed. *dlq.Queue
// implements it.
type DeadLetter interface {
	Record(ctx context.Context, channel string, ev event.Event, reason string) error
}

// PersistConfig holds batched-writer settings.
type PersistConfig struct {
	ID            string
	Channels      []string
	BatchSize     int
	FlushInterval time.Duration
}

// Persist accumulates candles and writes them to the sink in batches. A
// failed batch goes to the dead-letter queue in full and the buffer is
// cleared either way, so a poisoned batch can never wedge the consumer.
type Persist struct {
	Base
	cfg  PersistConfig
	sink CandleSink
	dlq  DeadLetter

	batchMu     sync.Mutex
	batch       []*event.Candle
	flushes     int64
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPersist creates the batched persistence subscriber. dl may be nil when
// the dead-letter queue is disabled.
func NewPersist(cfg PersistConfig, sink CandleSink, dl DeadLetter, b broker.Broker, logger *slog.Logger) *Persist {
	if len(cfg.Channels) == 0 {
		cfg.Channels = []string{event.ChannelCandle}
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Persist{
		Base:  NewBase(cfg.ID, cfg.Channels, b, logger),
		cfg:   cfg,
		sink:  sink,
		dlq:   dl,
		batch: make([]*event.Candle, 0, cfg.BatchSize),
	}
}

// Start subscribes and launches the interval flush loop.
func (p *Persist) Start(ctx context.Context) error {
	started, err := p.StartSubscriptions(ctx, p.OnMessage)
	if err != nil {
		return fmt.Errorf("start persist %s: %w", p.ID(), err)
	}
	if !started {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	if p.cfg.FlushInterval > 0 {
		p.flushTicker = time.NewTicker(p.cfg.FlushInterval)
		p.wg.Add(1)
		go p.flushLoop()
	}
	return nil
}

// Stop unsubscribes and flushes whatever is buffered.
func (p *Persist) Stop(ctx context.Context) error {
	if !p.StopSubscriptions() {
		return nil
	}

	if p.cancel != nil {
		p.cancel()
	}
	if p.flushTicker != nil {
		p.flushTicker.Stop()
	}
	p.wg.Wait()

	p.flush(ctx)
	return nil
}

// OnMessage buffers one candle and flushes when the batch fills.
func (p *Persist) OnMessage(channel string, ev event.Event) {
	candle, ok := ev.(*event.Candle)
	if !ok {
		p.CountError()
		return
	}

	p.batchMu.Lock()
	p.batch = append(p.batch, candle)
	full := len(p.batch) >= p.cfg.BatchSize
	p.batchMu.Unlock()

	if full {
		p.flush(context.Background())
	}
}

// Flushes returns how many batches have been written; used by tests and
// the stats surface.
func (p *Persist) Flushes() int64 {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	return p.flushes
}

// flushLoop flushes on the interval so a quiet channel still drains.
func (p *Persist) flushLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.flushTicker.C:
			p.flush(p.ctx)
		}
	}
}

// flush writes the current batch. On failure every candle in the batch is
// dead-lettered; the buffer is cleared regardless.
func (p *Persist) flush(ctx context.Context) {
	p.batchMu.Lock()
	if len(p.batch) == 0 {
		p.batchMu.Unlock()
		return
	}
	batch := p.batch
	p.batch = make([]*event.Candle, 0, p.cfg.BatchSize)
	p.flushes++
	p.batchMu.Unlock()

	start := time.Now()
	written, err := p.sink.WriteBatch(ctx, batch)
	if err != nil {
		p.Logger().Error("batch write failed",
			"id", p.ID(),
			"count", len(batch),
			"error", err,
		)
		for range batch {
			p.CountError()
		}
		if p.dlq != nil {
			for _, c := range batch {
				if derr := p.dlq.Record(ctx, event.ChannelCandle, c, err.Error()); derr != nil {
					p.Logger().Error("dead-letter record failed", "id", p.ID(), "error", derr)
				}
			}
		}
		return
	}

	for range batch {
		p.CountProcessed()
	}

	p.Logger().Debug("flushed candles",
		"id", p.ID(),
		"count", len(batch),
		"written", written,
		"duration", time.Since(start),
	)
}
