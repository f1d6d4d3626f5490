package publisher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketbus/internal/broker"
	"github.com/rickgao/marketbus/internal/event"
	"github.com/rickgao/marketbus/internal/quote"
)

// Config holds publisher settings.
type Config struct {
	ID              string
	Symbols         []string
	BatchSize       int           // symbols per fetch request
	RateLimit       int           // max fetch requests per RateLimitPeriod
	RateLimitPeriod time.Duration
	PublishInterval time.Duration // cycle interval
	DataInterval    string        // bar interval requested from the source
	Period          string        // lookback requested from the source
	Concurrency     int           // concurrent batch fetches (default 4)
}

// Stats holds publisher counters.
type Stats struct {
	Cycles    int64
	Succeeded int64
	Failed    int64
}

// Publisher periodically fetches quotes and emits them onto the bus.
type Publisher struct {
	cfg     Config
	fetcher quote.Fetcher
	broker  broker.Broker
	logger  *slog.Logger
	limiter *rateLimiter

	startedAt time.Time
	running   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles    atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// New creates a publisher.
func New(cfg Config, fetcher quote.Fetcher, b broker.Broker, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	return &Publisher{
		cfg:     cfg,
		fetcher: fetcher,
		broker:  b,
		logger:  logger,
		limiter: newRateLimiter(cfg.RateLimit, cfg.RateLimitPeriod),
	}
}

// ID returns the publisher's configured id.
func (p *Publisher) ID() string { return p.cfg.ID }

// Running reports whether the publish loop is active.
func (p *Publisher) Running() bool { return p.running.Load() }

// Stats returns publisher counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Cycles:    p.cycles.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
	}
}

// Start begins the publish loop.
func (p *Publisher) Start(ctx context.Context) error {
	if p.running.Load() {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.startedAt = time.Now()
	p.running.Store(true)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("publisher started",
		"id", p.cfg.ID,
		"symbols", len(p.cfg.Symbols),
		"interval", p.cfg.PublishInterval,
		"batch_size", p.cfg.BatchSize,
	)
	return nil
}

// Stop shuts the publish loop down.
func (p *Publisher) Stop(ctx context.Context) error {
	if !p.running.Load() {
		return nil
	}

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("publisher stopped", "id", p.cfg.ID)
	case <-ctx.Done():
		p.logger.Warn("publisher stop timed out", "id", p.cfg.ID)
	}

	p.running.Store(false)
	return nil
}

// run is the main publish loop.
func (p *Publisher) run() {
	defer p.wg.Done()
	defer p.running.Store(false)

	ticker := time.NewTicker(p.cfg.PublishInterval)
	defer ticker.Stop()

	// Fetch immediately on start.
	p.cycle(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.cycle(p.ctx)
		}
	}
}

// cycle runs one fetch-and-publish pass over the symbol set and always
// emits a Status summary, even when every fetch failed.
func (p *Publisher) cycle(ctx context.Context) {
	start := time.Now()

	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, batch := range p.batches() {
		batch := batch
		g.Go(func() error {
			if err := p.limiter.acquire(gctx); err != nil {
				failed.Add(int64(len(batch)))
				return nil
			}

			rows, err := p.fetcher.Fetch(gctx, batch, p.cfg.DataInterval, p.cfg.Period)
			if err != nil {
				p.logger.Warn("batch fetch failed",
					"id", p.cfg.ID,
					"symbols", len(batch),
					"error", err,
				)
				failed.Add(int64(len(batch)))
				return nil
			}

			got := make(map[string]bool, len(rows))
			for _, row := range rows {
				got[row.Symbol] = true
				p.publishCandle(gctx, row)
			}
			succeeded.Add(int64(len(got)))
			failed.Add(int64(len(batch) - len(got)))
			return nil
		})
	}
	g.Wait()

	p.cycles.Add(1)
	p.succeeded.Add(succeeded.Load())
	p.failed.Add(failed.Load())

	p.publishStatus(ctx, succeeded.Load(), failed.Load(), time.Since(start))

	p.logger.Debug("publish cycle complete",
		"id", p.cfg.ID,
		"succeeded", succeeded.Load(),
		"failed", failed.Load(),
		"duration", time.Since(start),
	)
}

// batches splits the symbol set into fetch-sized chunks.
func (p *Publisher) batches() [][]string {
	var out [][]string
	for i := 0; i < len(p.cfg.Symbols); i += p.cfg.BatchSize {
		end := i + p.cfg.BatchSize
		if end > len(p.cfg.Symbols) {
			end = len(p.cfg.Symbols)
		}
		out = append(out, p.cfg.Symbols[i:end])
	}
	return out
}

func (p *Publisher) publishCandle(ctx context.Context, row quote.Row) {
	candle := &event.Candle{
		Symbol:    row.Symbol,
		TradeDate: row.TradeDate,
		Timestamp: row.Timestamp,
		Open:      row.Open,
		High:      row.High,
		Low:       row.Low,
		Close:     row.Close,
		Volume:    row.Volume,
		PrevClose: row.PrevClose,
		Series:    p.cfg.DataInterval,
		Source:    p.cfg.ID,
	}

	if err := p.broker.Publish(ctx, event.ChannelCandle, candle); err != nil {
		p.logger.Warn("publish candle failed",
			"id", p.cfg.ID,
			"symbol", row.Symbol,
			"error", err,
		)
	}
}

func (p *Publisher) publishStatus(ctx context.Context, succeeded, failed int64, fetchDur time.Duration) {
	state := event.StateHealthy
	switch {
	case succeeded == 0 && failed > 0:
		state = event.StateUnhealthy
	case failed > 0:
		state = event.StateDegraded
	}

	status := &event.Status{
		PublisherID:   p.cfg.ID,
		State:         state,
		Succeeded:     succeeded,
		Failed:        failed,
		FetchMicros:   fetchDur.Microseconds(),
		UptimeSeconds: int64(time.Since(p.startedAt).Seconds()),
		Timestamp:     time.Now().UnixMicro(),
	}

	if err := p.broker.Publish(ctx, event.ChannelStatus, status); err != nil {
		p.logger.Warn("publish status failed", "id", p.cfg.ID, "error", err)
	}
}
