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

// closePair tracks the two closes breadth needs per symbol.
type closePair struct {
	prev float64
	last float64
}

// Breadth aggregates advance/decline counts across all symbols seen on the
// candle channel and publishes a market-wide summary on an interval.
type Breadth struct {
	Base
	interval time.Duration

	mu      sync.RWMutex
	symbols map[string]closePair

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBreadth creates the breadth subscriber.
func NewBreadth(id string, interval time.Duration, b broker.Broker, logger *slog.Logger) *Breadth {
	return &Breadth{
		Base:     NewBase(id, []string{event.ChannelCandle}, b, logger),
		interval: interval,
		symbols:  make(map[string]closePair),
	}
}

// Start subscribes and launches the publish loop.
func (br *Breadth) Start(ctx context.Context) error {
	started, err := br.StartSubscriptions(ctx, br.OnMessage)
	if err != nil {
		return fmt.Errorf("start breadth %s: %w", br.ID(), err)
	}
	if !started {
		return nil
	}

	br.ctx, br.cancel = context.WithCancel(ctx)
	if br.interval > 0 {
		br.wg.Add(1)
		go br.publishLoop()
	}
	return nil
}

// Stop unsubscribes and halts the publish loop.
func (br *Breadth) Stop(ctx context.Context) error {
	if !br.StopSubscriptions() {
		return nil
	}
	if br.cancel != nil {
		br.cancel()
	}
	br.wg.Wait()
	return nil
}

// OnMessage records the candle's prev/last close for its symbol.
func (br *Breadth) OnMessage(channel string, ev event.Event) {
	candle, ok := ev.(*event.Candle)
	if !ok {
		br.CountError()
		return
	}

	pair := closePair{prev: candle.PrevClose, last: candle.Close}
	if pair.prev == 0 {
		// Source omitted prev close; fall back to the close we last saw so
		// the symbol still counts as unchanged rather than advancing.
		br.mu.RLock()
		if old, seen := br.symbols[candle.Symbol]; seen {
			pair.prev = old.last
		} else {
			pair.prev = candle.Close
		}
		br.mu.RUnlock()
	}

	br.mu.Lock()
	br.symbols[candle.Symbol] = pair
	br.mu.Unlock()
	br.CountProcessed()
}

// ComputeBreadth builds the current market summary. ADRatio is 0 when there
// are no declines, meaning the ratio is undefined.
func (br *Breadth) ComputeBreadth() *event.Breadth {
	br.mu.RLock()
	defer br.mu.RUnlock()

	out := &event.Breadth{Timestamp: time.Now().UnixMicro()}
	for _, pair := range br.symbols {
		switch {
		case pair.last > pair.prev:
			out.Advances++
		case pair.last < pair.prev:
			out.Declines++
		default:
			out.Unchanged++
		}
	}
	out.Total = out.Advances + out.Declines + out.Unchanged

	if out.Declines > 0 {
		out.ADRatio = float64(out.Advances) / float64(out.Declines)
	}
	if out.Total > 0 {
		out.Sentiment = float64(out.Advances-out.Declines) / float64(out.Total)
	}
	return out
}

func (br *Breadth) publishLoop() {
	defer br.wg.Done()

	ticker := time.NewTicker(br.interval)
	defer ticker.Stop()

	for {
		select {
		case <-br.ctx.Done():
			return
		case <-ticker.C:
			br.publish(br.ctx)
		}
	}
}

func (br *Breadth) publish(ctx context.Context) {
	summary := br.ComputeBreadth()
	if summary.Total == 0 {
		return
	}
	if err := br.Broker().Publish(ctx, event.ChannelBreadth, summary); err != nil {
		br.Logger().Warn("publish breadth failed", "id", br.ID(), "error", err)
		br.CountError()
	}
}
