package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/marketbus/internal/broker"
	"github.com/rickgao/marketbus/internal/event"
)

// ErrInsufficientData is returned by SMA when the window holds fewer
// observations than the requested period. A partial average is never
// computed.
var ErrInsufficientData = errors.New("insufficient data for period")

// SMA returns the mean of the last period values of prices.
func SMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("invalid period %d", period)
	}
	if len(prices) < period {
		return 0, ErrInsufficientData
	}

	var sum float64
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period), nil
}

// TrendConfig holds trend subscriber settings.
type TrendConfig struct {
	ID              string
	PublishInterval time.Duration
	WindowSize      int   // rolling closes kept per symbol
	SMAPeriods      []int // computed per symbol, sorted ascending
}

// Trend keeps a rolling close window per symbol and periodically publishes
// a moving-average trend reading for each symbol with enough history.
type Trend struct {
	Base
	cfg TrendConfig

	mu      sync.RWMutex
	windows map[string][]float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTrend creates the trend subscriber.
func NewTrend(cfg TrendConfig, b broker.Broker, logger *slog.Logger) *Trend {
	periods := append([]int(nil), cfg.SMAPeriods...)
	sort.Ints(periods)
	cfg.SMAPeriods = periods
	if cfg.WindowSize < 1 && len(periods) > 0 {
		cfg.WindowSize = periods[len(periods)-1]
	}
	if cfg.WindowSize < 1 {
		cfg.WindowSize = 1
	}
	return &Trend{
		Base:    NewBase(cfg.ID, []string{event.ChannelCandle}, b, logger),
		cfg:     cfg,
		windows: make(map[string][]float64),
	}
}

// Start subscribes and launches the publish loop.
func (tr *Trend) Start(ctx context.Context) error {
	started, err := tr.StartSubscriptions(ctx, tr.OnMessage)
	if err != nil {
		return fmt.Errorf("start trend %s: %w", tr.ID(), err)
	}
	if !started {
		return nil
	}

	tr.ctx, tr.cancel = context.WithCancel(ctx)
	if tr.cfg.PublishInterval > 0 {
		tr.wg.Add(1)
		go tr.publishLoop()
	}
	return nil
}

// Stop unsubscribes and halts the publish loop.
func (tr *Trend) Stop(ctx context.Context) error {
	if !tr.StopSubscriptions() {
		return nil
	}
	if tr.cancel != nil {
		tr.cancel()
	}
	tr.wg.Wait()
	return nil
}

// OnMessage appends the close to the symbol's window, evicting the oldest
// observation once the window is full.
func (tr *Trend) OnMessage(channel string, ev event.Event) {
	candle, ok := ev.(*event.Candle)
	if !ok {
		tr.CountError()
		return
	}

	tr.mu.Lock()
	w := append(tr.windows[candle.Symbol], candle.Close)
	if len(w) > tr.cfg.WindowSize {
		w = w[len(w)-tr.cfg.WindowSize:]
	}
	tr.windows[candle.Symbol] = w
	tr.mu.Unlock()
	tr.CountProcessed()
}

// Compute builds the trend reading for one symbol, or nil when even the
// shortest period lacks data.
func (tr *Trend) Compute(symbol string) *event.Trend {
	tr.mu.RLock()
	window := append([]float64(nil), tr.windows[symbol]...)
	tr.mu.RUnlock()

	var averages []event.MovingAverage
	for _, period := range tr.cfg.SMAPeriods {
		value, err := SMA(window, period)
		if err != nil {
			continue
		}
		averages = append(averages, event.MovingAverage{Period: period, Value: value})
	}
	if len(averages) == 0 {
		return nil
	}

	out := &event.Trend{
		Symbol:    symbol,
		Averages:  averages,
		Direction: event.TrendSideways,
		Timestamp: time.Now().UnixMicro(),
	}

	// Direction and strength come from the shortest average relative to the
	// longest one that had enough data.
	short := averages[0].Value
	long := averages[len(averages)-1].Value
	switch {
	case short > long:
		out.Direction = event.TrendBullish
	case short < long:
		out.Direction = event.TrendBearish
	}
	if long != 0 {
		out.Strength = (short - long) / long
		if out.Strength < 0 {
			out.Strength = -out.Strength
		}
	}
	return out
}

// Symbols returns the symbols with at least one observation.
func (tr *Trend) Symbols() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	out := make([]string, 0, len(tr.windows))
	for s := range tr.windows {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (tr *Trend) publishLoop() {
	defer tr.wg.Done()

	ticker := time.NewTicker(tr.cfg.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tr.ctx.Done():
			return
		case <-ticker.C:
			tr.publish(tr.ctx)
		}
	}
}

func (tr *Trend) publish(ctx context.Context) {
	for _, symbol := range tr.Symbols() {
		reading := tr.Compute(symbol)
		if reading == nil {
			continue
		}
		if err := tr.Broker().Publish(ctx, event.ChannelTrend, reading); err != nil {
			tr.Logger().Warn("publish trend failed",
				"id", tr.ID(),
				"symbol", symbol,
				"error", err,
			)
			tr.CountError()
		}
	}
}
