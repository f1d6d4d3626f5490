package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/marketbus/internal/broker"
	"github.com/rickgao/marketbus/internal/codec"
	"github.com/rickgao/marketbus/internal/config"
	"github.com/rickgao/marketbus/internal/database"
	"github.com/rickgao/marketbus/internal/dlq"
	"github.com/rickgao/marketbus/internal/event"
)

// Component is a managed lifecycle unit. Publishers, subscribers and the
// WebSocket server all satisfy it.
type Component interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
}

// Component lifecycle states tracked by the health monitor.
const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateRunning  = "running"
	StateCrashed  = "crashed"
)

// componentHealth is the monitor's record for one component.
type componentHealth struct {
	component Component
	kind      string // "publisher" or "subscriber"
	state     string
	restarts  int
	lastDown  time.Time
}

// ComponentStatus is a point-in-time view of one managed component.
type ComponentStatus struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	State    string `json:"state"`
	Restarts int    `json:"restarts"`
	Running  bool   `json:"running"`
}

// Stats is the snapshot served by the health endpoint.
type Stats struct {
	Instance   string            `json:"instance"`
	Running    bool              `json:"running"`
	Broker     broker.Stats      `json:"broker"`
	DLQ        *dlq.Stats        `json:"dlq,omitempty"`
	Components []ComponentStatus `json:"components"`
}

// Orchestrator owns every component of a marketbus instance.
type Orchestrator struct {
	cfg    *config.Config
	logger *slog.Logger

	codec  codec.Codec
	broker broker.Broker
	queue  *dlq.Queue
	db     *pgxpool.Pool

	mu      sync.Mutex
	records []*componentHealth
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator for the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logger,
	}
}

// Start builds and starts the whole pipeline.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	o.ctx, o.cancel = context.WithCancel(ctx)

	c, err := codec.New(o.cfg.Serializer.Type)
	if err != nil {
		return fmt.Errorf("create codec: %w", err)
	}
	o.codec = c

	b, err := broker.New(o.cfg.Broker.Type, o.cfg.Broker.URL, o.cfg.Instance.ID, c, o.logger)
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}
	o.broker = b

	if err := b.Connect(o.ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}

	if o.cfg.DLQ.Enabled {
		q, err := dlq.New(dlq.Config{
			Path:          o.cfg.DLQ.Path,
			MaxRetries:    o.cfg.DLQ.MaxRetries,
			Retention:     time.Duration(o.cfg.DLQ.RetentionDays) * 24 * time.Hour,
			AutoRetry:     o.cfg.DLQ.EnableAutoRetry,
			RetryInterval: o.cfg.DLQ.AutoRetryInterval.Std(),
		}, c, o.redeliver, o.logger)
		if err != nil {
			o.teardown(ctx)
			return fmt.Errorf("create dlq: %w", err)
		}
		o.queue = q
		if err := q.Start(o.ctx); err != nil {
			o.teardown(ctx)
			return fmt.Errorf("start dlq: %w", err)
		}
	}

	if o.needsDatabase() {
		pool, err := database.Connect(o.ctx, o.cfg.Database)
		if err != nil {
			o.teardown(ctx)
			return fmt.Errorf("connect database: %w", err)
		}
		if err := database.EnsureSchema(o.ctx, pool); err != nil {
			pool.Close()
			o.teardown(ctx)
			return fmt.Errorf("ensure schema: %w", err)
		}
		o.db = pool
	}

	if err := o.buildComponents(); err != nil {
		o.teardown(ctx)
		return err
	}

	for _, rec := range o.componentsByKind("publisher") {
		if err := o.startComponent(rec); err != nil {
			o.teardown(ctx)
			return err
		}
	}
	for _, rec := range o.componentsByKind("subscriber") {
		if err := o.startComponent(rec); err != nil {
			o.teardown(ctx)
			return err
		}
	}

	if o.cfg.Health.CheckInterval.Std() > 0 {
		o.wg.Add(1)
		go o.monitorLoop()
	}

	o.mu.Lock()
	o.running = true
	o.mu.Unlock()

	o.logger.Info("orchestrator started",
		"instance", o.cfg.Instance.ID,
		"broker", o.cfg.Broker.Type,
		"serializer", o.cfg.Serializer.Type,
		"components", len(o.records),
	)
	return nil
}

// Stop brings the pipeline down in reverse order.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	for _, rec := range o.componentsByKind("subscriber") {
		o.stopComponent(ctx, rec)
	}
	for _, rec := range o.componentsByKind("publisher") {
		o.stopComponent(ctx, rec)
	}

	o.teardown(ctx)

	o.logger.Info("orchestrator stopped", "instance", o.cfg.Instance.ID)
	return nil
}

// Running reports whether the orchestrator is started.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Healthy reports whether every managed component is running.
func (o *Orchestrator) Healthy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return false
	}
	for _, rec := range o.records {
		if rec.state != StateRunning || !rec.component.Running() {
			return false
		}
	}
	return true
}

// Stats returns a snapshot for the health endpoint.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Stats{
		Instance: o.cfg.Instance.ID,
		Running:  o.running,
	}
	if o.broker != nil {
		s.Broker = o.broker.Stats()
	}
	if o.queue != nil {
		qs := o.queue.Stats()
		s.DLQ = &qs
	}
	for _, rec := range o.records {
		s.Components = append(s.Components, ComponentStatus{
			ID:       rec.component.ID(),
			Kind:     rec.kind,
			State:    rec.state,
			Restarts: rec.restarts,
			Running:  rec.component.Running(),
		})
	}
	return s
}

// redeliver is the DLQ's path back onto the bus.
func (o *Orchestrator) redeliver(ctx context.Context, channel string, ev event.Event) error {
	return o.broker.Publish(ctx, channel, ev)
}

// needsDatabase reports whether any enabled persist subscriber exists.
func (o *Orchestrator) needsDatabase() bool {
	for _, sub := range o.cfg.Subscribers {
		if sub.Enabled && sub.Type == "persist" {
			return true
		}
	}
	return false
}

// manage registers a component with the health monitor.
func (o *Orchestrator) manage(c Component, kind string) *componentHealth {
	rec := &componentHealth{
		component: c,
		kind:      kind,
		state:     StateStopped,
	}
	o.mu.Lock()
	o.records = append(o.records, rec)
	o.mu.Unlock()
	return rec
}

func (o *Orchestrator) componentsByKind(kind string) []*componentHealth {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*componentHealth
	for _, rec := range o.records {
		if rec.kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

func (o *Orchestrator) startComponent(rec *componentHealth) error {
	o.setState(rec, StateStarting)
	if err := rec.component.Start(o.ctx); err != nil {
		o.setState(rec, StateStopped)
		return fmt.Errorf("start %s %s: %w", rec.kind, rec.component.ID(), err)
	}
	o.setState(rec, StateRunning)
	return nil
}

func (o *Orchestrator) stopComponent(ctx context.Context, rec *componentHealth) {
	if err := rec.component.Stop(ctx); err != nil {
		o.logger.Warn("component stop failed",
			"kind", rec.kind,
			"id", rec.component.ID(),
			"error", err,
		)
	}
	o.mu.Lock()
	if rec.state != StateCrashed {
		rec.state = StateStopped
	}
	o.mu.Unlock()
}

func (o *Orchestrator) setState(rec *componentHealth, state string) {
	o.mu.Lock()
	rec.state = state
	o.mu.Unlock()
}

// monitorLoop periodically checks component liveness.
func (o *Orchestrator) monitorLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.Health.CheckInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.checkOnce(time.Now())
		}
	}
}

// checkOnce makes one pass over the components and restarts the dead ones,
// within each component's restart budget.
func (o *Orchestrator) checkOnce(now time.Time) {
	o.mu.Lock()
	records := append([]*componentHealth(nil), o.records...)
	o.mu.Unlock()

	for _, rec := range records {
		if rec.component.Running() {
			o.mu.Lock()
			if rec.state != StateRunning {
				rec.state = StateRunning
			}
			o.mu.Unlock()
			continue
		}

		o.mu.Lock()
		state := rec.state
		restarts := rec.restarts
		lastDown := rec.lastDown
		if state == StateRunning {
			// Newly observed failure.
			rec.state = StateStopped
			rec.lastDown = now
			lastDown = now
		}
		o.mu.Unlock()

		if state == StateCrashed || state == StateStarting {
			continue
		}
		if !o.cfg.Health.RestartOnFailure {
			continue
		}

		if restarts >= o.cfg.Health.MaxRestartAttempts {
			o.mu.Lock()
			rec.state = StateCrashed
			o.mu.Unlock()
			o.logger.Error("component unrecovered, giving up",
				"kind", rec.kind,
				"id", rec.component.ID(),
				"attempts", restarts,
			)
			continue
		}

		if now.Sub(lastDown) < o.cfg.Health.RestartDelay.Std() {
			continue
		}

		o.mu.Lock()
		rec.restarts++
		attempt := rec.restarts
		o.mu.Unlock()

		o.logger.Warn("restarting component",
			"kind", rec.kind,
			"id", rec.component.ID(),
			"attempt", attempt,
			"max_attempts", o.cfg.Health.MaxRestartAttempts,
		)

		if err := o.startComponent(rec); err != nil {
			o.logger.Error("component restart failed",
				"kind", rec.kind,
				"id", rec.component.ID(),
				"attempt", attempt,
				"error", err,
			)
			o.mu.Lock()
			rec.lastDown = now
			o.mu.Unlock()
		}
	}
}

// teardown releases the shared infrastructure.
func (o *Orchestrator) teardown(ctx context.Context) {
	if o.queue != nil {
		if err := o.queue.Stop(ctx); err != nil {
			o.logger.Warn("dlq stop failed", "error", err)
		}
		o.queue = nil
	}
	if o.db != nil {
		o.db.Close()
		o.db = nil
	}
	if o.broker != nil {
		o.broker.Disconnect()
	}
}
