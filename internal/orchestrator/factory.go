package orchestrator

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/marketbus/internal/broker"
	"github.com/rickgao/marketbus/internal/config"
	"github.com/rickgao/marketbus/internal/dlq"
	"github.com/rickgao/marketbus/internal/publisher"
	"github.com/rickgao/marketbus/internal/quote"
	"github.com/rickgao/marketbus/internal/subscriber"
	"github.com/rickgao/marketbus/internal/ws"
)

// Deps is what factories get to build a component from its config block.
type Deps struct {
	Broker broker.Broker
	Queue  *dlq.Queue // nil when the DLQ is disabled
	DB     *pgxpool.Pool
	Logger *slog.Logger
}

// PublisherFactory builds a publisher component from its config block.
type PublisherFactory func(cfg config.PublisherConfig, deps Deps) (Component, error)

// SubscriberFactory builds a subscriber component from its config block.
type SubscriberFactory func(cfg config.SubscriberConfig, deps Deps) (Component, error)

var (
	publisherFactories  = map[string]PublisherFactory{}
	subscriberFactories = map[string]SubscriberFactory{}
)

// RegisterPublisherType adds a publisher kind to the registry. Built-in
// kinds are registered at init; callers can add their own before Start.
func RegisterPublisherType(name string, f PublisherFactory) {
	publisherFactories[name] = f
}

// RegisterSubscriberType adds a subscriber kind to the registry.
func RegisterSubscriberType(name string, f SubscriberFactory) {
	subscriberFactories[name] = f
}

func init() {
	RegisterPublisherType("quote", newQuotePublisher)
	RegisterSubscriberType("persist", newPersistSubscriber)
	RegisterSubscriberType("state", newStateSubscriber)
	RegisterSubscriberType("breadth", newBreadthSubscriber)
	RegisterSubscriberType("trend", newTrendSubscriber)
	RegisterSubscriberType("websocket", newWebsocketSubscriber)
}

// buildComponents instantiates every enabled publisher and subscriber.
func (o *Orchestrator) buildComponents() error {
	deps := Deps{
		Broker: o.broker,
		Queue:  o.queue,
		DB:     o.db,
		Logger: o.logger,
	}

	for _, pc := range o.cfg.Publishers {
		if !pc.Enabled {
			continue
		}
		factory, ok := publisherFactories[pc.Type]
		if !ok {
			return fmt.Errorf("unknown publisher type %q", pc.Type)
		}
		c, err := factory(pc, deps)
		if err != nil {
			return fmt.Errorf("build publisher %s: %w", pc.ID, err)
		}
		o.manage(c, "publisher")
	}

	for _, sc := range o.cfg.Subscribers {
		if !sc.Enabled {
			continue
		}
		factory, ok := subscriberFactories[sc.Type]
		if !ok {
			return fmt.Errorf("unknown subscriber type %q", sc.Type)
		}
		c, err := factory(sc, deps)
		if err != nil {
			return fmt.Errorf("build subscriber %s: %w", sc.ID, err)
		}
		o.manage(c, "subscriber")
	}

	return nil
}

func newQuotePublisher(cfg config.PublisherConfig, deps Deps) (Component, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("publisher %s: base_url is required", cfg.ID)
	}
	client := quote.NewClient(cfg.BaseURL, quote.WithLogger(deps.Logger))

	return publisher.New(publisher.Config{
		ID:              cfg.ID,
		Symbols:         cfg.Symbols,
		BatchSize:       cfg.BatchSize,
		RateLimit:       cfg.RateLimit,
		RateLimitPeriod: cfg.RateLimitPeriod.Std(),
		PublishInterval: cfg.PublishInterval.Std(),
		DataInterval:    cfg.DataInterval,
		Period:          cfg.Period,
	}, client, deps.Broker, deps.Logger), nil
}

func newPersistSubscriber(cfg config.SubscriberConfig, deps Deps) (Component, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("subscriber %s: database connection is required", cfg.ID)
	}
	var dl subscriber.DeadLetter
	if deps.Queue != nil {
		dl = deps.Queue
	}

	return subscriber.NewPersist(subscriber.PersistConfig{
		ID:            cfg.ID,
		Channels:      cfg.Channels,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval.Std(),
	}, subscriber.NewPgxSink(deps.DB), dl, deps.Broker, deps.Logger), nil
}

func newStateSubscriber(cfg config.SubscriberConfig, deps Deps) (Component, error) {
	return subscriber.NewState(cfg.ID, cfg.Channels, deps.Broker, deps.Logger), nil
}

func newBreadthSubscriber(cfg config.SubscriberConfig, deps Deps) (Component, error) {
	return subscriber.NewBreadth(cfg.ID, cfg.PublishInterval.Std(), deps.Broker, deps.Logger), nil
}

func newTrendSubscriber(cfg config.SubscriberConfig, deps Deps) (Component, error) {
	return subscriber.NewTrend(subscriber.TrendConfig{
		ID:              cfg.ID,
		PublishInterval: cfg.PublishInterval.Std(),
		WindowSize:      cfg.WindowSize,
		SMAPeriods:      cfg.SMAPeriods,
	}, deps.Broker, deps.Logger), nil
}

func newWebsocketSubscriber(cfg config.SubscriberConfig, deps Deps) (Component, error) {
	return ws.NewServer(ws.Config{
		ID:                cfg.ID,
		ListenAddr:        cfg.ListenAddr,
		AuthToken:         cfg.AuthToken,
		HeartbeatInterval: cfg.HeartbeatInterval.Std(),
		Channels:          cfg.Channels,
	}, deps.Broker, deps.Logger), nil
}
