package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBrokerType        = "memory"
	DefaultNATSURL           = "nats://127.0.0.1:4222"
	DefaultSerializerType    = "json"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultDLQPath           = "marketbus-dlq.db"
	DefaultDLQMaxRetries     = 3
	DefaultDLQRetentionDays  = 7
	DefaultDLQRetryInterval  = 30 * time.Second
	DefaultBatchSize         = 50
	DefaultRateLimit         = 10
	DefaultRateLimitPeriod   = time.Second
	DefaultPublishInterval   = time.Minute
	DefaultDataInterval      = "1d"
	DefaultDataPeriod        = "5d"
	DefaultFlushInterval     = 5 * time.Second
	DefaultWindowSize        = 200
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultWSListenAddr      = ":8765"
	DefaultCheckInterval     = 30 * time.Second
	DefaultRestartAttempts   = 3
	DefaultRestartDelay      = 5 * time.Second
	DefaultServerPort        = 8080
)

// DefaultSMAPeriods is used when a trend subscriber declares none.
var DefaultSMAPeriods = []int{20, 50}

// ApplyDefaults fills in zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.Broker.Type == "" {
		c.Broker.Type = DefaultBrokerType
	}
	if c.Broker.Type == "nats" && c.Broker.URL == "" {
		c.Broker.URL = DefaultNATSURL
	}
	if c.Serializer.Type == "" {
		c.Serializer.Type = DefaultSerializerType
	}

	applyDBDefaults(&c.Database)
	applyDLQDefaults(&c.DLQ)

	for i := range c.Publishers {
		applyPublisherDefaults(&c.Publishers[i])
	}
	for i := range c.Subscribers {
		applySubscriberDefaults(&c.Subscribers[i])
	}

	if c.Health.CheckInterval == 0 {
		c.Health.CheckInterval = Duration(DefaultCheckInterval)
	}
	if c.Health.MaxRestartAttempts == 0 {
		c.Health.MaxRestartAttempts = DefaultRestartAttempts
	}
	if c.Health.RestartDelay == 0 {
		c.Health.RestartDelay = Duration(DefaultRestartDelay)
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

func applyDLQDefaults(d *DLQConfig) {
	if d.Path == "" {
		d.Path = DefaultDLQPath
	}
	if d.MaxRetries == 0 {
		d.MaxRetries = DefaultDLQMaxRetries
	}
	if d.RetentionDays == 0 {
		d.RetentionDays = DefaultDLQRetentionDays
	}
	if d.AutoRetryInterval == 0 {
		d.AutoRetryInterval = Duration(DefaultDLQRetryInterval)
	}
}

func applyPublisherDefaults(p *PublisherConfig) {
	if p.BatchSize == 0 {
		p.BatchSize = DefaultBatchSize
	}
	if p.RateLimit == 0 {
		p.RateLimit = DefaultRateLimit
	}
	if p.RateLimitPeriod == 0 {
		p.RateLimitPeriod = Duration(DefaultRateLimitPeriod)
	}
	if p.PublishInterval == 0 {
		p.PublishInterval = Duration(DefaultPublishInterval)
	}
	if p.DataInterval == "" {
		p.DataInterval = DefaultDataInterval
	}
	if p.Period == "" {
		p.Period = DefaultDataPeriod
	}
}

func applySubscriberDefaults(s *SubscriberConfig) {
	switch s.Type {
	case "persist":
		if s.BatchSize == 0 {
			s.BatchSize = DefaultBatchSize
		}
		if s.FlushInterval == 0 {
			s.FlushInterval = Duration(DefaultFlushInterval)
		}
	case "breadth", "trend":
		if s.PublishInterval == 0 {
			s.PublishInterval = Duration(DefaultPublishInterval)
		}
		if s.Type == "trend" {
			if s.WindowSize == 0 {
				s.WindowSize = DefaultWindowSize
			}
			if len(s.SMAPeriods) == 0 {
				s.SMAPeriods = append([]int(nil), DefaultSMAPeriods...)
			}
		}
	case "websocket":
		if s.ListenAddr == "" {
			s.ListenAddr = DefaultWSListenAddr
		}
		if s.HeartbeatInterval == 0 {
			s.HeartbeatInterval = Duration(DefaultHeartbeatInterval)
		}
	}
}
