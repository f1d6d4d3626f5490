package config

import (
	"errors"
	"fmt"
)

var validSubscriberTypes = map[string]bool{
	"persist":   true,
	"state":     true,
	"breadth":   true,
	"trend":     true,
	"websocket": true,
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch c.Broker.Type {
	case "memory":
	case "nats":
		if c.Broker.URL == "" {
			return errors.New("broker.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("broker.type must be \"memory\" or \"nats\", got %q", c.Broker.Type)
	}

	switch c.Serializer.Type {
	case "json", "gob", "proto":
	default:
		return fmt.Errorf("serializer.type must be \"json\", \"gob\" or \"proto\", got %q", c.Serializer.Type)
	}

	if c.DLQ.Enabled {
		if c.DLQ.MaxRetries < 1 {
			return errors.New("dlq.max_retries must be >= 1")
		}
		if c.DLQ.RetentionDays < 1 {
			return errors.New("dlq.retention_days must be >= 1")
		}
	}

	seen := make(map[string]bool)
	for i, p := range c.Publishers {
		prefix := fmt.Sprintf("publishers[%d]", i)
		if p.ID == "" {
			return fmt.Errorf("%s.id is required", prefix)
		}
		if seen[p.ID] {
			return fmt.Errorf("%s.id %q is not unique", prefix, p.ID)
		}
		seen[p.ID] = true
		if p.Type != "quote" {
			return fmt.Errorf("%s.type must be \"quote\", got %q", prefix, p.Type)
		}
		if p.Enabled && len(p.Symbols) == 0 {
			return fmt.Errorf("%s.symbols is required", prefix)
		}
		if p.Enabled && p.BaseURL == "" {
			return fmt.Errorf("%s.base_url is required", prefix)
		}
		if p.BatchSize < 1 {
			return fmt.Errorf("%s.batch_size must be >= 1", prefix)
		}
	}

	needsDB := false
	for i, s := range c.Subscribers {
		prefix := fmt.Sprintf("subscribers[%d]", i)
		if s.ID == "" {
			return fmt.Errorf("%s.id is required", prefix)
		}
		if seen[s.ID] {
			return fmt.Errorf("%s.id %q is not unique", prefix, s.ID)
		}
		seen[s.ID] = true
		if !validSubscriberTypes[s.Type] {
			return fmt.Errorf("%s.type %q is unknown", prefix, s.Type)
		}
		if s.Type == "persist" && s.Enabled {
			needsDB = true
			if s.BatchSize < 1 {
				return fmt.Errorf("%s.batch_size must be >= 1", prefix)
			}
		}
		if s.Type == "trend" {
			for _, p := range s.SMAPeriods {
				if p < 1 {
					return fmt.Errorf("%s.sma_periods entries must be >= 1", prefix)
				}
			}
		}
	}

	if needsDB {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Health.MaxRestartAttempts < 0 {
		return errors.New("health.max_restart_attempts must be >= 0")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
