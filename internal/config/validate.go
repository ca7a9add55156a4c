package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch c.Bus.Mode {
	case "", "embedded", "distributed":
	default:
		return fmt.Errorf("bus.mode must be embedded or distributed, got %q", c.Bus.Mode)
	}
	if c.Bus.Mode == "distributed" && c.Bus.Redis.Addr == "" {
		return errors.New("bus.redis.addr is required in distributed mode")
	}
	if c.Bus.RingSize < 1 {
		return errors.New("bus.ring_size must be >= 1")
	}
	if c.Bus.StreamMaxLen < 1 {
		return errors.New("bus.stream_max_len must be >= 1")
	}

	for name, ex := range c.Exchanges {
		if !ex.Enabled {
			continue
		}
		if len(ex.Symbols) == 0 {
			return fmt.Errorf("exchanges.%s.symbols must not be empty when enabled", name)
		}
		if ex.ReconnectDelay <= 0 {
			return fmt.Errorf("exchanges.%s.reconnect_delay must be positive", name)
		}
	}

	if c.Poller.Enabled && len(c.Poller.Assets) == 0 {
		return errors.New("poller.assets must not be empty when enabled")
	}

	if c.Recorder.Enabled {
		if err := c.Recorder.Database.validate("recorder.database"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
	}

	if c.Health.StalenessThreshold <= 0 {
		return errors.New("health.staleness_threshold must be positive")
	}
	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
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
