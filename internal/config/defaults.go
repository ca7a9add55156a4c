package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultJournalPath        = "data/bus.jsonl"
	DefaultRingSize           = 500
	DefaultStreamMaxLen       = 10000
	DefaultReconnectDelay     = 5 * time.Second
	DefaultAuthReconnectDelay = 10 * time.Second
	DefaultPollInterval       = 30 * time.Second
	DefaultPollTimeout        = 10 * time.Second
	DefaultPollBaseURL        = "https://api.coingecko.com/api/v3"
	DefaultVsCurrency         = "usd"
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultStalenessThreshold = 60 * time.Second
	DefaultHealthPort         = 8080
)

func (c *Config) applyDefaults() {
	if c.Bus.JournalPath == "" {
		c.Bus.JournalPath = DefaultJournalPath
	}
	if c.Bus.RingSize == 0 {
		c.Bus.RingSize = DefaultRingSize
	}
	if c.Bus.StreamMaxLen == 0 {
		c.Bus.StreamMaxLen = DefaultStreamMaxLen
	}

	for name, ex := range c.Exchanges {
		if ex.ReconnectDelay == 0 {
			// Authenticated venues throttle repeated logins harder.
			if ex.RequiresAuth {
				ex.ReconnectDelay = DefaultAuthReconnectDelay
			} else {
				ex.ReconnectDelay = DefaultReconnectDelay
			}
		}
		c.Exchanges[name] = ex
	}

	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}
	if c.Poller.BaseURL == "" {
		c.Poller.BaseURL = DefaultPollBaseURL
	}
	if c.Poller.VsCurrency == "" {
		c.Poller.VsCurrency = DefaultVsCurrency
	}

	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	applyDBDefaults(&c.Recorder.Database)

	if c.Health.StalenessThreshold == 0 {
		c.Health.StalenessThreshold = DefaultStalenessThreshold
	}
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
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
