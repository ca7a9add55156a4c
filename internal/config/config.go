package config

import "time"

// Config is the root configuration for a feed daemon instance.
type Config struct {
	Instance  InstanceConfig            `yaml:"instance"`
	Bus       BusConfig                 `yaml:"bus"`
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`
	Poller    PollerConfig              `yaml:"poller"`
	Recorder  RecorderConfig            `yaml:"recorder"`
	Health    HealthConfig              `yaml:"health"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// BusConfig selects and tunes the message bus backend. The distributed
// backend is chosen whenever redis.addr is set (or mode forces it).
type BusConfig struct {
	Mode         string      `yaml:"mode"` // "embedded", "distributed", or empty to infer
	JournalPath  string      `yaml:"journal_path"`
	RingSize     int         `yaml:"ring_size"`
	StreamMaxLen int64       `yaml:"stream_max_len"`
	Redis        RedisConfig `yaml:"redis"`
}

// RedisConfig holds the distributed bus backing store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ExchangeConfig holds one streaming venue's settings, keyed by exchange
// name under exchanges: in the YAML file.
type ExchangeConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Symbols        []string      `yaml:"symbols"` // canonical BASE/QUOTE spellings
	RequiresAuth   bool          `yaml:"requires_auth"`
	APIKey         string        `yaml:"api_key"`
	APISecret      string        `yaml:"api_secret"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// PollerConfig holds the REST fallback poller settings. Assets maps
// provider asset ids to canonical symbols (bitcoin: BTC/USD).
type PollerConfig struct {
	Enabled    bool              `yaml:"enabled"`
	Interval   time.Duration     `yaml:"interval"`
	Timeout    time.Duration     `yaml:"timeout"`
	BaseURL    string            `yaml:"base_url"`
	VsCurrency string            `yaml:"vs_currency"`
	Assets     map[string]string `yaml:"assets"`
}

// RecorderConfig holds the optional tick archiver settings. The recorder
// stays off unless enabled and a database host is configured.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a PostgreSQL/TimescaleDB connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds the health monitor and HTTP endpoint settings.
type HealthConfig struct {
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	Port               int           `yaml:"port"`
}
