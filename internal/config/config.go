package config

import "time"

// Config is the root configuration for a realtime client process.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	API       APIConfig       `yaml:"api"`
	Database  DBConfig        `yaml:"database"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// InstanceConfig identifies this process in logs.
type InstanceConfig struct {
	ID     string `yaml:"id"`
	Tenant string `yaml:"tenant"`
}

// RealtimeConfig holds the WebSocket connection settings.
type RealtimeConfig struct {
	URL                  string            `yaml:"url"`
	Headers              map[string]string `yaml:"headers"` // e.g. Cookie: crm_session=${CRM_SESSION}
	MaxReconnectAttempts int               `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration     `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration     `yaml:"reconnect_max_delay"`
	HandshakeTimeout     time.Duration     `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration     `yaml:"write_timeout"`
	PingInterval         time.Duration     `yaml:"ping_interval"`
	PingTimeout          time.Duration     `yaml:"ping_timeout"`
	BufferSize           int               `yaml:"buffer_size"`
}

// APIConfig holds the CRM REST API settings. Requests reuse realtime.headers.
type APIConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DBConfig holds a single database connection.
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

// ReconcileConfig controls the unread-count reconciler run after reconnects.
type ReconcileConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Source   string        `yaml:"source"` // postgres or api
	Timeout  time.Duration `yaml:"timeout"`
	Debounce time.Duration `yaml:"debounce"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
