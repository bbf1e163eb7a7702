package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Realtime.validate("realtime"); err != nil {
		return err
	}

	if c.Reconcile.Enabled {
		switch c.Reconcile.Source {
		case ReconcileSourcePostgres:
			if err := c.Database.validate("database"); err != nil {
				return err
			}
		case ReconcileSourceAPI:
			if err := c.API.validate("api"); err != nil {
				return err
			}
		default:
			return fmt.Errorf("reconcile.source must be postgres or api, got %q", c.Reconcile.Source)
		}
		if c.Reconcile.Timeout <= 0 {
			return errors.New("reconcile.timeout must be > 0")
		}
		if c.Reconcile.Debounce < 0 {
			return errors.New("reconcile.debounce must be >= 0")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	return nil
}

func (r *RealtimeConfig) validate(prefix string) error {
	if r.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%s.url: %w", prefix, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s.url must use ws or wss, got %q", prefix, u.Scheme)
	}
	if r.MaxReconnectAttempts < 1 {
		return fmt.Errorf("%s.max_reconnect_attempts must be >= 1", prefix)
	}
	if r.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("%s.reconnect_base_delay must be > 0", prefix)
	}
	if r.ReconnectMaxDelay < r.ReconnectBaseDelay {
		return fmt.Errorf("%s.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			prefix, r.ReconnectMaxDelay, r.ReconnectBaseDelay)
	}
	if r.BufferSize < 1 {
		return fmt.Errorf("%s.buffer_size must be >= 1", prefix)
	}
	return nil
}

func (a *APIConfig) validate(prefix string) error {
	if a.BaseURL == "" {
		return fmt.Errorf("%s.base_url is required", prefix)
	}
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return fmt.Errorf("%s.base_url: %w", prefix, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s.base_url must use http or https, got %q", prefix, u.Scheme)
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("%s.timeout must be > 0", prefix)
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("%s.max_retries must be >= 0", prefix)
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
