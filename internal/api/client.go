package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Header  http.Header // sent with every request, e.g. the crm_session cookie

	Timeout       time.Duration // per attempt
	MaxRetries    int
	RetryBackoff  time.Duration // first retry delay, doubled on each further retry
	MaxRetryDelay time.Duration // caps backoff and Retry-After; 0 means no cap

	HTTPClient *http.Client // optional, replaces the one built from Timeout
}

// DefaultConfig returns the settings used when the config file leaves them out.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		MaxRetries:    3,
		RetryBackoff:  time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Client reads unread counts from the CRM REST API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a client. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:    cfg,
		http:   hc,
		logger: logger.With("component", "api"),
	}
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	StatusCode int
	Body       []byte
	RetryAfter time.Duration // from the Retry-After header, 0 if absent
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crm api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
