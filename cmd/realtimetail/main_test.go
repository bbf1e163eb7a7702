package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rickgao/crm-realtime/internal/api"
	"github.com/rickgao/crm-realtime/internal/config"
	"github.com/rickgao/crm-realtime/internal/realtime"
	"github.com/rickgao/crm-realtime/internal/unread"
)

var (
	_ unread.Store         = (*api.Client)(nil)
	_ unread.Store         = (*unread.PGStore)(nil)
	_ unread.StateSource   = (*realtime.Client)(nil)
	_ unread.ChannelSource = (*realtime.Client)(nil)
)

func TestManagerConfig(t *testing.T) {
	rc := config.RealtimeConfig{
		URL:                  "wss://crm.example.com/realtime",
		Headers:              map[string]string{"cookie": "crm_session=abc"},
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   2 * time.Second,
		ReconnectMaxDelay:    8 * time.Second,
		HandshakeTimeout:     4 * time.Second,
		WriteTimeout:         time.Second,
		PingInterval:         10 * time.Second,
		PingTimeout:          30 * time.Second,
		BufferSize:           64,
	}

	cfg := managerConfig(rc)

	assert.Equal(t, rc.URL, cfg.Client.URL)
	assert.Equal(t, "crm_session=abc", cfg.Client.Header.Get("Cookie"))
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.ReconnectBaseWait)
	assert.Equal(t, 8*time.Second, cfg.ReconnectMaxWait)
	assert.Equal(t, 4*time.Second, cfg.Client.HandshakeTimeout)
	assert.Equal(t, time.Second, cfg.Client.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.Client.PingInterval)
	assert.Equal(t, 30*time.Second, cfg.Client.PingTimeout)
	assert.Equal(t, 64, cfg.Client.BufferSize)
}

func TestManagerConfig_NoHeaders(t *testing.T) {
	cfg := managerConfig(config.RealtimeConfig{URL: "ws://localhost/rt"})
	assert.Nil(t, cfg.Client.Header)
}

func TestAPIConfig(t *testing.T) {
	header := http.Header{"Cookie": {"crm_session=abc"}}
	cfg := apiConfig(config.APIConfig{
		BaseURL:      "https://crm.example.com/",
		Timeout:      5 * time.Second,
		MaxRetries:   2,
		RetryBackoff: 250 * time.Millisecond,
	}, header)

	assert.Equal(t, "https://crm.example.com", cfg.BaseURL)
	assert.Equal(t, "crm_session=abc", cfg.Header.Get("Cookie"))
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, api.DefaultConfig().MaxRetryDelay, cfg.MaxRetryDelay)
}

func TestSplitIDs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"7", []string{"7"}},
		{"7, 42,,9 ", []string{"7", "42", "9"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitIDs(tt.in), "splitIDs(%q)", tt.in)
	}
}
