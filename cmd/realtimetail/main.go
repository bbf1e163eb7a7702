// realtimetail connects to the CRM realtime endpoint, joins the given conversations
// and prints every event it receives.
// Usage: go run ./cmd/realtimetail --config configs/realtime.local.yaml --join 12,42
//
// The session cookie is usually supplied through the config file:
//
//	realtime:
//	  headers:
//	    Cookie: crm_session=${CRM_SESSION}
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/crm-realtime/internal/api"
	"github.com/rickgao/crm-realtime/internal/config"
	"github.com/rickgao/crm-realtime/internal/connection"
	"github.com/rickgao/crm-realtime/internal/database"
	"github.com/rickgao/crm-realtime/internal/model"
	"github.com/rickgao/crm-realtime/internal/realtime"
	"github.com/rickgao/crm-realtime/internal/unread"
	"github.com/rickgao/crm-realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/realtime.example.yaml", "path to config file")
	join := flag.String("join", "", "comma-separated conversation IDs to join")
	verbose := flag.Bool("verbose", false, "print full event payloads")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	})).With("instance", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting realtimetail",
		"version", version.Version,
		"commit", version.Commit,
		"url", cfg.Realtime.URL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgrCfg := managerConfig(cfg.Realtime)

	var (
		pool  *pgxpool.Pool
		store unread.Store
	)
	if cfg.Reconcile.Enabled {
		switch cfg.Reconcile.Source {
		case config.ReconcileSourcePostgres:
			pool, err = database.Connect(ctx, cfg.Database, logger)
			if err != nil {
				logger.Error("failed to connect to database", "error", err)
				os.Exit(1)
			}
			defer pool.Close()
			store = unread.NewPGStore(pool)
		case config.ReconcileSourceAPI:
			store = api.New(apiConfig(cfg.API, mgrCfg.Client.Header), logger)
		}
	}

	client := realtime.New(mgrCfg, logger)

	for _, name := range model.InboundEvents {
		client.On(name, func(e model.Event) {
			printEvent(e, *verbose)
		})
	}

	client.OnConnectivityChange(func(c connection.StateChange) {
		logger.Info("connectivity changed",
			"from", c.From,
			"to", c.To,
			"attempt", c.Attempt,
			"error", c.Err,
		)
	})

	var reconciler *unread.Reconciler
	if store != nil {
		reconciler = unread.New(unread.Config{
			Timeout:  cfg.Reconcile.Timeout,
			Debounce: cfg.Reconcile.Debounce,
		}, client, client, store, unread.HandlerFunc(func(counts []model.UnreadCount) error {
			for _, c := range counts {
				fmt.Printf("[UNREAD] conversation=%s unread=%d\n", c.ConversationID, c.Unread)
			}
			return nil
		}), logger)
		if err := reconciler.Start(ctx); err != nil {
			logger.Error("failed to start unread reconciler", "error", err)
			os.Exit(1)
		}
	}

	for _, id := range splitIDs(*join) {
		client.JoinChannel(id)
	}

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHandler(cfg.Metrics.Path, client, pool),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				stats := client.Stats()
				logger.Info("stats",
					"connectivity", client.Connectivity(),
					"joined", len(client.Joined()),
					"received", stats.MessagesReceived,
					"routed", stats.MessagesRouted,
					"undelivered", stats.Undelivered,
					"parse_errors", stats.ParseErrors,
					"unknown", stats.UnknownMessages,
				)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if reconciler != nil {
			if err := reconciler.Stop(shutdownCtx); err != nil {
				logger.Warn("unread reconciler stop", "error", err)
			}
		}
		if err := client.Close(shutdownCtx); err != nil {
			logger.Warn("realtime client close", "error", err)
		}
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("streaming started - press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		logger.Error("realtimetail stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// managerConfig maps the file configuration onto the connection manager's.
func managerConfig(rc config.RealtimeConfig) connection.ManagerConfig {
	cfg := connection.DefaultManagerConfig()
	cfg.Client.URL = rc.URL
	cfg.Client.HandshakeTimeout = rc.HandshakeTimeout
	cfg.Client.WriteTimeout = rc.WriteTimeout
	cfg.Client.PingInterval = rc.PingInterval
	cfg.Client.PingTimeout = rc.PingTimeout
	cfg.Client.BufferSize = rc.BufferSize
	cfg.MaxReconnectAttempts = rc.MaxReconnectAttempts
	cfg.ReconnectBaseWait = rc.ReconnectBaseDelay
	cfg.ReconnectMaxWait = rc.ReconnectMaxDelay

	if len(rc.Headers) > 0 {
		cfg.Client.Header = make(http.Header, len(rc.Headers))
		for k, v := range rc.Headers {
			cfg.Client.Header.Set(k, v)
		}
	}
	return cfg
}

// apiConfig maps the file config onto the REST client. The client reuses the
// handshake headers so it carries the same session.
func apiConfig(ac config.APIConfig, header http.Header) api.Config {
	cfg := api.DefaultConfig()
	cfg.BaseURL = strings.TrimRight(ac.BaseURL, "/")
	cfg.Header = header
	cfg.Timeout = ac.Timeout
	cfg.MaxRetries = ac.MaxRetries
	cfg.RetryBackoff = ac.RetryBackoff
	return cfg
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func printEvent(e model.Event, verbose bool) {
	if verbose {
		fmt.Printf("[%s] %s %s\n", strings.ToUpper(e.Type), e.ReceivedAt.Format(time.RFC3339Nano), e.Data)
		return
	}

	switch e.Type {
	case "message:new":
		var m model.MessageNew
		if err := e.Decode(&m); err == nil {
			fmt.Printf("[MESSAGE] conversation=%s id=%s\n", m.ConversationID, m.ID)
			return
		}
	case "conversation:typing":
		var t model.ConversationTyping
		if err := e.Decode(&t); err == nil {
			fmt.Printf("[TYPING] conversation=%s user=%s typing=%t\n", t.ConversationID, t.UserID, t.IsTyping)
			return
		}
	}
	fmt.Printf("[%s] %d bytes\n", strings.ToUpper(e.Type), len(e.Data))
}

// createHandler serves metrics, health and the channel registry.
func createHandler(metricsPath string, client *realtime.Client, pool *pgxpool.Pool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		state := client.Connectivity()
		health.Components["realtime"] = map[string]any{
			"state":  state.String(),
			"joined": len(client.Joined()),
		}
		switch state {
		case connection.StateConnected:
		case connection.StateExhausted:
			health.Status = "unhealthy"
		default:
			health.Status = "degraded"
		}

		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"connectivity": client.Connectivity().String(),
			"channels":     client.Channels(),
		})
	})

	return mux
}
