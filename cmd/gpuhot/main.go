package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/gpuhot/gpuhot/internal/alerts"
	"github.com/gpuhot/gpuhot/internal/api"
	"github.com/gpuhot/gpuhot/internal/collector"
	"github.com/gpuhot/gpuhot/internal/config"
	"github.com/gpuhot/gpuhot/internal/fleet"
	"github.com/gpuhot/gpuhot/internal/monitor"
	"github.com/gpuhot/gpuhot/internal/obsv"
	"github.com/gpuhot/gpuhot/internal/ws"
)

func main() {
	envFile := flag.String("env-file", "", "load environment variables from this file before reading config")
	mode := flag.String("mode", "", "override GPUHOT_MODE (standalone|node|hub)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			slog.Error("failed to load env file", "path", *envFile, "err", err)
			os.Exit(1)
		}
	} else {
		// A local .env is optional.
		godotenv.Load() //nolint:errcheck
	}

	if *mode != "" {
		os.Setenv("GPUHOT_MODE", *mode) //nolint:errcheck
	}

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("gpuhot starting",
		"mode", cfg.Mode,
		"node_name", cfg.NodeName,
		"http_port", cfg.HTTPPort,
		"nodes", len(cfg.NodeURLs),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := obsv.New()

	mgr, err := buildAlertManager(ctx, cfg, metrics)
	if err != nil {
		slog.Error("failed to set up alerting", "err", err)
		os.Exit(1)
	}

	// Telemetry source for the API and the WebSocket broadcaster, per mode.
	var (
		source   ws.ViewSource
		records  func() []fleet.NodeRecord
		interval = cfg.BroadcastInterval
	)

	switch cfg.Mode {
	case config.ModeHub:
		if len(cfg.NodeURLs) == 0 {
			slog.Warn("hub mode with an empty node list: the cluster view will stay empty until nodes are configured")
		}
		agg := fleet.NewAggregator(cfg.NodeURLs, cfg.OfflineCacheDuration, mgr, metrics)
		connCfg := fleet.ConnConfig{
			PollTimeout:        cfg.PollTimeout,
			RetryDelay:         cfg.RetryDelay,
			PollMaxAttempts:    cfg.PollMaxAttempts,
			StreamRetryDelay:   cfg.StreamRetryDelay,
			StreamStaleTimeout: cfg.StreamStaleTimeout,
		}
		for _, url := range cfg.NodeURLs {
			conn := fleet.NewConn(url, agg, connCfg)
			if cfg.Transport == config.TransportPoll {
				go conn.RunPoll(ctx)
			} else {
				go conn.RunStream(ctx)
			}
		}
		source = agg.Payload
		records = agg.Records

	default: // standalone or node
		var src collector.Source
		if cfg.CollectorEndpoint != "" {
			src = collector.NewDCGM(cfg.NodeName, cfg.CollectorEndpoint)
			slog.Info("scraping collector endpoint", "endpoint", cfg.CollectorEndpoint)
		} else {
			slog.Warn("no collector endpoint configured: publishing empty snapshots")
			src = collector.Empty(cfg.NodeName)
		}
		mon := monitor.New(src, cfg.NodeName, string(cfg.Mode), cfg.UpdateInterval, mgr)
		go mon.Run(ctx)
		source = mon.Payload
	}

	hub := ws.New(ctx, source, interval, metrics)

	mux := http.NewServeMux()
	mux.Handle("/api/", api.New(api.Config{
		Mode:     string(cfg.Mode),
		NodeName: cfg.NodeName,
		Snapshot: source,
		Records:  records,
		Alerts:   mgr,
	}))
	mux.Handle("/ws/stream", hub)
	mux.Handle("/metrics", metrics.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: mux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("gpuhot shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}

// buildAlertManager assembles the alert evaluator: default rules from startup
// thresholds, channels from the environment, and a settings store chosen by
// the settings path's extension. A JSON settings file is additionally watched
// for external edits.
func buildAlertManager(ctx context.Context, cfg *config.Config, metrics *obsv.Metrics) (*alerts.Manager, error) {
	var channels []alerts.ChannelConfig
	if cfg.DiscordWebhookURL != "" {
		channels = append(channels, alerts.ChannelConfig{
			Type:       alerts.ChannelWebhook,
			Enabled:    true,
			WebhookURL: cfg.DiscordWebhookURL,
		})
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		channels = append(channels, alerts.ChannelConfig{
			Type:     alerts.ChannelTelegram,
			Enabled:  true,
			BotToken: cfg.TelegramBotToken,
			ChatID:   cfg.TelegramChatID,
		})
	}

	var (
		store   alerts.SettingsStore
		watched bool
	)
	switch {
	case cfg.SettingsPath == "":
		slog.Info("alert settings persistence disabled")
	case strings.HasSuffix(cfg.SettingsPath, ".db") || strings.HasSuffix(cfg.SettingsPath, ".sqlite"):
		s, err := alerts.NewSQLiteStore(cfg.SettingsPath)
		if err != nil {
			return nil, fmt.Errorf("open settings store: %w", err)
		}
		store = s
	default:
		store = alerts.NewJSONStore(cfg.SettingsPath)
		watched = true
	}

	mgr, err := alerts.NewManager(alerts.ManagerConfig{
		Enabled:    cfg.Alerts.Enabled,
		Cooldown:   cfg.Alerts.Cooldown,
		ResetDelta: cfg.Alerts.ResetDelta,
		Rules:      alerts.DefaultRules(cfg.Alerts),
		Channels:   channels,
		Store:      store,
		NodeName:   cfg.NodeName,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, err
	}

	if watched {
		if err := alerts.WatchSettings(ctx, cfg.SettingsPath, mgr); err != nil {
			slog.Warn("settings file watching unavailable", "err", err)
		}
	}
	return mgr, nil
}
