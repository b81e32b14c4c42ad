package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nia-agent-cyber/openai-voice-skill/internal/announce"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/api"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/bridge"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/callserver"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/config"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/gateway"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/history"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/outbound"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/session"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("voice-bridge starting",
		"port", cfg.Port,
		"call_server_url", cfg.CallServerURL,
		"zombie_threshold_seconds", cfg.ZombieThresholdSecs,
	)

	voice, err := config.LoadVoice(cfg.VoiceConfigPath)
	if err != nil {
		slog.Error("failed to load voice config", "path", cfg.VoiceConfigPath, "error", err)
		os.Exit(1)
	}
	if ids := voice.ListAccountIDs(); len(ids) > 0 {
		slog.Info("voice accounts configured", "accounts", ids)
	} else {
		slog.Warn("no voice accounts configured, inbound calls will be rejected")
	}

	if cfg.SessionStoreDir == "" {
		slog.Error("SESSION_STORE_DIR is required")
		os.Exit(1)
	}
	sessions, err := session.New(cfg.SessionStoreDir)
	if err != nil {
		slog.Error("failed to open session store", "dir", cfg.SessionStoreDir, "error", err)
		os.Exit(1)
	}

	server := callserver.New(cfg.CallServerURL)

	// NATS is optional: without a URL the bridge runs standalone.
	var publish bridge.PublishFunc
	if cfg.NatsURL != "" {
		ann, err := announce.Connect(cfg.NatsURL)
		if err != nil {
			slog.Error("failed to connect to NATS", "url", cfg.NatsURL, "error", err)
			os.Exit(1)
		}
		defer ann.Close()
		publish = ann.Publish
		slog.Info("NATS announcer connected", "url", cfg.NatsURL)

		registration, _ := json.Marshal(map[string]any{
			"event_type": "channel.registered",
			"source":     "voice-bridge",
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"metadata":   map[string]any{"port": cfg.Port},
		})
		if err := ann.Publish("voice.bridge.registered", registration); err != nil {
			slog.Warn("failed to publish registration event", "error", err)
		}
	}

	b := bridge.New(server, sessions, publish)
	tracker := history.NewTracker()
	sender := outbound.NewSender(server)

	srv := api.NewServer(b, tracker, voice, server, sender,
		time.Duration(cfg.ZombieThresholdSecs)*time.Second)
	gw := gateway.New(srv.Handler(), server, cfg.Port, cfg.HealthCheckInterval)
	if err := gw.Start(); err != nil {
		slog.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}

	slog.Info("voice-bridge ready", "addr", gw.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(ctx); err != nil {
		slog.Warn("gateway shutdown error", "error", err)
	}
	slog.Info("voice-bridge stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
