package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the service-level configuration, read from the environment.
// Channel and account settings live in the YAML file at VoiceConfigPath;
// see LoadVoice.
type Config struct {
	Port                int
	CallServerURL       string
	VoiceConfigPath     string
	SessionStoreDir     string
	NatsURL             string
	LogLevel            string
	HealthCheckInterval time.Duration
	ZombieThresholdSecs int
}

func Load() Config {
	return Config{
		Port:                envInt("BRIDGE_PORT", 8082),
		CallServerURL:       envStr("CALL_SERVER_URL", "http://localhost:8080"),
		VoiceConfigPath:     envStr("VOICE_CONFIG_PATH", ""),
		SessionStoreDir:     envStr("SESSION_STORE_DIR", ""),
		NatsURL:             envStr("NATS_URL", ""),
		LogLevel:            envStr("LOG_LEVEL", "info"),
		HealthCheckInterval: time.Duration(envInt("HEALTH_CHECK_INTERVAL_MS", 30000)) * time.Millisecond,
		ZombieThresholdSecs: envInt("ZOMBIE_THRESHOLD_SECONDS", 3600),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
