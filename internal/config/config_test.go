package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear any env vars that might interfere.
	for _, k := range []string{"BRIDGE_PORT", "CALL_SERVER_URL", "VOICE_CONFIG_PATH",
		"SESSION_STORE_DIR", "NATS_URL", "LOG_LEVEL", "HEALTH_CHECK_INTERVAL_MS",
		"ZOMBIE_THRESHOLD_SECONDS"} {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.Port != 8082 {
		t.Errorf("expected port 8082, got %d", cfg.Port)
	}
	if cfg.CallServerURL != "http://localhost:8080" {
		t.Errorf("expected default call server url, got %s", cfg.CallServerURL)
	}
	if cfg.NatsURL != "" {
		t.Errorf("expected NATS disabled by default, got %s", cfg.NatsURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level info, got %s", cfg.LogLevel)
	}
	if cfg.HealthCheckInterval != 30*time.Second {
		t.Errorf("expected 30s health interval, got %v", cfg.HealthCheckInterval)
	}
	if cfg.ZombieThresholdSecs != 3600 {
		t.Errorf("expected zombie threshold 3600, got %d", cfg.ZombieThresholdSecs)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("BRIDGE_PORT", "9090")
	os.Setenv("CALL_SERVER_URL", "http://call-server:8080")
	os.Setenv("NATS_URL", "nats://localhost:4222")
	os.Setenv("HEALTH_CHECK_INTERVAL_MS", "5000")
	os.Setenv("ZOMBIE_THRESHOLD_SECONDS", "1800")
	defer func() {
		for _, k := range []string{"BRIDGE_PORT", "CALL_SERVER_URL", "NATS_URL",
			"HEALTH_CHECK_INTERVAL_MS", "ZOMBIE_THRESHOLD_SECONDS"} {
			os.Unsetenv(k)
		}
	}()

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.CallServerURL != "http://call-server:8080" {
		t.Errorf("expected custom call server url, got %s", cfg.CallServerURL)
	}
	if cfg.NatsURL != "nats://localhost:4222" {
		t.Errorf("expected custom nats url, got %s", cfg.NatsURL)
	}
	if cfg.HealthCheckInterval != 5*time.Second {
		t.Errorf("expected 5s health interval, got %v", cfg.HealthCheckInterval)
	}
	if cfg.ZombieThresholdSecs != 1800 {
		t.Errorf("expected zombie threshold 1800, got %d", cfg.ZombieThresholdSecs)
	}
}

func TestLoad_InvalidInt(t *testing.T) {
	os.Setenv("BRIDGE_PORT", "notanumber")
	defer os.Unsetenv("BRIDGE_PORT")

	cfg := Load()
	if cfg.Port != 8082 {
		t.Errorf("expected default port on invalid value, got %d", cfg.Port)
	}
}

const sampleVoiceYAML = `
channels:
  voice:
    enabled: true
    twilioAccountSid: AC000
    twilioAuthToken: secret
    twilioPhoneNumber: "+14402915517"
    webhookUrl: http://localhost:8080
    dmPolicy: allowlist
    allowFrom:
      - "+1440*"
    accounts:
      work:
        twilioPhoneNumber: "+15551234567"
        dmPolicy: open
`

func writeVoiceConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openclaw.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadVoice_MissingPath(t *testing.T) {
	vc, err := LoadVoice("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vc.ListAccountIDs()) != 0 {
		t.Errorf("expected no accounts, got %v", vc.ListAccountIDs())
	}
}

func TestLoadVoice_ResolveDefault(t *testing.T) {
	vc, err := LoadVoice(writeVoiceConfig(t, sampleVoiceYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acct := vc.ResolveAccount("")
	if acct.AccountID != DefaultAccountID {
		t.Errorf("expected default account, got %s", acct.AccountID)
	}
	if !acct.Enabled || !acct.Configured {
		t.Errorf("expected enabled+configured, got enabled=%v configured=%v", acct.Enabled, acct.Configured)
	}
	if acct.TwilioPhoneNumber != "+14402915517" {
		t.Errorf("unexpected phone %s", acct.TwilioPhoneNumber)
	}
	if acct.Config.DMPolicy != PolicyAllowlist {
		t.Errorf("unexpected policy %s", acct.Config.DMPolicy)
	}
}

func TestLoadVoice_NamedAccountMergesOverBase(t *testing.T) {
	vc, err := LoadVoice(writeVoiceConfig(t, sampleVoiceYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acct := vc.ResolveAccount("work")
	if acct.TwilioPhoneNumber != "+15551234567" {
		t.Errorf("override not applied, got %s", acct.TwilioPhoneNumber)
	}
	// Inherited from base.
	if acct.Config.TwilioAccountSID != "AC000" {
		t.Errorf("base sid not inherited, got %s", acct.Config.TwilioAccountSID)
	}
	if acct.Config.DMPolicy != PolicyOpen {
		t.Errorf("policy override not applied, got %s", acct.Config.DMPolicy)
	}
	if !acct.Configured {
		t.Error("expected merged account to be configured")
	}
}

func TestLoadVoice_UnknownAccount(t *testing.T) {
	vc, err := LoadVoice(writeVoiceConfig(t, sampleVoiceYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	acct := vc.ResolveAccount("nope")
	if acct.Configured {
		t.Error("unknown account should not be configured")
	}
}

func TestListAccountIDs(t *testing.T) {
	vc, err := LoadVoice(writeVoiceConfig(t, sampleVoiceYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := vc.ListAccountIDs()
	if len(ids) != 2 || ids[0] != DefaultAccountID || ids[1] != "work" {
		t.Errorf("unexpected account ids %v", ids)
	}
}

func TestFormatAllowFrom(t *testing.T) {
	got := FormatAllowFrom([]string{" +1 (440) 291-5517 ", "", "*", "+1440*", "14402915518"})
	want := []string{"+14402915517", "*", "+1440*", "+14402915518"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
