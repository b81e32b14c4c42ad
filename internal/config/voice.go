package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nia-agent-cyber/openai-voice-skill/internal/phone"
)

// DefaultAccountID is the account used when no account is named.
const DefaultAccountID = "default"

// Policy values for inbound authorization.
const (
	PolicyOpen      = "open"
	PolicyAllowlist = "allowlist"
	PolicyPairing   = "pairing"
)

// AccountConfig is the per-account voice channel configuration.
// All fields are optional; named accounts merge over the base account.
type AccountConfig struct {
	Enabled           *bool    `yaml:"enabled"`
	TwilioAccountSID  string   `yaml:"twilioAccountSid"`
	TwilioAuthToken   string   `yaml:"twilioAuthToken"`
	TwilioPhoneNumber string   `yaml:"twilioPhoneNumber"`
	OpenAIAPIKey      string   `yaml:"openaiApiKey"`
	WebhookURL        string   `yaml:"webhookUrl"`
	AllowFrom         []string `yaml:"allowFrom"`
	DMPolicy          string   `yaml:"dmPolicy"`
}

// VoiceConfig is the channels.voice section of the host config file.
// The base-level fields form the default account; named accounts under
// "accounts" merge over the base.
type VoiceConfig struct {
	AccountConfig `yaml:",inline"`

	Accounts map[string]AccountConfig `yaml:"accounts"`
}

// ResolvedAccount is an account with merge and defaulting applied.
type ResolvedAccount struct {
	AccountID         string
	Enabled           bool
	Configured        bool
	TwilioPhoneNumber string
	Config            AccountConfig
}

// hostConfig mirrors just enough of the host's YAML layout to reach
// channels.voice.
type hostConfig struct {
	Channels struct {
		Voice *VoiceConfig `yaml:"voice"`
	} `yaml:"channels"`
}

// LoadVoice reads the channels.voice section from the host config file.
// A missing path yields an empty config (channel unconfigured, not an error).
func LoadVoice(path string) (*VoiceConfig, error) {
	if path == "" {
		return &VoiceConfig{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voice config: %w", err)
	}
	var host hostConfig
	if err := yaml.Unmarshal(raw, &host); err != nil {
		return nil, fmt.Errorf("parse voice config: %w", err)
	}
	if host.Channels.Voice == nil {
		return &VoiceConfig{}, nil
	}
	return host.Channels.Voice, nil
}

// ListAccountIDs returns every configured account ID, the default account
// first when the base config carries credentials.
func (v *VoiceConfig) ListAccountIDs() []string {
	ids := make([]string, 0, len(v.Accounts)+1)
	if v.TwilioPhoneNumber != "" || v.TwilioAccountSID != "" {
		ids = append(ids, DefaultAccountID)
	}
	named := make([]string, 0, len(v.Accounts))
	for id := range v.Accounts {
		if id != DefaultAccountID {
			named = append(named, id)
		}
	}
	sort.Strings(named)
	return append(ids, named...)
}

// ResolveAccount merges the named account over the base account and applies
// defaulting. Unknown IDs resolve to an unconfigured account rather than an
// error so that callers can report a useful status.
func (v *VoiceConfig) ResolveAccount(accountID string) ResolvedAccount {
	id := accountID
	if id == "" {
		id = DefaultAccountID
	}

	merged := v.AccountConfig
	if named, ok := v.Accounts[id]; ok {
		merged = mergeAccount(merged, named)
	} else if id != DefaultAccountID {
		merged = AccountConfig{}
	}

	enabled := merged.Enabled == nil || *merged.Enabled
	configured := merged.TwilioAccountSID != "" &&
		merged.TwilioAuthToken != "" &&
		merged.TwilioPhoneNumber != ""

	return ResolvedAccount{
		AccountID:         id,
		Enabled:           enabled,
		Configured:        configured,
		TwilioPhoneNumber: merged.TwilioPhoneNumber,
		Config:            merged,
	}
}

// mergeAccount lays the override on top of the base, field by field.
func mergeAccount(base, override AccountConfig) AccountConfig {
	out := base
	if override.Enabled != nil {
		out.Enabled = override.Enabled
	}
	if override.TwilioAccountSID != "" {
		out.TwilioAccountSID = override.TwilioAccountSID
	}
	if override.TwilioAuthToken != "" {
		out.TwilioAuthToken = override.TwilioAuthToken
	}
	if override.TwilioPhoneNumber != "" {
		out.TwilioPhoneNumber = override.TwilioPhoneNumber
	}
	if override.OpenAIAPIKey != "" {
		out.OpenAIAPIKey = override.OpenAIAPIKey
	}
	if override.WebhookURL != "" {
		out.WebhookURL = override.WebhookURL
	}
	if override.AllowFrom != nil {
		out.AllowFrom = override.AllowFrom
	}
	if override.DMPolicy != "" {
		out.DMPolicy = override.DMPolicy
	}
	return out
}

// FormatAllowFrom trims, drops empties, and normalizes allowlist entries.
// "*" and trailing-"*" prefix patterns pass through with only the literal
// part normalized at match time.
func FormatAllowFrom(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if e == "*" || strings.HasSuffix(e, "*") {
			out = append(out, e)
			continue
		}
		if n := phone.Normalize(e); n != "" {
			out = append(out, n)
		}
	}
	return out
}
