// Package auth decides whether an inbound caller is allowed to reach the
// agent, based on the account's dmPolicy and allowFrom list.
package auth

import (
	"strings"

	"github.com/nia-agent-cyber/openai-voice-skill/internal/config"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/phone"
)

// Decision reasons.
const (
	ReasonAllowed        = "allowed"
	ReasonAllowlistMatch = "allowlist_match"
	ReasonDenied         = "denied"
	ReasonNotConfigured  = "not_configured"
)

// Decision is the outcome of authorizing a caller. Message is caller-facing:
// it may be spoken or displayed to the person on the line, so each denial
// path gets its own wording.
type Decision struct {
	Authorized   bool   `json:"authorized"`
	Reason       string `json:"reason"`
	Message      string `json:"message"`
	MatchedEntry string `json:"matched_entry,omitempty"`
	Policy       string `json:"policy"`
}

// Authorize applies the account's policy to a caller number.
//
// Policy resolution order: disabled channel, open, pairing, allowlist
// (the default). The pairing policy currently falls through to allowlist
// matching; a real paired-device registry would replace that branch.
func Authorize(callerPhone string, acct config.AccountConfig) Decision {
	normalized := phone.Normalize(callerPhone)

	if acct.Enabled != nil && !*acct.Enabled {
		return Decision{
			Reason:  ReasonNotConfigured,
			Message: "Voice channel is disabled",
			Policy:  "disabled",
		}
	}

	policy := acct.DMPolicy
	if policy == "" {
		policy = config.PolicyAllowlist
	}

	switch policy {
	case config.PolicyOpen:
		return Decision{
			Authorized: true,
			Reason:     ReasonAllowed,
			Message:    "Open policy - all calls accepted",
			Policy:     config.PolicyOpen,
		}

	case config.PolicyPairing:
		// Stub: pairing behaves as allowlist until a paired-device registry
		// exists.
		if matched := CheckAllowlist(normalized, acct.AllowFrom); matched != "" {
			return Decision{
				Authorized:   true,
				Reason:       ReasonAllowlistMatch,
				Message:      "Caller matches paired device",
				MatchedEntry: matched,
				Policy:       config.PolicyPairing,
			}
		}
		return Decision{
			Reason:  ReasonDenied,
			Message: "Caller not paired",
			Policy:  config.PolicyPairing,
		}
	}

	// Allowlist policy (default). An empty list denies everyone: the secure
	// default for a channel that can ring a phone.
	if len(acct.AllowFrom) == 0 {
		return Decision{
			Reason:  ReasonNotConfigured,
			Message: "No allowlist configured - inbound calls disabled for security",
			Policy:  config.PolicyAllowlist,
		}
	}

	if matched := CheckAllowlist(normalized, acct.AllowFrom); matched != "" {
		return Decision{
			Authorized:   true,
			Reason:       ReasonAllowlistMatch,
			Message:      "Caller matches allowlist entry: " + matched,
			MatchedEntry: matched,
			Policy:       config.PolicyAllowlist,
		}
	}

	return Decision{
		Reason:  ReasonDenied,
		Message: "Caller not in allowlist",
		Policy:  config.PolicyAllowlist,
	}
}

// CheckAllowlist returns the first matching entry, or "" when nothing
// matches. Entries may be exact numbers, "*" (match all), or prefix patterns
// ending in "*" such as "+1440*". List order decides ties.
func CheckAllowlist(normalizedPhone string, allowFrom []string) string {
	for _, entry := range allowFrom {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			return "*"
		}

		entryNorm := phone.Normalize(strings.TrimSuffix(entry, "*"))

		if strings.HasSuffix(entry, "*") {
			if entryNorm != "" && strings.HasPrefix(normalizedPhone, entryNorm) {
				return entry
			}
			continue
		}

		if normalizedPhone == entryNorm {
			return entry
		}
	}
	return ""
}
