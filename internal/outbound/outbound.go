// Package outbound places calls through the call server. The "message" of an
// outbound voice call is text the agent wants spoken; telephony details stay
// on the call server's side.
package outbound

import (
	"context"
	"log/slog"

	"github.com/nia-agent-cyber/openai-voice-skill/internal/callserver"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/phone"
)

// CallServer is the slice of the call server's API outbound calling needs.
type CallServer interface {
	InitiateCall(ctx context.Context, to, message string) (callserver.CallResponse, error)
}

// Result reports one outbound call attempt. Failures are data, not errors:
// the channel surface reports them to the agent instead of crashing a send.
type Result struct {
	Success bool   `json:"success"`
	To      string `json:"to,omitempty"`
	CallSID string `json:"call_sid,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Sender turns agent text into outbound calls.
type Sender struct {
	server CallServer
}

func NewSender(server CallServer) *Sender {
	return &Sender{server: server}
}

// SendText dials the target number and has the call server speak the text.
// Bare 10-digit numbers get a +1 country code; anything that cannot be
// shaped into a dialable number fails without touching the call server.
func (s *Sender) SendText(ctx context.Context, to, text string) Result {
	dial := phone.NormalizeDial(to)
	if dial == "" {
		slog.Warn("outbound: undialable number", "to", phone.Mask(to))
		return Result{Error: "invalid phone number: " + to}
	}

	resp, err := s.server.InitiateCall(ctx, dial, text)
	if err != nil {
		slog.Error("outbound: call initiation failed", "to", phone.Mask(dial), "error", err)
		return Result{To: dial, Error: err.Error()}
	}

	// The call server reports some failures inside a 200 body.
	if resp.Status == "error" || resp.Error != "" {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = "call server reported an error"
		}
		slog.Error("outbound: call rejected", "to", phone.Mask(dial), "error", msg)
		return Result{To: dial, Error: msg}
	}

	slog.Info("outbound: call placed", "to", phone.Mask(dial), "call_id", resp.CallID)
	return Result{Success: true, To: dial, CallSID: resp.CallID}
}
