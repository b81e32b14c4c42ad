// Package history tracks known callers and missed calls for the lifetime of
// the process. It backs the inbound context endpoints; nothing here is
// persisted across restarts.
package history

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nia-agent-cyber/openai-voice-skill/internal/phone"
)

// MissedCallCap bounds the missed-call buffer; the oldest record is evicted
// first once the cap is reached.
const MissedCallCap = 100

// Missed-call reasons.
const (
	ReasonUnauthorized = "unauthorized"
	ReasonBusy         = "busy"
	ReasonNoAnswer     = "no_answer"
	ReasonAfterHours   = "after_hours"
)

// Caller is the per-number history record, keyed by normalized phone number.
type Caller struct {
	Phone       string    `json:"phone"`
	Name        string    `json:"name,omitempty"`
	CallCount   int       `json:"call_count"`
	LastCallAt  time.Time `json:"last_call_at"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	Notes       string    `json:"notes,omitempty"`
}

// MissedCall records a call that did not reach the agent.
type MissedCall struct {
	Timestamp           time.Time `json:"timestamp"`
	From                string    `json:"from_number"`
	Reason              string    `json:"reason"`
	HasVoicemail        bool      `json:"has_voicemail"`
	VoicemailTranscript string    `json:"voicemail_transcript,omitempty"`
	CallbackScheduled   bool      `json:"callback_scheduled"`
	CallbackScheduledAt time.Time `json:"callback_scheduled_at,omitempty"`
}

// CallerContext is what the inbound flow injects into the agent's prompt
// for a new call.
type CallerContext struct {
	SessionKey        string `json:"session_key"`
	IsKnownCaller     bool   `json:"is_known_caller"`
	CallerName        string `json:"caller_name,omitempty"`
	PreviousCallCount int    `json:"previous_call_count"`
	LastCallAt        string `json:"last_call_at,omitempty"`
	CallerNotes       string `json:"caller_notes,omitempty"`
	Instructions      string `json:"context_instructions"`
}

// ContextRequest carries the caller-ID details Twilio hands us for an
// inbound call.
type ContextRequest struct {
	CallerPhone   string `json:"caller_phone"`
	CallerName    string `json:"caller_name,omitempty"`
	CallerCity    string `json:"caller_city,omitempty"`
	CallerState   string `json:"caller_state,omitempty"`
	CallerCountry string `json:"caller_country,omitempty"`
}

// Tracker owns the caller history map and the missed-call ring buffer.
// All access goes through the mutex; handlers on separate goroutines share
// one Tracker per gateway.
type Tracker struct {
	mu      sync.Mutex
	callers map[string]*Caller
	missed  []MissedCall
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		callers: make(map[string]*Caller),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecordCallStart bumps the caller's count and last-seen time, creating the
// record on first contact. A caller-ID name fills in a missing display name
// but never overwrites one we already have.
func (t *Tracker) RecordCallStart(callerPhone, callerName string) {
	normalized := phone.Normalize(callerPhone)
	if normalized == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if c, ok := t.callers[normalized]; ok {
		c.CallCount++
		c.LastCallAt = now
		if callerName != "" && c.Name == "" {
			c.Name = callerName
		}
		return
	}
	t.callers[normalized] = &Caller{
		Phone:       normalized,
		Name:        callerName,
		CallCount:   1,
		LastCallAt:  now,
		FirstSeenAt: now,
	}
}

// RecordMissedCall appends to the missed-call buffer, evicting the oldest
// record past MissedCallCap.
func (t *Tracker) RecordMissedCall(from, reason, voicemailTranscript string) MissedCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	mc := MissedCall{
		Timestamp:           t.now(),
		From:                from,
		Reason:              reason,
		HasVoicemail:        voicemailTranscript != "",
		VoicemailTranscript: voicemailTranscript,
	}
	t.missed = append(t.missed, mc)
	if len(t.missed) > MissedCallCap {
		t.missed = t.missed[len(t.missed)-MissedCallCap:]
	}
	return mc
}

// MarkCallbackScheduled flips the callback flag on the missed call with the
// given timestamp. Returns false when no record matches.
func (t *Tracker) MarkCallbackScheduled(timestamp time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.missed {
		if t.missed[i].Timestamp.Equal(timestamp) {
			t.missed[i].CallbackScheduled = true
			t.missed[i].CallbackScheduledAt = t.now()
			return true
		}
	}
	return false
}

// UpdateNotes sets the notes field for a known caller. Returns false for
// unknown numbers.
func (t *Tracker) UpdateNotes(callerPhone, notes string) bool {
	normalized := phone.Normalize(callerPhone)

	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.callers[normalized]
	if !ok {
		return false
	}
	c.Notes = notes
	return true
}

// Callers returns up to limit caller records. Totals come from CallerCount.
func (t *Tracker) Callers(limit int) []Caller {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Caller, 0, limit)
	for _, c := range t.callers {
		if len(out) >= limit {
			break
		}
		out = append(out, *c)
	}
	return out
}

// CallerCount returns the number of known callers.
func (t *Tracker) CallerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.callers)
}

// MissedCalls returns the most recent missed calls, newest first. With
// pendingOnly set, only calls with voicemail and no scheduled callback are
// returned.
func (t *Tracker) MissedCalls(limit int, pendingOnly bool) []MissedCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := 0
	if len(t.missed) > limit {
		start = len(t.missed) - limit
	}
	recent := t.missed[start:]

	out := make([]MissedCall, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		mc := recent[i]
		if pendingOnly && (mc.CallbackScheduled || !mc.HasVoicemail) {
			continue
		}
		out = append(out, mc)
	}
	return out
}

// PendingCallbacks counts missed calls with voicemail awaiting a callback.
func (t *Tracker) PendingCallbacks() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, mc := range t.missed {
		if mc.HasVoicemail && !mc.CallbackScheduled {
			n++
		}
	}
	return n
}

// MissedCallCount returns the current buffer length.
func (t *Tracker) MissedCallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.missed)
}

// BuildContext assembles the session key and prompt instructions for an
// inbound call, drawing on any history for the caller.
func (t *Tracker) BuildContext(req ContextRequest) CallerContext {
	normalized := phone.Normalize(req.CallerPhone)
	sessionKey := "voice:" + phone.Digits(normalized)

	t.mu.Lock()
	var known *Caller
	if c, ok := t.callers[normalized]; ok {
		snapshot := *c
		known = &snapshot
	}
	t.mu.Unlock()

	parts := []string{
		"--- INBOUND CALL CONTEXT ---",
		"Call Direction: Inbound (caller reached you)",
	}

	var location []string
	for _, p := range []string{req.CallerCity, req.CallerState, req.CallerCountry} {
		if p != "" {
			location = append(location, p)
		}
	}
	if len(location) > 0 {
		parts = append(parts, "Caller Location: "+strings.Join(location, ", "))
	}
	if req.CallerName != "" {
		parts = append(parts, "Caller ID Name: "+req.CallerName)
	}

	ctx := CallerContext{
		SessionKey: sessionKey,
		CallerName: req.CallerName,
	}

	if known != nil {
		ctx.IsKnownCaller = true
		ctx.PreviousCallCount = known.CallCount
		ctx.LastCallAt = known.LastCallAt.Format(time.RFC3339)
		ctx.CallerNotes = known.Notes
		if known.Name != "" {
			ctx.CallerName = known.Name
		}

		parts = append(parts, "", "--- CALLER HISTORY ---")
		if known.Name != "" {
			parts = append(parts, "Known as: "+known.Name)
		}
		parts = append(parts, "Previous calls: "+strconv.Itoa(known.CallCount))
		parts = append(parts, "Last call: "+ctx.LastCallAt)
		if known.Notes != "" {
			parts = append(parts, "Notes: "+known.Notes)
		}
		parts = append(parts, "",
			"Since this is a returning caller, you may reference previous conversations if relevant.")
	} else {
		parts = append(parts, "", "--- NEW CALLER ---",
			"This is the first call from this number. Be welcoming and ask how you can help.")
	}

	parts = append(parts, "--- END CONTEXT ---")
	ctx.Instructions = strings.Join(parts, "\n")
	return ctx
}
