// Package bridge is the core of the voice channel: it maps external call
// IDs to durable session keys, buffers streaming transcript fragments while
// a call is live, syncs them into session storage when the call ends, and
// detects calls the call server never closed.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nia-agent-cyber/openai-voice-skill/internal/callserver"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/phone"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/session"
)

// DefaultZombieThreshold is how long a call may stay "active" before it
// counts as a zombie.
const DefaultZombieThreshold = 3600 * time.Second

// historyFetchLimit bounds how much history a zombie scan pulls.
const historyFetchLimit = 100

// CallServer is the slice of the call server's API the bridge consumes.
type CallServer interface {
	Transcript(ctx context.Context, callID string) ([]callserver.TranscriptEntry, error)
	Stats(ctx context.Context) (callserver.StorageStats, error)
	History(ctx context.Context, limit int) ([]callserver.HistoryRecord, error)
}

// SessionStore is the durable session-storage contract the bridge writes to.
type SessionStore interface {
	Ensure(sessionKey string) (session.Entry, error)
	Append(sessionID string, rec session.Record) error
}

// PublishFunc announces bridge lifecycle events (NATS in production, nil to
// disable).
type PublishFunc func(subject string, data []byte) error

// phonePattern recovers a phone number embedded in a call ID when the
// in-memory mapping is gone.
var phonePattern = regexp.MustCompile(`\+?\d{10,}`)

type callRecord struct {
	sessionKey string
	direction  string
}

// Bridge owns the call→session map and the pending-transcript buffers.
// Both maps share one mutex; each operation holds it only around map access
// so slow call-server fetches never serialize unrelated calls.
type Bridge struct {
	server   CallServer
	sessions SessionStore
	publish  PublishFunc

	mu      sync.Mutex
	calls   map[string]callRecord
	pending map[string][]TranscriptEntry

	now func() time.Time
}

func New(server CallServer, sessions SessionStore, publish PublishFunc) *Bridge {
	return &Bridge{
		server:   server,
		sessions: sessions,
		publish:  publish,
		calls:    make(map[string]callRecord),
		pending:  make(map[string][]TranscriptEntry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SessionKeyFor derives the durable storage address for a phone number.
// Only digits participate, so "+1440..." and "1440..." share a session.
func SessionKeyFor(phoneNumber string) string {
	return "voice:" + phone.Digits(phoneNumber)
}

// HandleCallEvent advances the per-call state machine.
func (b *Bridge) HandleCallEvent(ctx context.Context, event CallEvent) EventResult {
	slog.Info("bridge: call event",
		"event_type", event.EventType,
		"call_id", event.CallID,
		"from", phone.Mask(event.PhoneNumber),
	)

	switch event.EventType {
	case EventCallStarted:
		sessionKey := SessionKeyFor(event.PhoneNumber)

		b.mu.Lock()
		// Last call_started wins: a replayed start simply resets the buffer.
		b.calls[event.CallID] = callRecord{sessionKey: sessionKey, direction: event.Direction}
		b.pending[event.CallID] = []TranscriptEntry{}
		b.mu.Unlock()

		slog.Info("bridge: call mapped", "call_id", event.CallID, "session_key", sessionKey)
		b.announce("voice.call.started", map[string]any{
			"call_id":     event.CallID,
			"session_key": sessionKey,
			"direction":   event.Direction,
		})
		return EventResult{Status: StatusSessionMapped, SessionKey: sessionKey}

	case EventTranscriptUpdate:
		if event.Data == nil {
			return EventResult{Status: StatusTranscriptDropped}
		}

		b.mu.Lock()
		_, ok := b.calls[event.CallID]
		if ok {
			b.pending[event.CallID] = append(b.pending[event.CallID], *event.Data)
		}
		b.mu.Unlock()

		if !ok {
			// The start event was lost. The fallback fetch during sync is
			// the recovery path for this call's transcript.
			slog.Warn("bridge: transcript for unknown call dropped", "call_id", event.CallID)
			return EventResult{Status: StatusTranscriptDropped}
		}
		return EventResult{Status: StatusTranscriptStored}

	case EventCallEnded:
		b.mu.Lock()
		rec, ok := b.calls[event.CallID]
		b.mu.Unlock()

		if !ok {
			return EventResult{Status: StatusNoSessionFound}
		}

		result := b.SyncTranscript(ctx, event.CallID)

		// Cleanup is unconditional: a failed sync never leaves the call
		// stuck in memory. The call server's history remains the recovery
		// path.
		b.forget(event.CallID)

		status := StatusSessionSynced
		if !result.Success {
			status = StatusSyncFailed
		}
		b.announce("voice.call.ended", map[string]any{
			"call_id":     event.CallID,
			"session_key": rec.sessionKey,
			"synced":      result.Success,
		})
		return EventResult{Status: status, SessionKey: rec.sessionKey}
	}

	return EventResult{Status: StatusIgnored}
}

// SyncTranscript reconciles a call's transcript into durable session
// storage. The pending buffer is preferred; when it is empty the call
// server's history API is the fallback source of truth. An empty transcript
// from both sources is a successful no-op.
//
// Sync is not exactly-once: calling it twice for the same call appends a
// duplicate record. The append-only log favors a simple write path over
// deduplication.
func (b *Bridge) SyncTranscript(ctx context.Context, callID string) SyncResult {
	b.mu.Lock()
	transcript := append([]TranscriptEntry(nil), b.pending[callID]...)
	rec, hasRecord := b.calls[callID]
	b.mu.Unlock()

	if len(transcript) == 0 {
		fetched, err := b.server.Transcript(ctx, callID)
		if err != nil {
			slog.Error("bridge: transcript fetch failed", "call_id", callID, "error", err)
			return SyncResult{Error: fmt.Sprintf("fetch transcript: %v", err)}
		}
		for _, e := range fetched {
			speaker := "assistant"
			if e.Speaker == "user" {
				speaker = "user"
			}
			transcript = append(transcript, TranscriptEntry{
				Timestamp: e.Timestamp,
				Speaker:   speaker,
				Content:   e.Content,
				EventType: e.EventType,
			})
		}
	}

	if len(transcript) == 0 {
		// Nothing recorded anywhere. Zombies and very short calls land here.
		return SyncResult{Success: true, SessionKey: rec.sessionKey}
	}

	sessionKey := rec.sessionKey
	if !hasRecord || sessionKey == "" {
		if match := phonePattern.FindString(callID); match != "" {
			sessionKey = SessionKeyFor(match)
		} else {
			// Last resort: the call ID itself is unique enough to address.
			sessionKey = "voice:" + callID
		}
	}

	entry, err := b.sessions.Ensure(sessionKey)
	if err != nil {
		slog.Error("bridge: session resolve failed", "session_key", sessionKey, "error", err)
		return SyncResult{SessionKey: sessionKey, Error: fmt.Sprintf("resolve session: %v", err)}
	}

	record := session.Record{
		Role:      "system",
		Content:   b.formatTranscript(transcript, callID),
		Timestamp: b.now().Format(time.RFC3339),
		Metadata: session.RecordMetadata{
			Source:          "voice-channel",
			CallID:          callID,
			TranscriptCount: len(transcript),
		},
	}
	if err := b.sessions.Append(entry.SessionID, record); err != nil {
		slog.Error("bridge: session injection failed", "session_key", sessionKey, "error", err)
		return SyncResult{SessionKey: sessionKey, Error: fmt.Sprintf("inject transcript: %v", err)}
	}

	slog.Info("bridge: transcript synced",
		"call_id", callID,
		"session_key", sessionKey,
		"messages", len(transcript),
	)
	b.announce("voice.transcript.synced", map[string]any{
		"call_id":     callID,
		"session_key": sessionKey,
		"messages":    len(transcript),
	})

	return SyncResult{Success: true, SessionKey: sessionKey, MessagesInjected: len(transcript)}
}

// ZombieCalls lists calls the call server still reports active past the
// threshold. The stats endpoint is checked first so an idle system never
// pays for a history fetch.
func (b *Bridge) ZombieCalls(ctx context.Context, threshold time.Duration) ([]callserver.HistoryRecord, error) {
	stats, err := b.server.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch stats: %w", err)
	}
	if stats.ActiveCalls == 0 {
		return []callserver.HistoryRecord{}, nil
	}

	records, err := b.server.History(ctx, historyFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	now := b.now()
	zombies := make([]callserver.HistoryRecord, 0)
	for _, r := range records {
		if r.Status != "active" {
			continue
		}
		startedAt, err := time.Parse(time.RFC3339, r.StartedAt)
		if err != nil {
			slog.Warn("bridge: unparseable started_at", "call_id", r.CallID, "value", r.StartedAt)
			continue
		}
		if now.Sub(startedAt) > threshold {
			zombies = append(zombies, r)
		}
	}
	return zombies, nil
}

// CleanupStaleCalls attempts a best-effort recovery for every zombie:
// sync whatever transcript exists, then drop any local state. The call
// server's own "active" record cannot be closed from here; that limitation
// belongs to its API surface, so this is a workaround, not a fix.
func (b *Bridge) CleanupStaleCalls(ctx context.Context, threshold time.Duration) (CleanupResult, error) {
	zombies, err := b.ZombieCalls(ctx, threshold)
	if err != nil {
		return CleanupResult{}, err
	}

	result := CleanupResult{
		Success:      true,
		CleanedCalls: []CleanedCall{},
		Errors:       []string{},
	}
	if len(zombies) == 0 {
		slog.Info("bridge: no zombie calls to clean up")
		return result, nil
	}

	slog.Info("bridge: cleaning up zombie calls", "count", len(zombies))

	for _, z := range zombies {
		syncRes := b.SyncTranscript(ctx, z.CallID)
		cleaned := CleanedCall{
			CallID:     z.CallID,
			Synced:     syncRes.Success,
			SessionKey: syncRes.SessionKey,
		}
		if !syncRes.Success {
			cleaned.Error = syncRes.Error
			result.Errors = append(result.Errors, fmt.Sprintf("failed to process zombie %s: %s", z.CallID, syncRes.Error))
		}
		result.CleanedCalls = append(result.CleanedCalls, cleaned)
		b.forget(z.CallID)
	}

	result.CleanedCount = len(result.CleanedCalls)
	result.Success = len(result.Errors) == 0
	return result, nil
}

// ActiveSessions snapshots the live call→session mappings.
func (b *Bridge) ActiveSessions() []SessionInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]SessionInfo, 0, len(b.calls))
	for callID, rec := range b.calls {
		out = append(out, SessionInfo{
			CallID:             callID,
			SessionKey:         rec.sessionKey,
			PendingTranscripts: len(b.pending[callID]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CallID < out[j].CallID })
	return out
}

// ActiveCallCount returns the number of calls currently mapped.
func (b *Bridge) ActiveCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// forget removes all local state for a call. Record and buffer live and die
// together.
func (b *Bridge) forget(callID string) {
	b.mu.Lock()
	delete(b.calls, callID)
	delete(b.pending, callID)
	b.mu.Unlock()
}

// formatTranscript renders the buffered entries as one speaker-labeled block.
func (b *Bridge) formatTranscript(transcript []TranscriptEntry, callID string) string {
	lines := []string{
		fmt.Sprintf("Voice call transcript (%s)", callID),
		"Time: " + b.now().Format(time.RFC3339),
		"",
	}
	for _, e := range transcript {
		speaker := "Agent"
		if e.Speaker == "user" {
			speaker = "Caller"
		}
		lines = append(lines, speaker+": "+e.Content)
	}
	return strings.Join(lines, "\n")
}

// announce publishes a lifecycle event, best-effort.
func (b *Bridge) announce(subject string, payload map[string]any) {
	if b.publish == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := b.publish(subject, data); err != nil {
		slog.Warn("bridge: publish failed", "subject", subject, "error", err)
	}
}
