package bridge

// Call event types posted by (or on behalf of) the call server.
const (
	EventCallStarted      = "call_started"
	EventTranscriptUpdate = "transcript_update"
	EventCallEnded        = "call_ended"
)

// Event handling statuses returned to the caller.
const (
	StatusSessionMapped     = "session_mapped"
	StatusTranscriptStored  = "transcript_stored"
	StatusTranscriptDropped = "transcript_dropped"
	StatusSessionSynced     = "session_synced"
	StatusSyncFailed        = "sync_failed"
	StatusNoSessionFound    = "no_session_found"
	StatusIgnored           = "ignored"
)

// TranscriptEntry is one buffered line of an in-progress call.
type TranscriptEntry struct {
	Timestamp string `json:"timestamp"`
	Speaker   string `json:"speaker"`
	Content   string `json:"content"`
	EventType string `json:"eventType,omitempty"`
}

// CallEvent is the wire shape of POST /call-event.
type CallEvent struct {
	CallID      string           `json:"callId"`
	EventType   string           `json:"eventType"`
	PhoneNumber string           `json:"phoneNumber"`
	Direction   string           `json:"direction"`
	Timestamp   string           `json:"timestamp"`
	Data        *TranscriptEntry `json:"data,omitempty"`
}

// EventResult is the response to a call event.
type EventResult struct {
	Status     string `json:"status"`
	SessionKey string `json:"sessionKey,omitempty"`
}

// SyncResult reports one attempt to sync a call's transcript into durable
// session storage.
type SyncResult struct {
	Success          bool   `json:"success"`
	SessionKey       string `json:"sessionKey,omitempty"`
	MessagesInjected int    `json:"messagesInjected"`
	Error            string `json:"error,omitempty"`
}

// SessionInfo describes one live call→session mapping.
type SessionInfo struct {
	CallID             string `json:"callId"`
	SessionKey         string `json:"sessionKey"`
	PendingTranscripts int    `json:"pendingTranscripts"`
}

// CleanedCall is the per-zombie outcome of a cleanup run.
type CleanedCall struct {
	CallID     string `json:"call_id"`
	Synced     bool   `json:"synced"`
	SessionKey string `json:"sessionKey,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CleanupResult summarizes a stale-call cleanup run. Zombies are processed
// independently; one failure lands in Errors without aborting the rest.
type CleanupResult struct {
	Success      bool          `json:"success"`
	CleanedCount int           `json:"cleaned_count"`
	CleanedCalls []CleanedCall `json:"cleaned_calls"`
	Errors       []string      `json:"errors"`
}
