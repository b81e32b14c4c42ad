package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nia-agent-cyber/openai-voice-skill/internal/bridge"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/callserver"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/config"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/history"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/outbound"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/session"
)

// fakeCallServer backs the bridge, the probe, and the outbound sender.
type fakeCallServer struct {
	healthy     bool
	stats       callserver.StorageStats
	statsErr    error
	history     []callserver.HistoryRecord
	transcripts map[string][]callserver.TranscriptEntry
	callResp    callserver.CallResponse
}

func (f *fakeCallServer) Health(_ context.Context) bool { return f.healthy }

func (f *fakeCallServer) Stats(_ context.Context) (callserver.StorageStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeCallServer) History(_ context.Context, _ int) ([]callserver.HistoryRecord, error) {
	return f.history, nil
}

func (f *fakeCallServer) Transcript(_ context.Context, callID string) ([]callserver.TranscriptEntry, error) {
	return f.transcripts[callID], nil
}

func (f *fakeCallServer) InitiateCall(_ context.Context, _, _ string) (callserver.CallResponse, error) {
	return f.callResp, nil
}

type fakeSessionStore struct {
	appends int
}

func (f *fakeSessionStore) Ensure(sessionKey string) (session.Entry, error) {
	return session.Entry{SessionID: "sess-" + sessionKey}, nil
}

func (f *fakeSessionStore) Append(_ string, _ session.Record) error {
	f.appends++
	return nil
}

func setupServer(cs *fakeCallServer) *Server {
	if cs.transcripts == nil {
		cs.transcripts = make(map[string][]callserver.TranscriptEntry)
	}
	voice := &config.VoiceConfig{
		AccountConfig: config.AccountConfig{
			TwilioAccountSID:  "AC123",
			TwilioAuthToken:   "token",
			TwilioPhoneNumber: "+15550001111",
			AllowFrom:         []string{"+14402915517", "+1415*"},
			DMPolicy:          config.PolicyAllowlist,
		},
	}
	b := bridge.New(cs, &fakeSessionStore{}, nil)
	return NewServer(b, history.NewTracker(), voice, cs, outbound.NewSender(cs), 0)
}

func doJSON(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	out := map[string]any{}
	json.NewDecoder(w.Body).Decode(&out)
	return w, out
}

func TestHealthEndpoint(t *testing.T) {
	srv := setupServer(&fakeCallServer{healthy: true})

	w, body := doJSON(t, srv, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	if body["activeCalls"] != float64(0) {
		t.Errorf("expected 0 active calls, got %v", body["activeCalls"])
	}
}

func TestCallEvent_MalformedBody(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, _ := doJSON(t, srv, "POST", "/call-event", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCallEvent_MissingFields(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, _ := doJSON(t, srv, "POST", "/call-event", `{"callId":"CA1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCallEvent_StartMapsSession(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, body := doJSON(t, srv, "POST", "/call-event",
		`{"callId":"CA1","eventType":"call_started","phoneNumber":"+14402915517","direction":"inbound"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["status"] != "session_mapped" {
		t.Errorf("expected session_mapped, got %v", body["status"])
	}
	if body["sessionKey"] != "voice:14402915517" {
		t.Errorf("unexpected session key %v", body["sessionKey"])
	}
}

func TestSyncTranscript_RequiresCallID(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, _ := doJSON(t, srv, "POST", "/sync-transcript", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSyncTranscript_EmptyCallSucceeds(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, body := doJSON(t, srv, "POST", "/sync-transcript", `{"callId":"CA1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", w.Code, body)
	}
	if body["success"] != true {
		t.Errorf("expected success, got %v", body)
	}
	if body["messagesInjected"] != float64(0) {
		t.Errorf("expected 0 injected, got %v", body["messagesInjected"])
	}
}

func TestSessionsEndpoint(t *testing.T) {
	srv := setupServer(&fakeCallServer{})
	doJSON(t, srv, "POST", "/call-event",
		`{"callId":"CA1","eventType":"call_started","phoneNumber":"+14402915517"}`)

	w, body := doJSON(t, srv, "GET", "/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("expected 1 session, got %v", body["count"])
	}
}

func TestZombieCallsEndpoint(t *testing.T) {
	stale := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	srv := setupServer(&fakeCallServer{
		stats: callserver.StorageStats{ActiveCalls: 1},
		history: []callserver.HistoryRecord{
			{CallID: "Z1", Status: "active", StartedAt: stale},
		},
	})

	w, body := doJSON(t, srv, "GET", "/zombie-calls?threshold=1800", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("expected 1 zombie, got %v", body["count"])
	}
	if body["threshold"] != float64(1800) {
		t.Errorf("expected threshold echo, got %v", body["threshold"])
	}
}

func TestCleanupEndpoint_EmptyBody(t *testing.T) {
	srv := setupServer(&fakeCallServer{stats: callserver.StorageStats{ActiveCalls: 0}})

	w, body := doJSON(t, srv, "POST", "/cleanup-stale-calls", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["success"] != true || body["cleaned_count"] != float64(0) {
		t.Errorf("expected empty cleanup, got %v", body)
	}
}

func TestMetrics_DegradedWhenCallServerDown(t *testing.T) {
	cs := &fakeCallServer{statsErr: context.DeadlineExceeded}
	srv := setupServer(cs)

	w, body := doJSON(t, srv, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["status"] != "degraded" {
		t.Errorf("expected degraded metrics, got %v", body)
	}
	if _, ok := body["call_server"]; ok {
		t.Error("degraded metrics must omit call_server section")
	}
}

func TestAuthorize_AllowlistMatch(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, body := doJSON(t, srv, "POST", "/authorize", `{"phone":"+1 (440) 291-5517"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	decision := body["decision"].(map[string]any)
	if decision["authorized"] != true {
		t.Errorf("expected authorized, got %v", decision)
	}
	if decision["reason"] != "allowlist_match" {
		t.Errorf("expected allowlist_match, got %v", decision["reason"])
	}
}

func TestAuthorize_RequiresPhone(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, _ := doJSON(t, srv, "POST", "/authorize", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestContext_NewCaller(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, body := doJSON(t, srv, "POST", "/context", `{"caller_phone":"+14402915517"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["is_known_caller"] != false {
		t.Errorf("expected unknown caller, got %v", body)
	}
	if body["session_key"] != "voice:14402915517" {
		t.Errorf("unexpected session key %v", body["session_key"])
	}
	if !strings.Contains(body["context_instructions"].(string), "NEW CALLER") {
		t.Error("expected new-caller instructions")
	}
}

func TestCallStartedAndCallers(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, _ := doJSON(t, srv, "POST", "/call-started", `{"caller_phone":"+14402915517","caller_name":"Pat"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w, body := doJSON(t, srv, "GET", "/callers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["total"] != float64(1) {
		t.Errorf("expected 1 caller, got %v", body["total"])
	}
	callers := body["callers"].([]any)
	caller := callers[0].(map[string]any)
	if caller["phone"] != "+144****5517" {
		t.Errorf("expected masked phone, got %v", caller["phone"])
	}
}

func TestMissedCallFlow(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, recorded := doJSON(t, srv, "POST", "/missed-call",
		`{"from_number":"+14402915517","reason":"unauthorized","voicemail_transcript":"call me back"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if recorded["from_number"] != "+144****5517" {
		t.Errorf("expected masked number in response, got %v", recorded["from_number"])
	}

	w, body := doJSON(t, srv, "GET", "/missed-calls?pending_only=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["pending_callbacks"] != float64(1) {
		t.Errorf("expected 1 pending callback, got %v", body)
	}

	ts := recorded["timestamp"].(string)
	w, _ = doJSON(t, srv, "POST", "/missed-calls/callback", `{"timestamp":"`+ts+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("callback schedule: expected 200, got %d", w.Code)
	}

	_, body = doJSON(t, srv, "GET", "/missed-calls?pending_only=true", "")
	if body["pending_callbacks"] != float64(0) {
		t.Errorf("expected callback cleared, got %v", body)
	}
}

func TestCallback_UnknownTimestamp(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, _ := doJSON(t, srv, "POST", "/missed-calls/callback", `{"timestamp":"2026-01-01T00:00:00Z"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCallerNotes_UnknownCaller(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, _ := doJSON(t, srv, "PUT", "/callers/+15550009999/notes", `{"notes":"vip"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestConfig_MasksNumbers(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, body := doJSON(t, srv, "GET", "/config", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	accounts := body["accounts"].([]any)
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	acct := accounts[0].(map[string]any)
	if acct["phone_number"] != "+155****1111" {
		t.Errorf("expected masked number, got %v", acct["phone_number"])
	}
	allow := acct["allow_from"].([]any)
	if allow[0] != "+144****5517" {
		t.Errorf("expected masked allowlist entry, got %v", allow[0])
	}
	if allow[1] != "+1415*" {
		t.Errorf("prefix patterns pass through, got %v", allow[1])
	}
}

func TestOutboundCall(t *testing.T) {
	srv := setupServer(&fakeCallServer{callResp: callserver.CallResponse{Status: "initiated", CallID: "CA9"}})

	w, body := doJSON(t, srv, "POST", "/call", `{"to":"+14402915517","message":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["success"] != true || body["call_sid"] != "CA9" {
		t.Errorf("unexpected result %v", body)
	}
}

func TestOutboundCall_RequiresFields(t *testing.T) {
	srv := setupServer(&fakeCallServer{})

	w, _ := doJSON(t, srv, "POST", "/call", `{"to":"+14402915517"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
