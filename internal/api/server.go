// Package api exposes the voice bridge over HTTP: call lifecycle events,
// transcript sync, zombie-call maintenance, inbound-call authorization and
// context, and outbound calling.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nia-agent-cyber/openai-voice-skill/internal/auth"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/bridge"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/callserver"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/config"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/history"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/outbound"
	"github.com/nia-agent-cyber/openai-voice-skill/internal/phone"
)

// CallServerProbe is the read-only slice of the call server used for health
// and metrics reporting.
type CallServerProbe interface {
	Health(ctx context.Context) bool
	Stats(ctx context.Context) (callserver.StorageStats, error)
}

type Server struct {
	bridge          *bridge.Bridge
	tracker         *history.Tracker
	voice           *config.VoiceConfig
	probe           CallServerProbe
	sender          *outbound.Sender
	zombieThreshold time.Duration
	router          chi.Router
}

func NewServer(b *bridge.Bridge, tracker *history.Tracker, voice *config.VoiceConfig, probe CallServerProbe, sender *outbound.Sender, zombieThreshold time.Duration) *Server {
	if zombieThreshold <= 0 {
		zombieThreshold = bridge.DefaultZombieThreshold
	}
	srv := &Server{
		bridge:          b,
		tracker:         tracker,
		voice:           voice,
		probe:           probe,
		sender:          sender,
		zombieThreshold: zombieThreshold,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health", srv.handleHealth)
	r.Get("/metrics", srv.handleMetrics)
	r.Get("/config", srv.handleConfig)

	r.Post("/call-event", srv.handleCallEvent)
	r.Post("/sync-transcript", srv.handleSyncTranscript)
	r.Get("/sessions", srv.handleSessions)
	r.Get("/zombie-calls", srv.handleZombieCalls)
	r.Post("/cleanup-stale-calls", srv.handleCleanup)

	r.Post("/authorize", srv.handleAuthorize)
	r.Post("/context", srv.handleContext)
	r.Post("/call-started", srv.handleCallStarted)
	r.Post("/missed-call", srv.handleMissedCall)
	r.Get("/callers", srv.handleCallers)
	r.Put("/callers/{phone}/notes", srv.handleCallerNotes)
	r.Get("/missed-calls", srv.handleMissedCalls)
	r.Post("/missed-calls/callback", srv.handleCallback)

	r.Post("/call", srv.handleOutboundCall)

	srv.router = r
	return srv
}

// Handler returns the router for mounting into an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"activeCalls": s.bridge.ActiveCallCount(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMetrics reconstructs an operational snapshot from the call server's
// stats plus local bridge and history state. A dead call server degrades the
// snapshot instead of failing it.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"status":            "ok",
		"active_sessions":   s.bridge.ActiveCallCount(),
		"known_callers":     s.tracker.CallerCount(),
		"missed_calls":      s.tracker.MissedCallCount(),
		"pending_callbacks": s.tracker.PendingCallbacks(),
	}

	stats, err := s.probe.Stats(r.Context())
	if err != nil {
		slog.Warn("api: stats unavailable, serving degraded metrics", "error", err)
		out["status"] = "degraded"
	} else {
		out["call_server"] = map[string]any{
			"active_calls": stats.ActiveCalls,
			"total_calls":  stats.TotalCalls,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCallEvent(w http.ResponseWriter, r *http.Request) {
	var event bridge.CallEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if event.CallID == "" || event.EventType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "callId and eventType are required"})
		return
	}

	writeJSON(w, http.StatusOK, s.bridge.HandleCallEvent(r.Context(), event))
}

func (s *Server) handleSyncTranscript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallID string `json:"callId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "callId is required"})
		return
	}

	result := s.bridge.SyncTranscript(r.Context(), req.CallID)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.bridge.ActiveSessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleZombieCalls(w http.ResponseWriter, r *http.Request) {
	threshold := s.thresholdOrDefault(r.URL.Query().Get("threshold"))

	zombies, err := s.bridge.ZombieCalls(r.Context(), threshold)
	if err != nil {
		slog.Error("api: zombie scan failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"zombies":   zombies,
		"count":     len(zombies),
		"threshold": int(threshold.Seconds()),
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold int `json:"threshold"`
	}
	// Body is optional; decode failures just mean defaults.
	_ = json.NewDecoder(r.Body).Decode(&req)

	threshold := s.zombieThreshold
	if req.Threshold > 0 {
		threshold = time.Duration(req.Threshold) * time.Second
	}

	result, err := s.bridge.CleanupStaleCalls(r.Context(), threshold)
	if err != nil {
		slog.Error("api: cleanup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone     string `json:"phone"`
		AccountID string `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone is required"})
		return
	}

	acct := s.voice.ResolveAccount(req.AccountID)
	decision := auth.Authorize(req.Phone, acct.Config)

	slog.Info("api: inbound authorization",
		"from", phone.Mask(req.Phone),
		"account", acct.AccountID,
		"authorized", decision.Authorized,
		"reason", decision.Reason,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": acct.AccountID,
		"decision":   decision,
	})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req history.ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallerPhone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "caller_phone is required"})
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.BuildContext(req))
}

func (s *Server) handleCallStarted(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerPhone string `json:"caller_phone"`
		CallerName  string `json:"caller_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallerPhone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "caller_phone is required"})
		return
	}

	s.tracker.RecordCallStart(req.CallerPhone, req.CallerName)
	writeJSON(w, http.StatusOK, map[string]any{"recorded": true})
}

func (s *Server) handleMissedCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From                string `json:"from_number"`
		Reason              string `json:"reason"`
		VoicemailTranscript string `json:"voicemail_transcript"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.From == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from_number is required"})
		return
	}
	if req.Reason == "" {
		req.Reason = history.ReasonNoAnswer
	}

	mc := s.tracker.RecordMissedCall(phone.Normalize(req.From), req.Reason, req.VoicemailTranscript)
	mc.From = phone.Mask(mc.From)
	writeJSON(w, http.StatusOK, mc)
}

// List endpoints mask numbers: they are for display, and the full number is
// never needed there.
func (s *Server) handleCallers(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)

	callers := s.tracker.Callers(limit)
	for i := range callers {
		callers[i].Phone = phone.Mask(callers[i].Phone)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"callers": callers,
		"total":   s.tracker.CallerCount(),
	})
}

func (s *Server) handleCallerNotes(w http.ResponseWriter, r *http.Request) {
	callerPhone := chi.URLParam(r, "phone")

	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	if !s.tracker.UpdateNotes(callerPhone, req.Notes) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "caller not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (s *Server) handleMissedCalls(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 20)
	pendingOnly := r.URL.Query().Get("pending_only") == "true"

	missed := s.tracker.MissedCalls(limit, pendingOnly)
	for i := range missed {
		missed[i].From = phone.Mask(missed[i].From)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"missed_calls":      missed,
		"count":             s.tracker.MissedCallCount(),
		"pending_callbacks": s.tracker.PendingCallbacks(),
	})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Timestamp == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "timestamp is required"})
		return
	}
	ts, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "timestamp must be RFC3339"})
		return
	}

	if !s.tracker.MarkCallbackScheduled(ts) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "missed call not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scheduled": true})
}

// handleConfig reports each account's status with secrets masked. Allowlist
// entries are previewed masked so the endpoint never leaks full numbers.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	ids := s.voice.ListAccountIDs()
	accounts := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		acct := s.voice.ResolveAccount(id)

		allow := config.FormatAllowFrom(acct.Config.AllowFrom)
		preview := make([]string, 0, len(allow))
		for _, entry := range allow {
			if entry == "*" || len(entry) > 0 && entry[len(entry)-1] == '*' {
				preview = append(preview, entry)
				continue
			}
			preview = append(preview, phone.Mask(entry))
		}

		policy := acct.Config.DMPolicy
		if policy == "" {
			policy = config.PolicyAllowlist
		}
		accounts = append(accounts, map[string]any{
			"account_id":   acct.AccountID,
			"enabled":      acct.Enabled,
			"configured":   acct.Configured,
			"phone_number": phone.Mask(acct.TwilioPhoneNumber),
			"policy":       policy,
			"allow_from":   preview,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *Server) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to and message are required"})
		return
	}

	result := s.sender.SendText(r.Context(), req.To, req.Message)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (s *Server) thresholdOrDefault(raw string) time.Duration {
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return s.zombieThreshold
}

func queryLimit(r *http.Request, def int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
