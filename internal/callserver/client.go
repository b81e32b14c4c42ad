// Package callserver is the HTTP client for the external call-processing
// server: the black box that talks to the telephony and voice-AI providers
// and is the system of record for call history and transcripts.
package callserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// TranscriptEntry is one line of a call transcript as the call server
// records it.
type TranscriptEntry struct {
	Timestamp string `json:"timestamp"`
	Speaker   string `json:"speaker"`
	Content   string `json:"content"`
	EventType string `json:"event_type,omitempty"`
}

// StorageStats is the call server's cheap existence check for active calls.
type StorageStats struct {
	ActiveCalls int `json:"active_calls"`
	TotalCalls  int `json:"total_calls"`
}

// HistoryRecord is one row of the call server's call history.
type HistoryRecord struct {
	CallID          string  `json:"call_id"`
	Status          string  `json:"status"`
	StartedAt       string  `json:"started_at"`
	EndedAt         string  `json:"ended_at,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	HasTranscript   bool    `json:"has_transcript"`
	CallType        string  `json:"call_type,omitempty"`
}

// CallResponse is the call server's reply to an outbound call initiation.
type CallResponse struct {
	Status  string `json:"status"`
	CallID  string `json:"call_id,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client talks to the call server over HTTP. Every request carries the
// client timeout so a slow call server cannot stall the bridge.
type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Health reports whether the call server answers its /health endpoint.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer drain(resp)
	return resp.StatusCode == http.StatusOK
}

// Transcript fetches the recorded transcript for a call. A 404 means the
// call server has no transcript, which is not an error: the caller gets
// (nil, nil).
func (c *Client) Transcript(ctx context.Context, callID string) ([]TranscriptEntry, error) {
	url := fmt.Sprintf("%s/history/%s/transcript", c.baseURL, callID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call server returned %d", resp.StatusCode)
	}

	var body struct {
		Transcript []TranscriptEntry `json:"transcript"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return body.Transcript, nil
}

// Stats fetches the call server's storage stats.
func (c *Client) Stats(ctx context.Context) (StorageStats, error) {
	var stats StorageStats
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/storage/stats", nil)
	if err != nil {
		return stats, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return stats, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("call server returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}

// History fetches the most recent call records, bounded by limit.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryRecord, error) {
	url := c.baseURL + "/history?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call server returned %d", resp.StatusCode)
	}

	var records []HistoryRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return records, nil
}

// InitiateCall asks the call server to place an outbound call that speaks
// the given message. The server owns all telephony logic; we only relay.
func (c *Client) InitiateCall(ctx context.Context, to, message string) (CallResponse, error) {
	var out CallResponse

	payload, err := json.Marshal(map[string]string{"to": to, "message": message})
	if err != nil {
		return out, fmt.Errorf("marshal call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call", bytes.NewReader(payload))
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("call server post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return out, fmt.Errorf("call server returned %d: %s", resp.StatusCode, bytes.TrimSpace(text))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode call response: %w", err)
	}
	return out, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
