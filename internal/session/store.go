// Package session is the durable session-storage collaborator: a JSON index
// mapping session keys to session IDs, plus one append-only JSONL log per
// session. The file layout belongs to the host agent; the bridge only
// honors its write contract.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one row of the session index.
type Entry struct {
	SessionID string `json:"sessionId"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Record is one appended line of a session log.
type Record struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp string         `json:"timestamp"`
	Metadata  RecordMetadata `json:"metadata"`
}

// RecordMetadata ties an appended record back to the call that produced it.
type RecordMetadata struct {
	Source          string `json:"source"`
	CallID          string `json:"callId"`
	TranscriptCount int    `json:"transcriptCount"`
}

const indexFile = "sessions.json"

// Store reads and writes the session index and log files under dir.
// The mutex serializes the read-modify-write of the index so two concurrent
// call_ended handlers cannot lose an entry.
type Store struct {
	mu  sync.Mutex
	dir string
}

func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("session store dir not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Ensure returns the session entry for a key, creating and persisting one
// with a fresh session ID when absent.
func (s *Store) Ensure(sessionKey string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return Entry{}, err
	}

	if entry, ok := index[sessionKey]; ok {
		return entry, nil
	}

	entry := Entry{
		SessionID: uuid.New().String(),
		UpdatedAt: time.Now().UnixMilli(),
	}
	index[sessionKey] = entry
	if err := s.saveIndex(index); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Append writes one record to the session's JSONL log.
func (s *Store) Append(sessionID string, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	path := s.sessionFilePath(sessionID)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append session record: %w", err)
	}
	return nil
}

// Lookup returns the entry for a key without creating one.
func (s *Store) Lookup(sessionKey string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := index[sessionKey]
	return entry, ok, nil
}

func (s *Store) sessionFilePath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

func (s *Store) loadIndex() (map[string]Entry, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if os.IsNotExist(err) {
		return make(map[string]Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session index: %w", err)
	}

	index := make(map[string]Entry)
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("parse session index: %w", err)
	}
	return index, nil
}

func (s *Store) saveIndex(index map[string]Entry) error {
	raw, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}

	// Write-then-rename so a crash mid-write cannot truncate the index.
	tmp := filepath.Join(s.dir, indexFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write session index: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, indexFile)); err != nil {
		return fmt.Errorf("replace session index: %w", err)
	}
	return nil
}
