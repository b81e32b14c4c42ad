package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsure_CreatesAndReuses(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	first, err := store.Ensure("voice:14402915517")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if first.SessionID == "" {
		t.Fatal("expected a session id")
	}

	second, err := store.Ensure("voice:14402915517")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Errorf("expected reused session id, got %s vs %s", second.SessionID, first.SessionID)
	}

	other, err := store.Ensure("voice:15551234567")
	if err != nil {
		t.Fatal(err)
	}
	if other.SessionID == first.SessionID {
		t.Error("distinct keys must get distinct session ids")
	}
}

func TestEnsure_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := store.Ensure("voice:14402915517")
	if err != nil {
		t.Fatal(err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, ok, err := reopened.Lookup("voice:14402915517")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got.SessionID != entry.SessionID {
		t.Errorf("expected persisted entry, got ok=%v id=%s", ok, got.SessionID)
	}
}

func TestAppend_WritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := store.Ensure("voice:14402915517")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		rec := Record{
			Role:      "system",
			Content:   "Voice call transcript",
			Timestamp: "2026-08-01T12:00:00Z",
			Metadata:  RecordMetadata{Source: "voice-channel", CallID: "CA1", TranscriptCount: 3},
		}
		if err := store.Append(entry.SessionID, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, entry.SessionID+".jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines, err)
		}
		if rec.Metadata.Source != "voice-channel" || rec.Metadata.CallID != "CA1" {
			t.Errorf("unexpected metadata %+v", rec.Metadata)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 lines, got %d", lines)
	}
}

func TestNew_RequiresDir(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty dir")
	}
}
