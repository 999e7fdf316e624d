// Package audit appends one JSON line per analysis request. Entries carry
// counts and a text fingerprint; analyzed text and finding spans are never
// written.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	ModeSingle = "single"
	ModeHybrid = "hybrid"

	StatusOK    = "ok"
	StatusError = "error"
)

type Entry struct {
	Timestamp      string         `json:"timestamp"`
	RequestID      string         `json:"request_id,omitempty"`
	Engine         string         `json:"engine"`
	Mode           string         `json:"mode"`
	Status         string         `json:"status"`
	Error          string         `json:"error,omitempty"`
	FindingCount   int            `json:"finding_count"`
	FindingsByType map[string]int `json:"findings_by_type,omitempty"`
	EnginesUsed    []string       `json:"engines_used,omitempty"`
	FailedEngines  []string       `json:"failed_engines,omitempty"`
	DetectMs       float64        `json:"detect_ms"`
	TotalMs        float64        `json:"total_ms"`
	TextHash       string         `json:"text_hash"`
	TextLength     int            `json:"text_length"`
}

type Logger interface {
	Log(entry Entry) error
}

type JSONLLogger struct {
	path string
	mu   sync.Mutex
}

func NewJSONLLogger(path string) (*JSONLLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create audit log: %w", err)
	}
	_ = f.Close()
	return &JSONLLogger{path: path}, nil
}

func (l *JSONLLogger) Path() string { return l.path }

func (l *JSONLLogger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(entry); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Log(Entry) error { return nil }
