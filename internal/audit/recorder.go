// Package audit persists a structured trail of every signal the dispatcher
// publishes.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one audit record, written before the signal reaches the bus.
type Entry struct {
	Ts              time.Time `json:"ts"`
	Symbol          string    `json:"symbol"`
	Interval        string    `json:"interval"`
	ClosePrice      float64   `json:"close_price"`
	SignalType      string    `json:"signal_type"`
	Strategy        string    `json:"strategy"`
	SignalGenerated bool      `json:"signal_generated"`
	EntryPrice      float64   `json:"entry_price,omitempty"`
	TakeProfit      float64   `json:"take_profit,omitempty"`
	StopLoss        float64   `json:"stop_loss,omitempty"`
	ExitPrice       float64   `json:"exit_price,omitempty"`
	ExitReason      string    `json:"exit_reason,omitempty"`
}

// Recorder captures audit entries. Failures must never block signal
// publication; the dispatcher logs and moves on.
type Recorder interface {
	Record(Entry) error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(Entry) error { return nil }

// JSONLRecorder appends entries as JSON lines for later analysis.
type JSONLRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLRecorder creates/opens the target file and returns a recorder.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLRecorder{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Record writes a single entry to the underlying JSONL file.
func (r *JSONLRecorder) Record(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return os.ErrClosed
	}
	return r.enc.Encode(e)
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
