// Package logger records published realtime events as a JSON-lines audit
// trail, one file per server run.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/docvault/backend/pkg/event"
)

// record is one logged event: seconds since log start, event name, raw payload.
type record struct {
	Offset  float64         `json:"t"`
	Seq     uint64          `json:"seq"`
	Event   event.Name      `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventLog appends published events to a JSONL file.
type EventLog struct {
	mu    sync.Mutex
	file  *os.File
	start time.Time
}

// NewEventLog opens (or creates) the log file at path, appending to any
// existing content.
func NewEventLog(path string) (*EventLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	return &EventLog{
		file:  file,
		start: time.Now(),
	}, nil
}

// Append writes one event record.
func (l *EventLog) Append(env event.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("event log is closed")
	}

	rec := record{
		Offset:  time.Since(l.start).Seconds(),
		Seq:     env.Seq,
		Event:   env.Event,
		Payload: env.Payload,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal event record: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event record: %w", err)
	}
	return nil
}

// Close flushes and closes the log file.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
