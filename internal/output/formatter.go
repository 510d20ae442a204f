package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/emmett/companion/internal/turn"
)

// Record is one transcript line as written to a transcript file
type Record struct {
	Index     int       `json:"index"`
	SessionID string    `json:"session_id"`
	Role      turn.Role `json:"role"`
	Text      string    `json:"text"`
	Fallback  bool      `json:"fallback,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event represents a system event
type Event struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Formatter writes transcripts and events
type Formatter interface {
	// WriteEntry writes a transcript entry. Partial entries are skipped.
	WriteEntry(entry turn.Entry) error

	// WriteEvent writes a system event such as a state change
	WriteEvent(eventType, message string) error

	// Records returns the final entries written so far
	Records() []Record

	Close() error
}

// NewFormatter returns the formatter for format ("json" or "text")
func NewFormatter(format string, w io.Writer) (Formatter, error) {
	switch format {
	case "json":
		return NewJSONFormatter(w), nil
	case "", "text":
		return NewPlainTextFormatter(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (valid: json, text)", format)
	}
}

type recorder struct {
	mu      sync.Mutex
	records []Record
	now     func() time.Time
}

func (r *recorder) add(e turn.Entry) Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := Record{
		Index:     len(r.records) + 1,
		SessionID: e.SessionID,
		Role:      e.Role,
		Text:      e.Text,
		Fallback:  e.Fallback,
		Timestamp: r.now(),
	}
	r.records = append(r.records, rec)
	return rec
}

func (r *recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// JSONFormatter writes one JSON object per line
type JSONFormatter struct {
	recorder
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(writer io.Writer) *JSONFormatter {
	return &JSONFormatter{
		recorder: recorder{now: time.Now},
		encoder:  json.NewEncoder(writer),
	}
}

// WriteEntry writes a final transcript entry
func (j *JSONFormatter) WriteEntry(entry turn.Entry) error {
	if entry.Partial {
		return nil
	}
	rec := j.add(entry)

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.encoder.Encode(rec)
}

// WriteEvent writes a system event
func (j *JSONFormatter) WriteEvent(eventType, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.encoder.Encode(Event{Type: eventType, Message: message, Timestamp: j.now()})
}

// Close closes the formatter
func (j *JSONFormatter) Close() error {
	return nil
}

// PlainTextFormatter writes readable lines
type PlainTextFormatter struct {
	recorder
	mu     sync.Mutex
	writer io.Writer
}

// NewPlainTextFormatter creates a new plain text formatter
func NewPlainTextFormatter(writer io.Writer) *PlainTextFormatter {
	return &PlainTextFormatter{
		recorder: recorder{now: time.Now},
		writer:   writer,
	}
}

// WriteEntry writes a final transcript entry
func (p *PlainTextFormatter) WriteEntry(entry turn.Entry) error {
	if entry.Partial {
		return nil
	}
	rec := p.add(entry)

	marker := ""
	if rec.Fallback {
		marker = " (fallback)"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.writer, "[%s] %s: %s%s\n", rec.Timestamp.Format(time.TimeOnly), rec.Role, rec.Text, marker)
	return err
}

// WriteEvent writes a system event
func (p *PlainTextFormatter) WriteEvent(eventType, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.writer, "[%s] [%s] %s\n", p.now().Format(time.TimeOnly), eventType, message)
	return err
}

// Close closes the formatter
func (p *PlainTextFormatter) Close() error {
	return nil
}
