package eventflow

import (
	"strings"
	"sync"
	"time"
)

// Record is one observability emission. Every routing decision and
// transition produces exactly one record.
type Record struct {
	TrackingID string         `json:"tracking_id"`
	Component  string         `json:"component"`
	Action     string         `json:"action"`
	Outcome    string         `json:"outcome"`
	LatencyMS  int64          `json:"latency_ms"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// LogSink consumes observability records. Implementations must tolerate
// concurrent emission.
type LogSink interface {
	Emit(rec Record)
}

// SinkFunc adapts a function to the LogSink interface.
type SinkFunc func(Record)

func (f SinkFunc) Emit(rec Record) { f(rec) }

// Observe finalizes and emits a record, filling timestamp and latency from
// the started time. A nil sink is a no-op.
func Observe(sink LogSink, rec Record, started time.Time) {
	if sink == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if !started.IsZero() {
		rec.LatencyMS = time.Since(started).Milliseconds()
	}
	sink.Emit(rec)
}

// LoggerSink writes records through a Logger.
type LoggerSink struct {
	logger Logger
}

// NewLoggerSink adapts a Logger into a LogSink.
func NewLoggerSink(logger Logger) *LoggerSink {
	return &LoggerSink{logger: NormalizeLogger(logger)}
}

func (s *LoggerSink) Emit(rec Record) {
	if s == nil {
		return
	}
	fields := map[string]any{
		"tracking_id": rec.TrackingID,
		"component":   rec.Component,
		"action":      rec.Action,
		"outcome":     rec.Outcome,
		"latency_ms":  rec.LatencyMS,
		"timestamp":   rec.Timestamp.Format(time.RFC3339Nano),
	}
	for k, v := range rec.Metadata {
		fields[k] = v
	}
	logger := WithLoggerFields(s.logger, fields)
	if strings.EqualFold(rec.Outcome, "error") {
		logger.Error("%s %s", rec.Component, rec.Action)
		return
	}
	logger.Info("%s %s", rec.Component, rec.Action)
}

// MemorySink collects records for assertions in tests.
type MemorySink struct {
	mu   sync.Mutex
	recs []Record
}

// NewMemorySink constructs an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
}

// Records returns a copy of everything emitted so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.recs))
	copy(out, s.recs)
	return out
}

// ByComponent filters collected records by component name.
func (s *MemorySink) ByComponent(component string) []Record {
	var out []Record
	for _, rec := range s.Records() {
		if rec.Component == component {
			out = append(out, rec)
		}
	}
	return out
}
