// Package status reports lifecycle processing outcomes.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// State is a terminal or interim processing state.
type State string

const (
	Complete State = "PROCESSING_COMPLETE"
	Warning  State = "PROCESSING_WARNING"
	Failed   State = "PROCESSING_FAILED"
)

// Reporter announces a processing state to the hosting runtime.
type Reporter interface {
	Report(ctx context.Context, state State, message string) error
}

// Recorder is the storage a StoreReporter writes through.
type Recorder interface {
	RecordProcessingState(ctx context.Context, state, message string) error
}

// StoreReporter persists reports and logs them.
type StoreReporter struct {
	rec    Recorder
	logger *slog.Logger
}

// NewStoreReporter returns a Reporter backed by rec.
func NewStoreReporter(rec Recorder, logger *slog.Logger) *StoreReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreReporter{rec: rec, logger: logger.With("component", "status")}
}

// Report implements Reporter.
func (r *StoreReporter) Report(ctx context.Context, state State, message string) error {
	level := slog.LevelInfo
	switch state {
	case Warning:
		level = slog.LevelWarn
	case Failed:
		level = slog.LevelError
	}
	r.logger.Log(ctx, level, "processing state", "state", string(state), "message", message)

	if err := r.rec.RecordProcessingState(ctx, string(state), message); err != nil {
		return fmt.Errorf("report %s: %w", state, err)
	}
	return nil
}

// Report is one recorded announcement.
type Report struct {
	State   State  `json:"state" yaml:"state"`
	Message string `json:"message" yaml:"message"`
}

// MemoryReporter keeps reports in memory.
type MemoryReporter struct {
	mu      sync.Mutex
	reports []Report
}

// Report implements Reporter.
func (m *MemoryReporter) Report(_ context.Context, state State, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, Report{State: state, Message: message})
	return nil
}

// Reports returns a copy of every report so far.
func (m *MemoryReporter) Reports() []Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Report(nil), m.reports...)
}

// Last returns the most recent report.
func (m *MemoryReporter) Last() (Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reports) == 0 {
		return Report{}, false
	}
	return m.reports[len(m.reports)-1], true
}
