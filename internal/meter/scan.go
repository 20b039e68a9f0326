package meter

import (
	"context"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultWait is how long one scan cycle listens when no wait is given.
const DefaultWait = 5 * time.Second

// Scanner is the BLE stack: one blocking discovery scan per call.
type Scanner interface {
	Scan(ctx context.Context, wait time.Duration) ([]RawDevice, error)
}

// Monitor runs scan cycles and yields the meters each one found.
// It keeps nothing between cycles.
type Monitor struct {
	scanner    Scanner
	wait       time.Duration
	classifier *Classifier
	logger     *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithWait sets the scan duration of every cycle.
func WithWait(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.wait = d
		}
	}
}

// WithClassifier replaces the default classifier, e.g. to change decoding.
func WithClassifier(c *Classifier) Option {
	return func(m *Monitor) {
		if c != nil {
			m.classifier = c
		}
	}
}

// WithLogger sets the logger for cycle diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMonitor returns a Monitor scanning with s, DefaultWait per cycle unless
// WithWait says otherwise.
func NewMonitor(s Scanner, opts ...Option) *Monitor {
	m := &Monitor{
		scanner: s,
		wait:    DefaultWait,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.classifier == nil {
		m.classifier = &Classifier{Logger: m.logger}
	}
	return m
}

// Wait returns the scan duration of a cycle.
func (m *Monitor) Wait() time.Duration { return m.wait }

// Next runs one scan cycle. It blocks for the scan duration and returns the
// valid devices of that scan as a sequence that classifies lazily and can be
// ranged over only once. Scanner errors are returned unchanged.
func (m *Monitor) Next(ctx context.Context) (iter.Seq[Device], error) {
	raws, err := m.scanner.Scan(ctx, m.wait)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("meter: scan cycle done", "devices", len(raws), "wait", m.wait)

	var used atomic.Bool
	return func(yield func(Device) bool) {
		if used.Swap(true) {
			return
		}
		for _, raw := range raws {
			d := m.classifier.Classify(raw)
			if !d.Valid() {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}, nil
}
