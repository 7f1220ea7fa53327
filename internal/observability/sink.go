package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink receives conditions that are reported rather than returned:
// network failures recovered at the cache boundary, benign ordering races,
// and invariant violations.
type Sink interface {
	// FetchFailed reports a collection or batch fetch failure
	FetchFailed(ctx context.Context, source string, err error)

	// LostRace reports a response item that no waiter was expecting
	LostRace(ctx context.Context, source string, id string)

	// InvariantViolated reports a broken expectation that is not fatal,
	// e.g. an id sent in a batch that never came back
	InvariantViolated(ctx context.Context, what string, attrs ...any)
}

// SlogSink writes every report to a structured logger
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink backed by logger
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) FetchFailed(ctx context.Context, source string, err error) {
	s.logger.ErrorContext(ctx, "fetch failed",
		"source", source,
		"error", err,
	)
}

func (s *SlogSink) LostRace(ctx context.Context, source string, id string) {
	s.logger.WarnContext(ctx, "response item had no pending waiter",
		"source", source,
		"id", id,
	)
}

func (s *SlogSink) InvariantViolated(ctx context.Context, what string, attrs ...any) {
	s.logger.WarnContext(ctx, "invariant violated: "+what, attrs...)
}

// Report is one entry captured by Recorder
type Report struct {
	Kind    string    `json:"kind"` // "fetch_failed", "lost_race" or "invariant"
	Source  string    `json:"source"`
	ID      string    `json:"id,omitempty"`
	Err     error     `json:"-"`
	Message string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Recorder is an in-memory Sink, used by tests and the debug endpoint
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *Recorder) FetchFailed(_ context.Context, source string, err error) {
	r.add(Report{Kind: "fetch_failed", Source: source, Err: err, Message: err.Error()})
}

func (r *Recorder) LostRace(_ context.Context, source string, id string) {
	r.add(Report{Kind: "lost_race", Source: source, ID: id})
}

func (r *Recorder) InvariantViolated(_ context.Context, what string, attrs ...any) {
	rep := Report{Kind: "invariant", Source: what}
	for i := 0; i+1 < len(attrs); i += 2 {
		if k, ok := attrs[i].(string); ok && k == "id" {
			rep.ID, _ = attrs[i+1].(string)
		}
	}
	r.add(rep)
}

func (r *Recorder) add(rep Report) {
	rep.At = time.Now()
	r.mu.Lock()
	r.reports = append(r.reports, rep)
	r.mu.Unlock()
}

// Reports returns a copy of everything recorded so far
func (r *Recorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Report(nil), r.reports...)
}

// Count returns how many reports of the given kind were recorded
func (r *Recorder) Count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rep := range r.reports {
		if rep.Kind == kind {
			n++
		}
	}
	return n
}

// Multi fans every report out to several sinks
type Multi []Sink

func (m Multi) FetchFailed(ctx context.Context, source string, err error) {
	for _, s := range m {
		s.FetchFailed(ctx, source, err)
	}
}

func (m Multi) LostRace(ctx context.Context, source string, id string) {
	for _, s := range m {
		s.LostRace(ctx, source, id)
	}
}

func (m Multi) InvariantViolated(ctx context.Context, what string, attrs ...any) {
	for _, s := range m {
		s.InvariantViolated(ctx, what, attrs...)
	}
}
