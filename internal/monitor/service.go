// Package monitor orchestrates the detection side of the pipeline: fetch
// raw events from the log collaborator, classify and enrich them, and merge
// the results into the pattern store it owns.
package monitor

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/opsmithlabs/errmond/internal/classify"
	"github.com/opsmithlabs/errmond/internal/logsource"
	"github.com/opsmithlabs/errmond/internal/pattern"
)

const instrumentationName = "github.com/opsmithlabs/errmond/internal/monitor"

// Service analyzes raw error events into deduplicated patterns and exposes
// read-side queries over them. It is the sole owner of the pattern store.
type Service struct {
	source logsource.Source
	store  *pattern.Store
	logger *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	scanCounter   metric.Int64Counter
	eventCounter  metric.Int64Counter
	fetchFailures metric.Int64Counter
}

// NewService creates a monitor over the given log source and store.
func NewService(source logsource.Source, store *pattern.Store, logger *zap.Logger) (*Service, error) {
	if source == nil {
		return nil, errors.New("log source is required")
	}
	if store == nil {
		return nil, errors.New("pattern store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		source: source,
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.scanCounter, err = s.meter.Int64Counter(
		"errmond.monitor.scans_total",
		metric.WithDescription("Total number of error scans"),
		metric.WithUnit("{scan}"),
	)
	if err != nil {
		s.logger.Warn("failed to create scan counter", zap.Error(err))
	}

	s.eventCounter, err = s.meter.Int64Counter(
		"errmond.monitor.events_total",
		metric.WithDescription("Total number of raw error events analyzed"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		s.logger.Warn("failed to create event counter", zap.Error(err))
	}

	s.fetchFailures, err = s.meter.Int64Counter(
		"errmond.monitor.fetch_failures_total",
		metric.WithDescription("Total number of failed log source fetches"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		s.logger.Warn("failed to create fetch failure counter", zap.Error(err))
	}
}

// SourceEnabled reports whether a real log backend is configured.
func (s *Service) SourceEnabled() bool { return s.source.Enabled() }

// Store exposes the pattern store for read-side consumers.
func (s *Service) Store() *pattern.Store { return s.store }

// FetchRecent pulls recent error events from the log source. An unreachable
// or disabled source yields an empty slice; the error is returned alongside
// so callers can report the degradation, but downstream analysis always has
// a defined (possibly empty) input.
func (s *Service) FetchRecent(ctx context.Context, window time.Duration, limit int) ([]logsource.Event, error) {
	ctx, span := s.tracer.Start(ctx, "monitor.fetch_recent")
	defer span.End()

	if !s.source.Enabled() {
		s.logger.Debug("log source disabled, returning no events")
		return nil, nil
	}

	events, err := s.source.Fetch(ctx, window, limit)
	if err != nil {
		span.RecordError(err)
		if s.fetchFailures != nil {
			s.fetchFailures.Add(ctx, 1)
		}
		s.logger.Warn("log source fetch failed", zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.Int("event_count", len(events)))
	return events, nil
}

// Analyze classifies each event, extracts stack details, scores fixability,
// and merges the batch by grouping key. Malformed events are skipped; one
// bad event never aborts the batch.
func (s *Service) Analyze(ctx context.Context, events []logsource.Event) []*pattern.Pattern {
	_, span := s.tracer.Start(ctx, "monitor.analyze")
	defer span.End()

	// Merge through a scratch store so batch grouping and store upserts
	// share one set of semantics.
	scratch := pattern.NewStore()
	analyzed := 0
	for _, ev := range events {
		p := extract(ev)
		if p == nil {
			continue
		}
		scratch.Upsert(p)
		analyzed++
	}

	if s.eventCounter != nil {
		s.eventCounter.Add(ctx, int64(analyzed))
	}
	span.SetAttributes(
		attribute.Int("events", len(events)),
		attribute.Int("patterns", scratch.Len()),
	)

	return scratch.All()
}

// extract builds a single-occurrence pattern from one raw event. Returns
// nil for events carrying no usable content.
func extract(ev logsource.Event) *pattern.Pattern {
	if ev.Message == "" && ev.StackTrace == "" {
		return nil
	}

	message := ev.Message
	if message == "" {
		message = "Unknown error"
	}
	errorType := ev.ErrorType
	if errorType == "" {
		errorType = "Exception"
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	category, severity := classify.Classify(ev.Message, ev.StackTrace)
	loc := classify.ExtractLocation(ev.StackTrace)
	fixable, suggestion := classify.Fixability(category, message)

	return &pattern.Pattern{
		ErrorType:    errorType,
		Message:      message,
		Category:     category,
		Severity:     severity,
		File:         loc.File,
		Line:         loc.Line,
		Function:     loc.Function,
		StackTrace:   ev.StackTrace,
		FirstSeen:    ts,
		LastSeen:     ts,
		Count:        1,
		Examples:     []string{message},
		Fixable:      fixable,
		SuggestedFix: suggestion,
	}
}

// ScanResult summarizes one fetch-analyze-store pass.
type ScanResult struct {
	Patterns    []*pattern.Pattern
	Critical    int
	FetchFailed bool
}

// Scan fetches recent events, analyzes them, and merges every resulting
// pattern into the store. A failed fetch degrades to an empty scan and is
// flagged on the result, never returned as an error.
func (s *Service) Scan(ctx context.Context, window time.Duration, limit int) *ScanResult {
	ctx, span := s.tracer.Start(ctx, "monitor.scan")
	defer span.End()

	events, fetchErr := s.FetchRecent(ctx, window, limit)
	patterns := s.Analyze(ctx, events)

	critical := 0
	for _, p := range patterns {
		s.store.Upsert(p)
		if p.Severity == classify.SeverityCritical || p.Severity == classify.SeverityHigh {
			critical++
		}
	}

	if s.scanCounter != nil {
		s.scanCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("patterns", len(patterns)),
			attribute.Bool("fetch_failed", fetchErr != nil),
		))
	}

	if len(patterns) > 0 {
		s.logger.Info("scan completed",
			zap.Int("events", len(events)),
			zap.Int("patterns", len(patterns)),
			zap.Int("critical", critical))
	}

	return &ScanResult{
		Patterns:    patterns,
		Critical:    critical,
		FetchFailed: fetchErr != nil,
	}
}

// Critical fetches and analyzes recent events, returning only critical and
// high severity patterns sorted by severity then count.
func (s *Service) Critical(ctx context.Context, window time.Duration, limit int) []*pattern.Pattern {
	events, _ := s.FetchRecent(ctx, window, limit)
	patterns := s.Analyze(ctx, events)

	var out []*pattern.Pattern
	for _, p := range patterns {
		if p.Severity == classify.SeverityCritical || p.Severity == classify.SeverityHigh {
			out = append(out, p)
		}
	}
	pattern.SortBySeverity(out)
	return out
}

// Fixable fetches and analyzes recent events, returning only patterns the
// fixability table marked remediable.
func (s *Service) Fixable(ctx context.Context, window time.Duration, limit int) []*pattern.Pattern {
	events, _ := s.FetchRecent(ctx, window, limit)
	patterns := s.Analyze(ctx, events)

	var out []*pattern.Pattern
	for _, p := range patterns {
		if p.Fixable {
			out = append(out, p)
		}
	}
	pattern.SortBySeverity(out)
	return out
}
