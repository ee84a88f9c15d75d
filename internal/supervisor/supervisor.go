// Package supervisor runs the periodic scan loop that keeps the monitor
// fed and, when enabled, hands fixable critical patterns to the fixer.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/opsmithlabs/errmond/internal/classify"
	"github.com/opsmithlabs/errmond/internal/fixer"
	"github.com/opsmithlabs/errmond/internal/monitor"
	"github.com/opsmithlabs/errmond/internal/pattern"
)

const instrumentationName = "github.com/opsmithlabs/errmond/internal/supervisor"

// Config controls the supervision loop.
type Config struct {
	// Interval between scans.
	Interval time.Duration
	// Lookback is the log window each scan covers.
	Lookback time.Duration
	// FetchLimit caps events per scan.
	FetchLimit int
	// AutoFix enables handing fixable patterns to the fixer. When false
	// the loop only scans and accumulates.
	AutoFix bool
	// FixThreshold is the number of accumulated critical errors that
	// triggers an auto-fix pass. Defaults to 1 so a single critical
	// failure is enough to act on.
	FixThreshold int
}

// DefaultConfig returns production defaults for the loop.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		Lookback:     10 * time.Minute,
		FetchLimit:   500,
		AutoFix:      false,
		FixThreshold: 1,
	}
}

// Status is a point-in-time snapshot of the loop.
type Status struct {
	Enabled            bool      `json:"enabled"`
	Running            bool      `json:"running"`
	AutoFix            bool      `json:"auto_fix"`
	Interval           string    `json:"interval"`
	Lookback           string    `json:"lookback"`
	LastScan           time.Time `json:"last_scan,omitempty"`
	ScansCompleted     int64     `json:"scans_completed"`
	ErrorsSinceLastFix int       `json:"errors_since_last_fix"`
	TrackedPatterns    int       `json:"tracked_patterns"`
}

// Supervisor periodically scans for new error patterns and escalates
// fixable critical ones to the fixer.
type Supervisor struct {
	cfg     Config
	monitor *monitor.Service
	fixer   *fixer.Service
	logger  *zap.Logger

	tracer     trace.Tracer
	iterations metric.Int64Counter

	mu                 sync.Mutex
	running            bool
	stopCh             chan struct{}
	doneCh             chan struct{}
	lastScan           time.Time
	scansCompleted     int64
	errorsSinceLastFix int
}

// New creates a supervisor. The fixer may be nil when auto-fix is disabled.
func New(cfg Config, mon *monitor.Service, fx *fixer.Service, logger *zap.Logger) (*Supervisor, error) {
	if mon == nil {
		return nil, errors.New("monitor is required")
	}
	if cfg.AutoFix && fx == nil {
		return nil, errors.New("auto-fix requires a fixer")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultConfig().Lookback
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = DefaultConfig().FetchLimit
	}
	if cfg.FixThreshold <= 0 {
		cfg.FixThreshold = DefaultConfig().FixThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Supervisor{
		cfg:     cfg,
		monitor: mon,
		fixer:   fx,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
	}

	var err error
	s.iterations, err = otel.Meter(instrumentationName).Int64Counter(
		"errmond.supervisor.iterations_total",
		metric.WithDescription("Total number of supervision loop iterations"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		logger.Warn("failed to create iteration counter", zap.Error(err))
	}

	return s, nil
}

// Start launches the loop. Calling Start on a running supervisor is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("supervisor started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("lookback", s.cfg.Lookback),
		zap.Bool("auto_fix", s.cfg.AutoFix))

	go s.run(ctx)
}

// Stop signals the loop to exit and waits for the in-flight iteration to
// finish. Safe to call on a stopped supervisor.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
	s.logger.Info("supervisor stopped")
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.doneCh)

	// Immediate first pass so a fresh process has data before the first
	// tick fires.
	s.iterate(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.iterate(ctx)
		}
	}
}

// iterate runs one scan-and-maybe-fix pass. Failures inside an iteration
// are logged and absorbed; the loop itself never dies.
func (s *Supervisor) iterate(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "supervisor.iterate")
	defer span.End()

	res := s.monitor.Scan(ctx, s.cfg.Lookback, s.cfg.FetchLimit)

	s.mu.Lock()
	s.lastScan = time.Now().UTC()
	s.scansCompleted++
	s.errorsSinceLastFix += res.Critical
	accumulated := s.errorsSinceLastFix
	s.mu.Unlock()

	if s.iterations != nil {
		s.iterations.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("critical", res.Critical),
			attribute.Bool("fetch_failed", res.FetchFailed),
		))
	}

	if !s.cfg.AutoFix || accumulated < s.cfg.FixThreshold {
		return
	}

	fixable := filterFixable(res.Patterns)
	if len(fixable) == 0 {
		return
	}

	s.logger.Info("auto-fix threshold reached",
		zap.Int("accumulated_critical", accumulated),
		zap.Int("fixable", len(fixable)))

	fixes := s.fixer.ProcessBatch(ctx, fixable, true)
	if len(fixes) > 0 {
		s.mu.Lock()
		s.errorsSinceLastFix = 0
		s.mu.Unlock()
		s.logger.Info("auto-fix pass completed", zap.Int("fixes", len(fixes)))
	}
}

func filterFixable(ps []*pattern.Pattern) []*pattern.Pattern {
	var out []*pattern.Pattern
	for _, p := range ps {
		if !p.Fixable {
			continue
		}
		if p.Severity != classify.SeverityCritical && p.Severity != classify.SeverityHigh {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Status reports the loop's current state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Enabled:            true,
		Running:            s.running,
		AutoFix:            s.cfg.AutoFix,
		Interval:           s.cfg.Interval.String(),
		Lookback:           s.cfg.Lookback.String(),
		LastScan:           s.lastScan,
		ScansCompleted:     s.scansCompleted,
		ErrorsSinceLastFix: s.errorsSinceLastFix,
		TrackedPatterns:    s.monitor.Store().Len(),
	}
}
