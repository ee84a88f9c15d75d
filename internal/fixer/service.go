package fixer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opsmithlabs/errmond/internal/pattern"
	"github.com/opsmithlabs/errmond/internal/synthesis"
	"github.com/opsmithlabs/errmond/internal/vcs"
)

const instrumentationName = "github.com/opsmithlabs/errmond/internal/fixer"

const (
	analysisMaxTokens = 1024
	proposalMaxTokens = 4096

	// defaultBatchLimit bounds concurrent fix generation in a batch so a
	// burst of fixable patterns cannot saturate the model API.
	defaultBatchLimit = 3

	// defaultBaseBranch is the pull request target when the caller does
	// not configure one.
	defaultBaseBranch = "main"
)

// Service generates fixes for error patterns and drives them through the
// branch, commit, and pull request workflow.
type Service struct {
	completer  synthesis.Completer
	repo       vcs.Repo
	host       vcs.Host
	baseBranch string
	logger     *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	generated     metric.Int64Counter
	prsOpened     metric.Int64Counter
	generateFails metric.Int64Counter

	mu        sync.RWMutex
	fixes     map[string]*BugFix
	byPattern map[string]string
}

// Option customizes a Service.
type Option func(*Service)

// WithBaseBranch sets the branch pull requests target. Defaults to main.
func WithBaseBranch(branch string) Option {
	return func(s *Service) {
		if branch != "" {
			s.baseBranch = branch
		}
	}
}

// NewService creates a fixer. The completer is required; repo and host may
// be nil, in which case generated fixes stop short of branches and pull
// requests and stay pending.
func NewService(completer synthesis.Completer, repo vcs.Repo, host vcs.Host, logger *zap.Logger, opts ...Option) (*Service, error) {
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if host == nil {
		host = vcs.NoopHost{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		completer:  completer,
		repo:       repo,
		host:       host,
		baseBranch: defaultBaseBranch,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
		fixes:      make(map[string]*BugFix),
		byPattern:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.generated, err = s.meter.Int64Counter(
		"errmond.fixer.fixes_generated_total",
		metric.WithDescription("Total number of fixes generated"),
		metric.WithUnit("{fix}"),
	)
	if err != nil {
		s.logger.Warn("failed to create generated counter", zap.Error(err))
	}

	s.prsOpened, err = s.meter.Int64Counter(
		"errmond.fixer.pull_requests_total",
		metric.WithDescription("Total number of pull requests opened"),
		metric.WithUnit("{pr}"),
	)
	if err != nil {
		s.logger.Warn("failed to create pull request counter", zap.Error(err))
	}

	s.generateFails, err = s.meter.Int64Counter(
		"errmond.fixer.generate_failures_total",
		metric.WithDescription("Total number of failed fix generations"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		s.logger.Warn("failed to create failure counter", zap.Error(err))
	}
}

// Analyze asks the model for a root cause analysis of the pattern.
func (s *Service) Analyze(ctx context.Context, p *pattern.Pattern) (string, error) {
	ctx, span := s.tracer.Start(ctx, "fixer.analyze",
		trace.WithAttributes(attribute.String("category", string(p.Category))))
	defer span.End()

	analysis, err := s.completer.Complete(ctx, analysisPrompt(p), analysisMaxTokens)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("analyze pattern: %w", err)
	}
	return strings.TrimSpace(analysis), nil
}

// Generate produces a fix for the pattern via two model round trips: root
// cause analysis, then a structured fix proposal. A pattern that already
// has a fix on record returns the existing fix instead of regenerating.
func (s *Service) Generate(ctx context.Context, p *pattern.Pattern) (*BugFix, error) {
	ctx, span := s.tracer.Start(ctx, "fixer.generate",
		trace.WithAttributes(
			attribute.String("category", string(p.Category)),
			attribute.String("severity", string(p.Severity)),
		))
	defer span.End()

	if existing := s.fixForPattern(p.Key()); existing != nil {
		s.logger.Debug("fix already exists for pattern",
			zap.String("fix_id", existing.ID),
			zap.String("pattern_key", p.Key()))
		return existing, nil
	}

	analysis, err := s.Analyze(ctx, p)
	if err != nil {
		s.recordFailure(ctx, span, err)
		return nil, err
	}

	response, err := s.completer.Complete(ctx, proposalPrompt(p, analysis), proposalMaxTokens)
	if err != nil {
		s.recordFailure(ctx, span, err)
		return nil, fmt.Errorf("generate fix: %w", err)
	}

	prop, err := parseProposal(response)
	if err != nil {
		s.recordFailure(ctx, span, err)
		return nil, fmt.Errorf("pattern %q: %w", p.Key(), err)
	}

	fix := &BugFix{
		ID:          uuid.New().String(),
		PatternKey:  p.Key(),
		ErrorType:   p.ErrorType,
		Message:     p.Message,
		Category:    p.Category,
		Severity:    p.Severity,
		Analysis:    analysis,
		Title:       prop.Title,
		Description: prop.Description,
		Explanation: prop.Explanation,
		Changes:     prop.Changes,
		Status:      StatusPending,
		GeneratedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.fixes[fix.ID] = fix
	s.byPattern[fix.PatternKey] = fix.ID
	s.mu.Unlock()

	if s.generated != nil {
		s.generated.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", string(p.Category))))
	}
	s.logger.Info("fix generated",
		zap.String("fix_id", fix.ID),
		zap.String("title", fix.Title),
		zap.Strings("files", fix.FilesAffected()))

	return fix, nil
}

// Process generates a fix and pushes it through the review workflow: a
// dedicated branch, a commit with the proposed changes, and a pull request
// when openPR is set and a host is configured. Workflow failures leave the
// fix retained in pending state; the generation work is never discarded.
func (s *Service) Process(ctx context.Context, p *pattern.Pattern, openPR bool) (*BugFix, error) {
	ctx, span := s.tracer.Start(ctx, "fixer.process",
		trace.WithAttributes(attribute.Bool("open_pr", openPR)))
	defer span.End()

	fix, err := s.Generate(ctx, p)
	if err != nil {
		return nil, err
	}
	if fix.Status != StatusPending || fix.Branch != "" {
		// Already pushed through the workflow on a previous pass.
		return fix, nil
	}
	if s.repo == nil {
		s.logger.Debug("no repository configured, fix retained as pending",
			zap.String("fix_id", fix.ID))
		return fix, nil
	}

	branch := branchName(fix)
	if err := s.repo.CreateBranch(ctx, branch); err != nil {
		span.RecordError(err)
		s.logger.Warn("branch creation failed, fix retained as pending",
			zap.String("fix_id", fix.ID), zap.Error(err))
		return fix, nil
	}

	files := make(map[string]string, len(fix.Changes))
	for _, c := range fix.Changes {
		if c.File == "" || c.Code == "" {
			continue
		}
		files[c.File] = c.Code
	}
	if len(files) == 0 {
		s.logger.Warn("fix proposes no concrete file contents, fix retained as pending",
			zap.String("fix_id", fix.ID))
		return fix, nil
	}

	message := commitMessage(fix)
	if err := s.repo.Commit(ctx, branch, message, files); err != nil {
		span.RecordError(err)
		s.logger.Warn("commit failed, fix retained as pending",
			zap.String("fix_id", fix.ID), zap.Error(err))
		return fix, nil
	}
	s.setBranch(fix.ID, branch)

	if !openPR {
		s.logger.Info("fix committed to branch",
			zap.String("fix_id", fix.ID), zap.String("branch", branch))
		return s.Fix(fix.ID)
	}
	if !s.host.Configured() {
		s.logger.Info("no pull request host configured, fix committed to branch",
			zap.String("fix_id", fix.ID), zap.String("branch", branch))
		return s.Fix(fix.ID)
	}

	prURL, err := s.host.OpenPullRequest(ctx, branch, s.baseBranch, fix.Title, prBody(fix))
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("pull request failed, fix retained as pending",
			zap.String("fix_id", fix.ID), zap.Error(err))
		return s.Fix(fix.ID)
	}

	s.setPR(fix.ID, prURL)
	if s.prsOpened != nil {
		s.prsOpened.Add(ctx, 1)
	}
	s.logger.Info("pull request opened",
		zap.String("fix_id", fix.ID),
		zap.String("pr_url", prURL))

	return s.Fix(fix.ID)
}

// ProcessBatch processes each pattern with bounded concurrency. Individual
// failures are logged and skipped; the batch never aborts early. It returns
// the fixes that were produced.
func (s *Service) ProcessBatch(ctx context.Context, patterns []*pattern.Pattern, openPRs bool) []*BugFix {
	ctx, span := s.tracer.Start(ctx, "fixer.process_batch",
		trace.WithAttributes(attribute.Int("patterns", len(patterns))))
	defer span.End()

	var (
		mu    sync.Mutex
		fixes []*BugFix
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultBatchLimit)
	for _, p := range patterns {
		g.Go(func() error {
			fix, err := s.Process(gctx, p, openPRs)
			if err != nil {
				s.logger.Warn("batch fix failed",
					zap.String("pattern_key", p.Key()),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			fixes = append(fixes, fix)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int("fixes", len(fixes)))
	return fixes
}

// Fix returns a copy of the fix with the given ID, or nil if unknown.
func (s *Service) Fix(id string) (*BugFix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fix, ok := s.fixes[id]
	if !ok {
		return nil, fmt.Errorf("fix %q not found", id)
	}
	cp := *fix
	cp.Changes = append([]FileChange(nil), fix.Changes...)
	return &cp, nil
}

// Fixes returns copies of all recorded fixes, newest first.
func (s *Service) Fixes() []*BugFix {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*BugFix, 0, len(s.fixes))
	for _, fix := range s.fixes {
		cp := *fix
		cp.Changes = append([]FileChange(nil), fix.Changes...)
		out = append(out, &cp)
	}
	sortFixes(out)
	return out
}

func sortFixes(fixes []*BugFix) {
	for i := 1; i < len(fixes); i++ {
		for j := i; j > 0 && fixes[j].GeneratedAt.After(fixes[j-1].GeneratedAt); j-- {
			fixes[j], fixes[j-1] = fixes[j-1], fixes[j]
		}
	}
}

func (s *Service) fixForPattern(key string) *BugFix {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPattern[key]
	if !ok {
		return nil
	}
	fix := s.fixes[id]
	cp := *fix
	cp.Changes = append([]FileChange(nil), fix.Changes...)
	return &cp
}

func (s *Service) setBranch(id, branch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fix, ok := s.fixes[id]; ok {
		fix.Branch = branch
	}
}

func (s *Service) setPR(id, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fix, ok := s.fixes[id]; ok {
		fix.PRURL = url
		fix.Status = StatusTesting
	}
}

// MarkMerged records an external review outcome for the fix.
func (s *Service) MarkMerged(id string) error { return s.setStatus(id, StatusMerged) }

// MarkFailed records an external review outcome for the fix.
func (s *Service) MarkFailed(id string) error { return s.setStatus(id, StatusFailed) }

func (s *Service) setStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fix, ok := s.fixes[id]
	if !ok {
		return fmt.Errorf("fix %q not found", id)
	}
	fix.Status = status
	return nil
}

func (s *Service) recordFailure(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	if s.generateFails != nil {
		s.generateFails.Add(ctx, 1)
	}
}

func branchName(fix *BugFix) string {
	short := fix.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("auto-fix/%s/%s", fix.Category, short)
}

func commitMessage(fix *BugFix) string {
	return fmt.Sprintf("fix: %s\n\n%s", fix.Title, fix.Description)
}

func prBody(fix *BugFix) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Automated fix proposal\n\n")
	fmt.Fprintf(&b, "**Error:** %s\n", fix.Message)
	fmt.Fprintf(&b, "**Category:** %s\n", fix.Category)
	fmt.Fprintf(&b, "**Severity:** %s\n\n", fix.Severity)
	fmt.Fprintf(&b, "### Root cause analysis\n\n%s\n\n", fix.Analysis)
	fmt.Fprintf(&b, "### Proposed changes\n\n%s\n\n", fix.Description)
	if fix.Explanation != "" {
		fmt.Fprintf(&b, "### Why this works\n\n%s\n\n", fix.Explanation)
	}
	b.WriteString("> Generated automatically from production error patterns. Review carefully before merging.\n")
	return b.String()
}

func analysisPrompt(p *pattern.Pattern) string {
	var b strings.Builder
	b.WriteString("You are debugging a production service. Analyze the root cause of this error pattern.\n\n")
	fmt.Fprintf(&b, "Error type: %s\n", p.ErrorType)
	fmt.Fprintf(&b, "Message: %s\n", p.Message)
	fmt.Fprintf(&b, "Category: %s\n", p.Category)
	fmt.Fprintf(&b, "Severity: %s\n", p.Severity)
	fmt.Fprintf(&b, "Occurrences: %d\n", p.Count)
	if p.File != "" {
		fmt.Fprintf(&b, "Location: %s:%d in %s\n", p.File, p.Line, p.Function)
	}
	if p.StackTrace != "" {
		fmt.Fprintf(&b, "\nStack trace:\n%s\n", p.StackTrace)
	}
	if p.SuggestedFix != "" {
		fmt.Fprintf(&b, "\nInitial suggestion: %s\n", p.SuggestedFix)
	}
	b.WriteString("\nGive a concise root cause analysis: what is failing, why, and what class of change would prevent it.")
	return b.String()
}

func proposalPrompt(p *pattern.Pattern, analysis string) string {
	var b strings.Builder
	b.WriteString("Based on the root cause analysis below, propose a concrete code fix.\n\n")
	fmt.Fprintf(&b, "Error: %s\n", p.Message)
	fmt.Fprintf(&b, "Category: %s\n", p.Category)
	if p.File != "" {
		fmt.Fprintf(&b, "Location: %s:%d in %s\n", p.File, p.Line, p.Function)
	}
	fmt.Fprintf(&b, "\nAnalysis:\n%s\n\n", analysis)
	b.WriteString(`Respond with ONLY a JSON object, no prose, in this exact shape:
{
  "title": "short fix title",
  "description": "what the fix does",
  "explanation": "why this resolves the root cause",
  "changes": [
    {
      "file": "path/to/file",
      "type": "modify",
      "change_description": "what changes in this file",
      "code": "complete new file contents"
    }
  ]
}`)
	return b.String()
}
