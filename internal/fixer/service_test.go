package fixer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsmithlabs/errmond/internal/classify"
	"github.com/opsmithlabs/errmond/internal/pattern"
)

const goodProposal = `{
  "title": "Add retry with backoff",
  "description": "Wrap provider calls in an exponential backoff retry.",
  "explanation": "Transient provider timeouts succeed on retry.",
  "changes": [
    {
      "file": "src/providers/client.py",
      "type": "modify",
      "change_description": "add retry wrapper",
      "code": "def call_with_retry():\n    pass\n"
    }
  ]
}`

type fakeCompleter struct {
	mu        sync.Mutex
	responses map[string]string
	fallback  string
	err       error
	calls     int
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	for needle, resp := range f.responses {
		if strings.Contains(prompt, needle) {
			return resp, nil
		}
	}
	return f.fallback, nil
}

type fakeRepo struct {
	mu        sync.Mutex
	branches  []string
	commits   map[string]map[string]string
	branchErr error
	commitErr error
}

func (f *fakeRepo) CreateBranch(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.branchErr != nil {
		return f.branchErr
	}
	f.branches = append(f.branches, name)
	return nil
}

func (f *fakeRepo) Commit(_ context.Context, branch, _ string, files map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	if f.commits == nil {
		f.commits = make(map[string]map[string]string)
	}
	f.commits[branch] = files
	return nil
}

type fakeHost struct {
	mu         sync.Mutex
	configured bool
	prErr      error
	opened     int
	lastBase   string
}

func (f *fakeHost) OpenPullRequest(_ context.Context, branch, base, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prErr != nil {
		return "", f.prErr
	}
	f.opened++
	f.lastBase = base
	return "https://github.com/acme/api/pull/7?head=" + branch, nil
}

func (f *fakeHost) Configured() bool { return f.configured }

func timeoutPattern() *pattern.Pattern {
	return &pattern.Pattern{
		ErrorType:    "TimeoutError",
		Message:      "Connection timeout to provider X",
		Category:     classify.CategoryTimeout,
		Severity:     classify.SeverityMedium,
		Count:        3,
		Fixable:      true,
		SuggestedFix: "Implement retry with exponential backoff",
	}
}

func TestGenerate_TwoRoundTrips(t *testing.T) {
	// The analysis call gets the fallback; the proposal prompt embeds the
	// analysis under an "Analysis:" header and gets the JSON.
	completer := &fakeCompleter{
		responses: map[string]string{"Analysis:": goodProposal},
		fallback:  "The provider times out under load.",
	}

	svc, err := NewService(completer, nil, nil, zap.NewNop())
	require.NoError(t, err)

	fix, err := svc.Generate(context.Background(), timeoutPattern())
	require.NoError(t, err)
	assert.Equal(t, 2, completer.calls)
	assert.Equal(t, StatusPending, fix.Status)
	assert.Equal(t, "Add retry with backoff", fix.Title)
	assert.Equal(t, []string{"src/providers/client.py"}, fix.FilesAffected())
	assert.NotEmpty(t, fix.ID)
	assert.WithinDuration(t, time.Now(), fix.GeneratedAt, time.Minute)
}

func TestGenerate_FencedResponse(t *testing.T) {
	completer := &fakeCompleter{
		responses: map[string]string{
			"Analysis:": "Here is the fix:\n```json\n" + goodProposal + "\n```\nHope that helps!",
		},
		fallback: "analysis text",
	}
	svc, err := NewService(completer, nil, nil, zap.NewNop())
	require.NoError(t, err)

	fix, err := svc.Generate(context.Background(), timeoutPattern())
	require.NoError(t, err)
	assert.Len(t, fix.Changes, 1)
}

func TestGenerate_UnparseableResponse(t *testing.T) {
	completer := &fakeCompleter{fallback: "I cannot propose a fix for this."}
	svc, err := NewService(completer, nil, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), timeoutPattern())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoFix)
	assert.Empty(t, svc.Fixes(), "failed generations must not be recorded")
}

func TestGenerate_DeduplicatesByPattern(t *testing.T) {
	completer := &fakeCompleter{
		responses: map[string]string{"Analysis:": goodProposal},
		fallback:  "analysis text",
	}
	svc, err := NewService(completer, nil, nil, zap.NewNop())
	require.NoError(t, err)

	first, err := svc.Generate(context.Background(), timeoutPattern())
	require.NoError(t, err)
	callsAfterFirst := completer.calls

	second, err := svc.Generate(context.Background(), timeoutPattern())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, callsAfterFirst, completer.calls, "existing fix must not trigger new model calls")
	assert.Len(t, svc.Fixes(), 1)
}

func TestProcess_FullWorkflow(t *testing.T) {
	completer := &fakeCompleter{
		responses: map[string]string{"Analysis:": goodProposal},
		fallback:  "analysis text",
	}
	repo := &fakeRepo{}
	host := &fakeHost{configured: true}

	svc, err := NewService(completer, repo, host, zap.NewNop())
	require.NoError(t, err)

	fix, err := svc.Process(context.Background(), timeoutPattern(), true)
	require.NoError(t, err)

	assert.Equal(t, StatusTesting, fix.Status)
	assert.NotEmpty(t, fix.PRURL)
	require.Len(t, repo.branches, 1)
	assert.True(t, strings.HasPrefix(repo.branches[0], "auto-fix/timeout_error/"))
	assert.Contains(t, repo.commits[repo.branches[0]], "src/providers/client.py")
	assert.Equal(t, 1, host.opened)
	assert.Equal(t, "main", host.lastBase)
}

func TestProcess_SkipsPullRequestWhenNotRequested(t *testing.T) {
	completer := &fakeCompleter{
		responses: map[string]string{"Analysis:": goodProposal},
		fallback:  "analysis text",
	}
	repo := &fakeRepo{}
	host := &fakeHost{configured: true}

	svc, err := NewService(completer, repo, host, zap.NewNop())
	require.NoError(t, err)

	fix, err := svc.Process(context.Background(), timeoutPattern(), false)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fix.Status)
	assert.NotEmpty(t, fix.Branch, "changes still land on a branch")
	assert.Empty(t, fix.PRURL)
	assert.Zero(t, host.opened)
}

func TestProcess_ConfiguredBaseBranch(t *testing.T) {
	completer := &fakeCompleter{
		responses: map[string]string{"Analysis:": goodProposal},
		fallback:  "analysis text",
	}
	host := &fakeHost{configured: true}

	svc, err := NewService(completer, &fakeRepo{}, host, zap.NewNop(), WithBaseBranch("develop"))
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), timeoutPattern(), true)
	require.NoError(t, err)
	assert.Equal(t, "develop", host.lastBase)
}

func TestProcess_NoHostConfigured(t *testing.T) {
	completer := &fakeCompleter{
		responses: map[string]string{"Analysis:": goodProposal},
		fallback:  "analysis text",
	}
	repo := &fakeRepo{}

	svc, err := NewService(completer, repo, nil, zap.NewNop())
	require.NoError(t, err)

	fix, err := svc.Process(context.Background(), timeoutPattern(), true)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fix.Status)
	assert.Empty(t, fix.PRURL)
	assert.NotEmpty(t, fix.Branch, "changes still land on a branch without a host")
}

func TestProcess_BranchFailureRetainsFix(t *testing.T) {
	completer := &fakeCompleter{
		responses: map[string]string{"Analysis:": goodProposal},
		fallback:  "analysis text",
	}
	repo := &fakeRepo{branchErr: errors.New("worktree dirty")}
	host := &fakeHost{configured: true}

	svc, err := NewService(completer, repo, host, zap.NewNop())
	require.NoError(t, err)

	fix, err := svc.Process(context.Background(), timeoutPattern(), true)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fix.Status)
	assert.Empty(t, fix.Branch)
	assert.Zero(t, host.opened)

	got, err := svc.Fix(fix.ID)
	require.NoError(t, err)
	assert.Equal(t, fix.ID, got.ID)
}

func TestProcess_PRFailureRetainsFix(t *testing.T) {
	completer := &fakeCompleter{
		responses: map[string]string{"Analysis:": goodProposal},
		fallback:  "analysis text",
	}
	repo := &fakeRepo{}
	host := &fakeHost{configured: true, prErr: errors.New("403 rate limited")}

	svc, err := NewService(completer, repo, host, zap.NewNop())
	require.NoError(t, err)

	fix, err := svc.Process(context.Background(), timeoutPattern(), true)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fix.Status)
	assert.NotEmpty(t, fix.Branch)
	assert.Empty(t, fix.PRURL)
}

func TestProcess_RetryAfterCommitFailure(t *testing.T) {
	completer := &fakeCompleter{
		responses: map[string]string{"Analysis:": goodProposal},
		fallback:  "analysis text",
	}
	repo := &fakeRepo{commitErr: errors.New("index locked")}
	host := &fakeHost{configured: true}

	svc, err := NewService(completer, repo, host, zap.NewNop())
	require.NoError(t, err)

	fix, err := svc.Process(context.Background(), timeoutPattern(), true)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fix.Status)
	assert.Empty(t, fix.Branch)

	// The branch already exists from the first attempt. A retry picks the
	// workflow back up and finishes it.
	repo.mu.Lock()
	repo.commitErr = nil
	repo.mu.Unlock()

	retried, err := svc.Process(context.Background(), timeoutPattern(), true)
	require.NoError(t, err)
	assert.Equal(t, fix.ID, retried.ID)
	assert.Equal(t, StatusTesting, retried.Status)
	assert.NotEmpty(t, retried.PRURL)
}

func TestProcessBatch_SurvivesIndividualFailures(t *testing.T) {
	// The completer fails for one pattern's message but succeeds for others.
	completer := &fakeCompleter{
		responses: map[string]string{"Analysis:": goodProposal},
		fallback:  "analysis text",
	}
	badCompleter := &selectiveCompleter{inner: completer, failOn: "Supabase"}

	svc, err := NewService(badCompleter, &fakeRepo{}, &fakeHost{configured: true}, zap.NewNop())
	require.NoError(t, err)

	patterns := []*pattern.Pattern{
		timeoutPattern(),
		{
			Message:  "Supabase connection refused",
			Category: classify.CategoryDatabase,
			Severity: classify.SeverityCritical,
			Fixable:  true,
		},
		{
			Message:  "Rate limit exceeded: 429",
			Category: classify.CategoryRateLimit,
			Severity: classify.SeverityMedium,
			Fixable:  true,
		},
	}

	fixes := svc.ProcessBatch(context.Background(), patterns, true)
	assert.Len(t, fixes, 2, "one failing pattern must not sink the batch")
	assert.Len(t, svc.Fixes(), 2)
}

type selectiveCompleter struct {
	inner  *fakeCompleter
	failOn string
}

func (s *selectiveCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if strings.Contains(prompt, s.failOn) {
		return "", fmt.Errorf("synthetic failure")
	}
	return s.inner.Complete(ctx, prompt, maxTokens)
}

func TestFix_UnknownID(t *testing.T) {
	svc, err := NewService(&fakeCompleter{fallback: "x"}, nil, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.Fix("nope")
	assert.Error(t, err)
}

func TestMarkMergedAndFailed(t *testing.T) {
	completer := &fakeCompleter{
		responses: map[string]string{"Analysis:": goodProposal},
		fallback:  "analysis text",
	}
	svc, err := NewService(completer, nil, nil, zap.NewNop())
	require.NoError(t, err)

	fix, err := svc.Generate(context.Background(), timeoutPattern())
	require.NoError(t, err)

	require.NoError(t, svc.MarkMerged(fix.ID))
	got, err := svc.Fix(fix.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusMerged, got.Status)

	assert.Error(t, svc.MarkFailed("missing"))
}
