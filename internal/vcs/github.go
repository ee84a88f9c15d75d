package vcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// GitHub implements Host against the GitHub pull-request API.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
	logger *zap.Logger
}

// GitHubConfig configures the hosting adapter.
type GitHubConfig struct {
	// Token is a personal access token with repo scope. Empty means the
	// host is unconfigured and PR creation is skipped.
	Token string

	// Repository is "owner/name".
	Repository string
}

// NewGitHub creates a GitHub host. With an empty token it returns an
// unconfigured host whose PR step is a no-op.
func NewGitHub(ctx context.Context, cfg GitHubConfig, logger *zap.Logger) (*GitHub, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	gh := &GitHub{logger: logger}
	if cfg.Token == "" {
		return gh, nil
	}

	owner, repo, ok := strings.Cut(cfg.Repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("repository must be owner/name, got %q", cfg.Repository)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	gh.client = github.NewClient(oauth2.NewClient(ctx, ts))
	gh.owner = owner
	gh.repo = repo
	return gh, nil
}

func (g *GitHub) Configured() bool {
	return g != nil && g.client != nil
}

// OpenPullRequest opens a PR from branch onto base. Unconfigured hosts
// return an empty URL and no error.
func (g *GitHub) OpenPullRequest(ctx context.Context, branch, base, title, body string) (string, error) {
	if !g.Configured() {
		g.logger.Warn("github host not configured, skipping pull request")
		return "", nil
	}

	pr, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(branch),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("creating pull request: %w", err)
	}

	url := pr.GetHTMLURL()
	g.logger.Info("opened pull request",
		zap.String("branch", branch),
		zap.String("url", url))
	return url, nil
}

var _ Host = (*GitHub)(nil)
