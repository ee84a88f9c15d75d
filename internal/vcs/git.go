package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// GitRepo implements Repo against a local working tree using go-git.
type GitRepo struct {
	path        string
	authorName  string
	authorEmail string
	logger      *zap.Logger
}

// GitConfig configures the local repository adapter.
type GitConfig struct {
	// Path is the root of the working tree.
	Path string

	// AuthorName and AuthorEmail identify generated commits.
	AuthorName  string
	AuthorEmail string
}

// NewGitRepo creates a local repository adapter. The path must contain a
// git repository; this is verified eagerly so misconfiguration surfaces at
// startup instead of mid-pipeline.
func NewGitRepo(cfg GitConfig, logger *zap.Logger) (*GitRepo, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("repository path is required")
	}
	if _, err := git.PlainOpen(cfg.Path); err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", cfg.Path, err)
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "errmond"
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = "errmond@localhost"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GitRepo{
		path:        cfg.Path,
		authorName:  cfg.AuthorName,
		authorEmail: cfg.AuthorEmail,
		logger:      logger,
	}, nil
}

// CreateBranch checks out a branch at the current HEAD, creating it if it
// does not exist yet. A branch left behind by an earlier interrupted
// attempt is checked out rather than treated as an error, so a retried
// workflow can resume on it.
func (g *GitRepo) CreateBranch(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	repo, err := git.PlainOpen(g.path)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}

	ref := plumbing.NewBranchReferenceName(name)
	createErr := wt.Checkout(&git.CheckoutOptions{Branch: ref, Create: true})
	if createErr == nil {
		g.logger.Debug("created branch", zap.String("branch", name))
		return nil
	}

	if err := wt.Checkout(&git.CheckoutOptions{Branch: ref}); err != nil {
		return fmt.Errorf("creating branch %s: %w", name, createErr)
	}

	g.logger.Debug("checked out existing branch", zap.String("branch", name))
	return nil
}

// Commit writes each file, stages it, and commits on the given branch. The
// branch must be checked out (CreateBranch leaves it checked out).
func (g *GitRepo) Commit(ctx context.Context, branch, message string, files map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files to commit")
	}

	repo, err := git.PlainOpen(g.path)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}

	for path, content := range files {
		full := filepath.Join(g.path, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		if _, err := wt.Add(path); err != nil {
			return fmt.Errorf("staging %s: %w", path, err)
		}
	}

	commit, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.authorName,
			Email: g.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("committing on %s: %w", branch, err)
	}

	g.logger.Info("committed fix",
		zap.String("branch", branch),
		zap.String("commit", commit.String()),
		zap.Int("files", len(files)))
	return nil
}

var _ Repo = (*GitRepo)(nil)
