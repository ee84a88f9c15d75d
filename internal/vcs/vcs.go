// Package vcs abstracts the version-control collaborators used by the fix
// pipeline: a local git repository for branches and commits, and a hosting
// API for pull requests. Either side may be unconfigured; absence degrades
// the corresponding step to a no-op rather than an error.
package vcs

import "context"

// Repo performs local branch and commit operations.
type Repo interface {
	// CreateBranch checks out a new branch from the current HEAD.
	CreateBranch(ctx context.Context, name string) error

	// Commit writes the given files (path -> full content), stages them,
	// and commits on the named branch.
	Commit(ctx context.Context, branch, message string, files map[string]string) error
}

// Host opens pull requests on a hosting service.
type Host interface {
	// OpenPullRequest opens a PR from branch onto base and returns its URL.
	OpenPullRequest(ctx context.Context, branch, base, title, body string) (string, error)

	// Configured reports whether the host has credentials. Unconfigured
	// hosts cause the PR step to be skipped, not failed.
	Configured() bool
}

// NoopHost is the Host used when no hosting credentials are present.
type NoopHost struct{}

func (NoopHost) OpenPullRequest(context.Context, string, string, string, string) (string, error) {
	return "", nil
}

func (NoopHost) Configured() bool { return false }
