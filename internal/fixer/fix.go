// Package fixer turns analyzed error patterns into proposed code fixes,
// commits them to branches, and opens pull requests for human review.
package fixer

import (
	"time"

	"github.com/opsmithlabs/errmond/internal/classify"
)

// Status tracks a fix through its lifecycle. A fix starts pending, moves to
// testing once a pull request is open, and ends merged or failed through
// review outcomes recorded externally.
type Status string

const (
	StatusPending Status = "pending"
	StatusTesting Status = "testing"
	StatusMerged  Status = "merged"
	StatusFailed  Status = "failed"
)

// FileChange is one proposed modification within a fix.
type FileChange struct {
	File        string `json:"file"`
	Type        string `json:"type"`
	Description string `json:"change_description"`
	Code        string `json:"code"`
}

// BugFix is a generated remediation for one error pattern. It snapshots the
// pattern fields it was generated from so the record stays meaningful after
// the live pattern evolves.
type BugFix struct {
	ID         string `json:"id"`
	PatternKey string `json:"pattern_key"`

	ErrorType string            `json:"error_type"`
	Message   string            `json:"message"`
	Category  classify.Category `json:"category"`
	Severity  classify.Severity `json:"severity"`

	Analysis    string       `json:"analysis"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Explanation string       `json:"explanation"`
	Changes     []FileChange `json:"changes"`

	Branch      string    `json:"branch"`
	PRURL       string    `json:"pr_url,omitempty"`
	Status      Status    `json:"status"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FilesAffected lists the distinct files the fix touches, in change order.
func (f *BugFix) FilesAffected() []string {
	seen := make(map[string]struct{}, len(f.Changes))
	var files []string
	for _, c := range f.Changes {
		if c.File == "" {
			continue
		}
		if _, ok := seen[c.File]; ok {
			continue
		}
		seen[c.File] = struct{}{}
		files = append(files, c.File)
	}
	return files
}
