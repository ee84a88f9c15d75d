// Package logsource defines the log-aggregation collaborator contract and
// its adapters. The monitor treats an unavailable source as "no events",
// never as a pipeline failure.
package logsource

import (
	"context"
	"time"
)

// Event is one raw observed failure occurrence, before classification.
// Events are consumed once per analysis pass and never persisted.
type Event struct {
	Message    string    `json:"message"`
	StackTrace string    `json:"stack_trace,omitempty"`
	ErrorType  string    `json:"error_type,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// Source fetches recent error events from a log backend.
//
// Fetch must be side-effect free. Implementations return the events found
// within the window, newest first, up to limit. A degraded or unreachable
// backend returns an empty slice together with the underlying error so the
// caller can report the failure; the empty slice keeps downstream analysis
// well-defined either way.
type Source interface {
	Fetch(ctx context.Context, window time.Duration, limit int) ([]Event, error)
	Enabled() bool
}

// Disabled is a Source for deployments without a log backend configured.
// It always yields no events and no error.
type Disabled struct{}

func (Disabled) Fetch(context.Context, time.Duration, int) ([]Event, error) {
	return nil, nil
}

func (Disabled) Enabled() bool { return false }
