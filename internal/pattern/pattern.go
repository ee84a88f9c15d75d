// Package pattern holds deduplicated error patterns for the lifetime of the
// process. Raw events are ephemeral; patterns are the durable record of
// what has been failing, how often, and whether it can be auto-remediated.
package pattern

import (
	"fmt"
	"time"

	"github.com/opsmithlabs/errmond/internal/classify"
)

// maxExamples caps the example messages retained per pattern so a noisy
// error cannot grow a pattern without bound.
const maxExamples = 10

// keyPrefixLen is how much of the message participates in the grouping key.
const keyPrefixLen = 50

// Pattern is a merged record of one or more error events sharing a grouping
// key. It is owned exclusively by the Store; callers receive copies.
type Pattern struct {
	ErrorType    string            `json:"error_type"`
	Message      string            `json:"message"`
	Category     classify.Category `json:"category"`
	Severity     classify.Severity `json:"severity"`
	File         string            `json:"file,omitempty"`
	Line         int               `json:"line,omitempty"`
	Function     string            `json:"function,omitempty"`
	StackTrace   string            `json:"stack_trace,omitempty"`
	FirstSeen    time.Time         `json:"first_seen"`
	LastSeen     time.Time         `json:"last_seen"`
	Count        int               `json:"count"`
	Examples     []string          `json:"examples"`
	Fixable      bool              `json:"fixable"`
	SuggestedFix string            `json:"suggested_fix,omitempty"`
}

// Key returns the deterministic grouping identity: category plus the first
// 50 characters of the message. Two events with the same key merge into one
// pattern.
func (p *Pattern) Key() string {
	msg := p.Message
	// Truncate on rune boundaries so multi-byte messages never split a
	// character in the key.
	if runes := []rune(msg); len(runes) > keyPrefixLen {
		msg = string(runes[:keyPrefixLen])
	}
	return fmt.Sprintf("%s:%s", p.Category, msg)
}

// merge folds another occurrence of the same key into p.
func (p *Pattern) merge(other *Pattern) {
	p.Count += other.Count
	if other.LastSeen.After(p.LastSeen) {
		p.LastSeen = other.LastSeen
	}
	if other.FirstSeen.Before(p.FirstSeen) {
		p.FirstSeen = other.FirstSeen
	}
	for _, ex := range other.Examples {
		if len(p.Examples) >= maxExamples {
			break
		}
		if !containsString(p.Examples, ex) {
			p.Examples = append(p.Examples, ex)
		}
	}
}

// clone returns a deep copy so store internals never escape.
func (p *Pattern) clone() *Pattern {
	cp := *p
	cp.Examples = append([]string(nil), p.Examples...)
	return &cp
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
