package fixer

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoFix indicates the model produced no parseable fix proposal.
var ErrNoFix = errors.New("no usable fix in model response")

// extractJSON pulls a JSON object out of a model response that may wrap it
// in markdown code fences or surrounding prose. Models are prompted for
// bare JSON but do not reliably comply.
func extractJSON(response string) (string, bool) {
	text := strings.TrimSpace(response)

	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+len("```"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// proposal is the shape the fix prompt instructs the model to return.
type proposal struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Explanation string       `json:"explanation"`
	Changes     []FileChange `json:"changes"`
}

// parseProposal decodes a model response into a fix proposal. It returns
// ErrNoFix when the response contains no JSON object, decodes to something
// other than a proposal, or proposes no changes.
func parseProposal(response string) (*proposal, error) {
	raw, ok := extractJSON(response)
	if !ok {
		return nil, ErrNoFix
	}

	var p proposal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, ErrNoFix
	}
	if len(p.Changes) == 0 {
		return nil, ErrNoFix
	}
	return &p, nil
}
