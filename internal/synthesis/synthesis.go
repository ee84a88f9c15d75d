// Package synthesis defines the code-synthesis collaborator contract.
//
// The collaborator is an expensive, rate-limited text generator whose
// output is occasionally malformed; callers must parse it defensively.
package synthesis

import "context"

// Completer generates text from a prompt.
type Completer interface {
	// Complete sends one prompt and returns the generated text, bounded
	// by maxTokens. Blocking; honors ctx cancellation.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}
