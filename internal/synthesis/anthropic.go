package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

const (
	defaultModel = "claude-opus-4-1-20250805"

	// One request per second with a small burst keeps a scan's fan-out
	// inside typical API quotas.
	defaultRateLimit   = 1.0
	defaultBurst       = 2
	defaultMaxRetries  = 3
	defaultBaseBackoff = time.Second
)

// AnthropicConfig configures the Claude-backed completer.
type AnthropicConfig struct {
	APIKey string

	// Model overrides the default Claude model.
	Model string

	// RequestsPerSecond overrides the client-side rate limit.
	RequestsPerSecond float64
}

// Anthropic implements Completer against the Claude Messages API.
type Anthropic struct {
	client     *anthropic.Client
	model      string
	limiter    *rate.Limiter
	maxRetries int
}

// NewAnthropic creates a Claude-backed completer.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRateLimit
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))

	return &Anthropic{
		client:     &client,
		model:      model,
		limiter:    rate.NewLimiter(rate.Limit(rps), defaultBurst),
		maxRetries: defaultMaxRetries,
	}, nil
}

// Complete sends one prompt to the Messages API and returns the
// concatenated text blocks. Transient failures (429, 5xx, transport)
// retry with exponential backoff.
func (a *Anthropic) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		msg, err := a.client.Messages.New(ctx, params)
		if err != nil {
			lastErr = err
			continue
		}

		var text string
		for _, block := range msg.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		if text == "" {
			return "", errors.New("empty response from synthesis API")
		}
		return text, nil
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

var _ Completer = (*Anthropic)(nil)
