package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		message      string
		stackTrace   string
		wantCategory Category
		wantSeverity Severity
	}{
		{
			name:         "provider timeout",
			message:      "openrouter request failed with 504",
			wantCategory: CategoryProvider,
			wantSeverity: SeverityHigh,
		},
		{
			name:         "provider auth beats provider outage",
			message:      "featherless returned 401 unauthorized",
			wantCategory: CategoryAuth,
			wantSeverity: SeverityHigh,
		},
		{
			name:         "provider generic",
			message:      "deepinfra responded with malformed payload",
			wantCategory: CategoryProvider,
			wantSeverity: SeverityMedium,
		},
		{
			name:         "database",
			message:      "connection pool exhausted",
			wantCategory: CategoryDatabase,
			wantSeverity: SeverityCritical,
		},
		{
			name:         "rate limit by keyword",
			message:      "rate limit exceeded for tenant",
			wantCategory: CategoryRateLimit,
			wantSeverity: SeverityMedium,
		},
		{
			name:         "rate limit by status code",
			message:      "upstream returned 429",
			wantCategory: CategoryRateLimit,
			wantSeverity: SeverityMedium,
		},
		{
			name:         "auth",
			message:      "Invalid API key",
			wantCategory: CategoryAuth,
			wantSeverity: SeverityHigh,
		},
		{
			name:         "timeout without provider name",
			message:      "Connection timeout to provider X",
			wantCategory: CategoryTimeout,
			wantSeverity: SeverityMedium,
		},
		{
			name:         "validation",
			message:      "validation failed for field email_address",
			wantCategory: CategoryValidation,
			wantSeverity: SeverityLow,
		},
		{
			name:         "cache",
			message:      "redis connection refused",
			wantCategory: CategoryCache,
			wantSeverity: SeverityMedium,
		},
		{
			name:         "external service",
			message:      "stripe webhook signature mismatch",
			wantCategory: CategoryExternalService,
			wantSeverity: SeverityHigh,
		},
		{
			name:         "unmatched falls back to internal",
			message:      "something odd happened",
			wantCategory: CategoryInternal,
			wantSeverity: SeverityMedium,
		},
		{
			name:         "empty input is total",
			message:      "",
			wantCategory: CategoryInternal,
			wantSeverity: SeverityMedium,
		},
		{
			name:         "stack trace participates in matching",
			message:      "request failed",
			stackTrace:   `File "src/db/pool.py", line 42, in acquire: postgresql refused`,
			wantCategory: CategoryDatabase,
			wantSeverity: SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, sev := Classify(tt.message, tt.stackTrace)
			assert.Equal(t, tt.wantCategory, cat)
			assert.Equal(t, tt.wantSeverity, sev)
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	msg := "openrouter timeout after 30s"
	c1, s1 := Classify(msg, "")
	c2, s2 := Classify(msg, "")
	assert.Equal(t, c1, c2)
	assert.Equal(t, s1, s2)
}

func TestExtractLocation(t *testing.T) {
	tests := []struct {
		name  string
		stack string
		want  Location
	}{
		{
			name:  "conventional trace line",
			stack: `File "src/services/gateway.py", line 118, in handle_request`,
			want:  Location{File: "src/services/gateway.py", Line: 118, Function: "handle_request"},
		},
		{
			name:  "no match yields zero location",
			stack: "garbage with no structure",
			want:  Location{},
		},
		{
			name:  "empty trace",
			stack: "",
			want:  Location{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractLocation(tt.stack))
		})
	}
}

func TestFixabilityCoversAllCategories(t *testing.T) {
	// Every category must have a defined outcome: either fixable with a
	// non-empty suggestion or not fixable with none.
	for _, cat := range Categories() {
		fixable, suggestion := Fixability(cat, "generic message")
		if fixable {
			require.NotEmpty(t, suggestion, "fixable category %q must carry a suggestion", cat)
		} else {
			require.Empty(t, suggestion, "unfixable category %q must not carry a suggestion", cat)
		}
	}
}

func TestFixabilityMessageVariants(t *testing.T) {
	fixable, suggestion := Fixability(CategoryAuth, "Invalid API key supplied")
	require.True(t, fixable)
	assert.Contains(t, suggestion, "Rotate API keys")

	fixable, suggestion = Fixability(CategoryTimeout, "provider call timed out")
	require.True(t, fixable)
	assert.Contains(t, suggestion, "retry logic")

	fixable, suggestion = Fixability(CategoryDatabase, "connection pool exhausted")
	require.True(t, fixable)
	assert.Contains(t, suggestion, "connection pool")

	fixable, _ = Fixability(CategoryValidation, "bad input")
	assert.False(t, fixable)
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Greater(t, SeverityLow.Rank(), SeverityInfo.Rank())
}
