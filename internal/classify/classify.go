// Package classify turns raw error events into structured categories,
// severities, and fixability judgments.
//
// Classification is a total pure function: every input resolves to some
// category (worst case internal_error), never an error. Rules live in an
// ordered table. Compound rules (provider name plus status code) must run
// before generic single-keyword rules, otherwise a provider 401 would be
// misfiled as a provider outage instead of an auth failure.
package classify

import "strings"

// Category is the classification bucket for an error.
type Category string

const (
	CategoryProvider        Category = "provider_error"
	CategoryDatabase        Category = "database_error"
	CategoryRateLimit       Category = "rate_limit_error"
	CategoryAuth            Category = "auth_error"
	CategoryTimeout         Category = "timeout_error"
	CategoryValidation      Category = "validation_error"
	CategoryCache           Category = "cache_error"
	CategoryExternalService Category = "external_service_error"
	CategoryInternal        Category = "internal_error"
	CategoryUnknown         Category = "unknown"
)

// Categories lists every known category. Used by tests to verify the
// fixability table covers the full taxonomy.
func Categories() []Category {
	return []Category{
		CategoryProvider,
		CategoryDatabase,
		CategoryRateLimit,
		CategoryAuth,
		CategoryTimeout,
		CategoryValidation,
		CategoryCache,
		CategoryExternalService,
		CategoryInternal,
		CategoryUnknown,
	}
}

// Severity ranks how urgent an error is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank returns a numeric ordering for severities: higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// providerNames are upstream model providers whose failures group together.
var providerNames = []string{
	"openrouter", "featherless", "deepinfra", "together", "huggingface", "vertexai",
}

// rule pairs a predicate with the classification it yields. Rules are
// evaluated in order; the first match wins.
type rule struct {
	match    func(text string) bool
	category Category
	severity Severity
}

func containsAny(text string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func mentionsProvider(text string) bool {
	return containsAny(text, providerNames...)
}

// rules is the ordered classification table. Compound provider rules come
// first; generic keyword rules follow from most to least specific.
var rules = []rule{
	{
		match: func(t string) bool {
			return mentionsProvider(t) && containsAny(t, "timeout", "504", "503")
		},
		category: CategoryProvider,
		severity: SeverityHigh,
	},
	{
		match: func(t string) bool {
			return mentionsProvider(t) && containsAny(t, "401", "403")
		},
		category: CategoryAuth,
		severity: SeverityHigh,
	},
	{match: mentionsProvider, category: CategoryProvider, severity: SeverityMedium},
	{
		match: func(t string) bool {
			return containsAny(t, "supabase", "postgresql", "database", "connection pool")
		},
		category: CategoryDatabase,
		severity: SeverityCritical,
	},
	{
		match: func(t string) bool {
			return containsAny(t, "rate limit", "429")
		},
		category: CategoryRateLimit,
		severity: SeverityMedium,
	},
	{
		match: func(t string) bool {
			return containsAny(t, "unauthorized", "invalid api key", "401")
		},
		category: CategoryAuth,
		severity: SeverityHigh,
	},
	{
		match: func(t string) bool {
			return containsAny(t, "timeout", "deadlineexceeded", "deadline exceeded")
		},
		category: CategoryTimeout,
		severity: SeverityMedium,
	},
	{
		match: func(t string) bool {
			return containsAny(t, "validation", "invalid")
		},
		category: CategoryValidation,
		severity: SeverityLow,
	},
	{
		match: func(t string) bool {
			return containsAny(t, "redis", "cache")
		},
		category: CategoryCache,
		severity: SeverityMedium,
	},
	{
		match: func(t string) bool {
			return containsAny(t, "stripe", "resend", "email", "payment")
		},
		category: CategoryExternalService,
		severity: SeverityHigh,
	},
}

// Classify maps an event's message and stack trace to a category and
// severity. It never fails; unmatched input classifies as internal_error
// at medium severity.
func Classify(message, stackTrace string) (Category, Severity) {
	text := strings.ToLower(message + " " + stackTrace)
	for _, r := range rules {
		if r.match(text) {
			return r.category, r.severity
		}
	}
	return CategoryInternal, SeverityMedium
}
