package classify

import "strings"

// Fixability decides whether an error in the given category is a plausible
// target for automated remediation, and if so, what the suggested approach
// is. The table is the single source of truth for what the supervisor may
// hand to the fix generator. Every category has a defined outcome.
func Fixability(category Category, message string) (bool, string) {
	msg := strings.ToLower(message)

	switch category {
	case CategoryRateLimit:
		return true, "Implement exponential backoff and request queuing"

	case CategoryTimeout:
		if strings.Contains(msg, "provider") {
			return true, "Add retry logic with exponential backoff for provider calls"
		}
		return true, "Increase timeout threshold or add connection pooling"

	case CategoryCache:
		return true, "Implement cache fallback to database queries"

	case CategoryDatabase:
		if strings.Contains(msg, "connection pool") {
			return true, "Increase connection pool size or add connection pooling fallback"
		}
		return true, "Add database connection retry logic"

	case CategoryAuth:
		if strings.Contains(msg, "invalid api key") {
			return true, "Rotate API keys and update configuration"
		}
		return true, "Implement token refresh logic"

	case CategoryProvider, CategoryValidation, CategoryExternalService,
		CategoryInternal, CategoryUnknown:
		return false, ""

	default:
		return false, ""
	}
}
