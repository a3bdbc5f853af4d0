// internal/api/error_codes.go
package api

// API error code constants
const (
	// Generic errors
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorForbidden     = "FORBIDDEN"

	// Narrative hierarchy errors
	ErrorSeasonNotFound    = "SEASON_NOT_FOUND"
	ErrorInvalidLevel      = "INVALID_LEVEL"
	ErrorGenerationBlocked = "GENERATION_BLOCKED"

	// Content calendar errors
	ErrorCalendarNotFound = "CALENDAR_NOT_FOUND"
	ErrorItemNotFound     = "CONTENT_ITEM_NOT_FOUND"

	// Queue / session errors
	ErrorSessionNotFound = "SESSION_NOT_FOUND"
	ErrorSessionConflict = "SESSION_CONFLICT"

	// Token budget errors
	ErrorBudgetExceeded = "BUDGET_EXCEEDED"
	ErrorBalanceRace    = "BALANCE_RACE_REJECTED"

	// LLM service errors
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorConnectionFailed      = "CONNECTION_FAILED"

	// Configuration health
	ErrorConfigUnhealthy    = "CONFIG_UNHEALTHY"
	ErrorLLMProviderMissing = "LLM_PROVIDER_MISSING"
	ErrorAPIKeyMissing      = "API_KEY_MISSING"
)
