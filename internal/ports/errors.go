package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Market data errors
	ErrDataUnavailable = errors.New("market data unavailable for instrument or range")
	ErrDataQuality     = errors.New("price history failed data quality checks")

	// Brokerage errors
	ErrAuthExpired       = errors.New("brokerage authentication expired or invalid")
	ErrTransport         = errors.New("brokerage transport failure")
	ErrRateLimited       = errors.New("API rate limit exceeded")
	ErrBrokerRejected    = errors.New("order rejected by broker")
	ErrInsufficientFunds = errors.New("insufficient funds for operation")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")

	// Invariant violations inside one cycle
	ErrInvariant = errors.New("internal invariant violated")
)

// IsTransient reports whether a failed broker call is worth retrying.
// Transport failures, timeouts and rate limits are; so is any error the
// adapter did not classify as terminal.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrTransport), errors.Is(err, ErrTimeout), errors.Is(err, ErrRateLimited):
		return true
	case errors.Is(err, ErrAuthExpired),
		errors.Is(err, ErrBrokerRejected),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidRequest):
		return false
	}
	return true
}
