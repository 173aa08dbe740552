package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrRequestTimeout        = errors.New("request timeout")
	ErrExchangeUnavailable   = errors.New("exchange unavailable")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
)

// IsTransient reports whether an error is a temporary gateway condition that
// is safe to retry: network faults, timeouts, venue outages, rate limits.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRequestTimeout) ||
		errors.Is(err, ErrExchangeUnavailable) ||
		errors.Is(err, ErrRateLimitExceeded)
}

// IsBusinessRejection reports whether the venue rejected the operation on its
// merits. These are terminal for the operation and must not be retried.
func IsBusinessRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrOrderRejected) ||
		errors.Is(err, ErrInvalidOrderParameter)
}
