package domain

import "errors"

var (
	// ErrNotConnected indicates the user never linked a provider account.
	ErrNotConnected = errors.New("provider not connected")
	// ErrInactiveConnection indicates the connection exists but was deactivated.
	ErrInactiveConnection = errors.New("provider connection is inactive")
	// ErrMissingCredentials indicates the connection has no stored credentials.
	ErrMissingCredentials = errors.New("provider credentials missing")
	// ErrAuthenticationFailed indicates the provider rejected the credentials.
	ErrAuthenticationFailed = errors.New("provider authentication failed")
	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("provider rate limit reached")
	// ErrRemoteUnavailable indicates a network failure or provider outage.
	ErrRemoteUnavailable = errors.New("provider unavailable")
	// ErrInvalidResponse indicates the provider returned a payload that does
	// not match the expected shape, e.g. an error envelope where a list was
	// expected.
	ErrInvalidResponse = errors.New("invalid provider response")
	// ErrSummaryNotFound is returned when no daily summary exists locally or
	// remotely for the requested date.
	ErrSummaryNotFound = errors.New("daily summary not found")
)

// IsRetryable reports whether the error is a transient provider condition the
// caller may retry later. Retry policy lives with the caller; this package
// never retries on its own.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRemoteUnavailable)
}

// IsExpected reports whether the error belongs to the expected operating
// conditions that map to a structured failure response rather than an
// incident. Transaction failures are deliberately absent.
func IsExpected(err error) bool {
	for _, expected := range []error{
		ErrNotConnected,
		ErrInactiveConnection,
		ErrMissingCredentials,
		ErrAuthenticationFailed,
		ErrRateLimited,
		ErrRemoteUnavailable,
		ErrInvalidResponse,
	} {
		if errors.Is(err, expected) {
			return true
		}
	}
	return false
}
