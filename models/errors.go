package models

import (
	"errors"
)

var (
	// ErrNotFound is returned by repositories when no row matches the key.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration is returned when a required secret or credential is missing at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidState is returned when an authorization state token is missing,
	// expired or already consumed.
	ErrInvalidState = errors.New("invalid authorization state")

	// ErrTokenExchange is returned when the provider rejects an authorization code
	// or a refresh token.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrReauthorizationRequired signals a terminal credential condition: the user
	// has to go through the consent screen again.
	ErrReauthorizationRequired = errors.New("reauthorization required")

	// ErrRefreshInProgress is returned when another refresh for the same user is in flight.
	ErrRefreshInProgress = errors.New("token refresh already in progress")

	// ErrFetch is returned when a catalog page or an item's metrics could not be fetched.
	ErrFetch = errors.New("fetch failed")
)

// RetryableError marks an error as transient.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err so IsRetryable reports true for it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}

	return &RetryableError{Err: err}
}

// IsRetryable reports whether any error in err's chain is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError

	return errors.As(err, &re)
}
