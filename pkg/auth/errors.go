package auth

import "errors"

var (
	// ErrUnauthorized is returned when a bearer does not resolve to an active key
	ErrUnauthorized = errors.New("authentication failed")

	// ErrUserNotFound is returned when an operation addresses an unknown user
	ErrUserNotFound = errors.New("user not found")

	// ErrQuotaExceeded is returned when the tier cap on active keys is reached
	ErrQuotaExceeded = errors.New("api key quota exceeded")

	// ErrKeyNotFound is returned by storage when no active key matches a hash
	ErrKeyNotFound = errors.New("api key not found")

	// ErrInvalidEmail is returned for an empty email address
	ErrInvalidEmail = errors.New("invalid email")

	// ErrStorageUnavailable is returned when no storage is configured
	ErrStorageUnavailable = errors.New("storage unavailable")
)
