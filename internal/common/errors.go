// Package common defines shared constants and sentinel errors used across
// the OSF Relay server, its services and the admin CLI. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Auth errors (invalid or malformed identity token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// OSF account state.
	ErrOSFNotConnected = errors.New("connect your OSF account")

	// Provisioning error kinds.
	ErrOSFUnauthorized      = errors.New("cannot reach OSF: authorization failed")
	ErrOSFRequest           = errors.New("OSF request failed")
	ErrOSFMalformedResponse = errors.New("malformed OSF response")
	ErrPersistence          = errors.New("persistence error")
)
