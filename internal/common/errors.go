// Package common defines shared constants and sentinel errors used across
// camstream components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal   = errors.New("internal error")
	ErrorValidation = errors.New("validation error")

	// User credential errors. Unknown email and wrong password intentionally
	// share one sentinel so responses cannot distinguish them.
	ErrorInvalidCredentials = errors.New("invalid credentials")
	ErrorEmailTaken         = errors.New("email already registered")

	// Session token errors.
	ErrInvalidToken       = errors.New("invalid token")
	ErrorUnknownPrincipal = errors.New("unknown principal")

	// Device key errors.
	ErrorUnknownDevice        = errors.New("unknown device")
	ErrorInvalidKey           = errors.New("invalid device key")
	ErrorFingerprintCollision = errors.New("device key fingerprint collision")

	// Ingestion errors.
	ErrorDeviceMismatch = errors.New("device identifier mismatch")
	ErrorInvalidPayload = errors.New("invalid segment payload")
)
