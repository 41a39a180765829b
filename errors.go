package authcore

import "errors"

var (
	// ErrInvalidCredentials is returned by Login for an unknown identifier or
	// a password mismatch. The two cases are indistinguishable to the caller;
	// audit events carry the internal reason.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned when the account is locked, either manually
	// or by the consecutive-failure lockout policy.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned when the account has been disabled.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrUserNotFound is returned by account-management operations when the
	// user record does not exist. Login never returns it.
	ErrUserNotFound = errors.New("user not found")

	// ErrTokenExpired is returned when a token's exp claim is in the past.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is returned for tokens with an invalid signature or
	// structure.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenTypeMismatch is returned when an access token is presented where
	// a refresh token is required, or vice versa.
	ErrTokenTypeMismatch = errors.New("token type mismatch")

	// ErrSessionRevoked is returned when the session behind a token has been
	// revoked or has expired, regardless of the token's own validity.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionNotFound is returned when no session record exists for the
	// presented session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSecurityViolation marks errors that indicate possible credential
	// compromise. Match with errors.Is.
	ErrSecurityViolation = errors.New("security violation")
	// ErrReplayDetected is returned when a previously consumed refresh token
	// is presented again. The session lineage is revoked as a side effect.
	ErrReplayDetected = &wrappedError{msg: "refresh token replay detected", wrapped: ErrSecurityViolation}

	// ErrPermissionDenied is returned by Authorize when the token's roles do
	// not grant the required permission.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStorageUnavailable marks transient storage failures. Callers may
	// retry with backoff; domain errors are never wrapped in it.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidInput is returned for empty or over-length inputs.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEngineNotReady is returned when the engine is used before Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// wrappedError is a sentinel that matches both itself and a parent sentinel
// through errors.Is, so ErrReplayDetected satisfies ErrSecurityViolation.
type wrappedError struct {
	msg     string
	wrapped error
}

func (e *wrappedError) Error() string { return e.msg }

func (e *wrappedError) Unwrap() error { return e.wrapped }
