package errors

import "fmt"

// AuthError represents a standardized authentication error returned by the
// gateway. The JSON shape follows the OAuth 2.0 error convention so API
// clients see the same structure for every failure mode.
type AuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Gateway error codes.
const (
	MissingCredential   = "missing_credential"
	MalformedCredential = "malformed_credential"
	ExpiredCredential   = "expired_credential"
	InvalidCredential   = "invalid_credential"
	UpstreamUnavailable = "upstream_unavailable"
	UpstreamRejected    = "upstream_rejected"
)

// Common error constructors. Descriptions are intentionally generic:
// upstream response bodies and internal detail are logged server-side,
// never echoed to the caller.

func NewMissingCredential() *AuthError {
	return &AuthError{
		Code:        MissingCredential,
		Description: "Authorization header with a bearer token is required",
	}
}

func NewMalformedCredential() *AuthError {
	return &AuthError{
		Code:        MalformedCredential,
		Description: "The presented credential is not valid",
	}
}

func NewExpiredCredential() *AuthError {
	return &AuthError{
		Code:        ExpiredCredential,
		Description: "The presented credential has expired",
	}
}

func NewInvalidCredential() *AuthError {
	return &AuthError{
		Code:        InvalidCredential,
		Description: "Invalid credentials",
	}
}

func NewUpstreamUnavailable() *AuthError {
	return &AuthError{
		Code:        UpstreamUnavailable,
		Description: "Authentication service unavailable",
	}
}

func NewUpstreamRejected() *AuthError {
	return &AuthError{
		Code:        UpstreamRejected,
		Description: "Authentication service rejected the request",
	}
}

// IsCode reports whether err is an *AuthError carrying the given code.
func IsCode(err error, code string) bool {
	authErr, ok := err.(*AuthError)
	return ok && authErr.Code == code
}
