// Package apierrors defines the machine-readable error codes returned in API error bodies, shared
// between internal/httputil and every internal/api handler so clients can branch on Code rather than
// parsing Message strings.
package apierrors

// Code is a stable, machine-readable error identifier returned alongside a human-readable message.
type Code string

const (
	InternalError      Code = "internal_error"
	NotFound           Code = "not_found"
	ValidationError    Code = "validation_error"
	Unauthorized       Code = "unauthorized"
	Forbidden          Code = "forbidden"
	RateLimited        Code = "rate_limited"
	PayloadTooLarge    Code = "payload_too_large"
	ServiceUnavailable Code = "service_unavailable"
	Conflict           Code = "conflict"
	Duplicate          Code = "duplicate"
)
