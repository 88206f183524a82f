// Package errors provides the coded error type used across the gateway. Every
// rejection the gateway produces carries a stable machine-readable code
// (e.g., "AUTH_004") and a reason string (e.g., "authenticatorMissing") so
// clients can branch on failures without parsing messages.
//
// # Error Categories
//
//   - Validation errors (VAL): malformed input, missing tenant hint
//   - Authentication errors (AUTH): missing, invalid or blocked credentials
//   - Authorization errors (AUTHZ): non-privileged client on an admin route
//   - NotFound errors (NF): unknown tenant or credential
//   - Internal errors (INT): storage faults, database failures
//   - Unavailable errors (UNAVAIL): tenant not ready, dependency down
//   - Timeout errors (TIMEOUT): operation exceeded its deadline
//
// # Usage
//
//	err := errors.New(errors.CodeAuthenticationMissing, "signature header is required")
//
//	if errors.IsUnavailable(err) {
//	    // retry later
//	}
//
//	errors.WriteHTTP(w, err) // {"code":"AUTH_004","reason":"authenticatorMissing",...}
package errors
