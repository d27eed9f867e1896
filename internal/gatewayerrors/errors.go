// Package gatewayerrors defines the typed error kinds raised across the
// trading control plane, per the propagation policy of spec §7.
package gatewayerrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies a semantic error category. Callers should branch on Kind
// (via errors.As into *GatewayError) rather than string-matching messages.
type Kind string

const (
	KindAuthenticationFailed Kind = "authentication_failed"
	KindValidationFailed     Kind = "validation_failed"
	KindInsufficientBalance  Kind = "insufficient_balance"
	KindRiskLimitExceeded    Kind = "risk_limit_exceeded"
	KindOrderNotFound        Kind = "order_not_found"
	KindPositionNotFound     Kind = "position_not_found"
	KindRateLimited          Kind = "rate_limited"
	KindVenueError           Kind = "venue_error"
	KindTimeout              Kind = "timeout"
	KindInternal             Kind = "internal_error"
)

// GatewayError is the single error type surfaced across component
// boundaries. Construct one with the New* helpers below rather than
// populating the struct directly.
type GatewayError struct {
	Kind       Kind
	Message    string
	Violations []string      // populated for KindRiskLimitExceeded
	RetryAfter time.Duration // populated for KindRateLimited
	Cause      error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, gatewayerrors.KindX) style checks by comparing
// the Kind of two *GatewayError values, or a *GatewayError against a bare
// Kind wrapped via KindSentinel.
func (e *GatewayError) Is(target error) bool {
	var other *GatewayError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindSentinel wraps a bare Kind so it can be used with errors.Is, e.g.
// errors.Is(err, gatewayerrors.KindSentinel(gatewayerrors.KindOrderNotFound)).
func KindSentinel(k Kind) error { return &GatewayError{Kind: k} }

func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Cause: cause}
}

func NewAuthenticationFailed(message string) *GatewayError {
	return New(KindAuthenticationFailed, message)
}

func NewValidationFailed(message string) *GatewayError {
	return New(KindValidationFailed, message)
}

func NewInsufficientBalance(required, available string) *GatewayError {
	return New(KindInsufficientBalance, fmt.Sprintf("required %s exceeds available %s", required, available))
}

// NewRiskLimitExceeded carries the complete, non-short-circuited set of
// violating rule names, per spec §4.5 / §8.
func NewRiskLimitExceeded(violations []string) *GatewayError {
	return &GatewayError{
		Kind:       KindRiskLimitExceeded,
		Message:    fmt.Sprintf("%d risk rule(s) violated", len(violations)),
		Violations: violations,
	}
}

func NewOrderNotFound(id string) *GatewayError {
	return New(KindOrderNotFound, fmt.Sprintf("order not found: %s", id))
}

func NewPositionNotFound(bindingID, symbol string) *GatewayError {
	return New(KindPositionNotFound, fmt.Sprintf("no open position for %s/%s", bindingID, symbol))
}

func NewRateLimited(retryAfter time.Duration) *GatewayError {
	return &GatewayError{Kind: KindRateLimited, Message: "rate limited", RetryAfter: retryAfter}
}

func NewVenueError(message string, cause error) *GatewayError {
	return Wrap(KindVenueError, message, cause)
}

func NewTimeout(operation string) *GatewayError {
	return New(KindTimeout, fmt.Sprintf("deadline exceeded: %s", operation))
}

// NewInternal wraps cause as a KindInternal error without redacting it;
// RedactedMessage is what hides the message in production.
func NewInternal(message string, cause error) *GatewayError {
	return Wrap(KindInternal, message, cause)
}

// RedactedMessage returns a message safe to surface to external clients:
// the full error in non-production environments, a generic message in
// production for KindInternal and KindVenueError.
func RedactedMessage(err *GatewayError, appEnv string) string {
	if appEnv == "production" && (err.Kind == KindInternal || err.Kind == KindVenueError) {
		return "an internal error occurred"
	}
	return err.Error()
}
