package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("access forbidden")
	ErrInvalidCode  = errors.New("invalid two-factor code")

	ErrBrokerAuth     = errors.New("broker rejected credentials")
	ErrBrokerTimeout  = errors.New("broker did not respond in time")
	ErrBrokerUpstream = errors.New("broker unavailable")

	ErrUserNotFound = errors.New("user not found")

	// ErrNotFound is returned by stores; the session service never lets it
	// cross its boundary.
	ErrNotFound = errors.New("not found")
	// ErrInconsistentState flags a record that breaks the aggregate invariants.
	ErrInconsistentState = errors.New("inconsistent user state")
)

var (
	ErrInvalidCredentials = fmt.Errorf("%w: incorrect username or password", ErrUnauthorized)
	ErrInvalidToken       = fmt.Errorf("%w: could not validate credentials", ErrUnauthorized)
	ErrTokenExpired       = fmt.Errorf("%w: token expired", ErrUnauthorized)

	ErrUserExists          = fmt.Errorf("%w: username or email already registered", ErrConflict)
	ErrTwoFactorEnabled    = fmt.Errorf("%w: two-factor authentication already enabled", ErrConflict)
	ErrTwoFactorDisabled   = fmt.Errorf("%w: two-factor authentication is not enabled", ErrConflict)
	ErrEnrollmentChanged   = fmt.Errorf("%w: two-factor setup was restarted, scan the latest code", ErrConflict)
	ErrTwoFactorNotStarted = fmt.Errorf("%w: two-factor setup not initiated", ErrForbidden)
	ErrTwoFactorRequired   = fmt.Errorf("%w: two-factor authentication must be enabled for broker access", ErrForbidden)
	ErrBrokerNotLinked     = fmt.Errorf("%w: not connected to broker", ErrForbidden)
	ErrAPIKeyMissing       = fmt.Errorf("%w: broker api key not configured", ErrForbidden)
	ErrSecretUnavailable   = fmt.Errorf("%w: stored credentials unavailable", ErrForbidden)
)

// ValidationError carries field-level detail for malformed input.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError from field/message pairs.
func NewValidationError(kv ...string) *ValidationError {
	ve := &ValidationError{Fields: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		ve.Fields[kv[i]] = kv[i+1]
	}
	return ve
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// BrokerAuthError is returned when the broker rejects the supplied credentials.
// Details is the broker's own message and is safe to show to the user.
type BrokerAuthError struct {
	Code    string
	Details string
}

func (e *BrokerAuthError) Error() string {
	if e.Details == "" {
		return ErrBrokerAuth.Error()
	}
	return ErrBrokerAuth.Error() + ": " + e.Details
}

func (e *BrokerAuthError) Is(target error) bool { return target == ErrBrokerAuth }
