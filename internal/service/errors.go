package service

import (
	"errors"

	"callcenter/internal/database"
)

var (
	ErrNotFound       = database.ErrNotFound
	ErrDuplicateEmail = database.ErrDuplicateEmail
	ErrRoleAssigned   = database.ErrRoleAssigned

	ErrInvalidCredentials    = errors.New("invalid_credentials")
	ErrGrossTransferMismatch = errors.New("gross_transfer_mismatch")
	ErrTokenGeneration       = errors.New("token_generation_failed")
)

// Call-control failures. The message doubles as the client-facing code.
var (
	ErrMissingTarget       = errors.New("missing_target")
	ErrMissingTransfer     = errors.New("missing")
	ErrMissingCallID       = errors.New("missing_callId")
	ErrTwilioNotConfigured = errors.New("twilio_not_configured")
	ErrCallNotFound        = errors.New("call_not_found")
	ErrAgentNotFound       = errors.New("agent_not_found")
)

var callErrors = []error{
	ErrMissingTarget,
	ErrMissingTransfer,
	ErrMissingCallID,
	ErrTwilioNotConfigured,
	ErrCallNotFound,
	ErrAgentNotFound,
}

// ValidationError is a caller mistake reported back verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(msg string) error { return &ValidationError{Message: msg} }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// CallErrorCode returns the client-facing code of a call-control error, or
// fallback for unclassified failures.
func CallErrorCode(err error, fallback string) string {
	for _, known := range callErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return fallback
}
