package trustroute

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers deciding whether to retry and how
// to report it.
type Kind int

// Error kinds.
const (
	// KindInternal is an unexpected fault. It is logged and reported
	// generically.
	KindInternal Kind = iota
	// KindValidation is malformed input. Never retried by the system.
	KindValidation
	// KindAuthentication is a rejected handoff token. Terminal for that
	// token; the caller must mint a fresh one.
	KindAuthentication
	// KindConflict is a mutation of a record in a state that forbids it.
	KindConflict
	// KindNotFound is a missing record.
	KindNotFound
	// KindTransient is a chain or upstream condition the caller may retry.
	KindTransient
	// KindRateLimit is a rejected request that may be retried after a delay.
	KindRateLimit
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindRateLimit:
		return "rate_limit"
	}
	return "internal"
}

// Error codes.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeInvalidAddress   = "INVALID_ADDRESS"
	CodeInvalidAmount    = "INVALID_AMOUNT"
	CodeMemoTooLong      = "MEMO_TOO_LONG"
	CodeInvalidProof     = "INVALID_PROOF"
	CodeUnknownSurface   = "UNKNOWN_SURFACE"
	CodeConflict         = "CONFLICT"
	CodeNotFound         = "NOT_FOUND"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeMissingHandoff   = "MISSING_HANDOFF"
	CodeUnsupportedKind  = "UNSUPPORTED_KIND"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
)

// Error is the error type shared by every package in this module.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so sentinel values can be
// compared with errors.Is even after WithCause or WithMessage.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	copied := *e
	copied.Cause = cause
	return &copied
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	copied := *e
	copied.Message = fmt.Sprintf(format, args...)
	return &copied
}

// NewError creates a new Error.
func NewError(kind Kind, code, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Validation builds a KindValidation error.
func Validation(code, message string) *Error {
	return NewError(KindValidation, code, message, nil)
}

// ErrConflict is returned when a transition is not allowed from the
// record's current status.
var ErrConflict = NewError(KindConflict, CodeConflict, "record state does not allow this change", nil)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = NewError(KindNotFound, CodeNotFound, "Not found", nil)

// KindOf classifies err. Errors that are not *Error are KindInternal.
func KindOf(err error) Kind {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return KindRateLimit
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf extracts the error code, or "" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// PublicMessage returns the message safe to show callers: the error's own
// message for business-rule rejections, a generic text for internal faults.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "Server error"
}
