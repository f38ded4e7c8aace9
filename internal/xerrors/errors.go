// Package xerrors holds the error taxonomy shared by the advisory and
// settlement services. Every failure that crosses a component boundary is an
// *Error carrying a stable machine-readable Kind and Code plus a message that
// is safe to show to the user. The wrapped cause is kept for logs only.
package xerrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgconn"
)

type Kind string

const (
	KindValidation  Kind = "validation_error"
	KindAuthExpired Kind = "auth_expired"
	KindAuthInvalid Kind = "auth_invalid"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindPersistence Kind = "persistence_failure"
	KindInternal    Kind = "internal"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches by code so that wrapped copies of a sentinel still compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of e that carries cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, cause: cause}
}

// WithMessage returns a copy of e with a more specific user-facing message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), cause: e.cause}
}

// Generic
var (
	ErrInvalidRequest = New(KindValidation, "invalid_request", "request is malformed")
	ErrInternal       = New(KindInternal, "internal", "internal server error")
	ErrPersistence    = New(KindPersistence, "persistence_error", "storage is temporarily unavailable, please retry")
	ErrNotFound       = New(KindNotFound, "not_found", "resource not found")
	ErrUnauthorized   = New(KindAuthInvalid, "unauthorized", "unauthorized")
)

// Sessions
var (
	ErrInvalidToken           = New(KindAuthInvalid, "invalid_token", "session token is invalid, please start a new conversation")
	ErrSessionExpired         = New(KindAuthExpired, "session_expired", "session has expired, please start a new conversation")
	ErrSessionNotFound        = New(KindNotFound, "session_not_found", "session not found, please start a new conversation")
	ErrSessionAlreadyConsumed = New(KindConflict, "session_already_consumed", "this session has already been used for a purchase")
	ErrSessionBoundToOther    = New(KindConflict, "session_bound_to_other_user", "session belongs to another user")
	ErrSessionUserMismatch    = New(KindAuthInvalid, "session_user_mismatch", "session was not issued for this user")
	ErrSessionNotBound        = New(KindValidation, "session_not_bound", "purchase must be initiated before it is confirmed")
)

// Users
var (
	ErrUserNotFound = New(KindNotFound, "user_not_found", "user not found")
	ErrInvalidEmail = New(KindValidation, "invalid_email", "a valid email is required")
	ErrDuplicateKey = New(KindConflict, "duplicate_key", "record already exists")
)

// Purchases
var (
	ErrInvalidQuantity      = New(KindValidation, "invalid_quantity", "quantity must be between 0.1 and 1000 grams")
	ErrInvalidPaymentMethod = New(KindValidation, "invalid_payment_method", "unsupported payment method")
	ErrInvalidPrice         = New(KindValidation, "invalid_price", "price must be a positive decimal")
	ErrTransactionNotFound  = New(KindNotFound, "transaction_not_found", "transaction not found")
)

// KindOf reports the taxonomy kind of err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Public returns the code and message that may be shown to a caller.
func Public(err error) (code, message string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, e.Message
	}
	return ErrInternal.Code, ErrInternal.Message
}

// HTTPStatus maps a kind to the status code used by the HTTP handlers.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthExpired, KindAuthInvalid:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Persistence wraps a storage failure unless it already belongs to the taxonomy.
func Persistence(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return ErrPersistence.Wrap(err)
}

// IsUniqueViolation reports whether err is a Postgres unique_violation (23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsForeignKeyViolation reports whether err is a Postgres foreign_key_violation (23503).
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
