package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. RentalError values wrap one of these so callers can test with errors.Is.
var (
	ErrNotFound           = errors.New("record not found")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInsufficientStock  = errors.New("insufficient serials")
	ErrUnitInUse          = errors.New("unit is in use")
	ErrCancelOngoing      = errors.New("cannot cancel ongoing rental")
	ErrInvoiceExists      = errors.New("invoice already exists")
	ErrNoLineItems        = errors.New("project has no line items")
	ErrConfirmationNeeded = errors.New("confirmation required")
	ErrUnauthorized       = errors.New("unauthorized")
)

// ErrorKind classifies a RentalError for callers that need to map it onto a response.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindUser       ErrorKind = "user"
	KindNotFound   ErrorKind = "not_found"
	KindTransient  ErrorKind = "transient"
)

// RentalError carries a kind, a stable code and a human readable message.
type RentalError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *RentalError) Error() string {
	// sentinels only classify; the message already says what happened
	if e.Kind == KindTransient && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RentalError) Unwrap() error {
	return e.Err
}

func NewValidationError(code, message string, args ...any) *RentalError {
	return &RentalError{Kind: KindValidation, Code: code, Message: fmt.Sprintf(message, args...), Err: ErrValidation}
}

// NewUserError reports a business rule refusal. err is usually one of the sentinels above.
func NewUserError(code string, err error, message string, args ...any) *RentalError {
	return &RentalError{Kind: KindUser, Code: code, Message: fmt.Sprintf(message, args...), Err: err}
}

func NewNotFoundError(entity string, key any) *RentalError {
	return &RentalError{
		Kind:    KindNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %v not found", entity, key),
		Err:     ErrNotFound,
	}
}

func NewTransientError(code, message string, err error) *RentalError {
	return &RentalError{Kind: KindTransient, Code: code, Message: message, Err: err}
}

// KindOf returns the kind of the first RentalError in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var re *RentalError
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return ""
}

func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

func IsUserError(err error) bool {
	return KindOf(err) == KindUser
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
