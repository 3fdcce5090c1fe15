package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of failure classes the API can report.
type Kind int

const (
	KindUnhandled Kind = iota
	KindNotFound
	KindValidation
	KindRateLimited
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation_failure"
	case KindRateLimited:
		return "rate_limit_exceeded"
	case KindStoreUnavailable:
		return "store_unavailable"
	default:
		return "unhandled"
	}
}

// StatusCode is the HTTP status every error of this kind is reported with.
func (k Kind) StatusCode() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppError represents an application error
type AppError struct {
	Kind    Kind         `json:"-"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"errors,omitempty"`
	Err     error        `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) StatusCode() int {
	return e.Kind.StatusCode()
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func Validation(message string, fields ...FieldError) *AppError {
	return &AppError{
		Kind:    KindValidation,
		Message: message,
		Fields:  fields,
	}
}

func RateLimited() *AppError {
	return &AppError{
		Kind:    KindRateLimited,
		Message: "rate limit exceeded, try again later",
	}
}

func StoreUnavailable(err error) *AppError {
	return &AppError{
		Kind:    KindStoreUnavailable,
		Message: "storage is temporarily unavailable",
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Kind:    KindUnhandled,
		Message: "internal server error",
		Err:     err,
	}
}

// KindOf returns the kind of the first AppError in err's chain, or KindUnhandled.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnhandled
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Public converts any error into the AppError that may be shown to a client.
// Errors outside the taxonomy become a generic internal error.
func Public(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}
