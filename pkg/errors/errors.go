package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
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

// Is matches any AppError carrying the same code, so sentinel values such as
// ErrCapacityExceeded work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus returns the status code the transport layer should answer with.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrInvalidQuantity:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict, ErrInvalidTransition, ErrCapacityExceeded, ErrLicenseInUse:
		return http.StatusConflict
	case ErrAmbiguousTarget:
		return http.StatusUnprocessableEntity
	case ErrExternalService:
		return http.StatusServiceUnavailable
	case ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrConflict
	ErrInvalidTransition
	ErrCapacityExceeded
	ErrLicenseInUse
	ErrAmbiguousTarget
	ErrExternalService
	ErrInvalidQuantity
	ErrRateLimited
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:          "NOT_FOUND",
	ErrBadRequest:        "BAD_REQUEST",
	ErrUnauthorized:      "UNAUTHORIZED",
	ErrForbidden:         "FORBIDDEN",
	ErrInternal:          "INTERNAL",
	ErrConflict:          "CONFLICT",
	ErrInvalidTransition: "INVALID_TRANSITION",
	ErrCapacityExceeded:  "CAPACITY_EXCEEDED",
	ErrLicenseInUse:      "LICENSE_IN_USE",
	ErrAmbiguousTarget:   "AMBIGUOUS_TARGET",
	ErrExternalService:   "EXTERNAL_SERVICE_FAILURE",
	ErrInvalidQuantity:   "INVALID_QUANTITY",
	ErrRateLimited:       "RATE_LIMITED",
}

// String returns the machine readable name of the code.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// Sentinels for errors.Is checks.
var (
	ErrNotFoundValue          = &AppError{Code: ErrNotFound}
	ErrConflictValue          = &AppError{Code: ErrConflict}
	ErrForbiddenValue         = &AppError{Code: ErrForbidden}
	ErrInvalidTransitionValue = &AppError{Code: ErrInvalidTransition}
	ErrCapacityExceededValue  = &AppError{Code: ErrCapacityExceeded}
	ErrLicenseInUseValue      = &AppError{Code: ErrLicenseInUse}
	ErrAmbiguousTargetValue   = &AppError{Code: ErrAmbiguousTarget}
	ErrExternalServiceValue   = &AppError{Code: ErrExternalService}
	ErrInvalidQuantityValue   = &AppError{Code: ErrInvalidQuantity}
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{Code: ErrForbidden, Message: message}
}

func Conflict(message string) *AppError {
	return &AppError{Code: ErrConflict, Message: message}
}

func InvalidTransition(entity, from, to string) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
	}
}

func CapacityExceeded(message string) *AppError {
	return &AppError{Code: ErrCapacityExceeded, Message: message}
}

func LicenseInUse(used int) *AppError {
	return &AppError{
		Code:    ErrLicenseInUse,
		Message: fmt.Sprintf("license has %d seats in use", used),
	}
}

func AmbiguousTarget(message string) *AppError {
	return &AppError{Code: ErrAmbiguousTarget, Message: message}
}

func InvalidQuantity(quantity int) *AppError {
	return &AppError{
		Code:    ErrInvalidQuantity,
		Message: fmt.Sprintf("invalid license quantity %d", quantity),
	}
}

func RateLimited() *AppError {
	return &AppError{Code: ErrRateLimited, Message: "rate limit exceeded"}
}

// ExternalFailure marks an error raised by the backing store or broker.
func ExternalFailure(err error) *AppError {
	return &AppError{
		Code:    ErrExternalService,
		Message: "external service failure",
		Err:     err,
	}
}

// CodeOf extracts the code of the first AppError in the chain.
func CodeOf(err error) (ErrorCode, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code, true
	}
	return 0, false
}

// IsCode reports whether any AppError in the chain carries code.
func IsCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
