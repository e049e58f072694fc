// Package errors provides the category-tagged error type used across the
// settlement and custody services. Integrators branch on the category to
// decide between retrying (re-deriving order status) and abandoning.
package errors

import (
	"errors"
	"fmt"
)

// Standard error functions re-exported for call-site convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Category classifies a failure for retry/abandon decisions.
type Category string

const (
	// CategoryEligibility covers fills rejected by order status, taker
	// restriction, minimum amount or verifier decision.
	CategoryEligibility Category = "eligibility"
	// CategoryInsufficientRemaining covers fills exceeding the remaining
	// amount when partial fills are not allowed.
	CategoryInsufficientRemaining Category = "insufficient_remaining"
	// CategoryAuthorization covers custody transfers attempted without
	// dual authorization, and reentrant calls.
	CategoryAuthorization Category = "authorization"
	// CategoryArithmetic covers overflow and rounding-tolerance failures.
	CategoryArithmetic Category = "arithmetic"
	// CategoryConfiguration covers invalid fee schedules and misconfigured
	// service wiring. Never swallowed by the no-throw batch path.
	CategoryConfiguration Category = "configuration"
	// CategoryInternal covers storage and transport failures.
	CategoryInternal Category = "internal"
)

// Error carries a category, a stable machine-readable code and a message.
type Error struct {
	Category Category `json:"category"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`

	cause error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying error, returning a copy.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

// New builds an error in the given category.
func New(cat Category, code, format string, args ...interface{}) *Error {
	return &Error{Category: cat, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Eligibility builds a CategoryEligibility error.
func Eligibility(code, format string, args ...interface{}) *Error {
	return New(CategoryEligibility, code, format, args...)
}

// InsufficientRemaining builds a CategoryInsufficientRemaining error.
func InsufficientRemaining(format string, args ...interface{}) *Error {
	return New(CategoryInsufficientRemaining, "insufficient_remaining", format, args...)
}

// Authorization builds a CategoryAuthorization error.
func Authorization(code, format string, args ...interface{}) *Error {
	return New(CategoryAuthorization, code, format, args...)
}

// Arithmetic builds a CategoryArithmetic error.
func Arithmetic(code, format string, args ...interface{}) *Error {
	return New(CategoryArithmetic, code, format, args...)
}

// Configuration builds a CategoryConfiguration error.
func Configuration(code, format string, args ...interface{}) *Error {
	return New(CategoryConfiguration, code, format, args...)
}

// Internal wraps a storage or transport failure.
func Internal(code string, cause error) *Error {
	return &Error{Category: CategoryInternal, Code: code, Message: "internal failure", cause: cause}
}

// Reentrant is returned when a guarded operation is re-entered mid-flight.
func Reentrant() *Error {
	return Authorization("reentrant_call", "reentrant call into guarded operation")
}

// CategoryOf extracts the category of err, or CategoryInternal for plain errors.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryInternal
}

// Recoverable reports whether the no-throw batch path may convert err into a
// zero result. Configuration and internal failures must still hard-fail.
func Recoverable(err error) bool {
	switch CategoryOf(err) {
	case CategoryEligibility, CategoryInsufficientRemaining, CategoryAuthorization, CategoryArithmetic:
		return true
	default:
		return false
	}
}
