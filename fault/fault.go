// Package fault defines the error kinds surfaced by the public API.
//
// A Fault separates the business code carried in the response envelope
// from the transport status of the response. Handlers and services
// return plain errors; the API layer maps a *Fault to its envelope and
// status, and anything else to Internal.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the failure classes of the public surface.
type Kind int

const (
	// KindInternal is an uncaught failure. It is logged with its cause
	// and surfaces as an opaque 500.
	KindInternal Kind = iota
	// KindUnauthorized is a missing, invalid or expired credential.
	KindUnauthorized
	// KindBusiness is a validated domain rejection. The code travels in
	// the response body; transport status stays 200-family or 400
	// depending on severity.
	KindBusiness
	// KindConflict is an idempotent request already in flight.
	KindConflict
	// KindServiceBusy is a bounded wait that expired (cache follower
	// timeout, upstream overload).
	KindServiceBusy
	// KindNotFound is an absent entity.
	KindNotFound
	// KindValidation is a request that failed schema validation.
	KindValidation
)

// Fault is an error with an envelope code and message.
type Fault struct {
	Kind    Kind
	Code    int
	Message string
	// Cause is the wrapped underlying error, if any.
	Cause error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s (code %d): %v", f.Message, f.Code, f.Cause)
	}
	return fmt.Sprintf("%s (code %d)", f.Message, f.Code)
}

func (f *Fault) Unwrap() error { return f.Cause }

// Status maps the Fault onto its transport status code.
func (f *Fault) Status() int {
	switch f.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindServiceBusy:
		return http.StatusServiceUnavailable
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound, KindBusiness:
		// Domain rejections carry their code in the body.
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Unauthorized builds a 401 fault.
func Unauthorized(message string) *Fault {
	return &Fault{Kind: KindUnauthorized, Code: http.StatusUnauthorized, Message: message}
}

// Business builds a domain rejection with an envelope code.
func Business(code int, message string) *Fault {
	return &Fault{Kind: KindBusiness, Code: code, Message: message}
}

// Conflict builds a 409 fault for an in-flight idempotent request.
func Conflict(message string) *Fault {
	return &Fault{Kind: KindConflict, Code: http.StatusConflict, Message: message}
}

// ServiceBusy builds a 503 fault.
func ServiceBusy(message string) *Fault {
	return &Fault{Kind: KindServiceBusy, Code: http.StatusServiceUnavailable, Message: message}
}

// NotFound builds a fault whose envelope code is 404.
func NotFound(message string) *Fault {
	return &Fault{Kind: KindNotFound, Code: http.StatusNotFound, Message: message}
}

// Validation builds a 422 fault.
func Validation(message string) *Fault {
	return &Fault{Kind: KindValidation, Code: http.StatusUnprocessableEntity, Message: message}
}

// Internal wraps an uncaught error.
func Internal(err error) *Fault {
	return &Fault{Kind: KindInternal, Code: http.StatusInternalServerError, Message: "internal error", Cause: err}
}

// As extracts a *Fault from err, or wraps err as Internal.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return Internal(err)
}

// IsKind reports whether err is a Fault of the given kind.
func IsKind(err error, kind Kind) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == kind
}
