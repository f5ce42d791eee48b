package transport

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
)

// Common errors returned by the transport.
var (
	// ErrUnsupportedMethod is returned for an api/request method pair or
	// payload variant the CRM REST API has no endpoint for.
	ErrUnsupportedMethod = errors.New("unsupported request")

	// ErrRateLimited is returned when the shared credit state is critical.
	ErrRateLimited = errors.New("request blocked: CRM credits critical")
)

// RequestError is a failed round trip: no response was received.
type RequestError struct {
	Method string
	Module string
	Class  api.ErrorClass
	Err    error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("CRM %s error (%s %s): %v", e.Class, e.Method, e.Module, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}
