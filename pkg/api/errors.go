package api

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any work is dispatched,
	// such as a malformed or over-limit criteria expression.
	ErrValidation = errors.New("validation error")

	// ErrConfiguration marks an unusable setup detected at construction,
	// such as a non-positive pool size.
	ErrConfiguration = errors.New("configuration error")
)

// ErrorClass represents a classification of remote failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// ClassifyStatus maps an HTTP status code to an ErrorClass.
// Returns "" for statuses that are not errors.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// RemoteError is a remote rejection of one chunk or page.
type RemoteError struct {
	Module     string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	class := e.Class()
	if class == "" {
		class = "unexpected"
	}
	return fmt.Sprintf("%s %s response (status %d): %s", e.Module, class, e.StatusCode, e.Body)
}

// Class returns the error class of the status code.
func (e *RemoteError) Class() ErrorClass {
	return ClassifyStatus(e.StatusCode)
}

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Configurationf returns an error wrapping ErrConfiguration.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
