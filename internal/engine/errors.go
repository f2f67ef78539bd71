package engine

import (
	"errors"
	"fmt"
)

// RuntimeErrorCode identifies the kind of handler failure.
type RuntimeErrorCode string

const (
	// ErrCodeNotInitialized means no audience client is configured, usually
	// because the API key could not be parsed.
	ErrCodeNotInitialized RuntimeErrorCode = "NOT_INITIALIZED"
	// ErrCodeNoSubscriberEmail means neither snapshot holds an email at the
	// configured path.
	ErrCodeNoSubscriberEmail RuntimeErrorCode = "NO_SUBSCRIBER_EMAIL"
	// ErrCodeConversion means a merge-field value could not be converted.
	ErrCodeConversion RuntimeErrorCode = "CONVERSION_FAILED"
	// ErrCodeRemote means the audience service rejected a call.
	ErrCodeRemote RuntimeErrorCode = "REMOTE_CALL_FAILED"
)

// RuntimeError is a structured sync failure.
type RuntimeError struct {
	Code    RuntimeErrorCode
	Message string
	Feature string // config feature, empty for account handlers
	Err     error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Feature != "" {
		msg = fmt.Sprintf("%s (feature=%s)", msg, e.Feature)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

// IsNotInitialized reports whether err is an ErrCodeNotInitialized failure.
func IsNotInitialized(err error) bool {
	return hasCode(err, ErrCodeNotInitialized)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

var errNotInitialized = &RuntimeError{
	Code:    ErrCodeNotInitialized,
	Message: "audience client was not initialized",
}

func remoteError(feature, op string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeRemote,
		Message: op,
		Feature: feature,
		Err:     err,
	}
}
