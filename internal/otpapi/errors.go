package otpapi

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can pick a recovery path.
type ErrorKind string

const (
	// KindTransport covers network failures and undecodable responses.
	KindTransport ErrorKind = "transport"
	// KindServer is a 5xx or an otherwise unexpected status.
	KindServer ErrorKind = "server"
	// KindRejected is a well-formed refusal: wrong code, bad phone, success=false.
	KindRejected ErrorKind = "rejected"
	// KindRateLimited is HTTP 429.
	KindRateLimited ErrorKind = "rate_limited"
	// KindExpired is HTTP 410: the server no longer holds a code for the number.
	KindExpired ErrorKind = "expired"
)

// Error is returned by every Client method on failure.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string
	// AttemptsLeft is set when the server reported it.
	AttemptsLeft *int
	Cause        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Cause != nil {
		return fmt.Sprintf("otpapi: %s: %s: %v", e.Op, msg, e.Cause)
	}
	return fmt.Sprintf("otpapi: %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf returns the kind of an otpapi error, or KindTransport for anything else.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransport
}

// IsRateLimited reports whether err is an HTTP 429 from the API.
func IsRateLimited(err error) bool {
	return err != nil && KindOf(err) == KindRateLimited
}

// AttemptsLeft extracts the server-reported remaining attempts, if any.
func AttemptsLeft(err error) (int, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.AttemptsLeft != nil {
		return *apiErr.AttemptsLeft, true
	}
	return 0, false
}

// UserMessage returns the text to show the user for err.
func UserMessage(err error) string {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return "Something went wrong. Please try again."
	}
	switch apiErr.Kind {
	case KindRateLimited:
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return "Too many attempts. Please wait before trying again."
	case KindRejected:
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return "The request was rejected."
	case KindExpired:
		return "OTP expired. Please request a new one."
	case KindServer:
		return "The verification service is unavailable. Please try again."
	default:
		return "Network error. Check your connection and try again."
	}
}
