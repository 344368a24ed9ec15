package chatbot

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies failures surfaced by the client.
type ErrorCode int

const (
	CodeUserError          ErrorCode = -1
	CodeUnknown            ErrorCode = 0
	CodeServerError        ErrorCode = 1
	CodeRateLimit          ErrorCode = 2
	CodeInvalidAccessToken ErrorCode = 3
	CodeExpiredAccessToken ErrorCode = 4
	CodeAuthentication     ErrorCode = 5
)

// Error is the typed error returned for protocol and server failures.
// Code carries either an ErrorCode or, for HTTP failures, the raw status.
type Error struct {
	Source  string
	Message string
	Code    ErrorCode
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (code: %d)", e.Source, e.Message, e.Code)
}

// ErrInsufficientCredentials is returned when no login method is usable.
var ErrInsufficientCredentials = &Error{
	Source:  "auth",
	Message: "insufficient login details provided",
	Code:    CodeAuthentication,
}

// statusError converts a non-2xx HTTP response into an Error. Rate limiting
// is the server's own 60 req/min limit passed through as-is.
func statusError(status int, body string) *Error {
	code := ErrorCode(status)
	if status == http.StatusTooManyRequests {
		code = CodeRateLimit
	}
	return &Error{Source: "server", Message: body, Code: code}
}

// IsRateLimited reports whether err is the server's rate limit response.
func IsRateLimited(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeRateLimit
}

// IsAuthError reports whether err indicates a credential problem.
func IsAuthError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case CodeInvalidAccessToken, CodeExpiredAccessToken, CodeAuthentication,
		ErrorCode(http.StatusUnauthorized), ErrorCode(http.StatusForbidden):
		return true
	}
	return false
}
