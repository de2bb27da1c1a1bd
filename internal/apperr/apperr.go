// Package apperr defines the error kinds surfaced by PRD generation.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindConfiguration     Kind = "configuration"
	KindRateLimited       Kind = "rate_limited"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindCredentialInvalid Kind = "credential_invalid"
	KindUpstream          Kind = "upstream_failure"
	KindTimeout           Kind = "timeout"
	KindNotFound          Kind = "not_found"
	KindUnknown           Kind = "unknown"
)

// Error is a classified failure. Message is safe to show to end users.
type Error struct {
	Kind     Kind
	Message  string
	Provider string
	Status   int
	Env      []string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Provider != "" {
		b.WriteString(" (")
		b.WriteString(e.Provider)
		if e.Status > 0 {
			fmt.Fprintf(&b, " status %d", e.Status)
		}
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout:
		return true
	case KindUpstream:
		return e.Status >= http.StatusInternalServerError
	default:
		return false
	}
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func Configuration(msg string, env ...string) *Error {
	return &Error{Kind: KindConfiguration, Message: msg, Env: env}
}

func Upstream(kind Kind, provider string, status int, msg string) *Error {
	return &Error{Kind: kind, Provider: provider, Status: status, Message: msg}
}

func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "Generation timed out. Please try again.", Err: err}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable()
}

const genericMessage = "Failed to generate PRD"

// UserMessage returns text suitable for end users, never internal details.
func UserMessage(err error) string {
	if e, ok := As(err); ok && e.Message != "" {
		return e.Message
	}
	return genericMessage
}
