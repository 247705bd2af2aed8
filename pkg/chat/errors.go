package chat

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccessDenied         = errors.New("access denied to this conversation")
	ErrInvalidParticipants  = errors.New("one or more users not found")
	ErrInvalidContent       = errors.New("message content is empty or too long")
	ErrNotFound             = errors.New("conversation not found")
	ErrTransient            = errors.New("temporary failure, try again")
)

type Code string

const (
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"
	CodeAccessDenied         Code = "ACCESS_DENIED"
	CodeInvalidParticipants  Code = "INVALID_PARTICIPANTS"
	CodeInvalidContent       Code = "INVALID_CONTENT"
	CodeNotFound             Code = "NOT_FOUND"
	CodeTransient            Code = "TRANSIENT"
	CodeBadRequest           Code = "BAD_REQUEST"
	CodeRateLimited          Code = "RATE_LIMITED"
)

var codes = []struct {
	err    error
	code   Code
	status int
}{
	{ErrAuthenticationFailed, CodeAuthenticationFailed, http.StatusUnauthorized},
	{ErrAccessDenied, CodeAccessDenied, http.StatusForbidden},
	{ErrInvalidParticipants, CodeInvalidParticipants, http.StatusBadRequest},
	{ErrInvalidContent, CodeInvalidContent, http.StatusBadRequest},
	{ErrNotFound, CodeNotFound, http.StatusNotFound},
}

// CodeOf maps err to its stable wire code. Unknown errors are transient.
func CodeOf(err error) Code {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeTransient
}

// HTTPStatus maps err to the REST status code.
func HTTPStatus(err error) int {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}

// PublicMessage is the text shown to callers. Transient failures never leak
// infrastructure detail.
func PublicMessage(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.err.Error()
		}
	}
	return ErrTransient.Error()
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
}
