package backend

import (
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Error is a failed backend call. Status holds the HTTP status code when the
// transport reported one, 0 otherwise.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TokenRefreshError marks a failed bearer token refresh. It fails only the
// call that triggered the refresh.
type TokenRefreshError struct {
	Err error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// ParseError marks a response payload that yielded no usable content.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: unparseable response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// wrapOpenAIError lifts the HTTP status out of the OpenAI client's error
// types where present.
func wrapOpenAIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Op: op, Status: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Op: op, Status: reqErr.HTTPStatusCode, Err: err}
	}
	return &Error{Op: op, Err: err}
}
