package utils

import (
	"fmt"
	"net/http"
)

// StatusError reports an HTTP response whose status the caller did not expect.
// It unwraps to ErrServerRejected or ErrNetworkTransient so callers can
// classify it with errors.Is.
type StatusError struct {
	Code   int
	Status string
}

func NewStatusError(resp *http.Response) *StatusError {
	return &StatusError{Code: resp.StatusCode, Status: resp.Status}
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("unexpected status: %s", e.Status)
	}
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Code >= 500, e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return ErrNetworkTransient
	default:
		return ErrServerRejected
	}
}
