package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// GatewayError describes a failed upstream gateway call. Status is zero when no response was received.
type GatewayError struct {
	Operation Operation
	Endpoint  string
	Status    int
	Message   string
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("gateway %s %s failed: %s", e.Operation, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("gateway %s %s failed with status %d: %s", e.Operation, e.Endpoint, e.Status, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// isTransientStatus returns true for upstream status codes that are worth retrying.
func isTransientStatus(status int) bool {
	switch {
	case status >= 500:
		return true
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

// AsGatewayError extracts a GatewayError from an error chain.
func AsGatewayError(err error) (*GatewayError, bool) {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr, true
	}
	return nil, false
}

// IsTransient returns true if the error is a gateway failure that may succeed when tried again later.
func IsTransient(err error) bool {
	gerr, ok := AsGatewayError(err)
	return ok && gerr.Retryable
}

// IsValidation returns true if the upstream gateway rejected the request.
func IsValidation(err error) bool {
	gerr, ok := AsGatewayError(err)
	return ok && !gerr.Retryable && gerr.Status >= 400 && gerr.Status < 500
}

// IsNotFound returns true if the upstream gateway reported that the resource doesn't exist.
func IsNotFound(err error) bool {
	gerr, ok := AsGatewayError(err)
	return ok && gerr.Status == http.StatusNotFound
}
