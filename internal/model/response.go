package model

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body sent to callers when a request fails.
//
// swagger:model
type ErrorResponse struct {
	// A generic description of the failure
	Error string `json:"error"`

	// A machine readable failure reason
	Reason string `json:"reason,omitempty"`

	// The HTTP status code
	Status string `json:"status"`
}

// SuccessResponse wraps the body sent to callers when a request succeeds.
//
// swagger:model
type SuccessResponse struct {
	Result interface{} `json:"result"`
	Status string      `json:"status"`
}

// NewSuccessResponse builds a success response body.
func NewSuccessResponse(data interface{}, status int) SuccessResponse {
	return SuccessResponse{Result: data, Status: http.StatusText(status)}
}

// Success sends a success response to the caller.
func Success(ctx echo.Context, data interface{}, status int) error {
	return ctx.JSON(status, NewSuccessResponse(data, status))
}

// Error sends an error response without a reason to the caller.
func Error(ctx echo.Context, msg string, status int) error {
	return ErrorWithReason(ctx, msg, "", status)
}

// ErrorWithReason sends an error response with a machine readable reason to the caller.
func ErrorWithReason(ctx echo.Context, msg, reason string, status int) error {
	return ctx.JSON(status, ErrorResponse{Error: msg, Reason: reason, Status: http.StatusText(status)})
}
