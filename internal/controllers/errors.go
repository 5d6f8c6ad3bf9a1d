package controllers

import (
	"errors"
	"net/http"

	"github.com/cyverse/cloudgw/internal/gateway"
	"github.com/cyverse/cloudgw/internal/lifecycle"
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

var (
	ErrMissingPrincipal = errors.New("missing principal")
	ErrInvalidPrincipal = errors.New("invalid principal")
)

// Machine readable error reasons that aren't policy violations.
const (
	ReasonNotFound            = "not_found"
	ReasonValidation          = "validation"
	ReasonUnauthenticated     = "unauthenticated"
	ReasonUpstreamRejected    = "upstream_rejected"
	ReasonUpstreamUnavailable = "upstream_unavailable"
	ReasonUpstreamError       = "upstream_error"
	ReasonInternal            = "internal"
)

// errorResponse describes how an error is reported to the caller. Upstream error details are never echoed.
type errorResponse struct {
	status  int
	reason  string
	message string
}

func describeError(err error) errorResponse {
	if errors.Is(err, lifecycle.ErrNotFound) {
		return errorResponse{http.StatusNotFound, ReasonNotFound, "resource not found"}
	}
	if errors.Is(err, ErrMissingPrincipal) || errors.Is(err, ErrInvalidPrincipal) {
		return errorResponse{http.StatusUnauthorized, ReasonUnauthenticated, err.Error()}
	}
	if pv, ok := lifecycle.IsPolicyViolation(err); ok {
		if pv.Reason == lifecycle.ReasonForbidden {
			return errorResponse{http.StatusForbidden, pv.Reason, pv.Message}
		}
		return errorResponse{http.StatusConflict, pv.Reason, pv.Message}
	}
	if lifecycle.IsValidationError(err) {
		return errorResponse{http.StatusBadRequest, ReasonValidation, err.Error()}
	}
	if _, ok := gateway.AsGatewayError(err); ok {
		switch {
		case gateway.IsNotFound(err):
			return errorResponse{http.StatusNotFound, ReasonNotFound, "the compute provider has no such server"}
		case gateway.IsValidation(err):
			return errorResponse{http.StatusUnprocessableEntity, ReasonUpstreamRejected, "the compute provider rejected the request"}
		case gateway.IsTransient(err):
			return errorResponse{http.StatusServiceUnavailable, ReasonUpstreamUnavailable, "the compute provider is unavailable"}
		default:
			return errorResponse{http.StatusBadGateway, ReasonUpstreamError, "the compute provider request failed"}
		}
	}
	return errorResponse{http.StatusInternalServerError, ReasonInternal, "internal error"}
}

// httpStatusCode returns the HTTP status code to use for an error.
func httpStatusCode(err error) int {
	return describeError(err).status
}

// sendError logs an error and reports it to the caller.
func sendError(ctx echo.Context, log *logrus.Entry, err error) error {
	desc := describeError(err)
	if desc.status >= http.StatusInternalServerError {
		log.Error(err)
	} else {
		log.Debug(err)
	}
	return model.ErrorWithReason(ctx, desc.message, desc.reason, desc.status)
}

// failed returns true if an error should be reported to the caller. A failing after-hook doesn't undo a persisted
// mutation, so the mutation is reported as successful and the hook failure is only logged.
func failed(log *logrus.Entry, err error) bool {
	if err == nil {
		return false
	}
	if _, persisted := lifecycle.AsHookError(err); persisted {
		log.Warnf("the mutation succeeded but a follow-up failed: %s", err)
		return false
	}
	return true
}
