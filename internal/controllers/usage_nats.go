package controllers

import (
	"context"

	"github.com/cyverse/cloudgw/internal/model"
	"github.com/cyverse/cloudgw/utils"
	"github.com/sirupsen/logrus"
)

// UsageRequest is the body of a NATS request for the usage intervals of a resource.
type UsageRequest struct {
	PrincipalID string `json:"principal_id"`
	Role        string `json:"role"`
	ResourceID  string `json:"resource_id"`
}

// UsageResponse is the body of the reply to a UsageRequest.
type UsageResponse struct {
	Intervals []model.UsageInterval `json:"intervals"`
	Error     *model.ErrorResponse  `json:"error,omitempty"`
}

// usageForRequest looks up the intervals requested over NATS.
func (s Server) usageForRequest(ctx context.Context, request *UsageRequest) *UsageResponse {
	p := model.Principal{ID: utils.RemoveUsernameSuffix(request.PrincipalID), Role: request.Role}
	if p.Role == "" {
		p.Role = model.RoleClient
	}

	response := &UsageResponse{Intervals: make([]model.UsageInterval, 0)}
	if p.ID == "" {
		desc := describeError(ErrMissingPrincipal)
		response.Error = &model.ErrorResponse{Error: desc.message, Reason: desc.reason}
		return response
	}

	intervals, err := s.Resources.Usage(ctx, p, request.ResourceID)
	if err != nil {
		desc := describeError(err)
		response.Error = &model.ErrorResponse{Error: desc.message, Reason: desc.reason}
		return response
	}
	response.Intervals = intervals
	return response
}

// GetUsageNATS is the NATS handler for listing the usage intervals of a resource.
func (s Server) GetUsageNATS(subject, reply string, request *UsageRequest) {
	log := log.WithFields(logrus.Fields{"context": "get usage", "subject": subject, "resource": request.ResourceID})

	response := s.usageForRequest(context.Background(), request)
	if response.Error != nil {
		log.Debugf("usage lookup failed: %s", response.Error.Error)
	}

	if err := s.NATSConn.Publish(reply, response); err != nil {
		log.Error(err)
	}
}
