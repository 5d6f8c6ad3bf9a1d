package controllers

import (
	"net/http"
	"sort"

	"github.com/cyverse/cloudgw/internal/httpmodel"
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/cyverse/cloudgw/internal/query"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

var resourceStatuses = []string{
	string(model.StatusProvisioning),
	string(model.StatusRunning),
	string(model.StatusStopped),
	string(model.StatusRebuilding),
	string(model.StatusMigrating),
	string(model.StatusPaused),
	string(model.StatusDeleting),
	string(model.StatusDeleted),
	string(model.StatusError),
}

// deletedFilters are the accepted values of the include-deleted query parameter.
var deletedFilters = []string{"true", "false", "only"}

// swagger:route GET /v1/resources resources listResources
//
// List Resources
//
// Lists the resources visible to the caller. Administrators see every resource.
//
// responses:
//   200: resourceListing
//   400: badRequestResponse
//   401: unauthorizedResponse
//   500: internalServerErrorResponse

// ListResources lists the resources visible to the principal.
func (s Server) ListResources(ctx echo.Context) error {
	log := log.WithFields(logrus.Fields{"context": "list resources"})

	p, err := principalFrom(ctx)
	if err != nil {
		return sendError(ctx, log, err)
	}

	defaultIncludeDeleted := "false"
	includeDeleted, err := query.ValidateEnumQueryParam(ctx, "include-deleted", deletedFilters, &defaultIncludeDeleted)
	if err != nil {
		return model.ErrorWithReason(ctx, err.Error(), ReasonValidation, http.StatusBadRequest)
	}
	filter := model.ResourceFilter{
		IncludeDeleted: includeDeleted == "true",
		OnlyDeleted:    includeDeleted == "only",
	}

	defaultStatus := ""
	status, err := query.ValidateEnumQueryParam(ctx, "status", resourceStatuses, &defaultStatus)
	if err != nil {
		return model.ErrorWithReason(ctx, err.Error(), ReasonValidation, http.StatusBadRequest)
	}

	sortOrder, err := query.ValidateSortOrder(ctx)
	if err != nil {
		return model.ErrorWithReason(ctx, err.Error(), ReasonValidation, http.StatusBadRequest)
	}

	resources, err := s.Resources.List(ctx.Request().Context(), p, filter)
	if err != nil {
		return sendError(ctx, log, err)
	}

	result := make([]model.ManagedResource, 0, len(resources))
	for _, r := range resources {
		if status == "" || string(r.Status) == status {
			result = append(result, r)
		}
	}
	if sortOrder == "desc" {
		sort.SliceStable(result, func(i, j int) bool {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		})
	}

	return model.Success(ctx, result, http.StatusOK)
}

// swagger:route POST /v1/resources resources addResource
//
// Add a Resource
//
// Records a new resource and asks the compute provider to provision it.
//
// responses:
//   201: resourceResponse
//   400: badRequestResponse
//   401: unauthorizedResponse
//   409: conflictResponse
//   503: serviceUnavailableResponse
//   500: internalServerErrorResponse

// AddResource creates a new resource.
func (s Server) AddResource(ctx echo.Context) error {
	log := log.WithFields(logrus.Fields{"context": "add resource"})

	p, err := principalFrom(ctx)
	if err != nil {
		return sendError(ctx, log, err)
	}

	var body httpmodel.NewResource
	if err = ctx.Bind(&body); err != nil {
		return model.ErrorWithReason(ctx, "invalid request body", ReasonValidation, http.StatusBadRequest)
	}
	if err = body.Validate(); err != nil {
		return model.ErrorWithReason(ctx, err.Error(), ReasonValidation, http.StatusBadRequest)
	}

	r, err := s.Resources.Create(ctx.Request().Context(), p, body.ToLifecycle())
	if failed(log, err) {
		return sendError(ctx, log, err)
	}

	log.Infof("created resource %s for %s", r.ID, p.ID)
	return model.Success(ctx, r, http.StatusCreated)
}

// swagger:route GET /v1/resources/{id} resources getResource
//
// Get a Resource
//
// responses:
//   200: resourceResponse
//   401: unauthorizedResponse
//   404: notFoundResponse
//   500: internalServerErrorResponse

// GetResource returns a single resource.
func (s Server) GetResource(ctx echo.Context) error {
	log := log.WithFields(logrus.Fields{"context": "get resource", "resource": ctx.Param("id")})

	p, err := principalFrom(ctx)
	if err != nil {
		return sendError(ctx, log, err)
	}

	r, err := s.Resources.Get(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return sendError(ctx, log, err)
	}
	return model.Success(ctx, r, http.StatusOK)
}

// swagger:route PATCH /v1/resources/{id} resources updateResource
//
// Update a Resource
//
// Changes the name, labels, lock or backup setting of a resource. Locked resources may only be changed by
// administrators.
//
// responses:
//   200: resourceResponse
//   400: badRequestResponse
//   401: unauthorizedResponse
//   404: notFoundResponse
//   409: conflictResponse
//   500: internalServerErrorResponse

// UpdateResource applies attribute changes to a resource.
func (s Server) UpdateResource(ctx echo.Context) error {
	log := log.WithFields(logrus.Fields{"context": "update resource", "resource": ctx.Param("id")})

	p, err := principalFrom(ctx)
	if err != nil {
		return sendError(ctx, log, err)
	}

	var body httpmodel.ResourceUpdate
	if err = ctx.Bind(&body); err != nil {
		return model.ErrorWithReason(ctx, "invalid request body", ReasonValidation, http.StatusBadRequest)
	}
	if err = body.Validate(); err != nil {
		return model.ErrorWithReason(ctx, err.Error(), ReasonValidation, http.StatusBadRequest)
	}

	r, err := s.Resources.Update(ctx.Request().Context(), p, ctx.Param("id"), body.ToLifecycle())
	if failed(log, err) {
		return sendError(ctx, log, err)
	}
	return model.Success(ctx, r, http.StatusOK)
}

// swagger:route POST /v1/resources/{id}/power resources powerResource
//
// Run a Power Action
//
// responses:
//   200: resourceResponse
//   400: badRequestResponse
//   401: unauthorizedResponse
//   404: notFoundResponse
//   409: conflictResponse
//   422: unprocessableEntityResponse
//   503: serviceUnavailableResponse

// PowerResource runs a power action on a resource.
func (s Server) PowerResource(ctx echo.Context) error {
	log := log.WithFields(logrus.Fields{"context": "power resource", "resource": ctx.Param("id")})

	p, err := principalFrom(ctx)
	if err != nil {
		return sendError(ctx, log, err)
	}

	var body httpmodel.PowerRequest
	if err = ctx.Bind(&body); err != nil {
		return model.ErrorWithReason(ctx, "invalid request body", ReasonValidation, http.StatusBadRequest)
	}
	if err = body.Validate(); err != nil {
		return model.ErrorWithReason(ctx, err.Error(), ReasonValidation, http.StatusBadRequest)
	}

	r, err := s.Resources.Power(ctx.Request().Context(), p, ctx.Param("id"), body.Action, body.Force)
	if failed(log, err) {
		return sendError(ctx, log, err)
	}
	return model.Success(ctx, r, http.StatusOK)
}

// swagger:route DELETE /v1/resources/{id} resources deleteResource
//
// Delete a Resource
//
// Removes the resource from the compute provider and soft deletes it.
//
// responses:
//   200: resourceResponse
//   401: unauthorizedResponse
//   404: notFoundResponse
//   409: conflictResponse
//   503: serviceUnavailableResponse

// DeleteResource deletes a resource.
func (s Server) DeleteResource(ctx echo.Context) error {
	log := log.WithFields(logrus.Fields{"context": "delete resource", "resource": ctx.Param("id")})

	p, err := principalFrom(ctx)
	if err != nil {
		return sendError(ctx, log, err)
	}

	r, err := s.Resources.Delete(ctx.Request().Context(), p, ctx.Param("id"))
	if failed(log, err) {
		return sendError(ctx, log, err)
	}
	return model.Success(ctx, r, http.StatusOK)
}

// swagger:route POST /v1/resources/{id}/restore resources restoreResource
//
// Restore a Resource
//
// Reverses a soft delete. Administrators only.
//
// responses:
//   200: resourceResponse
//   403: forbiddenResponse
//   404: notFoundResponse
//   409: conflictResponse

// RestoreResource restores a soft deleted resource.
func (s Server) RestoreResource(ctx echo.Context) error {
	log := log.WithFields(logrus.Fields{"context": "restore resource", "resource": ctx.Param("id")})

	p, err := principalFrom(ctx)
	if err != nil {
		return sendError(ctx, log, err)
	}

	r, err := s.Resources.Restore(ctx.Request().Context(), p, ctx.Param("id"))
	if failed(log, err) {
		return sendError(ctx, log, err)
	}
	return model.Success(ctx, r, http.StatusOK)
}

// swagger:route DELETE /v1/resources/{id}/purge resources purgeResource
//
// Purge a Resource
//
// Permanently removes a resource and its history. Administrators only.
//
// responses:
//   200: successMessageResponse
//   403: forbiddenResponse
//   404: notFoundResponse
//   409: conflictResponse

// PurgeResource permanently removes a resource.
func (s Server) PurgeResource(ctx echo.Context) error {
	log := log.WithFields(logrus.Fields{"context": "purge resource", "resource": ctx.Param("id")})

	p, err := principalFrom(ctx)
	if err != nil {
		return sendError(ctx, log, err)
	}

	if err = s.Resources.ForceDelete(ctx.Request().Context(), p, ctx.Param("id")); failed(log, err) {
		return sendError(ctx, log, err)
	}
	return model.Success(ctx, "resource purged", http.StatusOK)
}

// swagger:route POST /v1/resources/{id}/sync resources syncResource
//
// Synchronize a Resource
//
// Pulls the current state of the resource from the compute provider.
//
// responses:
//   200: resourceResponse
//   404: notFoundResponse
//   503: serviceUnavailableResponse

// SyncResource reconciles a resource with its upstream state.
func (s Server) SyncResource(ctx echo.Context) error {
	log := log.WithFields(logrus.Fields{"context": "sync resource", "resource": ctx.Param("id")})
	context := ctx.Request().Context()

	p, err := principalFrom(ctx)
	if err != nil {
		return sendError(ctx, log, err)
	}

	// Only callers that can see the resource may reconcile it.
	if _, err = s.Resources.Get(context, p, ctx.Param("id")); err != nil {
		return sendError(ctx, log, err)
	}

	r, err := s.Resources.Sync(context, ctx.Param("id"))
	if failed(log, err) {
		return sendError(ctx, log, err)
	}
	return model.Success(ctx, r, http.StatusOK)
}

// swagger:route GET /v1/resources/{id}/metrics resources getResourceMetrics
//
// Get Resource Metrics
//
// responses:
//   200: metricsResponse
//   404: notFoundResponse
//   503: serviceUnavailableResponse

// GetResourceMetrics returns the current upstream metrics of a resource.
func (s Server) GetResourceMetrics(ctx echo.Context) error {
	log := log.WithFields(logrus.Fields{"context": "resource metrics", "resource": ctx.Param("id")})

	p, err := principalFrom(ctx)
	if err != nil {
		return sendError(ctx, log, err)
	}

	metrics, err := s.Resources.Metrics(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return sendError(ctx, log, err)
	}
	return model.Success(ctx, metrics, http.StatusOK)
}

// swagger:route GET /v1/resources/{id}/usage resources getResourceUsage
//
// Get Resource Usage
//
// Lists the metered usage intervals of a resource, optionally limited to open intervals or to intervals that overlap a
// time range.
//
// responses:
//   200: usageResponse
//   400: badRequestResponse
//   404: notFoundResponse

// GetResourceUsage lists the usage intervals of a resource.
func (s Server) GetResourceUsage(ctx echo.Context) error {
	log := log.WithFields(logrus.Fields{"context": "resource usage", "resource": ctx.Param("id")})

	p, err := principalFrom(ctx)
	if err != nil {
		return sendError(ctx, log, err)
	}

	since, err := query.ValidateTimestampQueryParam(ctx, "since")
	if err != nil {
		return model.ErrorWithReason(ctx, err.Error(), ReasonValidation, http.StatusBadRequest)
	}
	until, err := query.ValidateTimestampQueryParam(ctx, "until")
	if err != nil {
		return model.ErrorWithReason(ctx, err.Error(), ReasonValidation, http.StatusBadRequest)
	}
	defaultOpen := false
	openOnly, err := query.ValidateBooleanQueryParam(ctx, "open", &defaultOpen)
	if err != nil {
		return model.ErrorWithReason(ctx, err.Error(), ReasonValidation, http.StatusBadRequest)
	}

	intervals, err := s.Resources.Usage(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return sendError(ctx, log, err)
	}

	result := make([]model.UsageInterval, 0, len(intervals))
	for _, i := range intervals {
		if openOnly && i.Closed {
			continue
		}
		if until != nil && !i.StartedAt.Before(*until) {
			continue
		}
		if since != nil && i.EndedAt != nil && !i.EndedAt.After(*since) {
			continue
		}
		result = append(result, i)
	}
	return model.Success(ctx, result, http.StatusOK)
}
