// Package api cloudgw
//
// Documentation of the CyVerse Resource Gateway API
//
//	Schemes: http
//	BasePath: /
//	Version: V1
//
//	Consumes:
//	- application/json
//
//	Produces:
//	- application/json
//
// swagger:meta
package swagger

import (
	"github.com/cyverse/cloudgw/internal/controllers"
	"github.com/cyverse/cloudgw/internal/gateway"
	"github.com/cyverse/cloudgw/internal/httpmodel"
	"github.com/cyverse/cloudgw/internal/model"
)

// Note: the comments in this package don't conform to the convention of including the name of the entity that the
// comment describes. The reason for this is because the comments appear as-is in the API documentation. Confusing
// documentation is produced when the structure names appear in the API documentation.

// Error
//
// Having the same object definition for multiple HTTP response status codes seems to confuse ReDoc, so we're using
// aliases as a workaround.
//
// swagger:response errorResponse
type ErrorResponse struct {

	// in: body
	Body model.ErrorResponse
}

// Bad Request
//
// swagger:response badRequestResponse
type BadRequestResponse struct {
	ErrorResponse
}

// Unauthorized
//
// swagger:response unauthorizedResponse
type UnauthorizedResponse struct {
	ErrorResponse
}

// Forbidden
//
// swagger:response forbiddenResponse
type ForbiddenResponse struct {
	ErrorResponse
}

// Not Found
//
// swagger:response notFoundResponse
type NotFoundResponse struct {
	ErrorResponse
}

// Conflict
//
// swagger:response conflictResponse
type ConflictResponse struct {
	ErrorResponse
}

// Rejected by the Compute Provider
//
// swagger:response unprocessableEntityResponse
type UnprocessableEntityResponse struct {
	ErrorResponse
}

// Compute Provider Unavailable
//
// swagger:response serviceUnavailableResponse
type ServiceUnavailableResponse struct {
	ErrorResponse
}

// Internal Server Error
//
// swagger:response internalServerErrorResponse
type InternalServerErrorResponse struct {
	ErrorResponse
}

// Documentation for the successful response body wrapper.
//
// swagger:model
type ResponseBodyWrapper struct {

	// The status of the request
	Status string `json:"status"`
}

// Service Information
//
// swagger:response rootResponse
type RootResponseWrapper struct {

	// in:body
	Body struct {
		ResponseBodyWrapper

		// The service information
		Result controllers.RootResponse `json:"result"`
	}
}

// Service API Version Information
//
// swagger:response apiVersionResponse
type APIVersionResponseWrapper struct {

	// in:body
	Body struct {
		ResponseBodyWrapper

		// The API version information
		Result controllers.APIVersionResponse `json:"result"`
	}
}

// General Success Message
//
// swagger:response successMessageResponse
type SuccessMessageResponseWrapper struct {

	// in:body
	Body struct {
		ResponseBodyWrapper

		// The success message.
		Result string `json:"result"`
	}
}

// Parameters for the endpoint used to list resources.
//
// swagger:parameters listResources
type ListResourcesParameters struct {

	// If `true`, soft deleted resources are included in the listing. If `only`, only soft deleted resources are
	// listed. Ignored for callers who aren't administrators.
	//
	// in: query
	// enum: true,false,only
	IncludeDeleted *string `json:"include-deleted"`

	// Only list resources with this status.
	//
	// in: query
	// enum: provisioning,running,stopped,rebuilding,migrating,paused,deleting,deleted,error
	Status *string `json:"status"`

	// The order in which resources are listed by creation time.
	//
	// in: query
	// enum: asc,desc
	SortOrder *string `json:"sort-order"`
}

// Resource Listing
//
// swagger:response resourceListing
type ResourceListingWrapper struct {

	// in:body
	Body struct {
		ResponseBodyWrapper

		// The resource listing
		Result []model.ManagedResource `json:"result"`
	}
}

// Resource Details
//
// swagger:response resourceResponse
type ResourceResponseWrapper struct {

	// in:body
	Body struct {
		ResponseBodyWrapper

		// The resource details
		Result model.ManagedResource `json:"result"`
	}
}

// Parameters for the endpoint used to add a resource.
//
// swagger:parameters addResource
type AddResourceParameters struct {

	// The resource to create
	//
	// in: body
	Body httpmodel.NewResource
}

// Parameters for endpoints that operate on a single resource.
//
// swagger:parameters getResource deleteResource restoreResource purgeResource syncResource getResourceMetrics
type ResourceIDParameter struct {

	// The resource ID
	//
	// in: path
	// required: true
	ID string `json:"id"`
}

// Parameters for the endpoint used to update a resource.
//
// swagger:parameters updateResource
type UpdateResourceParameters struct {
	ResourceIDParameter

	// The changes to apply
	//
	// in: body
	Body httpmodel.ResourceUpdate
}

// Parameters for the endpoint used to run a power action.
//
// swagger:parameters powerResource
type PowerResourceParameters struct {
	ResourceIDParameter

	// The power action
	//
	// in: body
	Body httpmodel.PowerRequest
}

// Resource Metrics
//
// swagger:response metricsResponse
type MetricsResponseWrapper struct {

	// in:body
	Body struct {
		ResponseBodyWrapper

		// The current metrics reported by the compute provider
		Result gateway.Metrics `json:"result"`
	}
}

// Parameters for the endpoint used to list the usage of a resource.
//
// swagger:parameters getResourceUsage
type ResourceUsageParameters struct {
	ResourceIDParameter

	// Only list intervals that were still open at or after this time.
	//
	// in: query
	Since *string `json:"since"`

	// Only list intervals that started before this time.
	//
	// in: query
	Until *string `json:"until"`

	// If `true`, only intervals that are still open are listed.
	//
	// in: query
	Open *bool `json:"open"`
}

// Resource Usage
//
// swagger:response usageResponse
type UsageResponseWrapper struct {

	// in:body
	Body struct {
		ResponseBodyWrapper

		// The usage intervals
		Result []model.UsageInterval `json:"result"`
	}
}

// Server Type Listing
//
// swagger:response serverTypeListing
type ServerTypeListingWrapper struct {

	// in:body
	Body struct {
		ResponseBodyWrapper

		// The server types and their price history
		Result []model.ServerType `json:"result"`
	}
}

// Location Listing
//
// swagger:response locationListing
type LocationListingWrapper struct {

	// in:body
	Body struct {
		ResponseBodyWrapper

		// The locations offered by the compute provider
		Result []gateway.Location `json:"result"`
	}
}
