// Package controllers contains the HTTP and NATS handlers of the cloudgw service.
package controllers

import (
	"context"
	"net/http"

	"github.com/cyverse/cloudgw/internal/gateway"
	"github.com/cyverse/cloudgw/internal/lifecycle"
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/cyverse/cloudgw/logging"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

var log = logging.GetLogger().WithFields(logrus.Fields{"package": "controllers"})

// Resources is the set of lifecycle operations exposed by the service.
type Resources interface {
	Create(ctx context.Context, p model.Principal, n *lifecycle.NewResource) (*model.ManagedResource, error)
	Get(ctx context.Context, p model.Principal, id string) (*model.ManagedResource, error)
	List(ctx context.Context, p model.Principal, filter model.ResourceFilter) ([]model.ManagedResource, error)
	Update(ctx context.Context, p model.Principal, id string, changes *lifecycle.Changes) (*model.ManagedResource, error)
	Power(ctx context.Context, p model.Principal, id, action string, force bool) (*model.ManagedResource, error)
	Delete(ctx context.Context, p model.Principal, id string) (*model.ManagedResource, error)
	Restore(ctx context.Context, p model.Principal, id string) (*model.ManagedResource, error)
	ForceDelete(ctx context.Context, p model.Principal, id string) error
	Sync(ctx context.Context, id string) (*model.ManagedResource, error)
	Metrics(ctx context.Context, p model.Principal, id string) (*gateway.Metrics, error)
	Usage(ctx context.Context, p model.Principal, id string) ([]model.UsageInterval, error)
}

// Catalog lists the locally recorded server types.
type Catalog interface {
	List(ctx context.Context) ([]model.ServerType, error)
}

// Locations lists the locations offered upstream.
type Locations interface {
	Locations(ctx context.Context, p model.Principal) ([]gateway.Location, error)
}

// Server contains the dependencies of the handlers.
type Server struct {
	Router    *echo.Echo
	Resources Resources
	Catalog   Catalog
	Locations Locations
	NATSConn  *nats.EncodedConn
	Service   string
	Title     string
	Version   string
}

// RootResponse describes the service.
//
// swagger:model
type RootResponse struct {

	// The name of the service
	Service string `json:"service"`

	// The service title
	Title string `json:"title"`

	// The service version
	Version string `json:"version"`
}

// APIVersionResponse describes an API version.
//
// swagger:model
type APIVersionResponse struct {

	// The API version
	Version string `json:"version"`
}

// swagger:route GET / misc getRoot
//
// General API Information
//
// Lists general information about the service API itself.
//
// responses:
//   200: rootResponse

// RootHandler doubles as the health check endpoint.
func (s Server) RootHandler(ctx echo.Context) error {
	return model.Success(ctx, RootResponse{Service: s.Service, Title: s.Title, Version: s.Version}, http.StatusOK)
}

// swagger:route GET /v1 misc getV1Root
//
// API Version Information
//
// Lists information related to version 1 of the API.
//
// responses:
//   200: apiVersionResponse

// V1RootHandler describes version 1 of the API.
func (s Server) V1RootHandler(ctx echo.Context) error {
	return model.Success(ctx, APIVersionResponse{Version: "v1"}, http.StatusOK)
}
