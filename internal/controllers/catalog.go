package controllers

import (
	"net/http"

	"github.com/cyverse/cloudgw/internal/model"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// swagger:route GET /v1/server-types catalog listServerTypes
//
// List Server Types
//
// Lists the server types in the local catalogue along with their price history.
//
// responses:
//   200: serverTypeListing
//   500: internalServerErrorResponse

// ListServerTypes lists the server types in the catalogue.
func (s Server) ListServerTypes(ctx echo.Context) error {
	log := log.WithFields(logrus.Fields{"context": "list server types"})

	serverTypes, err := s.Catalog.List(ctx.Request().Context())
	if err != nil {
		return sendError(ctx, log, err)
	}
	return model.Success(ctx, serverTypes, http.StatusOK)
}

// swagger:route GET /v1/locations catalog listLocations
//
// List Locations
//
// Lists the locations offered by the compute provider.
//
// responses:
//   200: locationListing
//   503: serviceUnavailableResponse

// ListLocations lists the upstream locations.
func (s Server) ListLocations(ctx echo.Context) error {
	log := log.WithFields(logrus.Fields{"context": "list locations"})

	p, err := principalFrom(ctx)
	if err != nil {
		return sendError(ctx, log, err)
	}

	locations, err := s.Locations.Locations(ctx.Request().Context(), p)
	if err != nil {
		return sendError(ctx, log, err)
	}
	return model.Success(ctx, locations, http.StatusOK)
}
