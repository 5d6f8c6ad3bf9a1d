package server

import (
	"github.com/cyverse-de/echo-middleware/v2/redoc"
	"github.com/cyverse/cloudgw/internal/controllers"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	echolog "github.com/spirosoik/echo-logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

func InitRouter() *echo.Echo {
	log := log.WithFields(logrus.Fields{"context": "router"})

	// Create the web server.
	e := echo.New()

	// Set a custom logger.
	echoLogger := echolog.NewLoggerMiddleware(log)
	e.Logger = echoLogger

	// Add middleware.
	e.Use(otelecho.Middleware("cloudgw"))
	e.Use(echoLogger.Hook())
	e.Use(middleware.Recover())
	e.Use(redoc.Serve(redoc.Opts{Title: "CyVerse Resource Gateway"}))

	// Prometheus metrics.
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

func registerResourceEndpoints(resources *echo.Group, s *controllers.Server) {
	// Lists the resources visible to the caller.
	resources.GET("", s.ListResources)

	// Creates a new resource.
	resources.POST("", s.AddResource)

	// Gets, updates or deletes a single resource.
	resources.GET("/:id", s.GetResource)
	resources.PATCH("/:id", s.UpdateResource)
	resources.DELETE("/:id", s.DeleteResource)

	// Runs a power action.
	resources.POST("/:id/power", s.PowerResource)

	// Administrative recovery operations.
	resources.POST("/:id/restore", s.RestoreResource)
	resources.DELETE("/:id/purge", s.PurgeResource)

	// Pulls the upstream state of the resource.
	resources.POST("/:id/sync", s.SyncResource)

	// Upstream metrics and local usage records.
	resources.GET("/:id/metrics", s.GetResourceMetrics)
	resources.GET("/:id/usage", s.GetResourceUsage)
}

func RegisterHandlers(s controllers.Server) {

	// The base URL acts as a health check endpoint.
	s.Router.GET("/", s.RootHandler)

	// API version 1 endpoints.
	v1 := s.Router.Group("/v1")
	v1.GET("", s.V1RootHandler)

	resources := v1.Group("/resources")
	registerResourceEndpoints(resources, &s)

	v1.GET("/server-types", s.ListServerTypes)
	v1.GET("/locations", s.ListLocations)
}
