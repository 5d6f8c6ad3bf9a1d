package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cyverse/cloudgw/config"
	"github.com/cyverse/cloudgw/internal/cache"
	"github.com/cyverse/cloudgw/internal/catalog"
	"github.com/cyverse/cloudgw/internal/controllers"
	"github.com/cyverse/cloudgw/internal/db"
	"github.com/cyverse/cloudgw/internal/events"
	"github.com/cyverse/cloudgw/internal/gateway"
	"github.com/cyverse/cloudgw/internal/jobs"
	"github.com/cyverse/cloudgw/internal/lifecycle"
	"github.com/cyverse/cloudgw/internal/token"
	"github.com/cyverse/cloudgw/internal/usage"
	"github.com/cyverse/cloudgw/logging"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

var log = logging.GetLogger().WithFields(logrus.Fields{"package": "server"})

// The server type catalogue is refreshed once a day.
const (
	catalogJobKey          = "catalog:refresh"
	catalogRefreshInterval = 24 * time.Hour
)

// shutdownTimeout bounds how long in-flight requests may run once shutdown begins.
const shutdownTimeout = 30 * time.Second

func natsSubject(base string, fields ...string) string {
	trimmed := strings.TrimSuffix(
		strings.TrimSuffix(base, ".*"),
		".>",
	)
	addFields := strings.Join(fields, ".")
	return fmt.Sprintf("%s.%s", trimmed, addFields)
}

func natsQueue(qBase string, fields ...string) string {
	return fmt.Sprintf("%s.%s", qBase, strings.Join(fields, "."))
}

func queueSub(conn *nats.EncodedConn, spec *config.Specification, name string, handler nats.Handler) {
	var err error

	subject := natsSubject(spec.BaseSubject, name)
	queue := natsQueue(spec.BaseQueueName, name)

	if _, err = conn.QueueSubscribe(subject, queue, handler); err != nil {
		log.Fatal(err)
	}

	log.Infof("subscribed to %s on queue %s", subject, queue)
}

// natsOptions builds the connection options. Credentials and TLS settings are only applied when configured.
func natsOptions(spec *config.Specification) []nats.Option {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(spec.MaxReconnects),
		nats.ReconnectWait(time.Duration(spec.ReconnectWait) * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Errorf("disconnected from nats: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Errorf("connection closed: %v", nc.LastError())
		}),
	}
	if spec.NatsCredsPath != "" {
		opts = append(opts, nats.UserCredentials(spec.NatsCredsPath))
	}
	if spec.NatsCACertPath != "" {
		opts = append(opts, nats.RootCAs(spec.NatsCACertPath))
	}
	if spec.NatsTLSCertPath != "" && spec.NatsTLSKeyPath != "" {
		opts = append(opts, nats.ClientCert(spec.NatsTLSCertPath, spec.NatsTLSKeyPath))
	}
	return opts
}

func InitNATS(spec *config.Specification) *nats.EncodedConn {
	nc, err := nats.Connect(spec.NatsCluster, natsOptions(spec)...)
	if err != nil {
		log.Fatal(err)
	}

	log.Infof("configured servers: %s", strings.Join(nc.Servers(), " "))
	log.Infof("connected to NATS host: %s", nc.ConnectedServerName())

	conn, err := nats.NewEncodedConn(nc, nats.JSON_ENCODER)
	if err != nil {
		log.Fatal(err)
	}

	log.Infof("set up encoded connection to NATS")

	return conn
}

// initCache opens the configured cache backend.
func initCache(spec *config.Specification, clk clock.PassiveClock) (cache.Cache, error) {
	if spec.CacheBackend == config.CacheBackendBadger {
		log.Infof("using the badger cache in %s", spec.CachePath)
		return cache.NewBadgerCache(spec.CachePath)
	}
	log.Info("using the in-memory cache")
	return cache.NewMemoryCache(clk), nil
}

// scheduleCatalogRefresh refreshes the server type catalogue now and then once a day.
// upstreamBudget is the longest a single upstream call may take when every attempt times out and every retry waits
// for the longest backoff interval.
func upstreamBudget(spec *config.Specification) time.Duration {
	retries := time.Duration(spec.GatewayRetries)
	return (retries+1)*spec.GatewayTimeout + retries*8*spec.GatewayRetryInterval
}

func scheduleCatalogRefresh(scheduler *jobs.Scheduler, syncer *catalog.Syncer, clk clock.PassiveClock) {
	scheduler.ScheduleRecurring(catalogJobKey, clk.Now(), catalogRefreshInterval, func(ctx context.Context) error {
		added, err := syncer.Refresh(ctx)
		if err != nil {
			return err
		}
		log.Infof("recorded %d server type price changes", added)
		return nil
	})
}

// Init wires up the service and serves requests until the context is cancelled.
func Init(ctx context.Context, spec *config.Specification) {
	log := log.WithFields(logrus.Fields{"context": "server init"})

	clk := clock.RealClock{}
	e := InitRouter()

	// Establish the database connection.
	log.Info("establishing the database connection")
	gormdb, err := db.Init(spec.DatabaseURI)
	if err != nil {
		log.Fatalf("service initialization failed: %s", err.Error())
	}
	store := db.NewStore(gormdb)

	minter, err := token.NewMinter(spec.SigningKey, spec.TokenIssuer, spec.TokenTTL, clk)
	if err != nil {
		log.Fatalf("unable to create the token minter: %s", err.Error())
	}

	c, err := initCache(spec, clk)
	if err != nil {
		log.Fatalf("unable to open the cache: %s", err.Error())
	}
	defer c.Close()

	gw, err := gateway.New(gateway.Settings{
		BaseURL:       spec.GatewayBaseURL,
		Timeout:       spec.GatewayTimeout,
		Retries:       spec.GatewayRetries,
		RetryInterval: spec.GatewayRetryInterval,
		ListTTL:       spec.ListTTL,
		GetTTL:        spec.GetTTL,
		CatalogTTL:    spec.CatalogTTL,
		MetricsTTL:    spec.MetricsTTL,
	}, minter, c)
	if err != nil {
		log.Fatalf("unable to create the gateway client: %s", err.Error())
	}

	scheduler := jobs.NewScheduler(clk, jobs.WithRetryPolicy(jobs.DefaultMaxAttempts, spec.GatewayRetryInterval))
	defer scheduler.Stop()

	syncer := catalog.NewSyncer(store, gw, clk)
	scheduleCatalogRefresh(scheduler, syncer, clk)

	observers := []lifecycle.Observer{lifecycle.NewAuditObserver(store)}

	// NATS is optional. Without it no lifecycle events are published and the request handlers aren't registered.
	var conn *nats.EncodedConn
	if spec.NatsCluster != "" {
		conn = InitNATS(spec)
		defer conn.Close()
		observers = append(observers, events.NewObserver(conn, natsSubject(spec.BaseSubject, "resources", "events")))
	} else {
		log.Warn("no NATS cluster configured; lifecycle events will not be published")
	}

	coordinator := lifecycle.New(
		store,
		gw,
		c,
		usage.NewLedger(store, clk),
		scheduler,
		lifecycle.Settings{ReconcileDelay: spec.ReconcileDelay, UpstreamTimeout: upstreamBudget(spec)},
		lifecycle.WithObservers(observers...),
		lifecycle.WithClock(clk),
	)

	// Follow-up jobs only live in memory, so they're rescheduled on every start.
	resumed, err := coordinator.Resume(ctx)
	if err != nil {
		log.Errorf("unable to reschedule follow-up jobs: %s", err)
	} else {
		log.Infof("rescheduled follow-up jobs for %d resources", resumed)
	}

	s := controllers.Server{
		Router:    e,
		Resources: coordinator,
		Catalog:   syncer,
		Locations: gw,
		NATSConn:  conn,
		Service:   config.ServiceName,
		Title:     "CyVerse Resource Gateway",
		Version:   "v1",
	}

	// Register the handlers.
	RegisterHandlers(s)

	if conn != nil {
		queueSub(conn, spec, "resources.usage.get", s.GetUsageNATS)
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down the service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Errorf("unable to shut down cleanly: %s", err)
		}
	}()

	log.Info("starting the service")
	if err := e.Start(fmt.Sprintf(":%d", spec.ListenPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error(err)
	}
}
