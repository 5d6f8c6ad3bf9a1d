package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cyverse-de/go-mod/cfg"
	"github.com/cyverse/cloudgw/config"
	"github.com/cyverse/cloudgw/logging"
	"github.com/cyverse/cloudgw/server"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logging.GetLogger().WithFields(logrus.Fields{"package": "main"})

// runSchemaMigrations runs the schema migrations in the given directory on the database.
func runSchemaMigrations(dbURI, migrationsDir string, reinit bool) error {
	log := log.WithFields(logrus.Fields{"context": "schema migrations"})

	wrapMsg := "unable to run the schema migrations"

	// Build the URI to the migrations.
	absDir, err := filepath.Abs(migrationsDir)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	migrationsURI := fmt.Sprintf("file://%s", filepath.ToSlash(absDir))

	m, err := migrate.New(migrationsURI, dbURI)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	defer m.Close()

	// Run the down migrations if we're supposed to.
	if reinit {
		log.Warn("running the down database migrations")
		err = m.Down()
		if err != nil && err != migrate.ErrNoChange {
			return errors.Wrap(err, wrapMsg)
		}
	}

	log.Info("running the up database migrations")
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, wrapMsg)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return errors.Wrap(err, wrapMsg)
	}
	log.Infof("the database schema is at version %d (dirty: %t)", version, dirty)

	return nil
}

func main() {
	var (
		err error

		configPath     = flag.String("config", cfg.DefaultConfigPath, "Path to the config file")
		dotEnvPath     = flag.String("dotenv-path", cfg.DefaultDotEnvPath, "Path to the dotenv file")
		envPrefix      = flag.String("env-prefix", "CLOUDGW_", "The prefix for environment variables")
		logLevel       = flag.String("log-level", "info", "One of trace, debug, info, warn, error, fatal, or panic.")
		migrationsPath = flag.String("migrations", "migrations", "Path to the directory containing the schema migrations")
	)

	flag.Parse()
	logging.SetupLogging(*logLevel)

	log := log.WithFields(logrus.Fields{"context": "main"})

	spec, err := config.LoadConfig(*envPrefix, *configPath, *dotEnvPath)
	if err != nil {
		log.Fatalf("unable to load the configuration: %s", err.Error())
	}

	log.Info("loaded the configuration file")

	if spec.RunSchemaMigrations {
		err = runSchemaMigrations(spec.DatabaseURI, *migrationsPath, spec.ReinitDB)
		if err != nil {
			log.Fatal(err.Error())
		}
	}

	// Stop serving on SIGINT or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server.Init(ctx, spec)
}
