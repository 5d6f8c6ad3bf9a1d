// Package db is the gorm/PostgreSQL implementation of the stores used by the lifecycle coordinator, the usage
// ledger and the server type catalogue.
package db

import (
	"github.com/cyverse/cloudgw/internal/catalog"
	"github.com/cyverse/cloudgw/internal/lifecycle"
	"github.com/cyverse/cloudgw/internal/usage"
	"github.com/cyverse/cloudgw/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var log = logging.GetLogger().WithFields(logrus.Fields{"package": "db"})

// Init establishes the database connection and enables tracing of every query.
func Init(dbURI string) (*gorm.DB, error) {
	wrapMsg := "unable to initialize the database connection"

	gormdb, err := gorm.Open(postgres.Open(dbURI), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	if err = gormdb.Use(otelgorm.NewPlugin()); err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	sqlDB, err := gormdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	log.Info("connected to the database")
	return gormdb, nil
}

var (
	_ lifecycle.Store = (*Store)(nil)
	_ usage.Store     = (*Store)(nil)
	_ catalog.Store   = (*Store)(nil)
)

// Store implements the persistence interfaces on top of gorm.
type Store struct {
	db *gorm.DB
}

// NewStore returns a Store that uses the given connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}
