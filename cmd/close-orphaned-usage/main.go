package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cyverse/cloudgw/internal/db"
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/cyverse/cloudgw/internal/usage"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
	"github.com/pkg/errors"
)

type Config struct {
	DatabaseURI string
}

// loadConfig loads configuration settings from the environment. We're using koanf directly here so that the
// configuration files don't have to be present to run the utility.
func loadConfig() (*Config, error) {
	k := koanf.New(".")

	// Load the configuration settings from the environment.
	err := k.Load(
		env.Provider("CLOUDGW_", ".",
			func(s string) string {
				return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CLOUDGW_")), "_", ".", -1)
			},
		),
		nil,
	)
	if err != nil {
		return nil, err
	}

	// Verify that the database URI is specified.
	databaseURI := k.String("database.uri")
	if databaseURI == "" {
		return nil, fmt.Errorf("CLOUDGW_DATABASE_URI must be defined")
	}

	return &Config{DatabaseURI: databaseURI}, nil
}

// orphanStore is the subset of the store used to find intervals left open on deleted resources.
type orphanStore interface {
	usage.Store
	OrphanedIntervals(ctx context.Context) ([]model.UsageInterval, error)
	GetResource(ctx context.Context, id string, includeDeleted bool) (*model.ManagedResource, error)
}

// closeOrphanedIntervals closes every usage interval that's still open for a deleted resource. Each interval ends
// when its resource was deleted. Nothing is written if dryRun is set.
func closeOrphanedIntervals(ctx context.Context, store orphanStore, dryRun bool) ([]model.UsageInterval, error) {
	orphans, err := store.OrphanedIntervals(ctx)
	if err != nil {
		return nil, err
	}

	ledger := usage.NewLedger(store, nil)
	closed := make([]model.UsageInterval, 0, len(orphans))
	for _, orphan := range orphans {
		r, err := store.GetResource(ctx, orphan.ResourceID, true)
		if err != nil {
			return closed, errors.Wrapf(err, "unable to look up resource %s", orphan.ResourceID)
		}
		if r == nil || r.DeletedAt == nil {
			continue
		}

		if dryRun {
			hours, cost := usage.Cost(orphan.StartedAt, *r.DeletedAt, orphan.UnitPrice)
			fmt.Printf("would close %s interval %s for %s: %d hours, cost %.4f\n",
				orphan.Metric, orphan.ID, orphan.ResourceID, hours, cost)
			continue
		}

		interval, err := ledger.Close(ctx, orphan.ResourceID, orphan.Metric, *r.DeletedAt)
		if err != nil {
			return closed, errors.Wrapf(err, "unable to close interval %s", orphan.ID)
		}
		if interval != nil {
			fmt.Printf("closed %s interval %s for %s: %d hours, cost %.4f\n",
				interval.Metric, interval.ID, interval.ResourceID, interval.Quantity, interval.Cost)
			closed = append(closed, *interval)
		}
	}
	return closed, nil
}

func main() {
	dryRun := flag.Bool("dry-run", false, "List the intervals that would be closed without closing them")
	timeout := flag.Duration("timeout", 5*time.Minute, "The maximum amount of time to spend closing intervals")
	flag.Parse()

	// Load the configuration.
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("unable to load the configuration: %s", err)
	}

	// Establish the database connection.
	gormdb, err := db.Init(cfg.DatabaseURI)
	if err != nil {
		log.Fatalf("unable to connect to the database: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	closed, err := closeOrphanedIntervals(ctx, db.NewStore(gormdb), *dryRun)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("closed %d orphaned usage intervals\n", len(closed))
}
