// Package catalog keeps the local server type catalogue and its price history in step with the upstream gateway.
package catalog

import (
	"context"
	"math"

	"github.com/cyverse/cloudgw/internal/gateway"
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/cyverse/cloudgw/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

var log = logging.GetLogger().WithFields(logrus.Fields{"package": "catalog"})

// Store persists server types and their prices.
type Store interface {
	GetServerType(ctx context.Context, name string) (*model.ServerType, error)
	ListServerTypes(ctx context.Context) ([]model.ServerType, error)

	// UpsertServerType inserts or updates a server type by name and appends the given prices to its history.
	UpsertServerType(ctx context.Context, serverType *model.ServerType, prices []model.ServerTypePrice) error
}

// Source lists the server types offered upstream.
type Source interface {
	ServerTypes(ctx context.Context, p model.Principal) ([]gateway.ServerType, error)
}

// Syncer copies upstream server types into the local catalogue.
type Syncer struct {
	store  Store
	source Source
	clock  clock.PassiveClock
}

// NewSyncer returns a new Syncer.
func NewSyncer(store Store, source Source, clk clock.PassiveClock) *Syncer {
	return &Syncer{store: store, source: source, clock: clk}
}

// samePrice compares hourly prices at the precision they're stored with.
func samePrice(a, b float64) bool {
	return math.Abs(a-b) < 0.00005
}

// Refresh fetches the upstream catalogue and records any server types or price changes. It returns the number of
// price rows that were added.
func (s *Syncer) Refresh(ctx context.Context) (int, error) {
	log := log.WithFields(logrus.Fields{"context": "refresh"})

	upstream, err := s.source.ServerTypes(ctx, model.SystemPrincipal)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now().UTC()
	added := 0
	for _, u := range upstream {
		existing, err := s.store.GetServerType(ctx, u.Name)
		if err != nil {
			return added, errors.Wrapf(err, "unable to look up server type %s", u.Name)
		}

		var prices []model.ServerTypePrice
		for _, p := range u.Prices {
			if existing != nil {
				if current, err := existing.ActivePrice(p.Location, now); err == nil && current.Location == p.Location &&
					samePrice(current.PriceHourly, p.PriceHourly) {
					continue
				}
			}
			prices = append(prices, model.ServerTypePrice{
				Location:      p.Location,
				EffectiveDate: now,
				PriceHourly:   p.PriceHourly,
			})
		}

		serverType := &model.ServerType{
			Name:        u.Name,
			Description: u.Description,
			Cores:       u.Cores,
			MemoryGB:    u.Memory,
			DiskGB:      u.Disk,
		}
		if err := s.store.UpsertServerType(ctx, serverType, prices); err != nil {
			return added, errors.Wrapf(err, "unable to save server type %s", u.Name)
		}
		if len(prices) > 0 {
			log.Infof("recorded %d new prices for server type %s", len(prices), u.Name)
		}
		added += len(prices)
	}

	return added, nil
}

// List returns the local catalogue.
func (s *Syncer) List(ctx context.Context) ([]model.ServerType, error) {
	return s.store.ListServerTypes(ctx)
}
