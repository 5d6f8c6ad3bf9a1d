// Package usage records billable usage intervals for managed resources.
package usage

import (
	"context"
	"math"
	"time"

	"github.com/cyverse/cloudgw/internal/keylock"
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/cyverse/cloudgw/internal/monitoring"
	"github.com/cyverse/cloudgw/logging"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

var log = logging.GetLogger().WithFields(logrus.Fields{"package": "usage"})

// Store persists usage intervals.
type Store interface {
	// ActiveInterval returns the open interval for the resource and metric, or nil if there isn't one.
	ActiveInterval(ctx context.Context, resourceID, metric string) (*model.UsageInterval, error)

	// CreateInterval inserts a new interval.
	CreateInterval(ctx context.Context, interval *model.UsageInterval) error

	// SaveInterval updates an existing interval.
	SaveInterval(ctx context.Context, interval *model.UsageInterval) error

	// ListIntervals returns every interval recorded for the resource in order of start time.
	ListIntervals(ctx context.Context, resourceID string) ([]model.UsageInterval, error)
}

// Cost returns the number of billable hours between start and end, rounding partial hours up, and the cost of those
// hours at the given hourly price rounded to four decimal places. No time is billed if end isn't after start.
func Cost(start, end time.Time, unitPrice float64) (int64, float64) {
	elapsed := end.Sub(start)
	if elapsed <= 0 {
		return 0, 0
	}
	hours := int64(elapsed / time.Hour)
	if elapsed%time.Hour != 0 {
		hours++
	}
	return hours, math.Round(float64(hours)*unitPrice*10000) / 10000
}

// Ledger opens and closes usage intervals. At most one interval is open for a resource and metric at any time;
// opening an already open interval and closing an already closed one both do nothing.
type Ledger struct {
	store Store
	clock clock.PassiveClock
	locks keylock.Locker
}

// NewLedger returns a new Ledger.
func NewLedger(store Store, clk clock.PassiveClock) *Ledger {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Ledger{store: store, clock: clk}
}

func lockKey(resourceID, metric string) string {
	return resourceID + "/" + metric
}

// Open starts a new interval for the resource and metric at the current time unless one is already open. The
// returned interval is the open interval, whether it was created by this call or not.
func (l *Ledger) Open(
	ctx context.Context,
	r *model.ManagedResource,
	metric string,
	unitPrice float64,
	metadata model.Labels,
) (*model.UsageInterval, bool, error) {
	wrapMsg := "unable to open the usage interval"
	log := log.WithFields(logrus.Fields{"context": "open", "resource": r.ID, "metric": metric})

	key := lockKey(r.ID, metric)
	l.locks.Acquire(key)
	defer l.locks.Release(key)

	existing, err := l.store.ActiveInterval(ctx, r.ID, metric)
	if err != nil {
		return nil, false, errors.Wrap(err, wrapMsg)
	}
	if existing != nil {
		log.Debug("an interval is already open")
		return existing, false, nil
	}

	interval := &model.UsageInterval{
		ID:         uuid.NewString(),
		ResourceID: r.ID,
		OwnerID:    r.OwnerID,
		Metric:     metric,
		StartedAt:  l.clock.Now().UTC(),
		UnitPrice:  unitPrice,
		Metadata:   metadata,
	}
	if err := l.store.CreateInterval(ctx, interval); err != nil {
		return nil, false, errors.Wrap(err, wrapMsg)
	}
	monitoring.RecordUsageInterval(metric, "opened")
	log.Infof("opened a usage interval at %s", interval.StartedAt.Format(time.RFC3339))

	return interval, true, nil
}

// Close ends the open interval for the resource and metric at the given time and computes its cost. It returns nil
// if no interval was open.
func (l *Ledger) Close(ctx context.Context, resourceID, metric string, end time.Time) (*model.UsageInterval, error) {
	wrapMsg := "unable to close the usage interval"
	log := log.WithFields(logrus.Fields{"context": "close", "resource": resourceID, "metric": metric})

	key := lockKey(resourceID, metric)
	l.locks.Acquire(key)
	defer l.locks.Release(key)

	interval, err := l.store.ActiveInterval(ctx, resourceID, metric)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	if interval == nil {
		log.Debug("no interval is open")
		return nil, nil
	}

	end = end.UTC()
	if end.Before(interval.StartedAt) {
		end = interval.StartedAt
	}
	interval.Quantity, interval.Cost = Cost(interval.StartedAt, end, interval.UnitPrice)
	interval.EndedAt = &end
	interval.Closed = true

	if err := l.store.SaveInterval(ctx, interval); err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	monitoring.RecordUsageInterval(metric, "closed")
	log.Infof("closed a usage interval: %d hours, cost %.4f", interval.Quantity, interval.Cost)

	return interval, nil
}

// Active returns the open interval for the resource and metric, or nil if there isn't one.
func (l *Ledger) Active(ctx context.Context, resourceID, metric string) (*model.UsageInterval, error) {
	return l.store.ActiveInterval(ctx, resourceID, metric)
}

// Intervals returns every interval recorded for the resource.
func (l *Ledger) Intervals(ctx context.Context, resourceID string) ([]model.UsageInterval, error) {
	return l.store.ListIntervals(ctx, resourceID)
}

// CloseAllForResource closes every interval that's still open for the resource.
func (l *Ledger) CloseAllForResource(ctx context.Context, resourceID string, end time.Time) ([]model.UsageInterval, error) {
	intervals, err := l.store.ListIntervals(ctx, resourceID)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list the usage intervals")
	}

	seen := make(map[string]bool)
	var closed []model.UsageInterval
	for _, interval := range intervals {
		if interval.Closed || seen[interval.Metric] {
			continue
		}
		seen[interval.Metric] = true

		result, err := l.Close(ctx, resourceID, interval.Metric, end)
		if err != nil {
			return closed, err
		}
		if result != nil {
			closed = append(closed, *result)
		}
	}
	return closed, nil
}
