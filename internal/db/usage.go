package db

import (
	"context"
	"fmt"

	"github.com/cyverse/cloudgw/internal/model"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ActiveInterval returns the open usage interval for a resource and metric, or nil if there isn't one.
func (s *Store) ActiveInterval(ctx context.Context, resourceID, metric string) (*model.UsageInterval, error) {
	wrapMsg := fmt.Sprintf("unable to look up the active %s interval for resource '%s'", metric, resourceID)

	var interval model.UsageInterval
	err := s.db.WithContext(ctx).
		Where("resource_id = ? AND metric = ? AND NOT closed", resourceID, metric).
		First(&interval).
		Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	return &interval, nil
}

// CreateInterval inserts a usage interval. The partial unique index on open intervals rejects a second open interval
// for the same resource and metric.
func (s *Store) CreateInterval(ctx context.Context, interval *model.UsageInterval) error {
	wrapMsg := fmt.Sprintf("unable to open a %s interval for resource '%s'", interval.Metric, interval.ResourceID)

	if err := s.db.WithContext(ctx).Create(interval).Error; err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// SaveInterval writes every column of an existing usage interval.
func (s *Store) SaveInterval(ctx context.Context, interval *model.UsageInterval) error {
	wrapMsg := fmt.Sprintf("unable to save usage interval '%s'", interval.ID)

	if err := s.db.WithContext(ctx).Save(interval).Error; err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// ListIntervals lists the usage intervals of a resource, oldest first.
func (s *Store) ListIntervals(ctx context.Context, resourceID string) ([]model.UsageInterval, error) {
	wrapMsg := fmt.Sprintf("unable to list the usage intervals of resource '%s'", resourceID)

	intervals := make([]model.UsageInterval, 0)
	err := s.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Order("started_at asc").
		Find(&intervals).
		Error
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	return intervals, nil
}

// OrphanedIntervals lists the open usage intervals whose resource has been soft deleted.
func (s *Store) OrphanedIntervals(ctx context.Context) ([]model.UsageInterval, error) {
	wrapMsg := "unable to list orphaned usage intervals"

	intervals := make([]model.UsageInterval, 0)
	err := s.db.WithContext(ctx).
		Joins("INNER JOIN managed_resources ON usage_intervals.resource_id = managed_resources.id").
		Where("NOT usage_intervals.closed AND managed_resources.deleted_at IS NOT NULL").
		Order("usage_intervals.started_at asc").
		Find(&intervals).
		Error
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	return intervals, nil
}
