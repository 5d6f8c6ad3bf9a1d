package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cyverse/cloudgw/internal/model"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AdjustQuota adds delta to the quota usage of an owner, inserting the usage record if it doesn't exist yet. The
// usage never drops below zero.
func (s *Store) AdjustQuota(ctx context.Context, ownerID, resourceType string, delta int64) error {
	wrapMsg := fmt.Sprintf("unable to adjust the %s quota usage for '%s'", resourceType, ownerID)

	now := time.Now()
	initial := delta
	if initial < 0 {
		initial = 0
	}
	usage := &model.QuotaUsage{
		OwnerID:        ownerID,
		ResourceType:   resourceType,
		Usage:          initial,
		LastModifiedAt: &now,
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{
					Name: "owner_id",
				},
				{
					Name: "resource_type",
				},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"usage":            gorm.Expr("GREATEST(quota_usages.usage + ?, 0)", delta),
				"last_modified_at": now,
			}),
		}).
		Create(usage).
		Error
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// GetQuotaUsage returns the current quota usage of an owner. Owners without a usage record have a usage of zero.
func (s *Store) GetQuotaUsage(ctx context.Context, ownerID, resourceType string) (int64, error) {
	wrapMsg := fmt.Sprintf("unable to look up the %s quota usage for '%s'", resourceType, ownerID)

	var usage model.QuotaUsage
	err := s.db.WithContext(ctx).
		Where(&model.QuotaUsage{OwnerID: ownerID, ResourceType: resourceType}).
		First(&usage).
		Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}
	return usage.Usage, nil
}
