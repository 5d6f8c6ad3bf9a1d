package db

import (
	"context"
	"fmt"

	"github.com/cyverse/cloudgw/internal/model"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// CreateBackup records a backup of a resource.
func (s *Store) CreateBackup(ctx context.Context, b *model.Backup) error {
	wrapMsg := fmt.Sprintf("unable to record a backup of resource '%s'", b.ResourceID)

	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// HasInProgressBackup determines whether or not a backup of the resource is still being created.
func (s *Store) HasInProgressBackup(ctx context.Context, resourceID string) (bool, error) {
	wrapMsg := fmt.Sprintf("unable to look up backups of resource '%s'", resourceID)

	var exists bool
	err := s.db.WithContext(ctx).
		Model(&model.Backup{}).
		Select("count(*) > 0").
		Where("resource_id = ? AND status = ?", resourceID, model.BackupStatusCreating).
		Find(&exists).
		Error
	if err != nil {
		return false, errors.Wrap(err, wrapMsg)
	}
	return exists, nil
}

// CompleteBackups marks every backup of the resource that's still being created as available.
func (s *Store) CompleteBackups(ctx context.Context, resourceID string) (int64, error) {
	wrapMsg := fmt.Sprintf("unable to complete backups of resource '%s'", resourceID)

	result := s.db.WithContext(ctx).
		Model(&model.Backup{}).
		Where("resource_id = ? AND status = ?", resourceID, model.BackupStatusCreating).
		Update("status", model.BackupStatusAvailable)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, wrapMsg)
	}
	return result.RowsAffected, nil
}

// CountAttachedVolumes returns the number of volumes attached to a resource.
func (s *Store) CountAttachedVolumes(ctx context.Context, resourceID string) (int64, error) {
	wrapMsg := fmt.Sprintf("unable to count the volumes attached to resource '%s'", resourceID)

	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Volume{}).
		Where("resource_id = ?", resourceID).
		Count(&count).
		Error
	if err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}
	return count, nil
}

// DetachAssociations removes the SSH key, network and firewall associations of a resource.
func (s *Store) DetachAssociations(ctx context.Context, resourceID string) error {
	wrapMsg := fmt.Sprintf("unable to detach the associations of resource '%s'", resourceID)

	err := s.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Delete(&model.Association{}).
		Error
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// RecordAudit inserts an audit entry.
func (s *Store) RecordAudit(ctx context.Context, entry *model.AuditEntry) error {
	wrapMsg := fmt.Sprintf("unable to record an audit entry for resource '%s'", entry.ResourceID)

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// SaveMetricSamples inserts metric samples in a single statement.
func (s *Store) SaveMetricSamples(ctx context.Context, samples []model.MetricSample) error {
	wrapMsg := "unable to record metric samples"

	if len(samples) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&samples).Error; err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// PurgeHistory removes every record that refers to a resource.
func (s *Store) PurgeHistory(ctx context.Context, resourceID string) error {
	wrapMsg := fmt.Sprintf("unable to purge the history of resource '%s'", resourceID)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []interface{}{
			&model.Backup{},
			&model.UsageInterval{},
			&model.AuditEntry{},
			&model.MetricSample{},
			&model.Association{},
		} {
			if err := tx.Where("resource_id = ?", resourceID).Delete(table).Error; err != nil {
				return err
			}
		}
		return tx.Model(&model.Volume{}).
			Where("resource_id = ?", resourceID).
			Update("resource_id", nil).
			Error
	})
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}
