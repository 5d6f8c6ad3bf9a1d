package db

import (
	"context"
	"fmt"

	"github.com/cyverse/cloudgw/internal/model"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// CreateResource inserts a new managed resource.
func (s *Store) CreateResource(ctx context.Context, r *model.ManagedResource) error {
	wrapMsg := fmt.Sprintf("unable to insert resource '%s'", r.ID)

	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// SaveResource writes every column of an existing managed resource.
func (s *Store) SaveResource(ctx context.Context, r *model.ManagedResource) error {
	wrapMsg := fmt.Sprintf("unable to save resource '%s'", r.ID)

	err := s.db.WithContext(ctx).
		Model(r).
		Select("*").
		Omit("id", "created_at").
		Updates(r).
		Error
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// GetResource looks up a managed resource. Soft deleted resources are only returned if includeDeleted is true. A nil
// resource is returned if there's no match.
func (s *Store) GetResource(ctx context.Context, id string, includeDeleted bool) (*model.ManagedResource, error) {
	wrapMsg := fmt.Sprintf("unable to look up resource '%s'", id)

	var r model.ManagedResource
	query := s.db.WithContext(ctx).Where("id = ?", id)
	if !includeDeleted {
		query = query.Where("deleted_at IS NULL")
	}
	err := query.First(&r).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	return &r, nil
}

// GetResourceByProviderID looks up the live managed resource that records an upstream server ID. A nil resource is
// returned if there's no match.
func (s *Store) GetResourceByProviderID(ctx context.Context, providerID int64) (*model.ManagedResource, error) {
	wrapMsg := fmt.Sprintf("unable to look up the resource for upstream server %d", providerID)

	var r model.ManagedResource
	err := s.db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		Where("deleted_at IS NULL").
		First(&r).
		Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	return &r, nil
}

// ListResources lists the managed resources matching a filter, oldest first.
func (s *Store) ListResources(ctx context.Context, filter model.ResourceFilter) ([]model.ManagedResource, error) {
	wrapMsg := "unable to list resources"

	query := s.db.WithContext(ctx)
	if filter.OwnerID != "" {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}
	switch {
	case filter.OnlyDeleted:
		query = query.Where("deleted_at IS NOT NULL")
	case !filter.IncludeDeleted:
		query = query.Where("deleted_at IS NULL")
	}

	resources := make([]model.ManagedResource, 0)
	if err := query.Order("created_at asc, id asc").Find(&resources).Error; err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	return resources, nil
}

// DeleteResource permanently removes a managed resource.
func (s *Store) DeleteResource(ctx context.Context, id string) error {
	wrapMsg := fmt.Sprintf("unable to remove resource '%s'", id)

	err := s.db.WithContext(ctx).Delete(&model.ManagedResource{ID: id}).Error
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}
