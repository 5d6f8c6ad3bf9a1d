// Package memstore is an in-memory implementation of the lifecycle and usage stores, used in tests and for local
// development without a database.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cyverse/cloudgw/internal/model"
)

// ErrOpenIntervalExists mirrors the partial unique index on open usage intervals.
var ErrOpenIntervalExists = errors.New("an open usage interval already exists for the resource and metric")

type quotaKey struct {
	ownerID      string
	resourceType string
}

// Store keeps every record in memory. Records are copied on the way in and out.
type Store struct {
	mu sync.RWMutex

	resources    map[string]*model.ManagedResource
	intervals    map[string]*model.UsageInterval
	quotas       map[quotaKey]int64
	backups      map[string]*model.Backup
	volumes      map[string]*model.Volume
	associations []model.Association
	audit        []model.AuditEntry
	samples      []model.MetricSample
	serverTypes  map[string]*model.ServerType
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		resources:   make(map[string]*model.ManagedResource),
		intervals:   make(map[string]*model.UsageInterval),
		quotas:      make(map[quotaKey]int64),
		backups:     make(map[string]*model.Backup),
		volumes:     make(map[string]*model.Volume),
		serverTypes: make(map[string]*model.ServerType),
	}
}

// Resources

func (s *Store) CreateResource(_ context.Context, r *model.ManagedResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.resources[r.ID]; exists {
		return fmt.Errorf("resource %s already exists", r.ID)
	}
	s.resources[r.ID] = r.Clone()
	return nil
}

func (s *Store) SaveResource(_ context.Context, r *model.ManagedResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.resources[r.ID]; !exists {
		return fmt.Errorf("resource %s does not exist", r.ID)
	}
	s.resources[r.ID] = r.Clone()
	return nil
}

func (s *Store) GetResource(_ context.Context, id string, includeDeleted bool) (*model.ManagedResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resources[id]
	if !ok || (r.IsDeleted() && !includeDeleted) {
		return nil, nil
	}
	return r.Clone(), nil
}

func (s *Store) GetResourceByProviderID(_ context.Context, providerID int64) (*model.ManagedResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.resources {
		if r.ProviderID != nil && *r.ProviderID == providerID && !r.IsDeleted() {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (s *Store) ListResources(_ context.Context, filter model.ResourceFilter) ([]model.ManagedResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.ManagedResource, 0)
	for _, r := range s.resources {
		if filter.OwnerID != "" && r.OwnerID != filter.OwnerID {
			continue
		}
		if filter.OnlyDeleted && !r.IsDeleted() {
			continue
		}
		if r.IsDeleted() && !filter.IncludeDeleted && !filter.OnlyDeleted {
			continue
		}
		result = append(result, *r.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) DeleteResource(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.resources, id)
	return nil
}

// Quotas

func (s *Store) AdjustQuota(_ context.Context, ownerID, resourceType string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := quotaKey{ownerID, resourceType}
	s.quotas[k] += delta
	if s.quotas[k] < 0 {
		s.quotas[k] = 0
	}
	return nil
}

func (s *Store) GetQuotaUsage(_ context.Context, ownerID, resourceType string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.quotas[quotaKey{ownerID, resourceType}], nil
}

// Backups, volumes and associations

func (s *Store) CreateBackup(_ context.Context, b *model.Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *b
	s.backups[b.ID] = &c
	return nil
}

func (s *Store) HasInProgressBackup(_ context.Context, resourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.backups {
		if b.ResourceID == resourceID && b.Status == model.BackupStatusCreating {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CompleteBackups(_ context.Context, resourceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, b := range s.backups {
		if b.ResourceID == resourceID && b.Status == model.BackupStatusCreating {
			b.Status = model.BackupStatusAvailable
			count++
		}
	}
	return count, nil
}

// Backups returns copies of the backups recorded for a resource.
func (s *Store) Backups(resourceID string) []model.Backup {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Backup
	for _, b := range s.backups {
		if b.ResourceID == resourceID {
			result = append(result, *b)
		}
	}
	return result
}

// AddVolume stores a volume.
func (s *Store) AddVolume(v model.Volume) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.volumes[v.ID] = &v
}

// DetachVolume clears a volume's resource reference.
func (s *Store) DetachVolume(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.volumes[id]; ok {
		v.ResourceID = nil
	}
}

func (s *Store) CountAttachedVolumes(_ context.Context, resourceID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, v := range s.volumes {
		if v.ResourceID != nil && *v.ResourceID == resourceID {
			count++
		}
	}
	return count, nil
}

// AddAssociation stores an association.
func (s *Store) AddAssociation(a model.Association) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.associations = append(s.associations, a)
}

// Associations returns the associations recorded for a resource.
func (s *Store) Associations(resourceID string) []model.Association {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Association
	for _, a := range s.associations {
		if a.ResourceID == resourceID {
			result = append(result, a)
		}
	}
	return result
}

func (s *Store) DetachAssociations(_ context.Context, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.associations[:0]
	for _, a := range s.associations {
		if a.ResourceID != resourceID {
			kept = append(kept, a)
		}
	}
	s.associations = kept
	return nil
}

// Audit entries and metric samples

func (s *Store) RecordAudit(_ context.Context, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, *entry)
	return nil
}

// AuditEntries returns the audit entries recorded for a resource.
func (s *Store) AuditEntries(resourceID string) []model.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AuditEntry
	for _, e := range s.audit {
		if e.ResourceID == resourceID {
			result = append(result, e)
		}
	}
	return result
}

func (s *Store) SaveMetricSamples(_ context.Context, samples []model.MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, samples...)
	return nil
}

// MetricSamples returns the metric samples recorded for a resource.
func (s *Store) MetricSamples(resourceID string) []model.MetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.MetricSample
	for _, m := range s.samples {
		if m.ResourceID == resourceID {
			result = append(result, m)
		}
	}
	return result
}

func (s *Store) PurgeHistory(_ context.Context, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, b := range s.backups {
		if b.ResourceID == resourceID {
			delete(s.backups, id)
		}
	}
	for id, i := range s.intervals {
		if i.ResourceID == resourceID {
			delete(s.intervals, id)
		}
	}

	audit := s.audit[:0]
	for _, e := range s.audit {
		if e.ResourceID != resourceID {
			audit = append(audit, e)
		}
	}
	s.audit = audit

	samples := s.samples[:0]
	for _, m := range s.samples {
		if m.ResourceID != resourceID {
			samples = append(samples, m)
		}
	}
	s.samples = samples

	return nil
}

// Server types

func cloneServerType(t *model.ServerType) *model.ServerType {
	c := *t
	c.Prices = append([]model.ServerTypePrice(nil), t.Prices...)
	return &c
}

// SetPrice records a price for a server type that has always been in effect. An empty location sets the default
// price.
func (s *Store) SetPrice(serverType, location string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.serverTypes[serverType]
	if !ok {
		t = &model.ServerType{Name: serverType}
		s.serverTypes[serverType] = t
	}
	t.Prices = append(t.Prices, model.ServerTypePrice{Location: location, PriceHourly: price})
	sort.SliceStable(t.Prices, func(i, j int) bool {
		return t.Prices[i].EffectiveDate.Before(t.Prices[j].EffectiveDate)
	})
}

func (s *Store) GetServerType(_ context.Context, name string) (*model.ServerType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.serverTypes[name]
	if !ok {
		return nil, nil
	}
	return cloneServerType(t), nil
}

func (s *Store) ListServerTypes(_ context.Context) ([]model.ServerType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.ServerType, 0, len(s.serverTypes))
	for _, t := range s.serverTypes {
		result = append(result, *cloneServerType(t))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (s *Store) UpsertServerType(_ context.Context, serverType *model.ServerType, prices []model.ServerTypePrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.serverTypes[serverType.Name]
	if !ok {
		t = &model.ServerType{Name: serverType.Name}
		s.serverTypes[serverType.Name] = t
	}
	t.Description = serverType.Description
	t.Cores = serverType.Cores
	t.MemoryGB = serverType.MemoryGB
	t.DiskGB = serverType.DiskGB
	t.Prices = append(t.Prices, prices...)
	sort.SliceStable(t.Prices, func(i, j int) bool {
		return t.Prices[i].EffectiveDate.Before(t.Prices[j].EffectiveDate)
	})
	return nil
}

func (s *Store) HourlyPrice(_ context.Context, serverType, location string, at time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.serverTypes[serverType]
	if !ok {
		return 0, fmt.Errorf("unknown server type %s", serverType)
	}
	price, err := t.ActivePrice(location, at)
	if err != nil {
		return 0, err
	}
	return price.PriceHourly, nil
}

// Usage intervals

func cloneInterval(i *model.UsageInterval) *model.UsageInterval {
	c := *i
	if i.EndedAt != nil {
		end := *i.EndedAt
		c.EndedAt = &end
	}
	return &c
}

func (s *Store) ActiveInterval(_ context.Context, resourceID, metric string) (*model.UsageInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, i := range s.intervals {
		if i.ResourceID == resourceID && i.Metric == metric && !i.Closed {
			return cloneInterval(i), nil
		}
	}
	return nil, nil
}

func (s *Store) CreateInterval(_ context.Context, interval *model.UsageInterval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !interval.Closed {
		for _, i := range s.intervals {
			if i.ResourceID == interval.ResourceID && i.Metric == interval.Metric && !i.Closed {
				return ErrOpenIntervalExists
			}
		}
	}
	s.intervals[interval.ID] = cloneInterval(interval)
	return nil
}

func (s *Store) SaveInterval(_ context.Context, interval *model.UsageInterval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intervals[interval.ID]; !ok {
		return fmt.Errorf("usage interval %s does not exist", interval.ID)
	}
	s.intervals[interval.ID] = cloneInterval(interval)
	return nil
}

func (s *Store) ListIntervals(_ context.Context, resourceID string) ([]model.UsageInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.UsageInterval, 0)
	for _, i := range s.intervals {
		if i.ResourceID == resourceID {
			result = append(result, *cloneInterval(i))
		}
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].StartedAt.Before(result[b].StartedAt)
	})
	return result, nil
}

// OrphanedIntervals returns open intervals whose resource has been soft deleted.
func (s *Store) OrphanedIntervals(_ context.Context) ([]model.UsageInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.UsageInterval, 0)
	for _, i := range s.intervals {
		if i.Closed {
			continue
		}
		if r, ok := s.resources[i.ResourceID]; ok && r.IsDeleted() {
			result = append(result, *cloneInterval(i))
		}
	}
	return result, nil
}
