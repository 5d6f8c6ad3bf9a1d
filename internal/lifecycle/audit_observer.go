package lifecycle

import (
	"context"
	"sort"
	"strconv"

	"github.com/cyverse/cloudgw/internal/model"
	"github.com/pkg/errors"
)

// AuditObserver records an audit entry for every persisted mutation.
type AuditObserver struct {
	Base
	store Store
}

// NewAuditObserver returns an observer that writes audit entries to the store.
func NewAuditObserver(store Store) *AuditObserver {
	return &AuditObserver{store: store}
}

// snapshot flattens the audited attributes of a resource.
func snapshot(r *model.ManagedResource) model.Labels {
	s := model.Labels{
		"name":           r.Name,
		"hostname":       r.Hostname,
		"status":         string(r.Status),
		"server_type":    r.ServerType,
		"location":       r.Location,
		"locked":         strconv.FormatBool(r.Locked),
		"backup_enabled": strconv.FormatBool(r.BackupEnabled),
	}
	if r.ProviderID != nil {
		s["provider_id"] = strconv.FormatInt(*r.ProviderID, 10)
	}
	for k, v := range r.Labels {
		s["labels."+k] = v
	}
	return s
}

// diff returns the attributes that differ between two snapshots.
func diff(before, after model.Labels) (model.Labels, model.Labels) {
	keys := make(map[string]struct{})
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	oldValues, newValues := model.Labels{}, model.Labels{}
	for _, k := range sorted {
		if before[k] != after[k] {
			oldValues[k] = before[k]
			newValues[k] = after[k]
		}
	}
	return oldValues, newValues
}

func (o *AuditObserver) record(ctx context.Context, e *Event, action string, oldValues, newValues model.Labels) error {
	entry := &model.AuditEntry{
		PrincipalID: e.Principal.ID,
		ResourceID:  e.Resource.ID,
		Action:      action,
		OldValues:   oldValues,
		NewValues:   newValues,
		CreatedAt:   e.At,
	}
	if err := o.store.RecordAudit(ctx, entry); err != nil {
		return errors.Wrap(err, "unable to record the audit entry")
	}
	return nil
}

func (o *AuditObserver) Created(ctx context.Context, e *Event) error {
	return o.record(ctx, e, model.AuditActionCreated, nil, snapshot(e.Resource))
}

func (o *AuditObserver) Updated(ctx context.Context, e *Event) error {
	oldValues, newValues := diff(snapshot(e.Original), snapshot(e.Resource))
	if len(newValues) == 0 {
		return nil
	}
	return o.record(ctx, e, model.AuditActionUpdated, oldValues, newValues)
}

func (o *AuditObserver) Deleted(ctx context.Context, e *Event) error {
	return o.record(ctx, e, model.AuditActionDeleted, snapshot(e.Original), nil)
}

func (o *AuditObserver) Restored(ctx context.Context, e *Event) error {
	return o.record(ctx, e, model.AuditActionRestored, nil, snapshot(e.Resource))
}
