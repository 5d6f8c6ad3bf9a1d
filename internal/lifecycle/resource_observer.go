package lifecycle

import (
	"context"
	"time"

	"github.com/cyverse/cloudgw/internal/jobs"
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Labels maintained by the resource observer.
const (
	LabelCreatedBy        = "created_by"
	LabelPlatform         = "platform"
	LabelPreviousStatus   = "previous_status"
	LabelLastStatusChange = "last_status_change"
)

// Labels that tie a resource to the upstream server provisioned for it.
const (
	// LabelResourceID is sent with every upstream create and carries the local resource ID.
	LabelResourceID = "cloudgw_resource_id"

	// LabelProvisioning is set to ProvisioningRejected when the upstream refused to create the server.
	LabelProvisioning    = "provisioning"
	ProvisioningRejected = "rejected"
)

// ResourceObserver keeps derived fields, quotas, caches, usage intervals and follow-up jobs consistent with resource
// mutations. The coordinator always runs it before any other observer.
type ResourceObserver struct {
	c *Coordinator
}

func (o *ResourceObserver) Creating(_ context.Context, e *Event) error {
	r := e.Resource
	if len(r.Labels) == 0 {
		r.Labels = model.Labels{
			LabelCreatedBy: e.Principal.Email,
			LabelPlatform:  o.c.settings.Platform,
		}
	}
	if r.Hostname == "" {
		r.Hostname = hostnameFor(r.Name, o.c.settings.HostnameSuffix)
	}
	return nil
}

func (o *ResourceObserver) Created(ctx context.Context, e *Event) error {
	r := e.Resource
	if err := o.c.store.AdjustQuota(ctx, r.OwnerID, model.ResourceTypeServer, 1); err != nil {
		return errors.Wrap(err, "unable to increment the quota usage")
	}
	o.c.invalidate(r)
	o.c.scheduleSync(r.ID)
	if r.BackupEnabled {
		o.c.scheduleBackups(r.ID, e.At)
	}
	return nil
}

func (o *ResourceObserver) Updating(_ context.Context, e *Event) error {
	if e.Original.Locked && !e.Principal.IsPrivileged() {
		return NewPolicyViolation(ReasonLocked, "resource %s is locked", e.Original.ID)
	}
	if e.Original.Locked != e.Resource.Locked && !e.Principal.IsPrivileged() {
		return NewPolicyViolation(ReasonLockedAttribute, "only administrators may lock or unlock resources")
	}

	if e.StatusChanged() {
		if e.Resource.Labels == nil {
			e.Resource.Labels = model.Labels{}
		}
		e.Resource.Labels[LabelPreviousStatus] = string(e.Original.Status)
		e.Resource.Labels[LabelLastStatusChange] = e.At.Format(time.RFC3339)
	}
	return nil
}

func (o *ResourceObserver) Updated(ctx context.Context, e *Event) error {
	r := e.Resource
	log := log.WithFields(logrus.Fields{"context": "updated", "resource": r.ID})

	o.c.invalidate(r)

	if e.StatusChanged() {
		wasRunning := e.Original.Status == model.StatusRunning
		switch {
		case r.IsRunning() && !wasRunning:
			price, err := o.c.store.HourlyPrice(ctx, r.ServerType, r.Location, e.At)
			if err != nil {
				return errors.Wrap(err, "unable to determine the hourly price")
			}
			metadata := model.Labels{
				"server_type": r.ServerType,
				"location":    r.Location,
				"started_at":  e.At.Format(time.RFC3339),
			}
			if _, _, err := o.c.ledger.Open(ctx, r, model.MetricComputeHours, price, metadata); err != nil {
				return err
			}
		case wasRunning && !r.IsRunning():
			if _, err := o.c.ledger.Close(ctx, r.ID, model.MetricComputeHours, e.At); err != nil {
				return err
			}
		}
		log.Infof("status changed from %s to %s", e.Original.Status, r.Status)
	}

	switch {
	case r.BackupEnabled && !e.Original.BackupEnabled:
		o.c.scheduleBackups(r.ID, e.At)
	case !r.BackupEnabled && e.Original.BackupEnabled:
		o.c.scheduler.Cancel(jobs.Key(JobBackup, r.ID))
	}

	return nil
}

func (o *ResourceObserver) Deleting(ctx context.Context, e *Event) error {
	r := e.Resource

	inProgress, err := o.c.store.HasInProgressBackup(ctx, r.ID)
	if err != nil {
		return errors.Wrap(err, "unable to check for backups in progress")
	}
	if inProgress {
		return NewPolicyViolation(ReasonBackupInProgress, "resource %s has a backup in progress", r.ID)
	}

	volumes, err := o.c.store.CountAttachedVolumes(ctx, r.ID)
	if err != nil {
		return errors.Wrap(err, "unable to count attached volumes")
	}
	if volumes > 0 {
		return NewPolicyViolation(ReasonVolumesAttached, "resource %s has %d attached volumes", r.ID, volumes)
	}

	return nil
}

func (o *ResourceObserver) Deleted(ctx context.Context, e *Event) error {
	r := e.Resource

	o.c.scheduler.CancelResource(r.ID)
	o.c.invalidate(r)

	if err := o.c.store.AdjustQuota(ctx, r.OwnerID, model.ResourceTypeServer, -1); err != nil {
		return errors.Wrap(err, "unable to decrement the quota usage")
	}
	if _, err := o.c.ledger.CloseAllForResource(ctx, r.ID, e.At); err != nil {
		return err
	}
	if err := o.c.store.DetachAssociations(ctx, r.ID); err != nil {
		return errors.Wrap(err, "unable to detach associations")
	}
	return nil
}

func (o *ResourceObserver) Restored(ctx context.Context, e *Event) error {
	r := e.Resource
	if err := o.c.store.AdjustQuota(ctx, r.OwnerID, model.ResourceTypeServer, 1); err != nil {
		return errors.Wrap(err, "unable to increment the quota usage")
	}
	o.c.invalidate(r)
	o.c.scheduleSync(r.ID)
	return nil
}

func (o *ResourceObserver) ForceDeleted(ctx context.Context, e *Event) error {
	o.c.scheduler.CancelResource(e.Resource.ID)
	o.c.invalidate(e.Resource)
	if err := o.c.store.PurgeHistory(ctx, e.Resource.ID); err != nil {
		return errors.Wrap(err, "unable to purge the resource history")
	}
	return nil
}
