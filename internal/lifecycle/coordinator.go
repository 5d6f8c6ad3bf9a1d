// Package lifecycle coordinates local resource mutations with the upstream compute gateway. Every mutation runs an
// ordered set of observer hooks around the point where local state is persisted.
package lifecycle

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cyverse/cloudgw/internal/cache"
	"github.com/cyverse/cloudgw/internal/gateway"
	"github.com/cyverse/cloudgw/internal/jobs"
	"github.com/cyverse/cloudgw/internal/keylock"
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/cyverse/cloudgw/internal/usage"
	"github.com/cyverse/cloudgw/logging"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

var log = logging.GetLogger().WithFields(logrus.Fields{"package": "lifecycle"})

// Default settings.
const (
	DefaultReconcileDelay  = 10 * time.Second
	DefaultHostnameSuffix  = ".cloud.local"
	DefaultPlatform        = "cloud-hosting"
	DefaultBackupInterval  = 24 * time.Hour
	DefaultUpstreamTimeout = 2 * time.Minute
)

// Job kinds.
const (
	JobSync   = "sync"
	JobBackup = "backup"
)

// Store persists resources and the records that hang off of them.
type Store interface {
	CreateResource(ctx context.Context, r *model.ManagedResource) error
	SaveResource(ctx context.Context, r *model.ManagedResource) error
	GetResource(ctx context.Context, id string, includeDeleted bool) (*model.ManagedResource, error)
	GetResourceByProviderID(ctx context.Context, providerID int64) (*model.ManagedResource, error)
	ListResources(ctx context.Context, filter model.ResourceFilter) ([]model.ManagedResource, error)
	DeleteResource(ctx context.Context, id string) error

	AdjustQuota(ctx context.Context, ownerID, resourceType string, delta int64) error
	GetQuotaUsage(ctx context.Context, ownerID, resourceType string) (int64, error)

	CreateBackup(ctx context.Context, b *model.Backup) error
	HasInProgressBackup(ctx context.Context, resourceID string) (bool, error)
	CompleteBackups(ctx context.Context, resourceID string) (int64, error)
	CountAttachedVolumes(ctx context.Context, resourceID string) (int64, error)
	DetachAssociations(ctx context.Context, resourceID string) error

	RecordAudit(ctx context.Context, entry *model.AuditEntry) error
	SaveMetricSamples(ctx context.Context, samples []model.MetricSample) error
	PurgeHistory(ctx context.Context, resourceID string) error

	HourlyPrice(ctx context.Context, serverType, location string, at time.Time) (float64, error)
}

// Gateway is the subset of the upstream gateway client used by the coordinator.
type Gateway interface {
	ListServers(ctx context.Context, p model.Principal) ([]gateway.Server, error)
	GetServer(ctx context.Context, p model.Principal, serverID int64) (*gateway.Server, error)
	CreateServer(ctx context.Context, p model.Principal, req *gateway.CreateServerRequest) (*gateway.Server, error)
	DeleteServer(ctx context.Context, p model.Principal, serverID int64) error
	Power(ctx context.Context, p model.Principal, serverID int64, action string, force bool) (*gateway.PowerResponse, error)
	Metrics(ctx context.Context, p model.Principal, serverID int64) (*gateway.Metrics, error)
	CreateBackup(ctx context.Context, p model.Principal, serverID int64, description string) (*gateway.ActionResponse, error)
}

// Scheduler runs follow-up work.
type Scheduler interface {
	Schedule(key string, delay time.Duration, job jobs.Job)
	ScheduleRecurring(key string, first time.Time, interval time.Duration, job jobs.Job)
	Cancel(key string) bool
	CancelResource(resourceID string) int
}

// Settings contains the coordinator configuration.
type Settings struct {
	ReconcileDelay time.Duration
	HostnameSuffix string
	Platform       string
	BackupInterval time.Duration

	// UpstreamTimeout bounds the upstream leg of a create, which runs detached from the caller's context.
	UpstreamTimeout time.Duration
}

func (s *Settings) applyDefaults() {
	if s.ReconcileDelay <= 0 {
		s.ReconcileDelay = DefaultReconcileDelay
	}
	if s.HostnameSuffix == "" {
		s.HostnameSuffix = DefaultHostnameSuffix
	}
	if s.Platform == "" {
		s.Platform = DefaultPlatform
	}
	if s.BackupInterval <= 0 {
		s.BackupInterval = DefaultBackupInterval
	}
	if s.UpstreamTimeout <= 0 {
		s.UpstreamTimeout = DefaultUpstreamTimeout
	}
}

// Coordinator applies lifecycle operations to managed resources. Operations on the same resource are serialized
// while local state is mutated; the lock is never held across an upstream call.
type Coordinator struct {
	store     Store
	gateway   Gateway
	cache     cache.Cache
	ledger    *usage.Ledger
	scheduler Scheduler
	clock     clock.PassiveClock
	settings  Settings
	observers []Observer
	locks     keylock.Locker
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithObservers registers additional observers. They run after the built-in resource observer, in order.
func WithObservers(observers ...Observer) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, observers...)
	}
}

// WithClock sets the clock used to timestamp mutations.
func WithClock(clk clock.PassiveClock) Option {
	return func(c *Coordinator) {
		c.clock = clk
	}
}

// New returns a new Coordinator.
func New(
	store Store,
	gw Gateway,
	c cache.Cache,
	ledger *usage.Ledger,
	scheduler Scheduler,
	settings Settings,
	opts ...Option,
) *Coordinator {
	settings.applyDefaults()
	coordinator := &Coordinator{
		store:     store,
		gateway:   gw,
		cache:     c,
		ledger:    ledger,
		scheduler: scheduler,
		clock:     clock.RealClock{},
		settings:  settings,
	}
	coordinator.observers = []Observer{&ResourceObserver{c: coordinator}}
	for _, opt := range opts {
		opt(coordinator)
	}
	return coordinator
}

// NewResource describes a resource to create.
type NewResource struct {
	Name           string
	Hostname       string
	ServerType     string
	Location       string
	Image          string
	OrganizationID *string
	Labels         model.Labels
	SSHKeys        []string
	BackupEnabled  bool
}

// Changes describes attribute changes to an existing resource. Nil fields are left alone.
type Changes struct {
	Name          *string
	Labels        model.Labels
	Locked        *bool
	BackupEnabled *bool
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)

// validate checks the fields required to create a resource.
func (n *NewResource) validate() error {
	if !namePattern.MatchString(n.Name) {
		return &ValidationError{Field: "name", Message: "must be 1 to 63 letters, digits, hyphens or underscores"}
	}
	if n.ServerType == "" {
		return &ValidationError{Field: "server_type", Message: "is required"}
	}
	if n.Location == "" {
		return &ValidationError{Field: "location", Message: "is required"}
	}
	if len(n.Labels) > 64 {
		return &ValidationError{Field: "labels", Message: "at most 64 labels are allowed"}
	}
	return nil
}

// hostnameFor derives a hostname from a display name.
func hostnameFor(name, suffix string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String() + suffix
}

// runHooks invokes a hook on every observer in order. Before-hooks stop at the first error. After-hooks run on every
// observer regardless, and the first error is returned.
func (c *Coordinator) runHooks(ctx context.Context, h hook, e *Event, stopOnError bool) error {
	var firstErr error
	for _, o := range c.observers {
		if err := h.invoke(o, ctx, e); err != nil {
			if stopOnError {
				return err
			}
			log.WithFields(logrus.Fields{
				"context":  "hooks",
				"hook":     h.name,
				"resource": e.Resource.ID,
			}).Errorf("%T failed: %s", o, err)
			if firstErr == nil {
				firstErr = &HookError{Hook: h.name, Err: err}
			}
		}
	}
	return firstErr
}

// lookup returns a resource visible to the principal.
func (c *Coordinator) lookup(ctx context.Context, p model.Principal, id string, includeDeleted bool) (*model.ManagedResource, error) {
	r, err := c.store.GetResource(ctx, id, includeDeleted)
	if err != nil {
		return nil, errors.Wrap(err, "unable to look up the resource")
	}
	if r == nil || !p.CanAccess(r) {
		return nil, ErrNotFound
	}
	return r, nil
}

// requireWriter refuses principals that may only read.
func requireWriter(p model.Principal) error {
	if p.Role == model.RoleReadOnly || p.ID == "" {
		return NewPolicyViolation(ReasonForbidden, "the principal is not allowed to modify resources")
	}
	return nil
}

// Create records a new resource and asks the upstream gateway to provision it. If the upstream call fails the
// resource is kept in the error status and the gateway error is returned. The upstream leg isn't abandoned when the
// caller goes away; it runs until it finishes or the upstream timeout passes.
func (c *Coordinator) Create(ctx context.Context, p model.Principal, n *NewResource) (*model.ManagedResource, error) {
	log := log.WithFields(logrus.Fields{"context": "create", "principal": p.ID, "name": n.Name})

	if err := requireWriter(p); err != nil {
		return nil, err
	}
	if err := n.validate(); err != nil {
		return nil, err
	}

	now := c.clock.Now().UTC()
	r := &model.ManagedResource{
		ID:             uuid.NewString(),
		OwnerID:        p.ID,
		OrganizationID: n.OrganizationID,
		Name:           n.Name,
		Hostname:       n.Hostname,
		Status:         model.StatusProvisioning,
		ServerType:     n.ServerType,
		Location:       n.Location,
		Image:          n.Image,
		BackupEnabled:  n.BackupEnabled,
		Labels:         n.Labels,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := c.locks.With(r.ID, func() error {
		e := &Event{Principal: p, Resource: r, At: now}
		if err := c.runHooks(ctx, hookCreating, e, true); err != nil {
			return err
		}
		if err := c.store.CreateResource(ctx, r); err != nil {
			return errors.Wrap(err, "unable to store the new resource")
		}
		return c.runHooks(ctx, hookCreated, e, false)
	})
	hookErr, persisted := AsHookError(err)
	if err != nil && !persisted {
		return nil, err
	}
	log.WithField("resource", r.ID).Info("recorded a new resource")

	labels := make(map[string]string, len(r.Labels)+2)
	for k, v := range r.Labels {
		labels[k] = v
	}
	labels[LabelResourceID] = r.ID
	labels[LabelCreatedBy] = p.Email
	req := &gateway.CreateServerRequest{
		Name:          r.Name,
		ServerType:    r.ServerType,
		Location:      r.Location,
		Image:         r.Image,
		SSHKeys:       n.SSHKeys,
		Labels:        labels,
		EnableBackups: r.BackupEnabled,
	}

	upstreamCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settings.UpstreamTimeout)
	defer cancel()

	server, gwErr := c.gateway.CreateServer(upstreamCtx, p, req)
	if gwErr != nil {
		log.Errorf("upstream provisioning failed: %s", gwErr)

		// A create the upstream rejected never produced a server, so there's nothing to reconcile or adopt. Any other
		// failure may have left a server behind and is reconciled as usual.
		rejected := gateway.IsValidation(gwErr)
		if rejected {
			c.scheduler.Cancel(jobs.Key(JobSync, r.ID))
		}
		if _, err := c.applyUpdate(upstreamCtx, model.SystemPrincipal, r.ID, func(r *model.ManagedResource) error {
			r.Status = model.StatusError
			if rejected {
				if r.Labels == nil {
					r.Labels = model.Labels{}
				}
				r.Labels[LabelProvisioning] = ProvisioningRejected
			}
			return nil
		}); err != nil {
			log.Errorf("unable to record the failure: %s", err)
		}
		return nil, gwErr
	}

	updated, err := c.applyUpdate(upstreamCtx, model.SystemPrincipal, r.ID, func(r *model.ManagedResource) error {
		r.ProviderID = &server.ID
		r.Status = model.StatusFromUpstream(server.Status)
		return nil
	})
	if err == nil && hookErr != nil {
		return updated, hookErr
	}
	return updated, err
}

// Update applies attribute changes requested by a principal.
func (c *Coordinator) Update(ctx context.Context, p model.Principal, id string, changes *Changes) (*model.ManagedResource, error) {
	if err := requireWriter(p); err != nil {
		return nil, err
	}
	r, err := c.lookup(ctx, p, id, false)
	if err != nil {
		return nil, err
	}
	if err := requireModifiable(r); err != nil {
		return nil, err
	}
	if changes.Name != nil && !namePattern.MatchString(*changes.Name) {
		return nil, &ValidationError{Field: "name", Message: "must be 1 to 63 letters, digits, hyphens or underscores"}
	}

	return c.applyUpdate(ctx, p, id, func(r *model.ManagedResource) error {
		if err := requireModifiable(r); err != nil {
			return err
		}
		if changes.Name != nil {
			r.Name = *changes.Name
		}
		if changes.Labels != nil {
			for k, v := range changes.Labels {
				if v == "" {
					delete(r.Labels, k)
				} else {
					if r.Labels == nil {
						r.Labels = model.Labels{}
					}
					r.Labels[k] = v
				}
			}
		}
		if changes.Locked != nil {
			r.Locked = *changes.Locked
		}
		if changes.BackupEnabled != nil {
			r.BackupEnabled = *changes.BackupEnabled
		}
		return nil
	})
}

// requireModifiable refuses changes to resources that are being deleted or moved.
func requireModifiable(r *model.ManagedResource) error {
	if !r.CanModify() {
		return NewPolicyViolation(ReasonInvalidState, "resource %s can't be changed while it's %s", r.ID, r.Status)
	}
	return nil
}

// applyUpdate mutates a resource while holding its lock.
func (c *Coordinator) applyUpdate(
	ctx context.Context,
	p model.Principal,
	id string,
	mutate func(r *model.ManagedResource) error,
) (*model.ManagedResource, error) {
	var result *model.ManagedResource
	err := c.locks.With(id, func() error {
		original, err := c.store.GetResource(ctx, id, false)
		if err != nil {
			return errors.Wrap(err, "unable to look up the resource")
		}
		if original == nil {
			return ErrNotFound
		}
		result, err = c.updateLocked(ctx, p, original, mutate)
		return err
	})
	return result, err
}

// updateLocked runs the update hooks around a mutation. The caller must hold the resource lock. The returned resource
// is non-nil whenever the mutation was persisted, even if an after-hook failed.
func (c *Coordinator) updateLocked(
	ctx context.Context,
	p model.Principal,
	original *model.ManagedResource,
	mutate func(r *model.ManagedResource) error,
) (*model.ManagedResource, error) {
	updated := original.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}

	now := c.clock.Now().UTC()
	e := &Event{Principal: p, Resource: updated, Original: original, At: now}
	if err := c.runHooks(ctx, hookUpdating, e, true); err != nil {
		return nil, err
	}

	updated.UpdatedAt = now
	if err := c.store.SaveResource(ctx, updated); err != nil {
		return nil, errors.Wrap(err, "unable to save the resource")
	}
	return updated, c.runHooks(ctx, hookUpdated, e, false)
}

// powerTargets maps power actions to the status the resource ends up in.
var powerTargets = map[string]model.Status{
	"poweron":  model.StatusRunning,
	"start":    model.StatusRunning,
	"poweroff": model.StatusStopped,
	"shutdown": model.StatusStopped,
	"stop":     model.StatusStopped,
	"reboot":   model.StatusRunning,
	"reset":    model.StatusRunning,
}

// Power runs a power action on a resource and records the resulting status.
func (c *Coordinator) Power(ctx context.Context, p model.Principal, id, action string, force bool) (*model.ManagedResource, error) {
	if err := requireWriter(p); err != nil {
		return nil, err
	}
	target, ok := powerTargets[action]
	if !ok {
		return nil, &ValidationError{Field: "action", Message: fmt.Sprintf("unsupported power action %q", action)}
	}

	r, err := c.lookup(ctx, p, id, false)
	if err != nil {
		return nil, err
	}
	if r.Locked && !p.IsPrivileged() {
		return nil, NewPolicyViolation(ReasonLocked, "resource %s is locked", r.ID)
	}
	if err := requireModifiable(r); err != nil {
		return nil, err
	}
	if r.Status != model.StatusRunning && r.Status != model.StatusStopped {
		return nil, NewPolicyViolation(ReasonInvalidState, "power actions aren't allowed while the resource is %s", r.Status)
	}
	if r.ProviderID == nil {
		return nil, NewPolicyViolation(ReasonNotProvisioned, "resource %s hasn't been provisioned", r.ID)
	}

	if _, err := c.gateway.Power(ctx, p, *r.ProviderID, action, force); err != nil {
		return nil, err
	}

	return c.applyUpdate(ctx, p, id, func(r *model.ManagedResource) error {
		if err := requireModifiable(r); err != nil {
			return err
		}
		r.Status = target
		return nil
	})
}

// Delete removes a resource upstream and soft deletes it locally. If the upstream call fails, the resource returns
// to the status it had before.
func (c *Coordinator) Delete(ctx context.Context, p model.Principal, id string) (*model.ManagedResource, error) {
	log := log.WithFields(logrus.Fields{"context": "delete", "principal": p.ID, "resource": id})

	if err := requireWriter(p); err != nil {
		return nil, err
	}
	if _, err := c.lookup(ctx, p, id, false); err != nil {
		return nil, err
	}

	// Refuse or mark the resource as deleting.
	var before *model.ManagedResource
	markErr := c.locks.With(id, func() error {
		original, err := c.store.GetResource(ctx, id, false)
		if err != nil {
			return errors.Wrap(err, "unable to look up the resource")
		}
		if original == nil {
			return ErrNotFound
		}
		if original.Locked && !p.IsPrivileged() {
			return NewPolicyViolation(ReasonLocked, "resource %s is locked", id)
		}

		e := &Event{Principal: p, Resource: original.Clone(), Original: original, At: c.clock.Now().UTC()}
		if err := c.runHooks(ctx, hookDeleting, e, true); err != nil {
			return err
		}

		marked, err := c.updateLocked(ctx, model.SystemPrincipal, original, func(r *model.ManagedResource) error {
			r.Status = model.StatusDeleting
			return nil
		})
		if marked != nil {
			before = original
		}
		return err
	})
	if before == nil {
		return nil, markErr
	}

	if before.ProviderID != nil {
		if err := c.gateway.DeleteServer(ctx, p, *before.ProviderID); err != nil && !gateway.IsNotFound(err) {
			log.Errorf("upstream deletion failed: %s", err)
			if _, rerr := c.applyUpdate(ctx, model.SystemPrincipal, id, func(r *model.ManagedResource) error {
				r.Status = before.Status
				return nil
			}); rerr != nil {
				log.Errorf("unable to restore the previous status: %s", rerr)
			}
			return nil, err
		}
	}

	deleted, err := c.finishDelete(ctx, p, id)
	if deleted == nil {
		return nil, err
	}
	log.Info("deleted the resource")

	if err == nil {
		err = markErr
	}
	return deleted, err
}

// finishDelete soft deletes a resource that's been marked as deleting once the upstream server is gone. A resource
// that's already soft deleted is returned as is.
func (c *Coordinator) finishDelete(ctx context.Context, p model.Principal, id string) (*model.ManagedResource, error) {
	var deleted *model.ManagedResource
	err := c.locks.With(id, func() error {
		current, err := c.store.GetResource(ctx, id, true)
		if err != nil {
			return errors.Wrap(err, "unable to look up the resource")
		}
		if current == nil {
			return ErrNotFound
		}
		if current.IsDeleted() {
			deleted = current
			return nil
		}
		if current.Status != model.StatusDeleting {
			return NewPolicyViolation(ReasonInvalidState, "resource %s is %s, not deleting", id, current.Status)
		}

		now := c.clock.Now().UTC()
		deleted = current.Clone()
		deleted.Status = model.StatusDeleted
		deleted.DeletedAt = &now
		deleted.UpdatedAt = now
		if err := c.store.SaveResource(ctx, deleted); err != nil {
			deleted = nil
			return errors.Wrap(err, "unable to soft delete the resource")
		}

		e := &Event{Principal: p, Resource: deleted, Original: current, At: now}
		return c.runHooks(ctx, hookDeleted, e, false)
	})
	return deleted, err
}

// Restore reverses a soft delete. Only privileged principals may restore resources.
func (c *Coordinator) Restore(ctx context.Context, p model.Principal, id string) (*model.ManagedResource, error) {
	if !p.IsPrivileged() {
		return nil, NewPolicyViolation(ReasonForbidden, "only administrators may restore resources")
	}

	var restored *model.ManagedResource
	err := c.locks.With(id, func() error {
		original, err := c.store.GetResource(ctx, id, true)
		if err != nil {
			return errors.Wrap(err, "unable to look up the resource")
		}
		if original == nil {
			return ErrNotFound
		}
		if !original.IsDeleted() {
			return NewPolicyViolation(ReasonInvalidState, "resource %s isn't deleted", id)
		}

		now := c.clock.Now().UTC()
		restored = original.Clone()
		restored.DeletedAt = nil
		restored.Status = model.StatusProvisioning
		restored.UpdatedAt = now
		if err := c.store.SaveResource(ctx, restored); err != nil {
			restored = nil
			return errors.Wrap(err, "unable to restore the resource")
		}

		e := &Event{Principal: p, Resource: restored, Original: original, At: now}
		return c.runHooks(ctx, hookRestored, e, false)
	})
	return restored, err
}

// ForceDelete permanently removes a resource along with its history. Only administrators may do this, and never for
// a locked resource. Resources that haven't been soft deleted yet are deleted first.
func (c *Coordinator) ForceDelete(ctx context.Context, p model.Principal, id string) error {
	if !p.IsAdmin() {
		return NewPolicyViolation(ReasonForbidden, "only administrators may permanently delete resources")
	}

	r, err := c.lookup(ctx, p, id, true)
	if err != nil {
		return err
	}
	if r.Locked {
		return NewPolicyViolation(ReasonLocked, "resource %s is locked", id)
	}
	if !r.IsDeleted() {
		if _, err := c.Delete(ctx, p, id); err != nil {
			if _, persisted := AsHookError(err); !persisted {
				return err
			}
		}
	}

	return c.locks.With(id, func() error {
		current, err := c.store.GetResource(ctx, id, true)
		if err != nil {
			return errors.Wrap(err, "unable to look up the resource")
		}
		if current == nil {
			return ErrNotFound
		}
		if err := c.store.DeleteResource(ctx, id); err != nil {
			return errors.Wrap(err, "unable to remove the resource")
		}

		e := &Event{Principal: p, Resource: current, Original: current, At: c.clock.Now().UTC()}
		return c.runHooks(ctx, hookForceDeleted, e, false)
	})
}

// Sync pulls the upstream state of a resource and applies it locally.
//
// A resource whose provider ID was never recorded adopts the upstream server labelled with its ID, which covers
// creates that timed out after the upstream accepted them. A resource that's being deleted is left alone until the
// upstream server is gone, at which point the soft delete is completed.
func (c *Coordinator) Sync(ctx context.Context, id string) (*model.ManagedResource, error) {
	log := log.WithFields(logrus.Fields{"context": "sync", "resource": id})

	r, err := c.store.GetResource(ctx, id, false)
	if err != nil {
		return nil, errors.Wrap(err, "unable to look up the resource")
	}
	if r == nil {
		return nil, ErrNotFound
	}
	c.invalidate(r)

	var server *gateway.Server
	switch {
	case r.ProviderID != nil:
		server, err = c.gateway.GetServer(ctx, model.SystemPrincipal, *r.ProviderID)
		if err != nil && !gateway.IsNotFound(err) {
			return nil, err
		}
	case r.Labels[LabelProvisioning] == ProvisioningRejected:
		log.Debug("the upstream rejected the resource")
	default:
		server, err = c.adoptable(ctx, r)
		if err != nil {
			return nil, err
		}
	}

	if r.Status == model.StatusDeleting {
		if server != nil {
			log.Debug("the upstream server is still being deleted")
			return r, nil
		}
		log.Info("completing the deletion of the resource")
		return c.finishDelete(ctx, model.SystemPrincipal, id)
	}

	if r.ProviderID == nil {
		if server == nil {
			log.Debug("no upstream server has been provisioned")
			return r, nil
		}
		log.Infof("adopting upstream server %d", server.ID)
	}

	updated, err := c.applyUpdate(ctx, model.SystemPrincipal, id, func(r *model.ManagedResource) error {
		if r.Status == model.StatusDeleting {
			return nil
		}
		if server == nil {
			log.Warn("the upstream server no longer exists")
			r.Status = model.StatusError
			return nil
		}
		r.ProviderID = &server.ID
		r.Status = model.StatusFromUpstream(server.Status)
		return nil
	})
	if err != nil {
		return updated, err
	}

	if updated.Status == model.StatusRunning || updated.Status == model.StatusStopped {
		if n, err := c.store.CompleteBackups(ctx, id); err != nil {
			log.Errorf("unable to complete pending backups: %s", err)
		} else if n > 0 {
			log.Infof("marked %d backups as available", n)
		}
	}

	return updated, nil
}

// adoptable returns the upstream server created for a resource, matched on the resource ID label sent with the
// create. A server already recorded by another live resource is never returned.
func (c *Coordinator) adoptable(ctx context.Context, r *model.ManagedResource) (*gateway.Server, error) {
	servers, err := c.gateway.ListServers(ctx, model.SystemPrincipal)
	if err != nil {
		return nil, err
	}
	for i := range servers {
		if servers[i].Labels[LabelResourceID] != r.ID {
			continue
		}
		holder, err := c.store.GetResourceByProviderID(ctx, servers[i].ID)
		if err != nil {
			return nil, errors.Wrap(err, "unable to look up the resource holding the upstream server")
		}
		if holder != nil && holder.ID != r.ID {
			log.WithFields(logrus.Fields{"context": "sync", "resource": r.ID}).Warnf(
				"upstream server %d already belongs to resource %s", servers[i].ID, holder.ID,
			)
			return nil, nil
		}
		return &servers[i], nil
	}
	return nil, nil
}

// Get returns a single resource visible to the principal.
func (c *Coordinator) Get(ctx context.Context, p model.Principal, id string) (*model.ManagedResource, error) {
	return c.lookup(ctx, p, id, false)
}

// List returns the resources visible to the principal. Privileged principals see every resource and may ask for soft
// deleted ones; the owner and deleted flags of the filter are ignored for everybody else.
func (c *Coordinator) List(ctx context.Context, p model.Principal, filter model.ResourceFilter) ([]model.ManagedResource, error) {
	if p.IsPrivileged() {
		filter.OwnerID = ""
	} else {
		filter = model.ResourceFilter{OwnerID: p.ID}
	}
	resources, err := c.store.ListResources(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list resources")
	}
	return resources, nil
}

// Metrics returns the current upstream metrics for a resource and records them as samples.
func (c *Coordinator) Metrics(ctx context.Context, p model.Principal, id string) (*gateway.Metrics, error) {
	r, err := c.lookup(ctx, p, id, false)
	if err != nil {
		return nil, err
	}
	if r.ProviderID == nil {
		return nil, NewPolicyViolation(ReasonNotProvisioned, "resource %s hasn't been provisioned", r.ID)
	}

	metrics, err := c.gateway.Metrics(ctx, p, *r.ProviderID)
	if err != nil {
		return nil, err
	}

	sampledAt := c.clock.Now().UTC()
	if metrics.Timestamp != nil {
		sampledAt = metrics.Timestamp.UTC()
	}
	var samples []model.MetricSample
	for name, value := range map[string]*float64{
		"cpu":         metrics.CPUUsage,
		"memory":      metrics.MemoryUsage,
		"disk":        metrics.DiskUsage,
		"network_in":  metrics.NetworkIn,
		"network_out": metrics.NetworkOut,
	} {
		if value != nil {
			samples = append(samples, model.MetricSample{ResourceID: r.ID, Type: name, Value: *value, SampledAt: sampledAt})
		}
	}
	if len(samples) > 0 {
		if err := c.store.SaveMetricSamples(ctx, samples); err != nil {
			log.WithFields(logrus.Fields{"context": "metrics", "resource": r.ID}).Errorf("unable to record samples: %s", err)
		}
	}

	return metrics, nil
}

// Usage returns the usage intervals recorded for a resource.
func (c *Coordinator) Usage(ctx context.Context, p model.Principal, id string) ([]model.UsageInterval, error) {
	if _, err := c.lookup(ctx, p, id, true); err != nil {
		return nil, err
	}
	return c.ledger.Intervals(ctx, id)
}

// Quota returns the number of resources a principal currently holds.
func (c *Coordinator) Quota(ctx context.Context, ownerID string) (int64, error) {
	return c.store.GetQuotaUsage(ctx, ownerID, model.ResourceTypeServer)
}

// invalidate flushes every cached view of a resource and its owner.
func (c *Coordinator) invalidate(r *model.ManagedResource) {
	if c.cache == nil {
		return
	}
	tags := []string{cache.UserTag(r.OwnerID), cache.ResourceTag(r.ID), cache.TagServers}
	if r.OrganizationID != nil {
		tags = append(tags, cache.OrganizationTag(*r.OrganizationID))
	}
	if r.ProviderID != nil {
		tags = append(tags, cache.ResourceTag(strconv.FormatInt(*r.ProviderID, 10)))
	}
	for _, tag := range tags {
		if err := c.cache.InvalidateTag(tag); err != nil {
			log.WithFields(logrus.Fields{"context": "invalidate", "tag": tag}).Errorf("unable to invalidate: %s", err)
		}
	}
}

// scheduleSync schedules a reconciliation of the resource, replacing any that's already pending.
func (c *Coordinator) scheduleSync(id string) {
	c.scheduler.Schedule(jobs.Key(JobSync, id), c.settings.ReconcileDelay, func(ctx context.Context) error {
		_, err := c.Sync(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
}

// scheduleBackups starts the daily backup job for the resource.
func (c *Coordinator) scheduleBackups(id string, now time.Time) {
	first := jobs.NextDailyBoundary(now)
	c.scheduler.ScheduleRecurring(jobs.Key(JobBackup, id), first, c.settings.BackupInterval, func(ctx context.Context) error {
		return c.Backup(ctx, id)
	})
}

// Resume reschedules the follow-up work of every live resource after a restart: daily backups for resources that
// have them enabled and a reconciliation for resources still waiting on the provider. It returns the number of
// resources that had work scheduled.
func (c *Coordinator) Resume(ctx context.Context) (int, error) {
	resources, err := c.store.ListResources(ctx, model.ResourceFilter{})
	if err != nil {
		return 0, errors.Wrap(err, "unable to list resources")
	}

	now := c.clock.Now()
	count := 0
	for _, r := range resources {
		scheduled := false
		if r.BackupEnabled {
			c.scheduleBackups(r.ID, now)
			scheduled = true
		}
		awaitingProvider := r.ProviderID == nil && r.Labels[LabelProvisioning] != ProvisioningRejected
		if awaitingProvider || r.Status == model.StatusProvisioning || r.Status == model.StatusDeleting {
			c.scheduleSync(r.ID)
			scheduled = true
		}
		if scheduled {
			count++
		}
	}
	return count, nil
}

// Backup asks the upstream gateway for a backup image of the resource and records it.
func (c *Coordinator) Backup(ctx context.Context, id string) error {
	r, err := c.store.GetResource(ctx, id, false)
	if err != nil {
		return errors.Wrap(err, "unable to look up the resource")
	}
	if r == nil || !r.BackupEnabled || r.ProviderID == nil {
		return nil
	}

	now := c.clock.Now().UTC()
	description := fmt.Sprintf("%s-%s", r.Name, now.Format("20060102"))
	action, err := c.gateway.CreateBackup(ctx, model.SystemPrincipal, *r.ProviderID, description)
	if err != nil {
		return err
	}

	status := model.BackupStatusCreating
	switch action.Status {
	case "success":
		status = model.BackupStatusAvailable
	case "error":
		status = model.BackupStatusFailed
	}
	backup := &model.Backup{ID: uuid.NewString(), ResourceID: id, Status: status, CreatedAt: now}
	if err := c.store.CreateBackup(ctx, backup); err != nil {
		return errors.Wrap(err, "unable to record the backup")
	}
	if status == model.BackupStatusCreating {
		c.scheduleSync(id)
	}
	return nil
}
