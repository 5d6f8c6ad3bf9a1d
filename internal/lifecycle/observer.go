package lifecycle

import (
	"context"
	"time"

	"github.com/cyverse/cloudgw/internal/model"
)

// Event describes a resource mutation as seen by observers.
type Event struct {
	// Principal is the actor performing the mutation.
	Principal model.Principal

	// Resource is the state being written. Observers may modify it in the Creating and Updating hooks.
	Resource *model.ManagedResource

	// Original is the persisted state before the mutation. It's nil for newly created resources.
	Original *model.ManagedResource

	// At is the time of the mutation.
	At time.Time
}

// StatusChanged returns true if the mutation changes the resource status.
func (e *Event) StatusChanged() bool {
	return e.Original != nil && e.Original.Status != e.Resource.Status
}

// Observer receives resource lifecycle hooks. The hooks whose names end in "ing" run before the mutation is
// persisted and may refuse it by returning an error. The remaining hooks run after the mutation is persisted;
// their errors are logged and reported to the caller, but the mutation stands.
type Observer interface {
	Creating(ctx context.Context, e *Event) error
	Created(ctx context.Context, e *Event) error
	Updating(ctx context.Context, e *Event) error
	Updated(ctx context.Context, e *Event) error
	Deleting(ctx context.Context, e *Event) error
	Deleted(ctx context.Context, e *Event) error
	Restored(ctx context.Context, e *Event) error
	ForceDeleted(ctx context.Context, e *Event) error
}

// Base implements every Observer hook as a no-op. Embed it to implement only the hooks you need.
type Base struct{}

func (Base) Creating(context.Context, *Event) error     { return nil }
func (Base) Created(context.Context, *Event) error      { return nil }
func (Base) Updating(context.Context, *Event) error     { return nil }
func (Base) Updated(context.Context, *Event) error      { return nil }
func (Base) Deleting(context.Context, *Event) error     { return nil }
func (Base) Deleted(context.Context, *Event) error      { return nil }
func (Base) Restored(context.Context, *Event) error     { return nil }
func (Base) ForceDeleted(context.Context, *Event) error { return nil }

// hook selects one observer method.
type hook struct {
	name   string
	invoke func(o Observer, ctx context.Context, e *Event) error
}

var (
	hookCreating     = hook{"creating", Observer.Creating}
	hookCreated      = hook{"created", Observer.Created}
	hookUpdating     = hook{"updating", Observer.Updating}
	hookUpdated      = hook{"updated", Observer.Updated}
	hookDeleting     = hook{"deleting", Observer.Deleting}
	hookDeleted      = hook{"deleted", Observer.Deleted}
	hookRestored     = hook{"restored", Observer.Restored}
	hookForceDeleted = hook{"force-deleted", Observer.ForceDeleted}
)
