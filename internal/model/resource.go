package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// ResourceTypeServer is the quota resource type used for managed compute instances.
const ResourceTypeServer = "server"

// Status is the lifecycle status of a managed resource.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusRunning      Status = "running"
	StatusStopped      Status = "stopped"
	StatusRebuilding   Status = "rebuilding"
	StatusMigrating    Status = "migrating"
	StatusPaused       Status = "paused"
	StatusDeleting     Status = "deleting"
	StatusDeleted      Status = "deleted"
	StatusError        Status = "error"
)

// upstreamStatuses maps the status strings reported by the compute provider to local statuses.
var upstreamStatuses = map[string]Status{
	"initializing": StatusProvisioning,
	"starting":     StatusProvisioning,
	"provisioning": StatusProvisioning,
	"running":      StatusRunning,
	"off":          StatusStopped,
	"stopping":     StatusStopped,
	"stopped":      StatusStopped,
	"rebuilding":   StatusRebuilding,
	"migrating":    StatusMigrating,
	"paused":       StatusPaused,
	"deleting":     StatusDeleting,
}

// StatusFromUpstream converts an upstream status string to a local status. Unknown values map to StatusError.
func StatusFromUpstream(upstream string) Status {
	if status, ok := upstreamStatuses[upstream]; ok {
		return status
	}
	return StatusError
}

// Labels is a set of string labels stored as a JSON object.
type Labels map[string]string

// Value implements driver.Valuer.
func (l Labels) Value() (driver.Value, error) {
	if l == nil {
		return "{}", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *Labels) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = Labels{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported label source type: %T", src)
	}
	result := Labels{}
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}
	*l = result
	return nil
}

// ManagedResource is a compute instance managed on behalf of a principal.
//
// swagger:model
type ManagedResource struct {
	// The local resource identifier
	//
	// readOnly: true
	ID string `gorm:"type:uuid;primaryKey" json:"id"`

	// The identifier assigned by the compute provider, which is null until the provider acknowledges creation
	ProviderID *int64 `gorm:"index" json:"provider_id,omitempty"`

	// The principal that owns the resource
	OwnerID string `gorm:"not null;index" json:"owner_id"`

	// The organization that the resource belongs to, if any
	OrganizationID *string `gorm:"index" json:"organization_id,omitempty"`

	// The display name
	//
	// required: true
	Name string `gorm:"not null" json:"name"`

	// The hostname, derived from the display name if not provided
	Hostname string `json:"hostname"`

	// The current lifecycle status
	Status Status `gorm:"type:text;not null;index" json:"status"`

	// The server type code, for example cx21
	ServerType string `gorm:"not null" json:"server_type"`

	// The provider location code, for example fsn1
	Location string `gorm:"not null" json:"location"`

	// The image the resource was created from
	Image string `json:"image,omitempty"`

	// True if the resource accepts attribute changes from privileged principals only
	Locked bool `gorm:"not null;default:false" json:"locked"`

	// True if daily backups are enabled
	BackupEnabled bool `gorm:"not null;default:false" json:"backup_enabled"`

	// The resource labels
	Labels Labels `gorm:"type:jsonb" json:"labels"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime:false" json:"updated_at"`
	DeletedAt *time.Time `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName specifies the table name to use the database.
func (r *ManagedResource) TableName() string {
	return "managed_resources"
}

// Clone returns a deep copy of the resource.
func (r *ManagedResource) Clone() *ManagedResource {
	c := *r
	if r.ProviderID != nil {
		id := *r.ProviderID
		c.ProviderID = &id
	}
	if r.OrganizationID != nil {
		org := *r.OrganizationID
		c.OrganizationID = &org
	}
	if r.DeletedAt != nil {
		deletedAt := *r.DeletedAt
		c.DeletedAt = &deletedAt
	}
	if r.Labels != nil {
		c.Labels = maps.Clone(r.Labels)
	}
	return &c
}

// IsDeleted returns true if the resource has been soft deleted.
func (r *ManagedResource) IsDeleted() bool {
	return r.DeletedAt != nil
}

// IsRunning returns true if the resource is in the actively billing status.
func (r *ManagedResource) IsRunning() bool {
	return r.Status == StatusRunning
}

// CanModify returns true if the resource is in a status that allows user initiated changes. Locks are checked
// separately since privileged principals may change locked resources.
func (r *ManagedResource) CanModify() bool {
	switch r.Status {
	case StatusDeleting, StatusDeleted, StatusMigrating:
		return false
	default:
		return true
	}
}

// ResourceFilter selects managed resources in listings.
type ResourceFilter struct {
	// OwnerID limits the listing to resources owned by the principal. An empty value lists every owner.
	OwnerID string

	// IncludeDeleted includes soft deleted resources.
	IncludeDeleted bool

	// OnlyDeleted lists soft deleted resources only.
	OnlyDeleted bool
}
