package httpmodel

import (
	"github.com/cyverse/cloudgw/internal/lifecycle"
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/go-playground/validator/v10"
)

// Note: the names in the comments may deviate a bit from the actual structure names in order to avoid producing
// confusing Swagger docs.

// Define a single validator to do all of the validations for us.
var v = validator.New()

// NewResource
//
// swagger:model
type NewResource struct {

	// The display name of the resource
	//
	// required: true
	Name string `json:"name" validate:"required,max=63"`

	// The hostname, derived from the name if omitted
	Hostname string `json:"hostname" validate:"omitempty,hostname_rfc1123"`

	// The server type code, for example cx21
	//
	// required: true
	ServerType string `json:"server_type" validate:"required"`

	// The location code, for example fsn1
	//
	// required: true
	Location string `json:"location" validate:"required"`

	// The image to create the resource from
	Image string `json:"image"`

	// The organization that the resource belongs to
	OrganizationID *string `json:"organization_id" validate:"omitempty,uuid"`

	// The resource labels
	Labels map[string]string `json:"labels" validate:"max=64"`

	// The SSH keys to install
	SSHKeys []string `json:"ssh_keys"`

	// True if daily backups should be enabled
	BackupEnabled bool `json:"backup_enabled"`
}

// Validate verifies that all the required fields in a new resource are present.
func (r NewResource) Validate() error {
	return v.Struct(r)
}

// ToLifecycle converts the request body to the form accepted by the lifecycle coordinator.
func (r NewResource) ToLifecycle() *lifecycle.NewResource {
	return &lifecycle.NewResource{
		Name:           r.Name,
		Hostname:       r.Hostname,
		ServerType:     r.ServerType,
		Location:       r.Location,
		Image:          r.Image,
		OrganizationID: r.OrganizationID,
		Labels:         model.Labels(r.Labels),
		SSHKeys:        r.SSHKeys,
		BackupEnabled:  r.BackupEnabled,
	}
}

// ResourceUpdate
//
// swagger:model
type ResourceUpdate struct {

	// The new display name
	Name *string `json:"name" validate:"omitempty,min=1,max=63"`

	// Labels to add or replace; an empty value removes the label
	Labels map[string]string `json:"labels" validate:"max=64"`

	// True if the resource should be locked; administrators only
	Locked *bool `json:"locked"`

	// True if daily backups should be enabled
	BackupEnabled *bool `json:"backup_enabled"`
}

// Validate verifies the fields of a resource update.
func (u ResourceUpdate) Validate() error {
	return v.Struct(u)
}

// ToLifecycle converts the request body to the form accepted by the lifecycle coordinator.
func (u ResourceUpdate) ToLifecycle() *lifecycle.Changes {
	return &lifecycle.Changes{
		Name:          u.Name,
		Labels:        model.Labels(u.Labels),
		Locked:        u.Locked,
		BackupEnabled: u.BackupEnabled,
	}
}

// PowerRequest
//
// swagger:model
type PowerRequest struct {

	// The power action
	//
	// required: true
	// enum: poweron,start,poweroff,shutdown,stop,reboot,reset
	Action string `json:"action" validate:"required,oneof=poweron start poweroff shutdown stop reboot reset"`

	// True if the action should be forced
	Force bool `json:"force"`
}

// Validate verifies the fields of a power request.
func (p PowerRequest) Validate() error {
	return v.Struct(p)
}
