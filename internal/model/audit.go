package model

import "time"

// Audit actions.
const (
	AuditActionCreated  = "resource.created"
	AuditActionUpdated  = "resource.updated"
	AuditActionDeleted  = "resource.deleted"
	AuditActionRestored = "resource.restored"
)

// AuditEntry records a single change to a managed resource.
//
// swagger:model
type AuditEntry struct {
	ID          *string   `gorm:"type:uuid;default:uuid_generate_v1()" json:"id"`
	PrincipalID string    `gorm:"not null" json:"principal_id"`
	ResourceID  string    `gorm:"type:uuid;not null;index" json:"resource_id"`
	Action      string    `gorm:"type:text;not null" json:"action"`
	OldValues   Labels    `gorm:"type:jsonb" json:"old_values,omitempty"`
	NewValues   Labels    `gorm:"type:jsonb" json:"new_values,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name to use the database.
func (a *AuditEntry) TableName() string {
	return "audit_entries"
}
