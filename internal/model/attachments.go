package model

import "time"

// Backup statuses.
const (
	BackupStatusCreating  = "creating"
	BackupStatusAvailable = "available"
	BackupStatusFailed    = "failed"
)

// Association kinds.
const (
	AssociationSSHKey   = "ssh_key"
	AssociationNetwork  = "network"
	AssociationFirewall = "firewall"
)

// Backup is a point-in-time image of a managed resource.
type Backup struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	ResourceID string    `gorm:"type:uuid;not null;index" json:"resource_id"`
	Status     string    `gorm:"type:text;not null" json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name to use the database.
func (b *Backup) TableName() string {
	return "backups"
}

// Volume is a block storage volume that may be attached to a managed resource.
type Volume struct {
	ID         string  `gorm:"type:uuid;primaryKey" json:"id"`
	ResourceID *string `gorm:"type:uuid;index" json:"resource_id,omitempty"`
	Name       string  `gorm:"not null" json:"name"`
	SizeGB     int     `gorm:"column:size_gb;not null" json:"size_gb"`
}

// TableName specifies the table name to use the database.
func (v *Volume) TableName() string {
	return "volumes"
}

// Association links a managed resource to an SSH key, network or firewall.
type Association struct {
	ResourceID string `gorm:"type:uuid;primaryKey" json:"resource_id"`
	Kind       string `gorm:"type:text;primaryKey" json:"kind"`
	TargetID   string `gorm:"primaryKey" json:"target_id"`
}

// TableName specifies the table name to use the database.
func (a *Association) TableName() string {
	return "resource_associations"
}

// MetricSample is a single metric value reported by the compute provider.
type MetricSample struct {
	ID         *string   `gorm:"type:uuid;default:uuid_generate_v1()" json:"-"`
	ResourceID string    `gorm:"type:uuid;not null;index" json:"resource_id"`
	Type       string    `gorm:"not null" json:"type"`
	Value      float64   `gorm:"not null" json:"value"`
	SampledAt  time.Time `gorm:"not null" json:"sampled_at"`
}

// TableName specifies the table name to use the database.
func (m *MetricSample) TableName() string {
	return "metric_samples"
}
