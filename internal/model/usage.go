package model

import "time"

// MetricComputeHours is the metric type used for billable compute time.
const MetricComputeHours = "compute_hours"

// UsageInterval defines a single open or closed metering period for a resource.
//
// swagger:model
type UsageInterval struct {
	// The usage interval identifier
	//
	// readOnly: true
	ID string `gorm:"type:uuid;primaryKey" json:"id"`

	// The resource being metered
	ResourceID string `gorm:"type:uuid;not null;index" json:"resource_id"`

	// The owner of the resource at the time the interval was opened
	OwnerID string `gorm:"not null;index" json:"owner_id"`

	// The metric type
	Metric string `gorm:"not null" json:"metric"`

	// The start of the interval
	StartedAt time.Time `gorm:"not null" json:"started_at"`

	// The end of the interval, which is null while the interval is open
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// The accumulated quantity, in whole hours for compute time
	Quantity int64 `gorm:"not null;default:0" json:"quantity"`

	// The unit price in effect when the interval was opened
	UnitPrice float64 `gorm:"type:decimal(16,10);not null" json:"unit_price"`

	// The computed cost of the interval
	Cost float64 `gorm:"type:decimal(16,4);not null;default:0" json:"cost"`

	// True once the interval has been closed
	Closed bool `gorm:"not null;default:false" json:"closed"`

	// Descriptive details captured when the interval was opened
	Metadata Labels `gorm:"type:jsonb" json:"metadata,omitempty"`
}

// TableName specifies the table name to use the database.
func (u *UsageInterval) TableName() string {
	return "usage_intervals"
}
