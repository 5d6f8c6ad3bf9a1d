package model

import "time"

// QuotaUsage records how many resources of a given type a principal currently holds.
type QuotaUsage struct {
	ID             *string    `gorm:"type:uuid;default:uuid_generate_v1()" json:"id"`
	OwnerID        string     `gorm:"not null;index:quota_usage_owner_resourcetype,unique" json:"owner_id"`
	ResourceType   string     `gorm:"not null;index:quota_usage_owner_resourcetype,unique" json:"resource_type"`
	Usage          int64      `gorm:"not null;default:0" json:"usage"`
	LastModifiedAt *time.Time `json:"last_modified_at"`
}

// TableName specifies the table name to use the database.
func (q *QuotaUsage) TableName() string {
	return "quota_usages"
}
