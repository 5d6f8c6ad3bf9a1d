package model

import (
	"fmt"
	"time"
)

// ServerType describes a purchasable instance size along with its hourly price history.
//
// swagger:model
type ServerType struct {
	// The server type identifier
	//
	// readOnly: true
	ID *string `gorm:"type:uuid;default:uuid_generate_v1()" json:"id,omitempty"`

	// The provider code for the server type, for example cx21
	//
	// required: true
	Name string `gorm:"not null;unique" json:"name"`

	// A brief description of the server type
	Description string `json:"description,omitempty"`

	// The number of virtual CPU cores
	Cores int `json:"cores"`

	// The amount of memory in gigabytes
	MemoryGB float64 `gorm:"column:memory_gb" json:"memory"`

	// The disk size in gigabytes
	DiskGB int `gorm:"column:disk_gb" json:"disk"`

	// The price history for the server type
	Prices []ServerTypePrice `json:"prices,omitempty"`
}

// TableName specifies the table name to use the database.
func (t *ServerType) TableName() string {
	return "server_types"
}

// ServerTypePrice is the hourly price of a server type in a location starting at an effective date. An empty
// location applies to every location that doesn't have its own price.
//
// swagger:model
type ServerTypePrice struct {
	// The price identifier
	//
	// readOnly: true
	ID *string `gorm:"type:uuid;default:uuid_generate_v1()" json:"id,omitempty"`

	// The server type ID
	ServerTypeID *string `gorm:"type:uuid;not null" json:"-"`

	// The location code
	Location string `gorm:"not null;default:''" json:"location"`

	// The date that the price becomes effective
	EffectiveDate time.Time `json:"effective_date"`

	// The hourly price
	PriceHourly float64 `gorm:"type:decimal(10,4);not null" json:"price_hourly"`
}

// TableName specifies the table name to use the database.
func (p *ServerTypePrice) TableName() string {
	return "server_type_prices"
}

// ActivePrice returns the price in effect for a location at the given time. A price specific to the location wins over
// the default price. This function assumes that the prices are sorted in ascending order by effective date.
func (t *ServerType) ActivePrice(location string, at time.Time) (*ServerTypePrice, error) {
	var locationPrice, defaultPrice *ServerTypePrice
	for i := range t.Prices {
		p := &t.Prices[i]
		if p.EffectiveDate.After(at) {
			break
		}
		switch p.Location {
		case location:
			locationPrice = p
		case "":
			defaultPrice = p
		}
	}

	if locationPrice != nil {
		return locationPrice, nil
	}
	if defaultPrice != nil {
		return defaultPrice, nil
	}
	return nil, fmt.Errorf("no active price found for server type %s in location %s", t.Name, location)
}
