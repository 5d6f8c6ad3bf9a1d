package gateway

import "time"

// Operation identifies an upstream gateway operation.
type Operation string

const (
	OpList        Operation = "list"
	OpGet         Operation = "get"
	OpCreate      Operation = "create"
	OpDelete      Operation = "delete"
	OpPower       Operation = "power"
	OpMetrics     Operation = "metrics"
	OpServerTypes Operation = "server-types"
	OpLocations   Operation = "locations"
	OpBackup      Operation = "backup"
)

// IsRead returns true for operations whose results may be cached.
func (o Operation) IsRead() bool {
	switch o {
	case OpList, OpGet, OpMetrics, OpServerTypes, OpLocations:
		return true
	default:
		return false
	}
}

// IsMutation returns true for operations that change upstream state.
func (o Operation) IsMutation() bool {
	switch o {
	case OpCreate, OpDelete, OpPower, OpBackup:
		return true
	default:
		return false
	}
}

// Payload carries the inputs of a gateway operation.
type Payload struct {
	// ServerID is the upstream identifier of the server the operation applies to.
	ServerID int64

	// Body is encoded as the JSON request body when it's not nil.
	Body interface{}
}

// Server is a compute instance as reported by the upstream gateway.
type Server struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Status      string            `json:"status"`
	ServerType  string            `json:"server_type"`
	Location    string            `json:"location"`
	Image       string            `json:"image,omitempty"`
	IPv4Address string            `json:"ipv4_address,omitempty"`
	IPv6Address string            `json:"ipv6_address,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ServerList is the response body of the list operation.
type ServerList struct {
	Servers []Server `json:"servers"`
	Count   int      `json:"count"`
}

// CreateServerRequest is the request body of the create operation.
type CreateServerRequest struct {
	Name          string            `json:"name"`
	ServerType    string            `json:"server_type"`
	Location      string            `json:"location"`
	Image         string            `json:"image,omitempty"`
	SSHKeys       []string          `json:"ssh_keys,omitempty"`
	UserData      string            `json:"user_data,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	EnableBackups bool              `json:"enable_backups"`
}

// PowerRequest is the request body of the power operation.
type PowerRequest struct {
	Action string `json:"action"`
	Force  bool   `json:"force"`
}

// PowerResponse is the response body of the power operation.
type PowerResponse struct {
	ServerID int64  `json:"server_id"`
	Action   string `json:"action"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	ActionID *int64 `json:"action_id,omitempty"`
}

// Metrics is the response body of the metrics operation.
type Metrics struct {
	ServerID    int64      `json:"server_id"`
	CPUUsage    *float64   `json:"cpu_usage,omitempty"`
	MemoryUsage *float64   `json:"memory_usage,omitempty"`
	DiskUsage   *float64   `json:"disk_usage,omitempty"`
	NetworkIn   *float64   `json:"network_in,omitempty"`
	NetworkOut  *float64   `json:"network_out,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// Price is the hourly price of a server type in a location.
type Price struct {
	Location    string  `json:"location"`
	PriceHourly float64 `json:"price_hourly"`
}

// ServerType is an instance size offered by the upstream gateway.
type ServerType struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Cores       int     `json:"cores"`
	Memory      float64 `json:"memory"`
	Disk        int     `json:"disk"`
	Prices      []Price `json:"prices"`
}

// Location is a data center location offered by the upstream gateway.
type Location struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Country     string `json:"country"`
	City        string `json:"city"`
	NetworkZone string `json:"network_zone"`
}

// ActionRequest is the request body of a server action such as creating a backup image.
type ActionRequest struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ActionResponse describes an upstream server action.
type ActionResponse struct {
	ID       int64  `json:"id"`
	Command  string `json:"command"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}
