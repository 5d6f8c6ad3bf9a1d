package gateway

import (
	"context"

	"github.com/cyverse/cloudgw/internal/model"
)

// ListServers returns the servers visible to the principal.
func (c *Client) ListServers(ctx context.Context, p model.Principal) ([]Server, error) {
	var result ServerList
	if err := c.Execute(ctx, OpList, p, Payload{}, &result); err != nil {
		return nil, err
	}
	return result.Servers, nil
}

// GetServer returns a single server.
func (c *Client) GetServer(ctx context.Context, p model.Principal, serverID int64) (*Server, error) {
	var result Server
	if err := c.Execute(ctx, OpGet, p, Payload{ServerID: serverID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateServer asks the upstream gateway to provision a new server. A timeout may still leave a server behind
// upstream; reconciliation adopts such servers by name.
func (c *Client) CreateServer(ctx context.Context, p model.Principal, req *CreateServerRequest) (*Server, error) {
	var result Server
	if err := c.Execute(ctx, OpCreate, p, Payload{Body: req}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteServer asks the upstream gateway to remove a server.
func (c *Client) DeleteServer(ctx context.Context, p model.Principal, serverID int64) error {
	return c.Execute(ctx, OpDelete, p, Payload{ServerID: serverID}, nil)
}

// Power runs a power action on a server.
func (c *Client) Power(ctx context.Context, p model.Principal, serverID int64, action string, force bool) (*PowerResponse, error) {
	var result PowerResponse
	payload := Payload{ServerID: serverID, Body: &PowerRequest{Action: action, Force: force}}
	if err := c.Execute(ctx, OpPower, p, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Metrics returns the current metrics for a server.
func (c *Client) Metrics(ctx context.Context, p model.Principal, serverID int64) (*Metrics, error) {
	var result Metrics
	if err := c.Execute(ctx, OpMetrics, p, Payload{ServerID: serverID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ServerTypes returns the server type catalog.
func (c *Client) ServerTypes(ctx context.Context, p model.Principal) ([]ServerType, error) {
	var result []ServerType
	if err := c.Execute(ctx, OpServerTypes, p, Payload{}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Locations returns the location catalog.
func (c *Client) Locations(ctx context.Context, p model.Principal) ([]Location, error) {
	var result []Location
	if err := c.Execute(ctx, OpLocations, p, Payload{}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateBackup asks the upstream gateway to create a backup image of a server.
func (c *Client) CreateBackup(ctx context.Context, p model.Principal, serverID int64, description string) (*ActionResponse, error) {
	var result ActionResponse
	payload := Payload{ServerID: serverID, Body: &ActionRequest{Type: "create_image", Description: description}}
	if err := c.Execute(ctx, OpBackup, p, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
