package model

// Principal roles.
const (
	RoleClient   = "client"
	RoleReadOnly = "readonly"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

// Principal identifies the actor on whose behalf an operation is performed.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// SystemPrincipal is the actor used for internally triggered operations such as reconciliation.
var SystemPrincipal = Principal{ID: "system", Email: "system@cloudgw.local", Role: RoleSystem}

// IsPrivileged returns true if the principal may modify locked resources.
func (p Principal) IsPrivileged() bool {
	return p.Role == RoleAdmin || p.Role == RoleSystem
}

// IsAdmin returns true if the principal is an administrator.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanAccess returns true if the principal may act on the given resource.
func (p Principal) CanAccess(r *ManagedResource) bool {
	return p.IsPrivileged() || r.OwnerID == p.ID
}
