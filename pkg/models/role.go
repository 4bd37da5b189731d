package models

// Role is the closed enumeration of caller roles on the platform.
type Role string

const (
	RoleAdmin     Role = "admin"
	RolePrincipal Role = "principal"
	RoleTeacher   Role = "teacher"
	RoleParent    Role = "parent"
	RoleUnknown   Role = "unknown"
)

// DataDomain names a class of platform data for scope checks.
type DataDomain string

const (
	DomainUsers     DataDomain = "users"
	DomainFinancial DataDomain = "financial"
	DomainSystem    DataDomain = "system"
)

// AccessScope is the breadth of access a role holds over one data domain.
type AccessScope string

const (
	// ScopeNone grants no access to the domain.
	ScopeNone AccessScope = "none"

	// ScopeOwn limits access to records owned by the caller.
	ScopeOwn AccessScope = "own"

	// ScopeScoped limits access to the caller's assigned scope
	// (a teacher's own classes, for example).
	ScopeScoped AccessScope = "scoped"

	// ScopeAll grants unrestricted access to the domain.
	ScopeAll AccessScope = "all"
)

// RoleProfile is the resolved permission profile for a caller. It is derived
// once per request from the static role table and is read-only afterwards.
type RoleProfile struct {
	Role Role `json:"role" yaml:"role"`

	// PermissionLevel orders roles by privilege; higher is more privileged.
	PermissionLevel int `json:"permission_level" yaml:"permission_level"`

	// DataAccess maps each data domain to the scope this role holds.
	DataAccess map[DataDomain]AccessScope `json:"data_access" yaml:"data_access"`
}

// Access returns the scope for a domain, defaulting to ScopeNone.
func (p RoleProfile) Access(domain DataDomain) AccessScope {
	if p.DataAccess == nil {
		return ScopeNone
	}
	if scope, ok := p.DataAccess[domain]; ok {
		return scope
	}
	return ScopeNone
}

// Violation tags attached to denials for audit records.
const (
	ViolationSensitiveOperation = "sensitive_operation"
	ViolationDataScope          = "data_scope_violation"
	ViolationCrossEntity        = "cross_entity_access"
)

// SecurityVerdict is the outcome of the permission gate for one request.
// A verdict with Allowed=false terminates the turn before any model call.
type SecurityVerdict struct {
	Allowed bool `json:"allowed"`

	// Reason is a user-facing explanation, set only on denial.
	Reason string `json:"reason,omitempty"`

	Role            Role `json:"role"`
	PermissionLevel int  `json:"permission_level"`

	// Violation is a machine-readable tag for the audit sink, set only
	// on denial.
	Violation string `json:"violation,omitempty"`
}
