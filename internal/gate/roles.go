package gate

import (
	"strings"

	"github.com/kitaworks/agentcore/pkg/models"
)

// roleSynonyms folds free-form role strings onto the closed enumeration.
// Matching is case-insensitive.
var roleSynonyms = map[string]models.Role{
	"admin":          models.RoleAdmin,
	"administrator":  models.RoleAdmin,
	"superadmin":     models.RoleAdmin,
	"principal":      models.RolePrincipal,
	"headmaster":     models.RolePrincipal,
	"director":       models.RolePrincipal,
	"teacher":        models.RoleTeacher,
	"educator":       models.RoleTeacher,
	"staff":          models.RoleTeacher,
	"parent":         models.RoleParent,
	"guardian":       models.RoleParent,
	"family":         models.RoleParent,
}

// defaultProfiles is the built-in role→profile table, used when the
// configuration does not supply one. Permission levels order the roles;
// only the top tier may run sensitive operations.
func defaultProfiles() map[models.Role]models.RoleProfile {
	return map[models.Role]models.RoleProfile{
		models.RoleAdmin: {
			Role:            models.RoleAdmin,
			PermissionLevel: 100,
			DataAccess: map[models.DataDomain]models.AccessScope{
				models.DomainUsers:     models.ScopeAll,
				models.DomainFinancial: models.ScopeAll,
				models.DomainSystem:    models.ScopeAll,
			},
		},
		models.RolePrincipal: {
			Role:            models.RolePrincipal,
			PermissionLevel: 80,
			DataAccess: map[models.DataDomain]models.AccessScope{
				models.DomainUsers:     models.ScopeAll,
				models.DomainFinancial: models.ScopeScoped,
				models.DomainSystem:    models.ScopeNone,
			},
		},
		models.RoleTeacher: {
			Role:            models.RoleTeacher,
			PermissionLevel: 50,
			DataAccess: map[models.DataDomain]models.AccessScope{
				models.DomainUsers:     models.ScopeScoped,
				models.DomainFinancial: models.ScopeNone,
				models.DomainSystem:    models.ScopeNone,
			},
		},
		models.RoleParent: {
			Role:            models.RoleParent,
			PermissionLevel: 20,
			DataAccess: map[models.DataDomain]models.AccessScope{
				models.DomainUsers:     models.ScopeOwn,
				models.DomainFinancial: models.ScopeOwn,
				models.DomainSystem:    models.ScopeNone,
			},
		},
		models.RoleUnknown: {
			Role:            models.RoleUnknown,
			PermissionLevel: 0,
			DataAccess: map[models.DataDomain]models.AccessScope{
				models.DomainUsers:     models.ScopeNone,
				models.DomainFinancial: models.ScopeNone,
				models.DomainSystem:    models.ScopeNone,
			},
		},
	}
}

// normalizeRole folds a free-form role string to the closed enumeration.
// Unrecognized values map to RoleUnknown; callers never escalate silently.
func normalizeRole(raw string) (models.Role, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if role, ok := roleSynonyms[key]; ok {
		return role, true
	}
	// Exact enum values pass through.
	switch models.Role(key) {
	case models.RoleAdmin, models.RolePrincipal, models.RoleTeacher, models.RoleParent:
		return models.Role(key), true
	}
	return models.RoleUnknown, false
}
