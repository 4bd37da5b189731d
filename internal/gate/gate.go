// Package gate enforces the layered data-access policy that runs before any
// model turn or tool call. Checks are ordered and short-circuit: role
// resolution, sensitive operations, per-domain data scope, then
// role-specific cross-entity over-reach. Every denial carries a violation
// tag for the audit sink.
package gate

import (
	"log/slog"
	"strings"

	"github.com/kitaworks/agentcore/pkg/models"
)

// sensitivePatterns are high-risk phrases only the top privilege tier may
// issue: system reconfiguration, bulk deletion, privilege and credential
// changes.
var sensitivePatterns = []string{
	"delete all",
	"drop table",
	"reset the system",
	"system settings",
	"reconfigure",
	"factory reset",
	"change password",
	"reset password",
	"grant admin",
	"revoke access",
	"modify permissions",
	"change role",
	"bulk delete",
	"wipe",
}

// domainPatterns map phrases in request text to the data domain they touch.
var domainPatterns = map[models.DataDomain][]string{
	models.DomainUsers: {
		"all users",
		"every user",
		"user list",
		"list of users",
		"personal data",
		"contact details",
	},
	models.DomainFinancial: {
		"financial records",
		"payment history",
		"invoices",
		"tuition fees",
		"billing",
		"salaries",
	},
	models.DomainSystem: {
		"system logs",
		"server configuration",
		"database schema",
		"environment variables",
		"api keys",
	},
}

// crossEntityPatterns catch role-specific over-reach phrasing: requests
// whose breadth exceeds what the role could ever see, regardless of domain
// scope.
var crossEntityPatterns = map[models.Role][]string{
	models.RoleTeacher: {
		"all classes",
		"other classes",
		"all groups",
		"every class",
	},
	models.RoleParent: {
		"all students",
		"all children",
		"other children",
		"every student",
		"all parents",
	},
}

// Gate evaluates the ordered security policy for one request.
type Gate struct {
	profiles map[models.Role]models.RoleProfile
	patterns []string
	logger   *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithProfiles replaces the built-in role→profile table.
func WithProfiles(profiles map[models.Role]models.RoleProfile) Option {
	return func(g *Gate) {
		if len(profiles) > 0 {
			g.profiles = profiles
		}
	}
}

// WithExtraSensitivePatterns appends configured phrases to the built-in
// sensitive-operation list.
func WithExtraSensitivePatterns(patterns []string) Option {
	return func(g *Gate) {
		for _, p := range patterns {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				g.patterns = append(g.patterns, p)
			}
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a permission gate with the built-in tables unless overridden.
func New(opts ...Option) *Gate {
	g := &Gate{
		profiles: defaultProfiles(),
		patterns: append([]string(nil), sensitivePatterns...),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// topTierLevel returns the highest permission level in the profile table.
func (g *Gate) topTierLevel() int {
	top := 0
	for _, p := range g.profiles {
		if p.PermissionLevel > top {
			top = p.PermissionLevel
		}
	}
	return top
}

// Resolve normalizes a free-form role string to a profile. Unknown values
// resolve to the least-privileged profile and log a warning.
func (g *Gate) Resolve(rawRole string) models.RoleProfile {
	role, known := normalizeRole(rawRole)
	if !known {
		g.logger.Warn("unknown role, defaulting to least privilege",
			"role", rawRole,
		)
	}
	if profile, ok := g.profiles[role]; ok {
		return profile
	}
	// Role present in the enum but absent from a configured table.
	g.logger.Warn("role missing from profile table, defaulting to least privilege",
		"role", string(role),
	)
	return g.profiles[models.RoleUnknown]
}

// Check evaluates the ordered policy for one request. The first failing
// check wins; a denial carries the violation tag for the audit sink.
func (g *Gate) Check(req *models.UserRequest) models.SecurityVerdict {
	profile := g.Resolve(req.Role)
	text := strings.ToLower(req.Message)

	allowed := models.SecurityVerdict{
		Allowed:         true,
		Role:            profile.Role,
		PermissionLevel: profile.PermissionLevel,
	}

	// 1. Sensitive operations: top tier only.
	if pattern := matchAny(text, g.patterns); pattern != "" {
		if profile.PermissionLevel < g.topTierLevel() {
			return models.SecurityVerdict{
				Allowed:         false,
				Reason:          "This operation modifies system or account state and requires administrator privileges.",
				Role:            profile.Role,
				PermissionLevel: profile.PermissionLevel,
				Violation:       models.ViolationSensitiveOperation,
			}
		}
	}

	// 2. Data scope: domain-indicative phrasing against the access map.
	for domain, patterns := range domainPatterns {
		if matchAny(text, patterns) == "" {
			continue
		}
		if profile.Access(domain) == models.ScopeNone {
			return models.SecurityVerdict{
				Allowed:         false,
				Reason:          "Your role does not have access to " + string(domain) + " data.",
				Role:            profile.Role,
				PermissionLevel: profile.PermissionLevel,
				Violation:       models.ViolationDataScope,
			}
		}
	}

	// 3. Cross-entity over-reach for the resolved role.
	if patterns, ok := crossEntityPatterns[profile.Role]; ok {
		if matchAny(text, patterns) != "" {
			return models.SecurityVerdict{
				Allowed:         false,
				Reason:          "Your role is limited to your own records and assigned groups.",
				Role:            profile.Role,
				PermissionLevel: profile.PermissionLevel,
				Violation:       models.ViolationCrossEntity,
			}
		}
	}

	return allowed
}

func matchAny(text string, patterns []string) string {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return p
		}
	}
	return ""
}
