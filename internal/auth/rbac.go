package auth

import (
	"context"
	"errors"
	"sort"

	"campusgrid.org/internal/audit"
)

// Role names a static permission grouping. Roles outside this set resolve
// to the empty permission set: deny by default, no fall-through.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
	RoleStaff      Role = "staff"
)

// Permission keys enforced across the platform.
const (
	PermReadUsers      = "read:users"
	PermWriteUsers     = "write:users"
	PermDeleteUsers    = "delete:users"
	PermReadAuditLogs  = "read:audit_logs"
	PermReadFinances   = "read:finances"
	PermWriteFinances  = "write:finances"
	PermReadStudents   = "read:students"
	PermWriteStudents  = "write:students"
	PermReadCurricula  = "read:curriculum"
	PermWriteCurricula = "write:curriculum"
	PermReadGrades     = "read:grades"
	PermReadProfile    = "read:profile"
	PermWriteProfile   = "write:profile"
	PermReadAll        = "read:all"
	PermWriteFinance   = "write:finance"
	PermWriteStaff     = "write:staff"
)

var rolePermissions = map[Role][]string{
	RoleAdmin: {
		PermReadUsers,
		PermWriteUsers,
		PermDeleteUsers,
		PermReadAuditLogs,
		PermReadFinances,
		PermWriteFinances,
	},
	RoleInstructor: {
		PermReadStudents,
		PermWriteStudents,
		PermReadCurricula,
		PermWriteCurricula,
		PermReadGrades,
	},
	RoleStudent: {
		PermReadProfile,
		PermWriteProfile,
		PermReadGrades,
		PermReadCurricula,
	},
	RoleStaff: {
		PermReadAll,
		PermWriteFinance,
		PermWriteStaff,
	},
}

// KnownRole reports whether the role appears in the permission table.
func KnownRole(role Role) bool {
	_, ok := rolePermissions[role]
	return ok
}

// PermissionsFor resolves a role to its permission set. Unknown roles get
// an empty (non-nil) set.
func PermissionsFor(role Role) map[string]struct{} {
	perms := rolePermissions[role]
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// PermissionList returns the role's permissions sorted, for API responses.
func PermissionList(role Role) []string {
	set := PermissionsFor(role)
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RoleAllows reports whether the role's permission set contains perm.
func RoleAllows(role Role, perm string) bool {
	_, ok := PermissionsFor(role)[perm]
	return ok
}

// Requirement declares what an endpoint demands. Role is an exact match;
// Permission is set membership. When both are set the role is checked
// first and a mismatch short-circuits. Resource names what was protected,
// for the audit record.
type Requirement struct {
	Role       Role
	Permission string
	Resource   string
}

// Authorizer enforces requirements against bearer tokens. Every Forbidden
// decision is written to the audit trail before the error is returned.
type Authorizer struct {
	tokens *TokenService
	trail  *audit.Trail
}

// NewAuthorizer wires token validation and accounting together.
func NewAuthorizer(tokens *TokenService, trail *audit.Trail) (*Authorizer, error) {
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	if trail == nil {
		return nil, errors.New("auth: audit trail is required")
	}
	return &Authorizer{tokens: tokens, trail: trail}, nil
}

// Authorize validates the token and checks the requirement. Token failures
// surface as ErrInvalidToken/ErrTokenExpired (authentication); requirement
// failures as ErrForbidden (authorization, audited).
func (a *Authorizer) Authorize(ctx context.Context, token string, req Requirement) (Claims, error) {
	claims, err := a.tokens.Validate(token)
	if err != nil {
		return Claims{}, err
	}
	role := Role(claims.Role)
	if req.Role != "" && role != req.Role {
		a.denied(ctx, claims, req, "role_mismatch")
		return Claims{}, ErrForbidden
	}
	if req.Permission != "" && !RoleAllows(role, req.Permission) {
		a.denied(ctx, claims, req, "permission_missing")
		return Claims{}, ErrForbidden
	}
	return claims, nil
}

func (a *Authorizer) denied(ctx context.Context, claims Claims, req Requirement, reason string) {
	resource := req.Resource
	if resource == "" {
		resource = "resource"
	}
	details := map[string]string{
		"reason": reason,
		"role":   claims.Role,
	}
	if req.Role != "" {
		details["required_role"] = string(req.Role)
	}
	if req.Permission != "" {
		details["required_permission"] = req.Permission
	}
	a.trail.Append(ctx, &audit.Entry{
		UserID:    claims.Subject,
		Action:    audit.ActionAccessDenied,
		Resource:  resource,
		Status:    audit.StatusFailure,
		IPAddress: ClientIPFromContext(ctx),
		Details:   details,
	})
}
