package auth

import (
	"fmt"
	"strings"
)

// TenantGroup is the side of the trust boundary a principal belongs to.
type TenantGroup string

const (
	GroupAccountingFirm TenantGroup = "accounting_firm"
	GroupBusinessOwner  TenantGroup = "business_owner"
)

// Role is the role a principal holds inside its tenant.
type Role string

const (
	RolePartner        Role = "partner"
	RoleSeniorStaff    Role = "senior_staff"
	RoleStaff          Role = "staff"
	RoleClient         Role = "client"
	RoleManagement     Role = "management"
	RoleAccountingTeam Role = "accounting_team"
)

var groupRoles = map[TenantGroup]map[Role]struct{}{
	GroupAccountingFirm: {
		RolePartner:        {},
		RoleSeniorStaff:    {},
		RoleStaff:          {},
		RoleManagement:     {},
		RoleAccountingTeam: {},
	},
	GroupBusinessOwner: {
		RoleClient:     {},
		RoleManagement: {},
	},
}

// Principal is the acting user, immutable for the lifetime of a request.
// An empty FirmID or BusinessID means the attribute is not set.
type Principal struct {
	ID          string      `json:"id"`
	TenantGroup TenantGroup `json:"tenant_group"`
	Role        Role        `json:"role"`
	FirmID      string      `json:"firm_id,omitempty"`
	BusinessID  string      `json:"business_id,omitempty"`
}

// ParseTenantGroup normalises a raw tenant group string.
func ParseTenantGroup(raw string) (TenantGroup, error) {
	g := TenantGroup(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := groupRoles[g]; !ok {
		return "", fmt.Errorf("%w: unknown tenant group %q", ErrInvalidPrincipal, raw)
	}
	return g, nil
}

// ParseRole normalises a raw role string.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(raw)))
	for _, roles := range groupRoles {
		if _, ok := roles[r]; ok {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidPrincipal, raw)
}

// IsFirmSide reports whether the principal acts for an accounting firm.
func (p Principal) IsFirmSide() bool { return p.TenantGroup == GroupAccountingFirm }

// IsBusinessSide reports whether the principal acts for a client business.
func (p Principal) IsBusinessSide() bool { return p.TenantGroup == GroupBusinessOwner }

// Validate checks that exactly one tenant id is set, that it matches the group,
// and that the role belongs to the group.
func (p Principal) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPrincipal)
	}
	roles, ok := groupRoles[p.TenantGroup]
	if !ok {
		return fmt.Errorf("%w: unknown tenant group %q", ErrInvalidPrincipal, p.TenantGroup)
	}
	if _, ok := roles[p.Role]; !ok {
		return fmt.Errorf("%w: role %q not valid for %s", ErrInvalidPrincipal, p.Role, p.TenantGroup)
	}
	switch p.TenantGroup {
	case GroupAccountingFirm:
		if p.FirmID == "" || p.BusinessID != "" {
			return fmt.Errorf("%w: firm principal requires firm_id only", ErrInvalidPrincipal)
		}
	case GroupBusinessOwner:
		if p.BusinessID == "" || p.FirmID != "" {
			return fmt.Errorf("%w: business principal requires business_id only", ErrInvalidPrincipal)
		}
	}
	return nil
}
