// Package policy is the single home of every role list and tenant rule used to
// gate finalisable documents. Callers import these predicates rather than
// comparing role names themselves.
//
// All functions are pure: they read only the principal and entity passed in
// and are safe for concurrent use. Decisions are never cached.
package policy

import (
	"practicedesk.io/internal/auth"
	"practicedesk.io/internal/document"
)

// Capability names a gated operation.
type Capability string

const (
	CapView     Capability = "view"
	CapCreate   Capability = "create"
	CapSubmit   Capability = "submit"
	CapFinalise Capability = "finalise"
	CapShare    Capability = "share"
	CapRevoke   Capability = "revoke"
	CapArchive  Capability = "archive"
)

// DenyReason explains a denial in terms of role or tenant only.
type DenyReason string

const (
	ReasonNone              DenyReason = ""
	ReasonInvalidPrincipal  DenyReason = "invalid_principal"
	ReasonTenantMismatch    DenyReason = "tenant_mismatch"
	ReasonRoleNotPermitted  DenyReason = "role_not_permitted"
	ReasonStatusNotVisible  DenyReason = "status_not_visible"
	ReasonAlreadyShared     DenyReason = "already_shared"
	ReasonUnknownCapability DenyReason = "unknown_capability"
)

// Decision is the ephemeral result of one check.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
}

func allow() Decision            { return Decision{Allowed: true} }
func deny(r DenyReason) Decision { return Decision{Reason: r} }

func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	return "deny:" + string(d.Reason)
}

// finaliseRoles may finalise, share, revoke and archive.
var finaliseRoles = map[auth.Role]struct{}{
	auth.RolePartner:     {},
	auth.RoleSeniorStaff: {},
}

// FinaliseRoles returns the roles allowed to finalise, in a stable order.
func FinaliseRoles() []auth.Role {
	return []auth.Role{auth.RolePartner, auth.RoleSeniorStaff}
}

// Check evaluates capability c for p on e.
func Check(c Capability, p auth.Principal, e document.Entity) Decision {
	if err := p.Validate(); err != nil {
		return deny(ReasonInvalidPrincipal)
	}
	switch c {
	case CapView:
		return checkView(p, e)
	case CapCreate, CapSubmit:
		return firmMember(p, e)
	case CapFinalise, CapShare, CapArchive:
		return elevatedFirmMember(p, e)
	case CapRevoke:
		d := elevatedFirmMember(p, e)
		if !d.Allowed {
			return d
		}
		if e.Status.HasCrossedTrustBoundary() {
			return deny(ReasonAlreadyShared)
		}
		return allow()
	default:
		return deny(ReasonUnknownCapability)
	}
}

func firmMember(p auth.Principal, e document.Entity) Decision {
	if !p.IsFirmSide() || p.FirmID != e.FirmID {
		return deny(ReasonTenantMismatch)
	}
	return allow()
}

func elevatedFirmMember(p auth.Principal, e document.Entity) Decision {
	if d := firmMember(p, e); !d.Allowed {
		return d
	}
	if _, ok := finaliseRoles[p.Role]; !ok {
		return deny(ReasonRoleNotPermitted)
	}
	return allow()
}

// CanView reports whether p may see e at all.
func CanView(p auth.Principal, e document.Entity) bool { return Check(CapView, p, e).Allowed }

// CanCreate reports whether p may open a draft owned by e's firm.
func CanCreate(p auth.Principal, e document.Entity) bool { return Check(CapCreate, p, e).Allowed }

// CanSubmit reports whether p may move a draft into review.
func CanSubmit(p auth.Principal, e document.Entity) bool { return Check(CapSubmit, p, e).Allowed }

// CanFinalise reports whether p holds an elevated firm role in e's firm.
func CanFinalise(p auth.Principal, e document.Entity) bool { return Check(CapFinalise, p, e).Allowed }

// CanShare uses the same predicate as CanFinalise; staff cannot share.
func CanShare(p auth.Principal, e document.Entity) bool { return Check(CapShare, p, e).Allowed }

// CanRevoke is CanFinalise restricted to documents a client has never seen.
func CanRevoke(p auth.Principal, e document.Entity) bool { return Check(CapRevoke, p, e).Allowed }

// CanArchive uses the same predicate as CanFinalise.
func CanArchive(p auth.Principal, e document.Entity) bool { return Check(CapArchive, p, e).Allowed }
