package policy

import (
	"practicedesk.io/internal/auth"
	"practicedesk.io/internal/document"
)

// tenantKey selects which entity attribute a view rule compares against the principal.
type tenantKey int

const (
	keyFirm tenantKey = iota
	keyBusiness
)

// viewRule is one row of the visibility table. A nil statuses slice means any status.
type viewRule struct {
	group    auth.TenantGroup
	key      tenantKey
	statuses []document.Status
}

// viewRules is evaluated in order, first match wins, no match denies.
// ScopeFor derives collection filters from the same rows.
var viewRules = []viewRule{
	{group: auth.GroupAccountingFirm, key: keyFirm},
	{group: auth.GroupBusinessOwner, key: keyBusiness, statuses: []document.Status{
		document.StatusSharedWithClient,
		document.StatusArchived,
	}},
}

func (r viewRule) principalValue(p auth.Principal) string {
	if r.key == keyFirm {
		return p.FirmID
	}
	return p.BusinessID
}

func (r viewRule) entityValue(e document.Entity) string {
	if r.key == keyFirm {
		return e.FirmID
	}
	return e.BusinessID
}

func (r viewRule) matchesTenant(p auth.Principal, e document.Entity) bool {
	v := r.principalValue(p)
	return p.TenantGroup == r.group && v != "" && v == r.entityValue(e)
}

func (r viewRule) admitsStatus(s document.Status) bool {
	if r.statuses == nil {
		return true
	}
	for _, allowed := range r.statuses {
		if s == allowed {
			return true
		}
	}
	return false
}

func ruleFor(group auth.TenantGroup) (viewRule, bool) {
	for _, r := range viewRules {
		if r.group == group {
			return r, true
		}
	}
	return viewRule{}, false
}

func checkView(p auth.Principal, e document.Entity) Decision {
	for _, r := range viewRules {
		if !r.matchesTenant(p, e) {
			continue
		}
		if !r.admitsStatus(e.Status) {
			return deny(ReasonStatusNotVisible)
		}
		return allow()
	}
	return deny(ReasonTenantMismatch)
}
