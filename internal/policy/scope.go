package policy

import (
	"errors"
	"fmt"
	"strings"

	"practicedesk.io/internal/auth"
	"practicedesk.io/internal/document"
)

// ErrInvalidScope is returned when no collection scope can be built for a principal.
var ErrInvalidScope = errors.New("policy: invalid scope")

// Scope is the predicate a list query applies. Empty fields are unconstrained,
// but a valid Scope always pins FirmID or BusinessID.
type Scope struct {
	FirmID     string            `json:"firm_id,omitempty"`
	BusinessID string            `json:"business_id,omitempty"`
	ClientID   string            `json:"client_id,omitempty"`
	StatusIn   []document.Status `json:"status_in,omitempty"`
}

// ScopeFor resolves the collection scope for p. clientView optionally narrows a
// firm-side listing to one client; business-side principals cannot use it.
func ScopeFor(p auth.Principal, clientView string) (Scope, error) {
	if err := p.Validate(); err != nil {
		return Scope{}, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}
	rule, ok := ruleFor(p.TenantGroup)
	if !ok {
		return Scope{}, fmt.Errorf("%w: no view rule for %s", ErrInvalidScope, p.TenantGroup)
	}
	var s Scope
	switch rule.key {
	case keyFirm:
		s.FirmID = p.FirmID
	case keyBusiness:
		s.BusinessID = p.BusinessID
	}
	if rule.statuses != nil {
		s.StatusIn = append([]document.Status(nil), rule.statuses...)
	}
	clientView = strings.TrimSpace(clientView)
	if clientView != "" {
		if !p.IsFirmSide() {
			return Scope{}, fmt.Errorf("%w: client view is firm-side only", ErrInvalidScope)
		}
		s.ClientID = clientView
	}
	return s, nil
}

// Matches applies the scope to one entity in memory.
func (s Scope) Matches(e document.Entity) bool {
	if s.FirmID == "" && s.BusinessID == "" {
		return false
	}
	if s.FirmID != "" && s.FirmID != e.FirmID {
		return false
	}
	if s.BusinessID != "" && s.BusinessID != e.BusinessID {
		return false
	}
	if s.ClientID != "" && s.ClientID != e.ClientID {
		return false
	}
	if len(s.StatusIn) > 0 {
		for _, st := range s.StatusIn {
			if st == e.Status {
				return true
			}
		}
		return false
	}
	return true
}
