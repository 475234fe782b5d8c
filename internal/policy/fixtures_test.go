package policy

import (
	"time"

	"practicedesk.io/internal/auth"
	"practicedesk.io/internal/document"
)

func entityIn(status document.Status, firmID, businessID, clientID string) document.Entity {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := document.NewDraft(document.Ref{Type: document.TypeReport, ID: "r-" + string(status)}, firmID, businessID, clientID)
	e.Status = status
	if status.IsFinalised() {
		e.FinalisedAt = &at
		e.FinalisedBy = "p"
	}
	if status.IsShared() {
		e.SharedAt = &at
		e.SharedBy = "p"
	}
	if status == document.StatusArchived {
		e.ArchivedAt = &at
		e.ArchivedBy = "p"
	}
	return e
}

// samplePrincipals covers every role of both groups in two firms and two businesses.
func samplePrincipals() []auth.Principal {
	var out []auth.Principal
	for _, firm := range []string{"F1", "F2"} {
		for _, role := range []auth.Role{auth.RolePartner, auth.RoleSeniorStaff, auth.RoleStaff, auth.RoleManagement, auth.RoleAccountingTeam} {
			out = append(out, auth.Principal{ID: firm + "-" + string(role), TenantGroup: auth.GroupAccountingFirm, Role: role, FirmID: firm})
		}
	}
	for _, biz := range []string{"B1", "B2"} {
		for _, role := range []auth.Role{auth.RoleClient, auth.RoleManagement} {
			out = append(out, auth.Principal{ID: biz + "-" + string(role), TenantGroup: auth.GroupBusinessOwner, Role: role, BusinessID: biz})
		}
	}
	return out
}

// sampleEntities covers every status for each firm/business/client combination, including firm-only records.
func sampleEntities() []document.Entity {
	var out []document.Entity
	for _, status := range document.Statuses {
		for _, firm := range []string{"F1", "F2"} {
			for _, biz := range []string{"", "B1", "B2"} {
				for _, client := range []string{"C1", "C2"} {
					out = append(out, entityIn(status, firm, biz, client))
				}
			}
		}
	}
	return out
}
