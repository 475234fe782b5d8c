package document

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("document: not found")
	ErrInvalidEntity = errors.New("document: invalid entity")
	ErrExists        = errors.New("document: already exists")
)

// Type distinguishes the two finalisable record kinds.
type Type string

const (
	TypeReport      Type = "report"
	TypeDeliverable Type = "deliverable"
)

// ParseType accepts the singular or plural form ("report", "reports").
func ParseType(raw string) (Type, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "report", "reports":
		return TypeReport, nil
	case "deliverable", "deliverables":
		return TypeDeliverable, nil
	}
	return "", fmt.Errorf("%w: unknown type %q", ErrInvalidEntity, raw)
}

// Ref identifies one entity.
type Ref struct {
	Type Type   `json:"type"`
	ID   string `json:"id"`
}

func (r Ref) String() string { return string(r.Type) + "/" + r.ID }

// Entity is a report or deliverable as seen by the finalisation workflow.
// Empty strings stand for null ids.
type Entity struct {
	Ref
	Status        Status     `json:"status"`
	FirmID        string     `json:"firm_id"`
	BusinessID    string     `json:"business_id,omitempty"`
	ClientID      string     `json:"client_id"`
	FinalisedBy   string     `json:"finalised_by,omitempty"`
	FinalisedAt   *time.Time `json:"finalised_at,omitempty"`
	SharedBy      string     `json:"shared_by,omitempty"`
	SharedAt      *time.Time `json:"shared_at,omitempty"`
	ArchivedBy    string     `json:"archived_by,omitempty"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
	// Version increments on content change only.
	Version int64 `json:"version"`
	// Revision increments on every status change.
	Revision int64 `json:"revision"`
}

// Validate enforces the timestamp/status invariants.
func (e Entity) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntity)
	}
	if e.Type != TypeReport && e.Type != TypeDeliverable {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEntity, e.Type)
	}
	if _, err := ParseStatus(string(e.Status)); err != nil {
		return err
	}
	if e.FirmID == "" {
		return fmt.Errorf("%w: firm_id is required", ErrInvalidEntity)
	}
	if (e.FinalisedAt != nil) != e.Status.IsFinalised() {
		return fmt.Errorf("%w: finalised_at inconsistent with status %s", ErrInvalidEntity, e.Status)
	}
	if (e.SharedAt != nil) != e.Status.IsShared() {
		return fmt.Errorf("%w: shared_at inconsistent with status %s", ErrInvalidEntity, e.Status)
	}
	if (e.ArchivedAt != nil) != (e.Status == StatusArchived) {
		return fmt.Errorf("%w: archived_at inconsistent with status %s", ErrInvalidEntity, e.Status)
	}
	return nil
}

// NewDraft returns a fresh draft at version 1.
func NewDraft(ref Ref, firmID, businessID, clientID string) Entity {
	return Entity{
		Ref:        ref,
		Status:     StatusDraft,
		FirmID:     firmID,
		BusinessID: businessID,
		ClientID:   clientID,
		Version:    1,
	}
}

// Change is the set of fields a single transition writes. It is applied only
// when the stored status and revision still equal the expected values.
type Change struct {
	Ref              Ref
	Action           Action
	ExpectedStatus   Status
	ExpectedRevision int64
	Status           Status
	ActorID          string
	At               time.Time
	Note             string
}

// Apply returns e with c applied. It does not check the expected values.
func Apply(e Entity, c Change) Entity {
	at := c.At
	e.Status = c.Status
	e.Revision = c.ExpectedRevision + 1
	switch c.Action {
	case ActionSubmit:
		e.RevokedReason = ""
	case ActionFinalise:
		e.FinalisedBy = c.ActorID
		e.FinalisedAt = &at
		e.RevokedReason = ""
	case ActionShare:
		e.SharedBy = c.ActorID
		e.SharedAt = &at
	case ActionRevoke:
		e.FinalisedBy = ""
		e.FinalisedAt = nil
		e.RevokedReason = c.Note
	case ActionArchive:
		e.SharedBy = ""
		e.SharedAt = nil
		e.ArchivedBy = c.ActorID
		e.ArchivedAt = &at
	}
	return e
}
