package document

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a finalisable entity.
type Status string

const (
	StatusDraft            Status = "draft"
	StatusUnderReview      Status = "under_review"
	StatusFinal            Status = "final"
	StatusSharedWithClient Status = "shared_with_client"
	StatusArchived         Status = "archived"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusDraft, StatusUnderReview, StatusFinal, StatusSharedWithClient, StatusArchived}

// ParseStatus rejects anything outside the closed set.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(strings.ToLower(raw)))
	for _, known := range Statuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidEntity, raw)
}

// IsFinalised reports whether FinalisedAt must be set in this status.
func (s Status) IsFinalised() bool {
	return s == StatusFinal || s == StatusSharedWithClient || s == StatusArchived
}

// IsShared reports whether SharedAt must be set in this status.
func (s Status) IsShared() bool { return s == StatusSharedWithClient }

// HasCrossedTrustBoundary reports whether a client may already have seen the document.
func (s Status) HasCrossedTrustBoundary() bool {
	return s == StatusSharedWithClient || s == StatusArchived
}

// IsTerminal reports whether no action can leave this status.
func (s Status) IsTerminal() bool { return s == StatusArchived }

// Action names a workflow operation.
type Action string

const (
	ActionSubmit   Action = "submit"
	ActionFinalise Action = "finalise"
	ActionShare    Action = "share"
	ActionRevoke   Action = "revoke"
	ActionArchive  Action = "archive"
)

// Actions lists every workflow action.
var Actions = []Action{ActionSubmit, ActionFinalise, ActionShare, ActionRevoke, ActionArchive}

// ParseAction rejects unknown action names.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.TrimSpace(strings.ToLower(raw)))
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidEntity, raw)
}

// transitions is the only place edges are defined. Nothing re-enters draft.
var transitions = map[Action]map[Status]Status{
	ActionSubmit: {
		StatusDraft: StatusUnderReview,
	},
	ActionFinalise: {
		StatusDraft:       StatusFinal,
		StatusUnderReview: StatusFinal,
	},
	ActionShare: {
		StatusFinal: StatusSharedWithClient,
	},
	ActionRevoke: {
		StatusFinal: StatusUnderReview,
	},
	ActionArchive: {
		StatusSharedWithClient: StatusArchived,
	},
}

// Next returns the target status for action applied in from, or false when there is no such edge.
func Next(from Status, action Action) (Status, bool) {
	edges, ok := transitions[action]
	if !ok {
		return "", false
	}
	to, ok := edges[from]
	return to, ok
}

// Edge is one row of the transition table.
type Edge struct {
	From   Status
	Action Action
	To     Status
}

// Edges returns the transition table in a stable order.
func Edges() []Edge {
	var out []Edge
	for _, a := range Actions {
		for _, from := range Statuses {
			if to, ok := transitions[a][from]; ok {
				out = append(out, Edge{From: from, Action: a, To: to})
			}
		}
	}
	return out
}
