package finalise

import (
	"errors"
	"fmt"

	"practicedesk.io/internal/document"
)

// Reason classifies a rejected transition.
type Reason string

const (
	ReasonNotAuthorized      Reason = "not_authorized"
	ReasonAlreadyFinal       Reason = "already_final"
	ReasonNotFinal           Reason = "not_final"
	ReasonCannotRevokeShared Reason = "cannot_revoke_shared"
	ReasonStaleState         Reason = "stale_state"
	ReasonInvalidTransition  Reason = "invalid_transition"
)

var (
	ErrNotAuthorized      = errors.New("finalise: not authorized")
	ErrAlreadyFinal       = errors.New("finalise: already final")
	ErrNotFinal           = errors.New("finalise: not final")
	ErrCannotRevokeShared = errors.New("finalise: cannot revoke a shared document")
	ErrStaleState         = errors.New("finalise: stale state")
	ErrInvalidTransition  = errors.New("finalise: invalid transition")

	ErrInvalidInput = errors.New("finalise: invalid input")
)

var sentinels = map[Reason]error{
	ReasonNotAuthorized:      ErrNotAuthorized,
	ReasonAlreadyFinal:       ErrAlreadyFinal,
	ReasonNotFinal:           ErrNotFinal,
	ReasonCannotRevokeShared: ErrCannotRevokeShared,
	ReasonStaleState:         ErrStaleState,
	ReasonInvalidTransition:  ErrInvalidTransition,
}

// Rejection is returned when a transition is refused before anything is written.
// Status is left empty for NotAuthorized so a denied caller learns nothing about the entity.
// Hidden marks a NotAuthorized rejection for a caller who may not view the entity either.
type Rejection struct {
	Reason Reason
	Action document.Action
	Ref    document.Ref
	Status document.Status
	Hidden bool
}

func (r *Rejection) Error() string {
	if r.Status == "" {
		return fmt.Sprintf("finalise: %s %s rejected: %s", r.Action, r.Ref, r.Reason)
	}
	return fmt.Sprintf("finalise: %s %s rejected: %s (status %s)", r.Action, r.Ref, r.Reason, r.Status)
}

// Is lets errors.Is match a Rejection against its sentinel.
func (r *Rejection) Is(target error) bool {
	s, ok := sentinels[r.Reason]
	return ok && s == target
}

func reject(reason Reason, action document.Action, e document.Entity) *Rejection {
	rej := &Rejection{Reason: reason, Action: action, Ref: e.Ref}
	if reason != ReasonNotAuthorized {
		rej.Status = e.Status
	}
	return rej
}

// RejectionReason extracts the reason of a Rejection anywhere in err's chain.
func RejectionReason(err error) (Reason, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}
