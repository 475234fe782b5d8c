package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"practicedesk.io/internal/document"
)

var (
	ErrNotFound      = errors.New("audit: record not found")
	ErrInvalidRecord = errors.New("audit: invalid record")
	ErrDuplicate     = errors.New("audit: duplicate key")
)

// Record is one append-only entry describing a status change that happened.
type Record struct {
	ID         string          `json:"id"`
	EntityID   string          `json:"entity_id"`
	EntityType document.Type   `json:"entity_type"`
	FromStatus document.Status `json:"from_status"`
	ToStatus   document.Status `json:"to_status"`
	Action     document.Action `json:"action"`
	ActorID    string          `json:"actor_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Note       string          `json:"note,omitempty"`
	Version    int64           `json:"version"`
	Revision   int64           `json:"revision"`
	Pending    bool            `json:"pending,omitempty"`
}

// Key identifies a transition for idempotency. Revision is the entity revision
// the transition produced, so re-finalising after a revoke is a new key.
type Key struct {
	EntityType document.Type
	EntityID   string
	ToStatus   document.Status
	Version    int64
	Revision   int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s:%s:v%d:r%d", k.EntityType, k.EntityID, k.ToStatus, k.Version, k.Revision)
}

// Key returns the idempotency key of r.
func (r Record) Key() Key {
	return Key{EntityType: r.EntityType, EntityID: r.EntityID, ToStatus: r.ToStatus, Version: r.Version, Revision: r.Revision}
}

// Validate checks the fields every record must carry.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	case r.EntityID == "":
		return fmt.Errorf("%w: entity_id is required", ErrInvalidRecord)
	case r.ActorID == "":
		return fmt.Errorf("%w: actor_id is required", ErrInvalidRecord)
	case r.ToStatus == "" || r.FromStatus == "":
		return fmt.Errorf("%w: from/to status are required", ErrInvalidRecord)
	case r.OccurredAt.IsZero():
		return fmt.Errorf("%w: occurred_at is required", ErrInvalidRecord)
	}
	return nil
}

// Recorder appends records. Append must be idempotent per Key: a second append
// of the same key succeeds without writing a second row.
type Recorder interface {
	Append(ctx context.Context, rec Record) error
}

// PendingLedger supports the write-ahead protocol used with stores that
// cannot commit a status write and an audit row atomically. AppendPending
// returns ErrDuplicate when the key is already held, pending or confirmed.
// Discard only ever removes pending records.
type PendingLedger interface {
	Recorder
	AppendPending(ctx context.Context, rec Record) error
	Confirm(ctx context.Context, key Key) error
	Discard(ctx context.Context, key Key) error
	Pending(ctx context.Context) ([]Record, error)
}
