package finalise

import (
	"context"

	"practicedesk.io/internal/audit"
	"practicedesk.io/internal/document"
	"practicedesk.io/internal/policy"
)

// Store is the persistence the machine needs. Load returns document.ErrNotFound
// (possibly wrapped) for unknown refs.
type Store interface {
	Load(ctx context.Context, ref document.Ref) (document.Entity, error)
	// WriteTransition applies c only if the stored status and revision equal
	// c.ExpectedStatus and c.ExpectedRevision. It reports false on mismatch.
	WriteTransition(ctx context.Context, c document.Change) (bool, error)
}

// AtomicStore commits the conditional write and its audit record in one transaction.
type AtomicStore interface {
	Store
	CommitTransition(ctx context.Context, c document.Change, rec audit.Record) (bool, error)
}

// Creator inserts new drafts.
type Creator interface {
	Create(ctx context.Context, e document.Entity) error
}

// Lister serves scoped collection queries.
type Lister interface {
	List(ctx context.Context, t document.Type, scope policy.Scope) ([]document.Entity, error)
}

// Notifier informs the client that a document was shared. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, ref document.Ref, clientID string) error
}
