// Package finalise runs the document finalisation workflow: submit, finalise,
// share, revoke and archive. Every operation loads the entity, checks the
// capability policy before the transition table, and commits a conditional
// write together with exactly one audit record.
//
// The machine holds no locks. Concurrent transitions on the same entity are
// resolved by the store's conditional write; the loser receives ErrStaleState
// and is never retried.
package finalise

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"practicedesk.io/internal/audit"
	"practicedesk.io/internal/auth"
	"practicedesk.io/internal/document"
	"practicedesk.io/internal/ids"
	"practicedesk.io/internal/obs"
	"practicedesk.io/internal/policy"
)

// ErrNoLedger is returned by NewMachine when the store cannot commit audit
// records itself and no pending ledger was supplied.
var ErrNoLedger = errors.New("finalise: non-atomic store requires a pending ledger")

var (
	ErrListUnsupported   = errors.New("finalise: store does not support listing")
	ErrCreateUnsupported = errors.New("finalise: store does not support creating drafts")
)

// Machine applies workflow transitions.
type Machine struct {
	store    Store
	atomic   AtomicStore
	lister   Lister
	creator  Creator
	ledger   audit.PendingLedger
	notifier Notifier
	now      func() time.Time
	newID    func() string

	notifyTimeout time.Duration
	inflight      sync.WaitGroup
}

// Option configures a Machine.
type Option func(*Machine)

// WithLedger enables the write-ahead protocol for stores that are not atomic.
func WithLedger(l audit.PendingLedger) Option {
	return func(m *Machine) { m.ledger = l }
}

func WithNotifier(n Notifier) Option {
	return func(m *Machine) { m.notifier = n }
}

// WithNotifyTimeout bounds each notification. Notifications run detached from
// the request, so this is the only deadline they observe.
func WithNotifyTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.notifyTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDs overrides the audit record id generator.
func WithIDs(newID func() string) Option {
	return func(m *Machine) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// NewMachine wires a machine over store. When store implements AtomicStore the
// audit record is committed in the same transaction; otherwise WithLedger is required.
func NewMachine(store Store, opts ...Option) (*Machine, error) {
	if store == nil {
		return nil, errors.New("finalise: store is required")
	}
	m := &Machine{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: ids.New,

		notifyTimeout: 10 * time.Second,
	}
	m.atomic, _ = store.(AtomicStore)
	m.lister, _ = store.(Lister)
	m.creator, _ = store.(Creator)
	for _, opt := range opts {
		opt(m)
	}
	if m.atomic == nil && m.ledger == nil {
		return nil, ErrNoLedger
	}
	return m, nil
}

// Create opens a new draft of type t in p's firm for clientID. businessID is
// optional and links the draft to a business-side workflow.
func (m *Machine) Create(ctx context.Context, p auth.Principal, t document.Type, clientID, businessID string) (document.Entity, error) {
	if m.creator == nil {
		return document.Entity{}, ErrCreateUnsupported
	}
	if t != document.TypeReport && t != document.TypeDeliverable {
		return document.Entity{}, fmt.Errorf("%w: unknown type %q", ErrInvalidInput, t)
	}
	if clientID == "" {
		return document.Entity{}, fmt.Errorf("%w: client_id is required", ErrInvalidInput)
	}
	e := document.NewDraft(document.Ref{Type: t, ID: m.newID()}, p.FirmID, businessID, clientID)
	if d := policy.Check(policy.CapCreate, p, e); !d.Allowed {
		return document.Entity{}, m.rejected(ctx, p, reject(ReasonNotAuthorized, "create", e), d.Reason)
	}
	if err := m.creator.Create(ctx, e); err != nil {
		return document.Entity{}, fmt.Errorf("finalise: create %s: %w", e.Ref, err)
	}
	_ = audit.LogEvent(ctx, "document.create", map[string]any{
		"entity_id":   e.ID,
		"entity_type": e.Type,
		"client_id":   e.ClientID,
		"actor_id":    p.ID,
	})
	return e, nil
}

// Submit moves a draft into review.
func (m *Machine) Submit(ctx context.Context, p auth.Principal, ref document.Ref, note string) (document.Entity, error) {
	e, _, err := m.transition(ctx, p, ref, document.ActionSubmit, note)
	return e, err
}

// Finalise locks a draft or under-review document. note is optional.
func (m *Machine) Finalise(ctx context.Context, p auth.Principal, ref document.Ref, note string) (document.Entity, error) {
	e, _, err := m.transition(ctx, p, ref, document.ActionFinalise, note)
	return e, err
}

// Share exposes a final document to the client. Sharing an already shared
// document returns it unchanged with no audit record and no notification.
// The notification is dispatched in the background once the share commits;
// it outlives the caller's context and its failure never undoes the share.
func (m *Machine) Share(ctx context.Context, p auth.Principal, ref document.Ref, notifyClient bool) (document.Entity, error) {
	e, applied, err := m.transition(ctx, p, ref, document.ActionShare, "")
	if err != nil || !applied || !notifyClient {
		return e, err
	}
	m.notify(ctx, e)
	return e, nil
}

// Revoke returns a final document to review. Documents that reached the client
// cannot be revoked. reason is stored trimmed.
func (m *Machine) Revoke(ctx context.Context, p auth.Principal, ref document.Ref, reason string) (document.Entity, error) {
	e, _, err := m.transition(ctx, p, ref, document.ActionRevoke, reason)
	return e, err
}

// Archive retires a shared document.
func (m *Machine) Archive(ctx context.Context, p auth.Principal, ref document.Ref, note string) (document.Entity, error) {
	e, _, err := m.transition(ctx, p, ref, document.ActionArchive, note)
	return e, err
}

// View loads ref for p. Entities p may not see are reported as document.ErrNotFound.
func (m *Machine) View(ctx context.Context, p auth.Principal, ref document.Ref) (document.Entity, error) {
	e, err := m.store.Load(ctx, ref)
	if err != nil {
		return document.Entity{}, fmt.Errorf("finalise: load %s: %w", ref, err)
	}
	if !policy.CanView(p, e) {
		return document.Entity{}, fmt.Errorf("finalise: load %s: %w", ref, document.ErrNotFound)
	}
	return e, nil
}

// List returns the entities of type t visible to p, optionally narrowed to one client.
func (m *Machine) List(ctx context.Context, p auth.Principal, t document.Type, clientView string) ([]document.Entity, error) {
	if m.lister == nil {
		return nil, ErrListUnsupported
	}
	scope, err := policy.ScopeFor(p, clientView)
	if err != nil {
		return nil, err
	}
	items, err := m.lister.List(ctx, t, scope)
	if err != nil {
		return nil, fmt.Errorf("finalise: list %s: %w", t, err)
	}
	out := items[:0]
	for _, e := range items {
		if policy.CanView(p, e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// capabilityFor maps an action to the capability that authorizes it. Revoke is
// authorized like finalise; the shared-state refusal is reported as CannotRevokeShared.
var capabilityFor = map[document.Action]policy.Capability{
	document.ActionSubmit:   policy.CapSubmit,
	document.ActionFinalise: policy.CapFinalise,
	document.ActionShare:    policy.CapShare,
	document.ActionRevoke:   policy.CapFinalise,
	document.ActionArchive:  policy.CapArchive,
}

// guard returns the target status, or noop for an idempotent share, or a rejection reason.
func guard(action document.Action, from document.Status) (to document.Status, noop bool, reason Reason) {
	switch action {
	case document.ActionFinalise:
		if from.IsFinalised() {
			return "", false, ReasonAlreadyFinal
		}
	case document.ActionShare:
		if from == document.StatusSharedWithClient {
			return from, true, ""
		}
		if from != document.StatusFinal {
			return "", false, ReasonNotFinal
		}
	case document.ActionRevoke:
		if from.HasCrossedTrustBoundary() {
			return "", false, ReasonCannotRevokeShared
		}
		if from != document.StatusFinal {
			return "", false, ReasonNotFinal
		}
	}
	next, ok := document.Next(from, action)
	if !ok {
		return "", false, ReasonInvalidTransition
	}
	return next, false, ""
}

func (m *Machine) transition(ctx context.Context, p auth.Principal, ref document.Ref, action document.Action, note string) (document.Entity, bool, error) {
	note = strings.TrimSpace(note)
	e, err := m.store.Load(ctx, ref)
	if err != nil {
		obs.ObserveTransition(string(ref.Type), string(action), "error")
		return document.Entity{}, false, fmt.Errorf("finalise: load %s: %w", ref, err)
	}
	if d := policy.Check(capabilityFor[action], p, e); !d.Allowed {
		rej := reject(ReasonNotAuthorized, action, e)
		rej.Hidden = !policy.CanView(p, e)
		return document.Entity{}, false, m.rejected(ctx, p, rej, d.Reason)
	}
	to, noop, reason := guard(action, e.Status)
	if reason != "" {
		return document.Entity{}, false, m.rejected(ctx, p, reject(reason, action, e), policy.ReasonNone)
	}
	if noop {
		obs.ObserveTransition(string(e.Type), string(action), "noop")
		return e, false, nil
	}

	at := m.now()
	change := document.Change{
		Ref:              e.Ref,
		Action:           action,
		ExpectedStatus:   e.Status,
		ExpectedRevision: e.Revision,
		Status:           to,
		ActorID:          p.ID,
		At:               at,
		Note:             note,
	}
	rec := audit.Record{
		ID:         m.newID(),
		EntityID:   e.ID,
		EntityType: e.Type,
		FromStatus: e.Status,
		ToStatus:   to,
		Action:     action,
		ActorID:    p.ID,
		OccurredAt: at,
		Note:       note,
		Version:    e.Version,
		Revision:   e.Revision + 1,
	}

	ok, err := m.commit(ctx, change, rec)
	if err != nil {
		obs.ObserveTransition(string(e.Type), string(action), "error")
		return document.Entity{}, false, err
	}
	if !ok {
		return document.Entity{}, false, m.rejected(ctx, p, reject(ReasonStaleState, action, e), policy.ReasonNone)
	}

	out := document.Apply(e, change)
	if err := audit.LogRecord(ctx, rec); err != nil {
		obs.Warn("audit log line failed", map[string]any{"entity": ref.String(), "err": err.Error()})
	}
	obs.ObserveTransition(string(e.Type), string(action), "applied")
	return out, true, nil
}

func (m *Machine) commit(ctx context.Context, c document.Change, rec audit.Record) (bool, error) {
	if m.atomic != nil {
		ok, err := m.atomic.CommitTransition(ctx, c, rec)
		if err != nil {
			return false, fmt.Errorf("finalise: commit %s %s: %w", c.Action, c.Ref, err)
		}
		return ok, nil
	}
	return m.writeAhead(ctx, c, rec)
}

// writeAhead records the audit entry as pending, performs the conditional
// write, then confirms or discards. A key that is already held means another
// writer produced the same transition from the same revision.
//
// When the write itself fails the pending record is resolved against the
// entity on the spot, by the same rules Repair applies, so a retry is not
// refused as stale. If the entity cannot be read either, the record is left
// for Repair.
func (m *Machine) writeAhead(ctx context.Context, c document.Change, rec audit.Record) (bool, error) {
	key := rec.Key()
	if err := m.ledger.AppendPending(ctx, rec); err != nil {
		if errors.Is(err, audit.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("finalise: append pending audit %s: %w", key, err)
	}
	ok, err := m.store.WriteTransition(ctx, c)
	if err != nil {
		res, rerr := resolvePending(ctx, m.store, m.ledger, rec)
		if rerr != nil {
			obs.Warn("pending audit left for repair", map[string]any{"key": key.String(), "err": rerr.Error()})
		} else if res == outcomeConfirmed {
			return true, nil
		}
		return false, fmt.Errorf("finalise: write %s %s: %w", c.Action, c.Ref, err)
	}
	if !ok {
		if err := m.ledger.Discard(ctx, key); err != nil {
			obs.Warn("discard pending audit failed", map[string]any{"key": key.String(), "err": err.Error()})
		}
		return false, nil
	}
	if err := m.ledger.Confirm(ctx, key); err != nil {
		obs.Warn("confirm pending audit failed", map[string]any{"key": key.String(), "err": err.Error()})
	}
	return true, nil
}

func (m *Machine) rejected(ctx context.Context, p auth.Principal, rej *Rejection, deny policy.DenyReason) error {
	obs.ObserveTransition(string(rej.Ref.Type), string(rej.Action), string(rej.Reason))
	fields := map[string]any{
		"entity":   rej.Ref.String(),
		"action":   rej.Action,
		"reason":   rej.Reason,
		"actor_id": p.ID,
	}
	if deny != policy.ReasonNone {
		fields["deny"] = deny
	}
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		fields["request_id"] = rid
	}
	obs.Info("transition rejected", fields)
	return rej
}

func (m *Machine) notify(ctx context.Context, e document.Entity) {
	if m.notifier == nil {
		obs.ObserveNotification("disabled")
		return
	}
	// Request values such as the request id carry over; cancellation does not.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.notifyTimeout)
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer cancel()
		if err := m.notifier.Notify(ctx, e.Ref, e.ClientID); err != nil {
			obs.ObserveNotification("failed")
			obs.Warn("client notification failed", map[string]any{"entity": e.Ref.String(), "client_id": e.ClientID, "err": err.Error()})
			return
		}
		obs.ObserveNotification("sent")
	}()
}

// Wait blocks until every dispatched notification has returned.
func (m *Machine) Wait() {
	m.inflight.Wait()
}
