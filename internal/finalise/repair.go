package finalise

import (
	"context"
	"errors"
	"fmt"
	"time"

	"practicedesk.io/internal/audit"
	"practicedesk.io/internal/document"
	"practicedesk.io/internal/obs"
)

// RepairReport lists what one Repair pass did with each pending record.
// Skipped records were younger than the minimum age and left alone.
type RepairReport struct {
	Confirmed  []audit.Key
	Discarded  []audit.Key
	Unresolved []audit.Key
	Skipped    []audit.Key
}

type repairConfig struct {
	minAge time.Duration
	now    func() time.Time
}

// RepairOption tunes a Repair pass.
type RepairOption func(*repairConfig)

// WithMinAge leaves pending records younger than d untouched, so a pass
// running beside live traffic does not discard an in-flight write.
func WithMinAge(d time.Duration) RepairOption {
	return func(c *repairConfig) { c.minAge = d }
}

// WithRepairClock overrides the time source used for WithMinAge.
func WithRepairClock(now func() time.Time) RepairOption {
	return func(c *repairConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// Repair resolves pending audit records left behind by an interrupted
// write-ahead transition. A record is confirmed when the entity sits at the
// record's revision and target status, and discarded when the write never
// landed. If the entity has moved past the record's revision the outcome can
// no longer be decided from state alone and the record is reported as unresolved.
func Repair(ctx context.Context, store Store, ledger audit.PendingLedger, opts ...RepairOption) (RepairReport, error) {
	cfg := repairConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	var report RepairReport
	pending, err := ledger.Pending(ctx)
	if err != nil {
		return report, fmt.Errorf("finalise: repair: list pending: %w", err)
	}
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		key := rec.Key()
		if cfg.minAge > 0 && cfg.now().Sub(rec.OccurredAt) < cfg.minAge {
			report.Skipped = append(report.Skipped, key)
			continue
		}
		res, err := resolvePending(ctx, store, ledger, rec)
		if err != nil {
			return report, fmt.Errorf("finalise: repair: %w", err)
		}
		switch res {
		case outcomeConfirmed:
			report.Confirmed = append(report.Confirmed, key)
		case outcomeDiscarded:
			report.Discarded = append(report.Discarded, key)
		default:
			report.Unresolved = append(report.Unresolved, key)
		}
	}
	obs.Info("audit repair finished", map[string]any{
		"confirmed":  len(report.Confirmed),
		"discarded":  len(report.Discarded),
		"unresolved": len(report.Unresolved),
		"skipped":    len(report.Skipped),
	})
	return report, nil
}

type outcome int

const (
	outcomeUnresolved outcome = iota
	outcomeConfirmed
	outcomeDiscarded
)

// resolvePending settles one pending record against the entity's current state.
func resolvePending(ctx context.Context, store Store, ledger audit.PendingLedger, rec audit.Record) (outcome, error) {
	key := rec.Key()
	e, err := store.Load(ctx, document.Ref{Type: rec.EntityType, ID: rec.EntityID})
	switch {
	case errors.Is(err, document.ErrNotFound):
		if err := ledger.Discard(ctx, key); err != nil {
			return outcomeUnresolved, fmt.Errorf("discard %s: %w", key, err)
		}
		return outcomeDiscarded, nil
	case err != nil:
		return outcomeUnresolved, fmt.Errorf("load %s/%s: %w", rec.EntityType, rec.EntityID, err)
	}

	switch {
	case e.Revision == rec.Revision && e.Status == rec.ToStatus:
		if err := ledger.Confirm(ctx, key); err != nil {
			return outcomeUnresolved, fmt.Errorf("confirm %s: %w", key, err)
		}
		return outcomeConfirmed, nil
	case e.Revision <= rec.Revision:
		if err := ledger.Discard(ctx, key); err != nil {
			return outcomeUnresolved, fmt.Errorf("discard %s: %w", key, err)
		}
		return outcomeDiscarded, nil
	}
	return outcomeUnresolved, nil
}
