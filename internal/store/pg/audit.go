package pg

import (
	"context"

	"practicedesk.io/internal/audit"
)

// insertAudit appends rec unless a row with the same audit key exists.
func insertAudit(ctx context.Context, db execer, rec audit.Record) error {
	_, err := db.ExecContext(ctx, `
		insert into document_audit
			(id, entity_type, entity_id, from_status, to_status, action, actor_id, occurred_at, note, version, revision)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		on conflict (entity_type, entity_id, to_status, version, revision) do nothing
	`, rec.ID, rec.EntityType, rec.EntityID, rec.FromStatus, rec.ToStatus, rec.Action,
		rec.ActorID, rec.OccurredAt, nullIfEmpty(rec.Note), rec.Version, rec.Revision)
	return err
}
