package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"practicedesk.io/internal/audit"
	"practicedesk.io/internal/document"
	"practicedesk.io/internal/finalise"
	"practicedesk.io/internal/policy"
)

var (
	_ finalise.AtomicStore = (*Store)(nil)
	_ finalise.Lister      = (*Store)(nil)
	_ finalise.Creator     = (*Store)(nil)
)

const documentColumns = `entity_type, id, status, firm_id, business_id, client_id,
	finalised_by, finalised_at, shared_by, shared_at, archived_by, archived_at,
	revoked_reason, version, revision`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (document.Entity, error) {
	var (
		e                                   document.Entity
		business, finBy, shBy, arBy, reason sql.NullString
		finAt, shAt, arAt                   sql.NullTime
	)
	if err := row.Scan(&e.Type, &e.ID, &e.Status, &e.FirmID, &business, &e.ClientID,
		&finBy, &finAt, &shBy, &shAt, &arBy, &arAt, &reason, &e.Version, &e.Revision); err != nil {
		return document.Entity{}, err
	}
	e.BusinessID = business.String
	e.FinalisedBy = finBy.String
	e.FinalisedAt = timePtr(finAt)
	e.SharedBy = shBy.String
	e.SharedAt = timePtr(shAt)
	e.ArchivedBy = arBy.String
	e.ArchivedAt = timePtr(arAt)
	e.RevokedReason = reason.String
	return e, nil
}

// Create inserts a new document row.
func (s *Store) Create(ctx context.Context, e document.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		insert into documents (`+documentColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, e.Type, e.ID, e.Status, e.FirmID, nullIfEmpty(e.BusinessID), e.ClientID,
		nullIfEmpty(e.FinalisedBy), nullTime(e.FinalisedAt), nullIfEmpty(e.SharedBy), nullTime(e.SharedAt),
		nullIfEmpty(e.ArchivedBy), nullTime(e.ArchivedAt), nullIfEmpty(e.RevokedReason), e.Version, e.Revision)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return ErrConflict
	}
	return err
}

func (s *Store) Load(ctx context.Context, ref document.Ref) (document.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+documentColumns+`
		from documents
		where entity_type = $1 and id = $2
	`, ref.Type, ref.ID)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Entity{}, document.ErrNotFound
	}
	if err != nil {
		return document.Entity{}, err
	}
	return e, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// transitionSQL builds the conditional update for c. Only the columns the
// action touches are written, and each placeholder is referenced.
func transitionSQL(c document.Change) (string, []any) {
	args := []any{c.Ref.Type, c.Ref.ID, c.ExpectedStatus, c.ExpectedRevision, c.Status, c.At}
	sets := []string{"status = $5", "revision = revision + 1", "updated_at = $6"}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	switch c.Action {
	case document.ActionSubmit:
		sets = append(sets, "revoked_reason = null")
	case document.ActionFinalise:
		sets = append(sets, "finalised_by = "+arg(c.ActorID), "finalised_at = $6", "revoked_reason = null")
	case document.ActionShare:
		sets = append(sets, "shared_by = "+arg(c.ActorID), "shared_at = $6")
	case document.ActionRevoke:
		sets = append(sets, "finalised_by = null", "finalised_at = null", "revoked_reason = "+arg(nullIfEmpty(c.Note)))
	case document.ActionArchive:
		sets = append(sets, "shared_by = null", "shared_at = null", "archived_by = "+arg(c.ActorID), "archived_at = $6")
	}
	query := "update documents set " + strings.Join(sets, ", ") +
		" where entity_type = $1 and id = $2 and status = $3 and revision = $4"
	return query, args
}

func writeTransition(ctx context.Context, db execer, c document.Change) (bool, error) {
	query, args := transitionSQL(c)
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		if isConflict(err) {
			return false, nil
		}
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrCheckViolation {
			return false, fmt.Errorf("%w: %s", document.ErrInvalidEntity, pgErr.ConstraintName)
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// WriteTransition applies c without an audit row. Machines over this store use
// CommitTransition instead.
func (s *Store) WriteTransition(ctx context.Context, c document.Change) (bool, error) {
	return writeTransition(ctx, s.db, c)
}

// CommitTransition applies c and inserts rec in one transaction. The audit
// insert is idempotent on the audit key.
func (s *Store) CommitTransition(ctx context.Context, c document.Change, rec audit.Record) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := writeTransition(ctx, tx, c)
	if err != nil || !ok {
		return false, err
	}
	if err := insertAudit(ctx, tx, rec); err != nil {
		if isConflict(err) {
			return false, nil
		}
		return false, err
	}
	if err := tx.Commit(); err != nil {
		if isConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns documents of type t matching scope, ordered by id. A scope that
// pins neither firm nor business matches nothing.
func (s *Store) List(ctx context.Context, t document.Type, scope policy.Scope) ([]document.Entity, error) {
	if scope.FirmID == "" && scope.BusinessID == "" {
		return nil, nil
	}
	query, args := listSQL(t, scope)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []document.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func listSQL(t document.Type, scope policy.Scope) (string, []any) {
	args := []any{t}
	where := []string{"entity_type = $1"}
	add := func(col string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if scope.FirmID != "" {
		add("firm_id", scope.FirmID)
	}
	if scope.BusinessID != "" {
		add("business_id", scope.BusinessID)
	}
	if scope.ClientID != "" {
		add("client_id", scope.ClientID)
	}
	if len(scope.StatusIn) > 0 {
		ph := make([]string, 0, len(scope.StatusIn))
		for _, st := range scope.StatusIn {
			args = append(args, st)
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "status in ("+strings.Join(ph, ", ")+")")
	}
	return "select " + documentColumns + " from documents where " + strings.Join(where, " and ") + " order by id asc", args
}
