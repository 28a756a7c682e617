package repo

import (
	"context"
	"database/sql"
	"fmt"

	"gather/internal/domain"
)

const conflictColumns = `id,event_id,fingerprint,type,severity,claim_type,resolution_class,status,title,description,
affected_parties_json,affected_item_ids_json,suggestion_json,can_delegate,delegate_to_roles_json,input_hash,
created_at,updated_at,resolved_at,resolved_by,dismissed_at,dismissed_by`

func scanConflict(s scanner) (domain.Conflict, error) {
	var c domain.Conflict
	var parties, items, roles string
	var suggestion, resolvedAt, resolvedBy, dismissedAt, dismissedBy sql.NullString
	err := s.Scan(&c.ID, &c.EventID, &c.Fingerprint, &c.Type, &c.Severity, &c.ClaimType, &c.ResolutionClass, &c.Status,
		&c.Title, &c.Description, &parties, &items, &suggestion, &c.CanDelegate, &roles, &c.InputHash,
		&c.CreatedAt, &c.UpdatedAt, &resolvedAt, &resolvedBy, &dismissedAt, &dismissedBy)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.AffectedParties = decodeStrings(parties)
	c.AffectedItemIDs = decodeStrings(items)
	c.DelegateToRoles = decodeStrings(roles)
	if suggestion.Valid {
		s, err := domain.DecodeSuggestion(suggestion.String)
		if err != nil {
			return c, fmt.Errorf("conflict %s: %w", c.ID, err)
		}
		c.Suggestion = s
	}
	c.ResolvedAt = optional(resolvedAt)
	c.ResolvedBy = optional(resolvedBy)
	c.DismissedAt = optional(dismissedAt)
	c.DismissedBy = optional(dismissedBy)
	return c, nil
}

func (r Repo) InsertConflict(ctx context.Context, tx *sql.Tx, c domain.Conflict) error {
	suggestion, err := domain.EncodeSuggestion(c.Suggestion)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO conflicts(`+conflictColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.EventID, c.Fingerprint, c.Type, c.Severity, c.ClaimType, c.ResolutionClass, c.Status, c.Title, c.Description,
		encodeStrings(c.AffectedParties), encodeStrings(c.AffectedItemIDs), nullable(suggestion), boolInt(c.CanDelegate),
		encodeStrings(c.DelegateToRoles), c.InputHash, c.CreatedAt, c.UpdatedAt,
		nullablePtr(c.ResolvedAt), nullablePtr(c.ResolvedBy), nullablePtr(c.DismissedAt), nullablePtr(c.DismissedBy))
	return err
}

func (r Repo) GetConflict(ctx context.Context, tx *sql.Tx, id string) (domain.Conflict, error) {
	return scanConflict(r.q(tx).QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id=?`, id))
}

func (r Repo) GetConflictByFingerprint(ctx context.Context, tx *sql.Tx, eventID, fingerprint string) (domain.Conflict, error) {
	return scanConflict(r.q(tx).QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE event_id=? AND fingerprint=?`, eventID, fingerprint))
}

// ListConflicts returns the event's conflicts, optionally filtered by status.
func (r Repo) ListConflicts(ctx context.Context, tx *sql.Tx, eventID, status string) ([]domain.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE event_id=?`
	args := []any{eventID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, fingerprint`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// RefreshOpenConflict rewrites the detector-owned fields of an OPEN conflict.
// Rows in any other status are left untouched and 0 is returned.
func (r Repo) RefreshOpenConflict(ctx context.Context, tx *sql.Tx, c domain.Conflict) (int64, error) {
	suggestion, err := domain.EncodeSuggestion(c.Suggestion)
	if err != nil {
		return 0, err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE conflicts SET title=?, description=?, affected_parties_json=?, affected_item_ids_json=?,
suggestion_json=?, input_hash=?, updated_at=? WHERE id=? AND status=?`,
		c.Title, c.Description, encodeStrings(c.AffectedParties), encodeStrings(c.AffectedItemIDs), nullable(suggestion),
		c.InputHash, c.UpdatedAt, c.ID, domain.ConflictOpen)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReopenDismissedConflict flips a DISMISSED conflict back to OPEN with fresh
// detector fields.
func (r Repo) ReopenDismissedConflict(ctx context.Context, tx *sql.Tx, c domain.Conflict) (int64, error) {
	suggestion, err := domain.EncodeSuggestion(c.Suggestion)
	if err != nil {
		return 0, err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE conflicts SET status=?, title=?, description=?, affected_parties_json=?,
affected_item_ids_json=?, suggestion_json=?, input_hash=?, dismissed_at=NULL, dismissed_by=NULL, updated_at=?
WHERE id=? AND status=?`,
		domain.ConflictOpen, c.Title, c.Description, encodeStrings(c.AffectedParties), encodeStrings(c.AffectedItemIDs),
		nullable(suggestion), c.InputHash, c.UpdatedAt, c.ID, domain.ConflictDismissed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReopenResolvedConflict flips a conflict RESOLVED by resolvedBy back to OPEN
// with fresh detector fields. Conflicts resolved by anyone else are left alone.
func (r Repo) ReopenResolvedConflict(ctx context.Context, tx *sql.Tx, c domain.Conflict, resolvedBy string) (int64, error) {
	suggestion, err := domain.EncodeSuggestion(c.Suggestion)
	if err != nil {
		return 0, err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE conflicts SET status=?, title=?, description=?, affected_parties_json=?,
affected_item_ids_json=?, suggestion_json=?, input_hash=?, resolved_at=NULL, resolved_by=NULL, updated_at=?
WHERE id=? AND status=? AND resolved_by=?`,
		domain.ConflictOpen, c.Title, c.Description, encodeStrings(c.AffectedParties), encodeStrings(c.AffectedItemIDs),
		nullable(suggestion), c.InputHash, c.UpdatedAt, c.ID, domain.ConflictResolved, resolvedBy)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResolveOpenConflict marks an OPEN conflict RESOLVED. 0 rows means it was
// not OPEN when the statement ran.
func (r Repo) ResolveOpenConflict(ctx context.Context, tx *sql.Tx, id, actorID, ts string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE conflicts SET status=?, resolved_at=?, resolved_by=?, updated_at=? WHERE id=? AND status=?`,
		domain.ConflictResolved, ts, actorID, ts, id, domain.ConflictOpen)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) DismissOpenConflict(ctx context.Context, tx *sql.Tx, id, actorID, ts string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE conflicts SET status=?, dismissed_at=?, dismissed_by=?, updated_at=? WHERE id=? AND status=?`,
		domain.ConflictDismissed, ts, nullable(actorID), ts, id, domain.ConflictOpen)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) AcknowledgeOpenConflict(ctx context.Context, tx *sql.Tx, id, ts string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE conflicts SET status=?, updated_at=? WHERE id=? AND status=?`,
		domain.ConflictAcknowledged, ts, id, domain.ConflictOpen)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const ackColumns = `id,conflict_id,event_id,impact_statement,impact_understood,mitigation_plan_type,
visible_to_cohosts,visible_to_coordinators,visible_to_participants,acknowledged_by,created_at`

func scanAcknowledgement(s scanner) (domain.Acknowledgement, error) {
	var a domain.Acknowledgement
	err := s.Scan(&a.ID, &a.ConflictID, &a.EventID, &a.ImpactStatement, &a.ImpactUnderstood, &a.MitigationPlanType,
		&a.VisibleToCoHosts, &a.VisibleToCoordinators, &a.VisibleToParticipants, &a.AcknowledgedBy, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) InsertAcknowledgement(ctx context.Context, tx *sql.Tx, a domain.Acknowledgement) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO acknowledgements(`+ackColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ConflictID, a.EventID, a.ImpactStatement, boolInt(a.ImpactUnderstood), a.MitigationPlanType,
		boolInt(a.VisibleToCoHosts), boolInt(a.VisibleToCoordinators), boolInt(a.VisibleToParticipants), a.AcknowledgedBy, a.CreatedAt)
	return err
}

func (r Repo) GetAcknowledgement(ctx context.Context, tx *sql.Tx, conflictID string) (domain.Acknowledgement, error) {
	return scanAcknowledgement(r.q(tx).QueryRowContext(ctx, `SELECT `+ackColumns+` FROM acknowledgements WHERE conflict_id=?`, conflictID))
}

func (r Repo) ListAcknowledgements(ctx context.Context, tx *sql.Tx, eventID string) ([]domain.Acknowledgement, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+ackColumns+` FROM acknowledgements WHERE event_id=? ORDER BY created_at, id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Acknowledgement
	for rows.Next() {
		a, err := scanAcknowledgement(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
