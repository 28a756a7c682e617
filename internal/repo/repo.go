package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gather/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// q runs against tx when one is open, otherwise against the pool.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

const eventColumns = `id,name,occasion_type,host_id,co_host_id,status,structure_mode,guest_count,
dietary_vegetarian,dietary_vegan,dietary_gluten_free,dietary_dairy_free,dietary_nut_free,venue_oven_count,
plan_snapshot_id_at_confirming,transitioned_to_confirming_at,frozen_at,completed_at,created_at,updated_at`

func scanEvent(s scanner) (domain.Event, error) {
	var e domain.Event
	var coHost, snapshot, confirmedAt, frozenAt, completedAt sql.NullString
	var oven sql.NullInt64
	err := s.Scan(&e.ID, &e.Name, &e.OccasionType, &e.HostID, &coHost, &e.Status, &e.StructureMode, &e.GuestCount,
		&e.Dietary.Vegetarian, &e.Dietary.Vegan, &e.Dietary.GlutenFree, &e.Dietary.DairyFree, &e.Dietary.NutFree, &oven,
		&snapshot, &confirmedAt, &frozenAt, &completedAt, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.CoHostID = optional(coHost)
	e.PlanSnapshotIDAtConfirming = optional(snapshot)
	e.TransitionedToConfirmingAt = optional(confirmedAt)
	e.FrozenAt = optional(frozenAt)
	e.CompletedAt = optional(completedAt)
	if oven.Valid {
		v := int(oven.Int64)
		e.VenueOvenCount = &v
	}
	return e, nil
}

func (r Repo) InsertEvent(ctx context.Context, tx *sql.Tx, e domain.Event) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO events(`+eventColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Name, e.OccasionType, e.HostID, nullablePtr(e.CoHostID), e.Status, e.StructureMode, e.GuestCount,
		e.Dietary.Vegetarian, e.Dietary.Vegan, e.Dietary.GlutenFree, e.Dietary.DairyFree, e.Dietary.NutFree, nullableInt(e.VenueOvenCount),
		nullablePtr(e.PlanSnapshotIDAtConfirming), nullablePtr(e.TransitionedToConfirmingAt), nullablePtr(e.FrozenAt), nullablePtr(e.CompletedAt),
		e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) GetEvent(ctx context.Context, tx *sql.Tx, id string) (domain.Event, error) {
	return scanEvent(r.q(tx).QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=?`, id))
}

func (r Repo) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// UpdateEventDetails writes the editable facts of an event (counts, venue,
// co-host). Lifecycle columns are owned by the transition methods.
func (r Repo) UpdateEventDetails(ctx context.Context, tx *sql.Tx, e domain.Event) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE events SET name=?, occasion_type=?, co_host_id=?, guest_count=?,
dietary_vegetarian=?, dietary_vegan=?, dietary_gluten_free=?, dietary_dairy_free=?, dietary_nut_free=?,
venue_oven_count=?, updated_at=? WHERE id=?`,
		e.Name, e.OccasionType, nullablePtr(e.CoHostID), e.GuestCount,
		e.Dietary.Vegetarian, e.Dietary.Vegan, e.Dietary.GlutenFree, e.Dietary.DairyFree, e.Dietary.NutFree,
		nullableInt(e.VenueOvenCount), e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ConfirmEvent moves a DRAFT event to CONFIRMING and locks its structure.
// It returns the number of rows changed; 0 means the event was no longer DRAFT.
func (r Repo) ConfirmEvent(ctx context.Context, tx *sql.Tx, id, snapshotID, ts string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE events SET status=?, structure_mode=?, plan_snapshot_id_at_confirming=?,
transitioned_to_confirming_at=?, updated_at=? WHERE id=? AND status=?`,
		domain.EventConfirming, domain.StructureLocked, snapshotID, ts, ts, id, domain.EventDraft)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetEventStatus performs a conditional status change and stamps the
// matching timestamp column.
func (r Repo) SetEventStatus(ctx context.Context, tx *sql.Tx, id, from, to, ts string) (int64, error) {
	var column string
	switch to {
	case domain.EventFrozen:
		column = "frozen_at"
	case domain.EventComplete:
		column = "completed_at"
	default:
		return 0, fmt.Errorf("no timestamp column for status %s", to)
	}
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE events SET status=?, %s=?, updated_at=? WHERE id=? AND status=?`, column),
		to, ts, ts, id, from)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) InsertPerson(ctx context.Context, tx *sql.Tx, p domain.Person) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO people(id,name,email,phone,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Email), nullable(p.Phone), p.CreatedAt)
	return err
}

func (r Repo) GetPerson(ctx context.Context, tx *sql.Tx, id string) (domain.Person, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT id,name,COALESCE(email,''),COALESCE(phone,''),created_at FROM people WHERE id=?`, id)
	var p domain.Person
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// PeopleByID loads the given people keyed by id; unknown ids are skipped.
func (r Repo) PeopleByID(ctx context.Context, ids []string) (map[string]domain.Person, error) {
	res := make(map[string]domain.Person, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(email,''),COALESCE(phone,''),created_at FROM people WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CreatedAt); err != nil {
			return nil, err
		}
		res[p.ID] = p
	}
	return res, rows.Err()
}

func (r Repo) InsertMembership(ctx context.Context, tx *sql.Tx, m domain.Membership) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO memberships(event_id,person_id,role,team_id,created_at) VALUES (?,?,?,?,?)`,
		m.EventID, m.PersonID, m.Role, m.TeamID, m.CreatedAt)
	return err
}

func (r Repo) DeleteMembership(ctx context.Context, tx *sql.Tx, m domain.Membership) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM memberships WHERE event_id=? AND person_id=? AND role=? AND team_id=?`,
		m.EventID, m.PersonID, m.Role, m.TeamID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListMemberships(ctx context.Context, tx *sql.Tx, eventID string) ([]domain.Membership, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT event_id,person_id,role,team_id,created_at FROM memberships WHERE event_id=? ORDER BY created_at, person_id, role`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.EventID, &m.PersonID, &m.Role, &m.TeamID, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func optional(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeStrings(in []string) string {
	if len(in) == 0 {
		return "[]"
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
