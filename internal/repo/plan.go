package repo

import (
	"context"
	"database/sql"

	"gather/internal/domain"
)

const teamColumns = `id,event_id,name,domain,coordinator_id,is_protected,created_at`

func scanTeam(s scanner) (domain.Team, error) {
	var t domain.Team
	var coordinator sql.NullString
	err := s.Scan(&t.ID, &t.EventID, &t.Name, &t.Domain, &coordinator, &t.IsProtected, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.CoordinatorID = optional(coordinator)
	return t, nil
}

func (r Repo) InsertTeam(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO teams(`+teamColumns+`) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.EventID, t.Name, t.Domain, nullablePtr(t.CoordinatorID), boolInt(t.IsProtected), t.CreatedAt)
	return err
}

func (r Repo) GetTeam(ctx context.Context, tx *sql.Tx, id string) (domain.Team, error) {
	return scanTeam(r.q(tx).QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id=?`, id))
}

func (r Repo) ListTeams(ctx context.Context, tx *sql.Tx, eventID string) ([]domain.Team, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE event_id=? ORDER BY created_at, id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) SetTeamCoordinator(ctx context.Context, tx *sql.Tx, teamID string, coordinatorID *string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE teams SET coordinator_id=? WHERE id=?`, nullablePtr(coordinatorID), teamID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTeam removes a team; its items go with it through the foreign key.
func (r Repo) DeleteTeam(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM teams WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = r.q(tx).ExecContext(ctx, `DELETE FROM memberships WHERE team_id=?`, id)
	return err
}

const itemColumns = `id,event_id,team_id,name,quantity_amount,quantity_unit,quantity_state,placeholder_acknowledged,
critical,dietary_tags_json,equipment,time_slot,assignee_id,created_at,updated_at`

func scanItem(s scanner) (domain.Item, error) {
	var it domain.Item
	var amount sql.NullFloat64
	var unit, assignee sql.NullString
	var tags string
	err := s.Scan(&it.ID, &it.EventID, &it.TeamID, &it.Name, &amount, &unit, &it.QuantityState, &it.PlaceholderAcknowledged,
		&it.Critical, &tags, &it.Equipment, &it.TimeSlot, &assignee, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if amount.Valid {
		v := amount.Float64
		it.QuantityAmount = &v
	}
	if unit.Valid {
		it.QuantityUnit = unit.String
	}
	it.DietaryTags = decodeStrings(tags)
	it.AssigneeID = optional(assignee)
	return it, nil
}

func itemArgs(it domain.Item) []any {
	var amount any
	if it.QuantityAmount != nil {
		amount = *it.QuantityAmount
	}
	return []any{it.ID, it.EventID, it.TeamID, it.Name, amount, nullable(it.QuantityUnit), it.QuantityState,
		boolInt(it.PlaceholderAcknowledged), boolInt(it.Critical), encodeStrings(it.DietaryTags), it.Equipment, it.TimeSlot,
		nullablePtr(it.AssigneeID), it.CreatedAt, it.UpdatedAt}
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, itemArgs(it)...)
	return err
}

func (r Repo) GetItem(ctx context.Context, tx *sql.Tx, id string) (domain.Item, error) {
	return scanItem(r.q(tx).QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id))
}

func (r Repo) ListItems(ctx context.Context, tx *sql.Tx, eventID string) ([]domain.Item, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE event_id=? ORDER BY created_at, id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) UpdateItem(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	var amount any
	if it.QuantityAmount != nil {
		amount = *it.QuantityAmount
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE items SET team_id=?, name=?, quantity_amount=?, quantity_unit=?, quantity_state=?,
placeholder_acknowledged=?, critical=?, dietary_tags_json=?, equipment=?, time_slot=?, assignee_id=?, updated_at=? WHERE id=?`,
		it.TeamID, it.Name, amount, nullable(it.QuantityUnit), it.QuantityState, boolInt(it.PlaceholderAcknowledged), boolInt(it.Critical),
		encodeStrings(it.DietaryTags), it.Equipment, it.TimeSlot, nullablePtr(it.AssigneeID), it.UpdatedAt, it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteItem(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
