package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gather/internal/domain"
)

// InsertPlanSnapshot writes a snapshot. Snapshots are never updated.
func (r Repo) InsertPlanSnapshot(ctx context.Context, tx *sql.Tx, s domain.PlanSnapshot) error {
	teams, err := json.Marshal(nonNil(s.Teams))
	if err != nil {
		return fmt.Errorf("marshal snapshot teams: %w", err)
	}
	items, err := json.Marshal(nonNil(s.Items))
	if err != nil {
		return fmt.Errorf("marshal snapshot items: %w", err)
	}
	flags, err := json.Marshal(nonNil(s.CriticalFlags))
	if err != nil {
		return fmt.Errorf("marshal snapshot flags: %w", err)
	}
	acks, err := json.Marshal(nonNil(s.Acknowledgements))
	if err != nil {
		return fmt.Errorf("marshal snapshot acknowledgements: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO plan_snapshots(id,event_id,phase,teams_json,items_json,critical_flags_json,acknowledgements_json,created_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.EventID, s.Phase, string(teams), string(items), string(flags), string(acks), s.CreatedBy, s.CreatedAt)
	return err
}

func (r Repo) GetPlanSnapshot(ctx context.Context, id string) (domain.PlanSnapshot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,event_id,phase,teams_json,items_json,critical_flags_json,acknowledgements_json,created_by,created_at
FROM plan_snapshots WHERE id=?`, id)
	var s domain.PlanSnapshot
	var teams, items, flags, acks string
	err := row.Scan(&s.ID, &s.EventID, &s.Phase, &teams, &items, &flags, &acks, &s.CreatedBy, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	for _, part := range []struct {
		raw string
		dst any
	}{{teams, &s.Teams}, {items, &s.Items}, {flags, &s.CriticalFlags}, {acks, &s.Acknowledgements}} {
		if err := json.Unmarshal([]byte(part.raw), part.dst); err != nil {
			return s, fmt.Errorf("decode snapshot %s: %w", s.ID, err)
		}
	}
	return s, nil
}

func (r Repo) CountPlanSnapshots(ctx context.Context, eventID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM plan_snapshots WHERE event_id=?`, eventID).Scan(&n)
	return n, err
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
