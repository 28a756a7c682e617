package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"gather/internal/domain"
)

const tokenColumns = `id,event_id,person_id,scope,team_id,token,expires_at,created_at`

func scanToken(s scanner) (domain.AccessToken, error) {
	var t domain.AccessToken
	err := s.Scan(&t.ID, &t.EventID, &t.PersonID, &t.Scope, &t.TeamID, &t.Token, &t.ExpiresAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// InsertAccessTokens batch-inserts tokens in one statement. Rows that collide
// with an existing (event, person, scope, team) triple are skipped; the
// number actually written is returned.
// tokenInsertBatch keeps each INSERT well under SQLite's bound-parameter limit.
const tokenInsertBatch = 500

func (r Repo) InsertAccessTokens(ctx context.Context, tx *sql.Tx, tokens []domain.AccessToken) (int64, error) {
	var total int64
	for start := 0; start < len(tokens); start += tokenInsertBatch {
		end := min(start+tokenInsertBatch, len(tokens))
		n, err := r.insertAccessTokenBatch(ctx, tx, tokens[start:end])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r Repo) insertAccessTokenBatch(ctx context.Context, tx *sql.Tx, tokens []domain.AccessToken) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	rows := make([]string, 0, len(tokens))
	args := make([]any, 0, len(tokens)*8)
	for _, t := range tokens {
		if t.ID == "" || t.EventID == "" || t.PersonID == "" || t.Token == "" {
			return 0, errors.New("access token id, event_id, person_id and token required")
		}
		rows = append(rows, "(?,?,?,?,?,?,?,?)")
		args = append(args, t.ID, t.EventID, t.PersonID, t.Scope, t.TeamID, t.Token, t.ExpiresAt, t.CreatedAt)
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO access_tokens(`+tokenColumns+`) VALUES `+strings.Join(rows, ","), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListAccessTokens(ctx context.Context, tx *sql.Tx, eventID string) ([]domain.AccessToken, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE event_id=?
ORDER BY CASE scope WHEN 'HOST' THEN 0 WHEN 'COORDINATOR' THEN 1 ELSE 2 END, created_at, person_id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AccessToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// GetAccessTokenByValue looks a credential up by its opaque token string.
func (r Repo) GetAccessTokenByValue(ctx context.Context, token string) (domain.AccessToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.AccessToken{}, ErrNotFound
	}
	return scanToken(r.DB.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE token=? LIMIT 1`, token))
}

func (r Repo) DeleteAccessTokens(ctx context.Context, tx *sql.Tx, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM access_tokens WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
