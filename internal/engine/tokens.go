package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"gather/internal/audit"
	"gather/internal/domain"
)

const defaultTokenTTL = 90 * 24 * time.Hour

// TokenResult summarises one EnsureTokens pass.
type TokenResult struct {
	Created        int                  `json:"created"`
	Deleted        int                  `json:"deleted"`
	Tokens         []domain.AccessToken `json:"tokens"`
	createdByScope map[string]int
	deletedByScope map[string]int
}

type tokenKey struct {
	personID string
	scope    string
	teamID   string
}

func keyOf(t domain.AccessToken) tokenKey {
	return tokenKey{personID: t.PersonID, scope: t.Scope, teamID: t.TeamID}
}

// EnsureTokens converges the event's access tokens onto the set its current
// hosts, coordinators and participants should hold. A second call with no
// intervening change creates and deletes nothing.
func (e Engine) EnsureTokens(ctx context.Context, eventID, actorID string) (res TokenResult, err error) {
	ctx, span, start := e.startOp(ctx, "ensure_tokens", attribute.String("event.id", eventID))
	defer func() { e.endOp(span, "ensure_tokens", start, err) }()

	tx, err := e.begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	res, err = e.ensureTokensTx(ctx, tx, eventID)
	if err != nil {
		return res, err
	}
	if res.Created > 0 || res.Deleted > 0 {
		if err := e.appendAudit(ctx, tx, "tokens.ensured", eventID, "event", eventID, actorID, audit.Payload{
			"created": res.Created,
			"deleted": res.Deleted,
		}); err != nil {
			return res, err
		}
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	e.recordTokenChanges(res)
	return res, nil
}

// ensureTokensTx does the desired-versus-existing diff inside tx. Stale
// tokens are deleted before missing ones are inserted.
func (e Engine) ensureTokensTx(ctx context.Context, tx *sql.Tx, eventID string) (TokenResult, error) {
	const op = "ensure tokens"
	res := TokenResult{createdByScope: map[string]int{}, deletedByScope: map[string]int{}}
	ev, err := e.Repo.GetEvent(ctx, tx, eventID)
	if err != nil {
		return res, lookupErr(op, "event", eventID, err)
	}
	teams, err := e.Repo.ListTeams(ctx, tx, eventID)
	if err != nil {
		return res, err
	}
	members, err := e.Repo.ListMemberships(ctx, tx, eventID)
	if err != nil {
		return res, err
	}
	desired, coordinators := desiredTokens(ev, teams, members)

	existing, err := e.Repo.ListAccessTokens(ctx, tx, eventID)
	if err != nil {
		return res, err
	}
	want := make(map[tokenKey]bool, len(desired))
	for _, k := range desired {
		want[k] = true
	}
	have := make(map[tokenKey]bool, len(existing))
	var stale []string
	for _, t := range existing {
		k := keyOf(t)
		switch {
		case (t.Scope == domain.ScopeCoordinator || t.Scope == domain.ScopeHost) && !want[k]:
			stale = append(stale, t.ID)
			res.deletedByScope[t.Scope]++
		case t.Scope == domain.ScopeParticipant && coordinators[t.PersonID]:
			stale = append(stale, t.ID)
			res.deletedByScope[t.Scope]++
		default:
			have[k] = true
		}
	}
	deleted, err := e.Repo.DeleteAccessTokens(ctx, tx, stale)
	if err != nil {
		return res, fmt.Errorf("%s: delete stale: %w", op, err)
	}
	res.Deleted = int(deleted)

	now := e.now().UTC()
	ttl := e.config().Tokens.TTL.Duration
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	var missing []domain.AccessToken
	for _, k := range desired {
		if have[k] {
			continue
		}
		value, err := newTokenValue()
		if err != nil {
			return res, err
		}
		missing = append(missing, domain.AccessToken{
			ID:        uuid.New().String(),
			EventID:   eventID,
			PersonID:  k.personID,
			Scope:     k.scope,
			TeamID:    k.teamID,
			Token:     value,
			ExpiresAt: now.Add(ttl).Format(time.RFC3339),
			CreatedAt: now.Format(time.RFC3339),
		})
		res.createdByScope[k.scope]++
	}
	created, err := e.Repo.InsertAccessTokens(ctx, tx, missing)
	if err != nil {
		return res, fmt.Errorf("%s: insert: %w", op, err)
	}
	res.Created = int(created)

	res.Tokens, err = e.Repo.ListAccessTokens(ctx, tx, eventID)
	if err != nil {
		return res, err
	}
	return res, nil
}

// desiredTokens lists the (person, scope, team) triples the event should
// hold, in a stable order, and the set of people coordinating any team.
func desiredTokens(ev domain.Event, teams []domain.Team, members []domain.Membership) ([]tokenKey, map[string]bool) {
	var out []tokenKey
	seen := map[tokenKey]bool{}
	add := func(k tokenKey) {
		if k.personID == "" || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, k)
	}
	for _, id := range hostIDs(ev) {
		add(tokenKey{personID: id, scope: domain.ScopeHost})
	}

	coordinators := map[string]bool{}
	inEvent := make(map[string]bool, len(teams))
	for _, t := range teams {
		inEvent[t.ID] = true
		if t.CoordinatorID != nil && *t.CoordinatorID != "" {
			add(tokenKey{personID: *t.CoordinatorID, scope: domain.ScopeCoordinator, teamID: t.ID})
			coordinators[*t.CoordinatorID] = true
		}
	}
	for _, m := range members {
		if m.Role == domain.RoleCoordinator && inEvent[m.TeamID] {
			add(tokenKey{personID: m.PersonID, scope: domain.ScopeCoordinator, teamID: m.TeamID})
			coordinators[m.PersonID] = true
		}
	}
	for _, m := range members {
		if m.Role == domain.RoleParticipant && !coordinators[m.PersonID] {
			add(tokenKey{personID: m.PersonID, scope: domain.ScopeParticipant})
		}
	}
	return out, coordinators
}

func newTokenValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (e Engine) recordTokenChanges(res TokenResult) {
	for scope, n := range res.createdByScope {
		e.Metrics.TokensChanged(scope, "created", n)
	}
	for scope, n := range res.deletedByScope {
		e.Metrics.TokensChanged(scope, "deleted", n)
	}
}

func tokenHolders(tokens []domain.AccessToken) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range tokens {
		if !seen[t.PersonID] {
			seen[t.PersonID] = true
			out = append(out, t.PersonID)
		}
	}
	return out
}

// ListInviteLinks projects the event's tokens into shareable links.
func (e Engine) ListInviteLinks(ctx context.Context, eventID string) ([]domain.InviteLink, error) {
	const op = "list invite links"
	if _, err := e.Repo.GetEvent(ctx, nil, eventID); err != nil {
		return nil, lookupErr(op, "event", eventID, err)
	}
	tokens, err := e.Repo.ListAccessTokens(ctx, nil, eventID)
	if err != nil {
		return nil, err
	}
	teams, err := e.Repo.ListTeams(ctx, nil, eventID)
	if err != nil {
		return nil, err
	}
	teamNames := make(map[string]string, len(teams))
	for _, t := range teams {
		teamNames[t.ID] = t.Name
	}
	people, err := e.Repo.PeopleByID(ctx, tokenHolders(tokens))
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(e.config().Links.BaseURL, "/")
	links := make([]domain.InviteLink, 0, len(tokens))
	for _, t := range tokens {
		links = append(links, domain.InviteLink{
			PersonID:   t.PersonID,
			PersonName: people[t.PersonID].Name,
			Scope:      t.Scope,
			TeamID:     t.TeamID,
			TeamName:   teamNames[t.TeamID],
			URL:        base + linkPath(t.Scope) + t.Token,
			ExpiresAt:  t.ExpiresAt,
		})
	}
	return links, nil
}

func linkPath(scope string) string {
	switch scope {
	case domain.ScopeHost:
		return "/h/"
	case domain.ScopeCoordinator:
		return "/c/"
	default:
		return "/p/"
	}
}

// LookupToken resolves an opaque token string to its credential. Unknown and
// expired tokens are both NOT_FOUND.
func (e Engine) LookupToken(ctx context.Context, value string) (domain.AccessToken, error) {
	const op = "lookup token"
	t, err := e.Repo.GetAccessTokenByValue(ctx, value)
	if err != nil {
		return t, lookupErr(op, "token", "", err)
	}
	exp, err := time.Parse(time.RFC3339, t.ExpiresAt)
	if err != nil || !e.now().Before(exp) {
		return domain.AccessToken{}, notFound(op, "token", "")
	}
	return t, nil
}
