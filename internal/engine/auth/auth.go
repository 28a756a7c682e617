package auth

import (
	"fmt"
	"sort"

	"gather/internal/domain"
)

// Permissions checked by the API layer.
const (
	PermEventCreate    = "event.create"
	PermPeopleWrite    = "people.write"
	PermPlanRead       = "plan.read"
	PermPlanWrite      = "plan.write"
	PermConflictRead   = "conflict.read"
	PermConflictWrite  = "conflict.write"
	PermLifecycleWrite = "lifecycle.write"
	PermTokensManage   = "tokens.manage"
	PermAuditRead      = "audit.read"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// ForbiddenEventError is returned when an event-scoped credential is used
// against another event.
type ForbiddenEventError struct {
	EventID string
}

func (e ForbiddenEventError) Error() string {
	return fmt.Sprintf("credential is not valid for event %s", e.EventID)
}

var readOnly = []string{PermPlanRead, PermConflictRead}

var scopePermissions = map[string][]string{
	domain.ScopeHost: {
		PermPeopleWrite,
		PermPlanRead,
		PermPlanWrite,
		PermConflictRead,
		PermConflictWrite,
		PermLifecycleWrite,
		PermTokensManage,
		PermAuditRead,
	},
	domain.ScopeCoordinator: readOnly,
	domain.ScopeParticipant: readOnly,
}

// AllPermissions is what an unrestricted operator credential carries.
func AllPermissions() []string {
	out := []string{PermEventCreate}
	out = append(out, scopePermissions[domain.ScopeHost]...)
	sort.Strings(out)
	return out
}

// ScopePermissions lists what an access token of the given scope may do.
func ScopePermissions(scope string) []string {
	perms := scopePermissions[scope]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// Grant is the authority a caller holds. EventID is empty for operator
// credentials, which are not tied to one event.
type Grant struct {
	ActorID     string   `json:"actor_id"`
	EventID     string   `json:"event_id,omitempty"`
	Scope       string   `json:"scope,omitempty"`
	TeamID      string   `json:"team_id,omitempty"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

// GrantForToken derives the grant of an event access token.
func GrantForToken(t domain.AccessToken) Grant {
	return Grant{
		ActorID:     t.PersonID,
		EventID:     t.EventID,
		Scope:       t.Scope,
		TeamID:      t.TeamID,
		Permissions: ScopePermissions(t.Scope),
		Source:      "access_token",
	}
}

// GrantForSubject derives the grant of a signed operator token. An empty
// permission list means unrestricted.
func GrantForSubject(subject string, perms []string) Grant {
	if len(perms) == 0 {
		perms = AllPermissions()
	}
	return Grant{ActorID: subject, Permissions: perms, Source: "jwt"}
}

func (g Grant) Has(perm string) bool {
	for _, p := range g.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Require checks perm and, for event-scoped grants, that eventID matches.
// An empty eventID skips the event check.
func (g Grant) Require(eventID, perm string) error {
	if g.EventID != "" && eventID != "" && g.EventID != eventID {
		return ForbiddenEventError{EventID: eventID}
	}
	if !g.Has(perm) {
		return ForbiddenError{Permission: perm}
	}
	return nil
}
