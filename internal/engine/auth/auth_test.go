package auth

import (
	"errors"
	"testing"

	"gather/internal/domain"
)

func TestScopeGrants(t *testing.T) {
	host := GrantForToken(domain.AccessToken{PersonID: "p1", EventID: "evt-1", Scope: domain.ScopeHost})
	if err := host.Require("evt-1", PermLifecycleWrite); err != nil {
		t.Fatalf("host should transition: %v", err)
	}
	if err := host.Require("evt-1", PermEventCreate); err == nil {
		t.Fatalf("event tokens must not create events")
	}

	for _, scope := range []string{domain.ScopeCoordinator, domain.ScopeParticipant} {
		g := GrantForToken(domain.AccessToken{PersonID: "p2", EventID: "evt-1", Scope: scope, TeamID: "t1"})
		if err := g.Require("evt-1", PermPlanRead); err != nil {
			t.Fatalf("%s should read the plan: %v", scope, err)
		}
		var fe ForbiddenError
		if err := g.Require("evt-1", PermConflictWrite); !errors.As(err, &fe) || fe.Permission != PermConflictWrite {
			t.Fatalf("%s must not write conflicts, got %v", scope, err)
		}
	}
}

func TestGrantBoundToEvent(t *testing.T) {
	g := GrantForToken(domain.AccessToken{PersonID: "p1", EventID: "evt-1", Scope: domain.ScopeHost})
	var fe ForbiddenEventError
	if err := g.Require("evt-2", PermPlanRead); !errors.As(err, &fe) {
		t.Fatalf("expected event mismatch, got %v", err)
	}
	if err := g.Require("", PermPeopleWrite); err != nil {
		t.Fatalf("unscoped check should pass: %v", err)
	}
}

func TestSubjectGrant(t *testing.T) {
	admin := GrantForSubject("ops", nil)
	if err := admin.Require("any-event", PermEventCreate); err != nil {
		t.Fatalf("operator should create events: %v", err)
	}
	limited := GrantForSubject("ro", []string{PermPlanRead})
	if err := limited.Require("evt", PermPlanWrite); err == nil {
		t.Fatalf("restricted operator must not write")
	}
	// ScopePermissions hands out copies.
	perms := ScopePermissions(domain.ScopeParticipant)
	perms[0] = "tampered"
	if ScopePermissions(domain.ScopeParticipant)[0] == "tampered" {
		t.Fatalf("scope table mutated through returned slice")
	}
}
