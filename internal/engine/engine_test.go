package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gather/internal/config"
	"gather/internal/db"
	"gather/internal/domain"
	"gather/internal/engine"
	"gather/internal/migrate"
	"gather/internal/notify"
	"gather/internal/repo"
	"gather/internal/telemetry"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) person(t *testing.T, name string) domain.Person {
	t.Helper()
	p, err := env.Engine.AddPerson(env.Ctx, engine.PersonCreateOptions{Name: name})
	if err != nil {
		t.Fatalf("add person %s: %v", name, err)
	}
	return p
}

func (env testEnv) event(t *testing.T, opts engine.EventCreateOptions) domain.Event {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "Family dinner"
	}
	if opts.HostID == "" {
		opts.HostID = env.person(t, "Host").ID
	}
	ev, err := env.Engine.CreateEvent(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return ev
}

func (env testEnv) team(t *testing.T, eventID, name, dom string) domain.Team {
	t.Helper()
	team, err := env.Engine.AddTeam(env.Ctx, engine.TeamCreateOptions{EventID: eventID, Name: name, Domain: dom})
	if err != nil {
		t.Fatalf("add team: %v", err)
	}
	return team
}

func (env testEnv) item(t *testing.T, opts engine.ItemCreateOptions) domain.Item {
	t.Helper()
	it, err := env.Engine.AddItem(env.Ctx, opts)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	return it
}

func amount(v float64) *float64 { return &v }

// readyEvent returns a DRAFT event whose gate passes.
func (env testEnv) readyEvent(t *testing.T) (domain.Event, domain.Team) {
	t.Helper()
	ev := env.event(t, engine.EventCreateOptions{GuestCount: 8})
	team := env.team(t, ev.ID, "Mains", "PROTEINS")
	env.item(t, engine.ItemCreateOptions{TeamID: team.ID, Name: "Roast", QuantityAmount: amount(4), QuantityUnit: "kg", Critical: true})
	return ev, team
}

func kindOf(err error) engine.Kind {
	if e, ok := engine.AsError(err); ok {
		return e.Kind
	}
	return ""
}

func TestEndToEndVegetarianScenario(t *testing.T) {
	env := newTestEnv(t)
	ev := env.event(t, engine.EventCreateOptions{GuestCount: 20, Dietary: domain.DietaryCounts{Vegetarian: 6}})
	team := env.team(t, ev.ID, "Mains", "PROTEINS")
	env.item(t, engine.ItemCreateOptions{TeamID: team.ID, Name: "Turkey", QuantityAmount: amount(1), Critical: true})

	det, err := env.Engine.RunDetection(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	fp := "dietary-vegetarian-" + ev.ID
	assert.Equal(t, []string{fp}, det.Persisted.Created)
	require.Len(t, det.Open, 1)
	conflict := det.Open[0]
	assert.Equal(t, domain.SeverityCritical, conflict.Severity)
	assert.Equal(t, domain.ConflictDietaryGap, conflict.Type)
	assert.Equal(t, domain.ConflictOpen, conflict.Status)

	gateRes, err := env.Engine.CheckGate(env.Ctx, ev.ID)
	require.NoError(t, err)
	require.False(t, gateRes.Passed)
	require.Len(t, gateRes.Blocks, 1)
	assert.Equal(t, domain.BlockCriticalConflict, gateRes.Blocks[0].Code)
	assert.Equal(t, conflict.ID, gateRes.Blocks[0].ConflictID)

	ack, err := env.Engine.AcknowledgeConflict(env.Ctx, engine.AcknowledgeOptions{
		ConflictID:         conflict.ID,
		ActorID:            ev.HostID,
		ImpactStatement:    "We will ask the vegetarian guests to bring a main dish",
		ImpactUnderstood:   true,
		MitigationPlanType: "COMMUNICATE",
	})
	require.NoError(t, err)
	assert.True(t, ack.VisibleToCoHosts)
	got, err := env.Engine.GetConflict(env.Ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConflictAcknowledged, got.Status)

	gateRes, err = env.Engine.CheckGate(env.Ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, gateRes.Passed)
	assert.Empty(t, gateRes.Blocks)

	res, err := env.Engine.Transition(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	require.NotEmpty(t, res.SnapshotID)
	assert.Equal(t, domain.EventConfirming, res.Event.Status)
	assert.Equal(t, domain.StructureLocked, res.Event.StructureMode)
	require.NotNil(t, res.Event.PlanSnapshotIDAtConfirming)
	assert.Equal(t, res.SnapshotID, *res.Event.PlanSnapshotIDAtConfirming)
	assert.NotNil(t, res.Event.TransitionedToConfirmingAt)
	assert.Equal(t, 1, res.Tokens.Created)

	snap, err := env.Engine.GetSnapshot(env.Ctx, res.SnapshotID)
	require.NoError(t, err)
	assert.Len(t, snap.Teams, 1)
	assert.Len(t, snap.Items, 1)
	assert.Len(t, snap.CriticalFlags, 1)
	require.Len(t, snap.Acknowledgements, 1)
	assert.Equal(t, ack.ID, snap.Acknowledgements[0].ID)

	// People invited after confirmation get tokens on the next pass.
	coord := env.person(t, "Cora")
	_, err = env.Engine.SetTeamCoordinator(env.Ctx, team.ID, coord.ID, ev.HostID)
	require.NoError(t, err)
	for _, name := range []string{"Pia", "Paul"} {
		p := env.person(t, name)
		_, err := env.Engine.AddMembership(env.Ctx, engine.MembershipOptions{EventID: ev.ID, PersonID: p.ID, Role: domain.RoleParticipant})
		require.NoError(t, err)
	}
	tokens, err := env.Engine.EnsureTokens(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{domain.ScopeHost: 1, domain.ScopeCoordinator: 1, domain.ScopeParticipant: 2}, scopeCounts(tokens.Tokens))
}

func scopeCounts(tokens []domain.AccessToken) map[string]int {
	out := map[string]int{}
	for _, tok := range tokens {
		out[tok.Scope]++
	}
	return out
}

func TestPersistenceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ev := env.event(t, engine.EventCreateOptions{Dietary: domain.DietaryCounts{Vegan: 2, GlutenFree: 1}})
	team := env.team(t, ev.ID, "Sides", "SIDES")
	env.item(t, engine.ItemCreateOptions{TeamID: team.ID, Name: "Salad", QuantityAmount: amount(1)})

	first, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	assert.Len(t, first.Persisted.Created, 2)

	second, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	assert.Empty(t, second.Persisted.Created)
	assert.Empty(t, second.Persisted.Updated)
	assert.ElementsMatch(t, first.Persisted.Created, second.Persisted.Unchanged)

	candidates, err := env.Engine.Detect(env.Ctx, ev.ID)
	require.NoError(t, err)
	_, err = env.Engine.PersistConflicts(env.Ctx, ev.ID, append(candidates, candidates...), "")
	require.NoError(t, err)

	all, err := env.Engine.ListConflicts(env.Ctx, engine.ConflictFilter{EventID: ev.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestOpenConflictRefreshedInPlace(t *testing.T) {
	env := newTestEnv(t)
	ev := env.event(t, engine.EventCreateOptions{Dietary: domain.DietaryCounts{Vegan: 2}})
	env.team(t, ev.ID, "Sides", "SIDES")
	first, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)

	vegan := 5
	_, err = env.Engine.UpdateEvent(env.Ctx, engine.EventUpdateOptions{ID: ev.ID, Dietary: &domain.DietaryCounts{Vegan: vegan}})
	require.NoError(t, err)
	second, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	fp := "dietary-vegan-" + ev.ID
	assert.Contains(t, second.Persisted.Updated, fp)

	var before, after domain.Conflict
	for _, c := range first.Open {
		if c.Fingerprint == fp {
			before = c
		}
	}
	for _, c := range second.Open {
		if c.Fingerprint == fp {
			after = c
		}
	}
	assert.Equal(t, before.ID, after.ID)
	assert.NotEqual(t, before.Description, after.Description)
	require.NotNil(t, after.Suggestion)
	assert.Equal(t, vegan, after.Suggestion.Dietary.GuestCount)
}

func TestResolvedConflictNotResurrected(t *testing.T) {
	env := newTestEnv(t)
	ev := env.event(t, engine.EventCreateOptions{Dietary: domain.DietaryCounts{Vegetarian: 3}})
	det, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	require.Len(t, det.Open, 1)
	c := det.Open[0]

	resolved, err := env.Engine.ResolveConflict(env.Ctx, c.ID, ev.HostID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConflictResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, ev.HostID, *resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)

	again, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	assert.Contains(t, again.Persisted.Unchanged, c.Fingerprint)
	assert.Empty(t, again.Open)

	candidates, err := env.Engine.Detect(env.Ctx, ev.ID)
	require.NoError(t, err)
	_, err = env.Engine.PersistConflicts(env.Ctx, ev.ID, candidates, "")
	require.NoError(t, err)
	got, err := env.Engine.GetConflict(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConflictResolved, got.Status)
}

func TestSettlingRequiresOpen(t *testing.T) {
	env := newTestEnv(t)
	ev := env.event(t, engine.EventCreateOptions{Dietary: domain.DietaryCounts{NutFree: 1}})
	det, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	c := det.Open[0]

	dismissed, err := env.Engine.DismissConflict(env.Ctx, c.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ConflictDismissed, dismissed.Status)
	assert.NotNil(t, dismissed.DismissedAt)
	assert.Nil(t, dismissed.DismissedBy)

	_, err = env.Engine.ResolveConflict(env.Ctx, c.ID, ev.HostID)
	assert.ErrorIs(t, err, engine.ErrInvalidState)
	_, err = env.Engine.DismissConflict(env.Ctx, c.ID, ev.HostID)
	assert.ErrorIs(t, err, engine.ErrInvalidState)
	_, err = env.Engine.ResolveConflict(env.Ctx, "missing", ev.HostID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestConcurrentResolutionsOneWins(t *testing.T) {
	env := newTestEnv(t)
	ev := env.event(t, engine.EventCreateOptions{Dietary: domain.DietaryCounts{DairyFree: 2}})
	det, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	c := det.Open[0]

	const workers = 4
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.ResolveConflict(env.Ctx, c.ID, ev.HostID)
		}(i)
	}
	wg.Wait()
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.Contains(t, []engine.Kind{engine.KindInvalidState, engine.KindConcurrent}, kindOf(err))
	}
	assert.Equal(t, 1, wins)
}

func TestAcknowledgementValidation(t *testing.T) {
	env := newTestEnv(t)
	ev := env.event(t, engine.EventCreateOptions{Dietary: domain.DietaryCounts{Vegetarian: 4}})
	det, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	c := det.Open[0]
	require.Equal(t, []string{"vegetarian guests"}, c.AffectedParties)

	cases := []struct {
		name       string
		statement  string
		understood bool
		plan       string
		reason     string
		field      string
	}{
		{"too short", "short", true, "COMMUNICATE", engine.ReasonImpactTooShort, "impact_statement"},
		{"whitespace padded", "   tiny     ", true, "COMMUNICATE", engine.ReasonImpactTooShort, "impact_statement"},
		{"no party", "a long enough sentence with no party reference", true, "COMMUNICATE", engine.ReasonImpactNoParty, "impact_statement"},
		{"not understood", "Vegetarian guests will bring their own dish", false, "BRING_OWN", engine.ReasonImpactNotUnderstood, "impact_understood"},
		{"plan missing", "Vegetarian guests will bring their own dish", true, "", engine.ReasonMitigationMissing, "mitigation_plan_type"},
		{"plan invalid", "Vegetarian guests will bring their own dish", true, "HOPE", engine.ReasonMitigationInvalid, "mitigation_plan_type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.AcknowledgeConflict(env.Ctx, engine.AcknowledgeOptions{
				ConflictID:         c.ID,
				ActorID:            ev.HostID,
				ImpactStatement:    tc.statement,
				ImpactUnderstood:   tc.understood,
				MitigationPlanType: tc.plan,
			})
			require.ErrorIs(t, err, engine.ErrValidation)
			e, _ := engine.AsError(err)
			assert.Equal(t, tc.reason, e.Reason)
			assert.Equal(t, tc.field, e.Field)
		})
	}

	got, err := env.Engine.GetConflict(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConflictOpen, got.Status)
	_, err = env.Engine.Repo.GetAcknowledgement(env.Ctx, nil, c.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	ack, err := env.Engine.AcknowledgeConflict(env.Ctx, engine.AcknowledgeOptions{
		ConflictID:         c.ID,
		ActorID:            ev.HostID,
		ImpactStatement:    "  VEGETARIAN GUESTS get the lentil stew from the caterer ",
		ImpactUnderstood:   true,
		MitigationPlanType: "external_catering",
		Visibility:         &engine.Visibility{CoHosts: true, Participants: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "EXTERNAL_CATERING", ack.MitigationPlanType)
	assert.True(t, ack.VisibleToParticipants)
	assert.False(t, ack.VisibleToCoordinators)

	_, err = env.Engine.AcknowledgeConflict(env.Ctx, engine.AcknowledgeOptions{
		ConflictID:         c.ID,
		ActorID:            ev.HostID,
		ImpactStatement:    "vegetarian guests again and again",
		ImpactUnderstood:   true,
		MitigationPlanType: "OTHER",
	})
	assert.ErrorIs(t, err, engine.ErrInvalidState)
}

func TestAcknowledgementNotifiesCoHost(t *testing.T) {
	env := newTestEnv(t)
	cohost := env.person(t, "Cohost")
	type call struct{ person, kind string }
	var calls []call
	env.Engine.Notifier = notify.Func(func(_ context.Context, personID, eventType string, _ map[string]any) error {
		calls = append(calls, call{personID, eventType})
		return nil
	})
	ev := env.event(t, engine.EventCreateOptions{CoHostID: cohost.ID, Dietary: domain.DietaryCounts{Vegan: 1}})
	det, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)

	_, err = env.Engine.AcknowledgeConflict(env.Ctx, engine.AcknowledgeOptions{
		ConflictID:         det.Open[0].ID,
		ActorID:            ev.HostID,
		ImpactStatement:    "Our one vegan guests will get fruit",
		ImpactUnderstood:   true,
		MitigationPlanType: "SUBSTITUTE",
	})
	require.NoError(t, err)
	assert.Equal(t, []call{{cohost.ID, notify.ConflictAcknowledged}}, calls)
}

func TestGateCollectsAllBlocks(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Detection.ResolveStale = true
	ev := env.event(t, engine.EventCreateOptions{})

	res, err := env.Engine.CheckGate(env.Ctx, ev.ID)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{domain.BlockMinimumTeams, domain.BlockMinimumItems}, blockCodes(res))

	_, err = env.Engine.Transition(env.Ctx, ev.ID, ev.HostID)
	require.ErrorIs(t, err, engine.ErrGateBlocked)
	e, _ := engine.AsError(err)
	assert.Len(t, e.Blocks, 2)

	team := env.team(t, ev.ID, "Mains", "PROTEINS")
	placeholder := env.item(t, engine.ItemCreateOptions{TeamID: team.ID, Name: "Ham", Critical: true})
	assert.Equal(t, domain.QuantityPlaceholder, placeholder.QuantityState)
	_, err = env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)

	res, err = env.Engine.CheckGate(env.Ctx, ev.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{domain.BlockCriticalConflict, domain.BlockCriticalPlaceholder}, blockCodes(res))

	ack := true
	_, err = env.Engine.UpdateItem(env.Ctx, engine.ItemUpdateOptions{ID: placeholder.ID, PlaceholderAcknowledged: &ack})
	require.NoError(t, err)
	det, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"placeholder-quantities-" + ev.ID}, det.Persisted.AutoResolved)

	res, err = env.Engine.CheckGate(env.Ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, res.Passed)

	count, err := env.Engine.Repo.CountPlanSnapshots(env.Ctx, ev.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func blockCodes(res domain.GateResult) []string {
	out := make([]string, len(res.Blocks))
	for i, b := range res.Blocks {
		out[i] = b.Code
	}
	return out
}

func TestStaleConflictStaysOpenByDefault(t *testing.T) {
	env := newTestEnv(t)
	ev := env.event(t, engine.EventCreateOptions{Dietary: domain.DietaryCounts{Vegetarian: 6}})
	team := env.team(t, ev.ID, "Mains", "PROTEINS")
	env.item(t, engine.ItemCreateOptions{TeamID: team.ID, Name: "Turkey", QuantityAmount: amount(1)})
	det, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	require.Len(t, det.Open, 1)
	c := det.Open[0]

	roast := env.item(t, engine.ItemCreateOptions{TeamID: team.ID, Name: "Nut roast", QuantityAmount: amount(1), DietaryTags: []string{"vegetarian"}})
	det, err = env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	assert.Empty(t, det.Persisted.AutoResolved)
	require.NoError(t, env.Engine.DeleteItem(env.Ctx, roast.ID, ev.HostID))
	det, err = env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	require.Len(t, det.Open, 1)
	assert.Equal(t, c.ID, det.Open[0].ID)

	_, err = env.Engine.Transition(env.Ctx, ev.ID, ev.HostID)
	require.ErrorIs(t, err, engine.ErrGateBlocked)
}

func TestStaleConflictAutoResolvedThenReopened(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Detection.ResolveStale = true
	ev := env.event(t, engine.EventCreateOptions{Dietary: domain.DietaryCounts{Vegetarian: 6}})
	team := env.team(t, ev.ID, "Mains", "PROTEINS")
	env.item(t, engine.ItemCreateOptions{TeamID: team.ID, Name: "Turkey", QuantityAmount: amount(1)})
	det, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	c := det.Open[0]

	roast := env.item(t, engine.ItemCreateOptions{TeamID: team.ID, Name: "Nut roast", QuantityAmount: amount(1), DietaryTags: []string{"vegetarian"}})
	det, err = env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{c.Fingerprint}, det.Persisted.AutoResolved)

	got, err := env.Engine.GetConflict(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConflictResolved, got.Status)
	require.NotNil(t, got.ResolvedBy)
	assert.Equal(t, engine.SystemDetector, *got.ResolvedBy)

	// The gap comes back: the detector's own resolution is undone.
	require.NoError(t, env.Engine.DeleteItem(env.Ctx, roast.ID, ev.HostID))
	det, err = env.Engine.RunDetection(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{c.Fingerprint}, det.Persisted.Reopened)

	got, err = env.Engine.GetConflict(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConflictOpen, got.Status)
	assert.Nil(t, got.ResolvedBy)
	assert.Nil(t, got.ResolvedAt)

	gate, err := env.Engine.CheckGate(env.Ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.BlockCriticalConflict}, blockCodes(gate))
	_, err = env.Engine.Transition(env.Ctx, ev.ID, ev.HostID)
	require.ErrorIs(t, err, engine.ErrGateBlocked)
}

func TestDismissedConflictReopensOnlyWhenEnabled(t *testing.T) {
	for _, reopen := range []bool{false, true} {
		env := newTestEnv(t)
		env.Engine.Config.Detection.ReopenDismissedOnChange = reopen
		ev := env.event(t, engine.EventCreateOptions{Dietary: domain.DietaryCounts{GlutenFree: 2}})
		det, err := env.Engine.RunDetection(env.Ctx, ev.ID, "")
		require.NoError(t, err)
		c := det.Open[0]
		_, err = env.Engine.DismissConflict(env.Ctx, c.ID, ev.HostID)
		require.NoError(t, err)

		det, err = env.Engine.RunDetection(env.Ctx, ev.ID, "")
		require.NoError(t, err)
		assert.Empty(t, det.Persisted.Reopened, "unchanged input never reopens")

		_, err = env.Engine.UpdateEvent(env.Ctx, engine.EventUpdateOptions{ID: ev.ID, Dietary: &domain.DietaryCounts{GlutenFree: 6}})
		require.NoError(t, err)
		det, err = env.Engine.RunDetection(env.Ctx, ev.ID, "")
		require.NoError(t, err)

		got, err := env.Engine.GetConflict(env.Ctx, c.ID)
		require.NoError(t, err)
		if reopen {
			assert.Equal(t, []string{c.Fingerprint}, det.Persisted.Reopened)
			assert.Equal(t, domain.ConflictOpen, got.Status)
			assert.Nil(t, got.DismissedAt)
		} else {
			assert.Empty(t, det.Persisted.Reopened)
			assert.Equal(t, domain.ConflictDismissed, got.Status)
		}
	}
}

func TestTransitionIsExclusive(t *testing.T) {
	env := newTestEnv(t)
	ev, _ := env.readyEvent(t)

	_, err := env.Engine.Transition(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	_, err = env.Engine.Transition(env.Ctx, ev.ID, ev.HostID)
	require.ErrorIs(t, err, engine.ErrInvalidState)

	count, err := env.Engine.Repo.CountPlanSnapshots(env.Ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFailedTransitionLeavesNoPartialState(t *testing.T) {
	env := newTestEnv(t)
	ev, _ := env.readyEvent(t)

	// Token issuance runs after the snapshot insert and the status update.
	_, err := env.Engine.Repo.DB.ExecContext(env.Ctx, `CREATE TRIGGER reject_tokens BEFORE INSERT ON access_tokens
BEGIN SELECT RAISE(ABORT, 'token store offline'); END`)
	require.NoError(t, err)

	_, err = env.Engine.Transition(env.Ctx, ev.ID, ev.HostID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token store offline")

	count, err := env.Engine.Repo.CountPlanSnapshots(env.Ctx, ev.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	got, err := env.Engine.GetEvent(env.Ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventDraft, got.Status)
	assert.Equal(t, domain.StructureEditable, got.StructureMode)
	assert.Nil(t, got.PlanSnapshotIDAtConfirming)
	assert.Nil(t, got.TransitionedToConfirmingAt)
	links, err := env.Engine.ListInviteLinks(env.Ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, links)

	_, err = env.Engine.Repo.DB.ExecContext(env.Ctx, `DROP TRIGGER reject_tokens`)
	require.NoError(t, err)
	res, err := env.Engine.Transition(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventConfirming, res.Event.Status)
	count, err = env.Engine.Repo.CountPlanSnapshots(env.Ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConcurrentTransitionsSnapshotOnce(t *testing.T) {
	env := newTestEnv(t)
	ev, _ := env.readyEvent(t)

	const workers = 5
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.Transition(env.Ctx, ev.ID, ev.HostID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.Contains(t, []engine.Kind{engine.KindInvalidState, engine.KindConcurrent}, kindOf(err), err.Error())
	}
	assert.Equal(t, 1, wins)
	count, err := env.Engine.Repo.CountPlanSnapshots(env.Ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLockedStructureRejectsEdits(t *testing.T) {
	env := newTestEnv(t)
	ev, team := env.readyEvent(t)
	_, err := env.Engine.Transition(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)

	_, err = env.Engine.AddTeam(env.Ctx, engine.TeamCreateOptions{EventID: ev.ID, Name: "Late"})
	assert.ErrorIs(t, err, engine.ErrInvalidState)
	_, err = env.Engine.AddItem(env.Ctx, engine.ItemCreateOptions{TeamID: team.ID, Name: "Gravy"})
	assert.ErrorIs(t, err, engine.ErrInvalidState)
	assert.ErrorIs(t, env.Engine.DeleteTeam(env.Ctx, team.ID, ev.HostID), engine.ErrInvalidState)
}

func TestFreezeAndComplete(t *testing.T) {
	env := newTestEnv(t)
	var sent []string
	env.Engine.Notifier = notify.Func(func(_ context.Context, _ string, eventType string, _ map[string]any) error {
		sent = append(sent, eventType)
		return nil
	})
	ev, _ := env.readyEvent(t)

	_, err := env.Engine.Freeze(env.Ctx, ev.ID, ev.HostID)
	require.ErrorIs(t, err, engine.ErrInvalidState)

	_, err = env.Engine.Transition(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	frozen, err := env.Engine.Freeze(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventFrozen, frozen.Status)
	assert.NotNil(t, frozen.FrozenAt)

	done, err := env.Engine.Complete(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventComplete, done.Status)
	_, err = env.Engine.Complete(env.Ctx, ev.ID, ev.HostID)
	assert.ErrorIs(t, err, engine.ErrInvalidState)
	assert.Equal(t, []string{notify.EventConfirming, notify.EventFrozen, notify.EventCompleted}, sent)
}

func TestTokensIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ev := env.event(t, engine.EventCreateOptions{})
	coord := env.person(t, "Coordinator")
	_, err := env.Engine.AddTeam(env.Ctx, engine.TeamCreateOptions{EventID: ev.ID, Name: "Drinks", CoordinatorID: coord.ID})
	require.NoError(t, err)
	for _, name := range []string{"Ann", "Ben"} {
		p := env.person(t, name)
		_, err := env.Engine.AddMembership(env.Ctx, engine.MembershipOptions{EventID: ev.ID, PersonID: p.ID, Role: "participant"})
		require.NoError(t, err)
	}

	first, err := env.Engine.EnsureTokens(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	assert.Equal(t, 4, first.Created)
	assert.Zero(t, first.Deleted)
	assert.Equal(t, map[string]int{domain.ScopeHost: 1, domain.ScopeCoordinator: 1, domain.ScopeParticipant: 2}, scopeCounts(first.Tokens))
	for _, tok := range first.Tokens {
		assert.Len(t, tok.Token, 64)
		assert.Equal(t, "2025-03-01T09:00:00Z", tok.ExpiresAt)
		if tok.Scope == domain.ScopeCoordinator {
			assert.NotEmpty(t, tok.TeamID)
		} else {
			assert.Empty(t, tok.TeamID)
		}
	}

	second, err := env.Engine.EnsureTokens(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Deleted)
	assert.Equal(t, first.Tokens, second.Tokens)
}

func TestRemovedCoHostLosesHostToken(t *testing.T) {
	env := newTestEnv(t)
	cohost := env.person(t, "Co-host")
	ev := env.event(t, engine.EventCreateOptions{CoHostID: cohost.ID})
	res, err := env.Engine.EnsureTokens(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	require.Equal(t, map[string]int{domain.ScopeHost: 2}, scopeCounts(res.Tokens))
	var old string
	for _, tok := range res.Tokens {
		if tok.PersonID == cohost.ID {
			old = tok.Token
		}
	}
	require.NotEmpty(t, old)

	cleared := ""
	_, err = env.Engine.UpdateEvent(env.Ctx, engine.EventUpdateOptions{ID: ev.ID, CoHostID: &cleared})
	require.NoError(t, err)
	res, err = env.Engine.EnsureTokens(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Zero(t, res.Created)
	require.Len(t, res.Tokens, 1)
	assert.Equal(t, ev.HostID, res.Tokens[0].PersonID)

	_, err = env.Engine.LookupToken(env.Ctx, old)
	require.ErrorIs(t, err, engine.ErrNotFound)

	// Replacing the co-host swaps the HOST token over to the new person.
	next := env.person(t, "New co-host")
	_, err = env.Engine.UpdateEvent(env.Ctx, engine.EventUpdateOptions{ID: ev.ID, CoHostID: &next.ID})
	require.NoError(t, err)
	res, err = env.Engine.EnsureTokens(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Zero(t, res.Deleted)
	holders := tokenHolders(res.Tokens)
	assert.ElementsMatch(t, []string{ev.HostID, next.ID}, holders)
}

func tokenHolders(tokens []domain.AccessToken) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.PersonID
	}
	return out
}

func TestCoordinatorNeverHoldsParticipantToken(t *testing.T) {
	env := newTestEnv(t)
	ev := env.event(t, engine.EventCreateOptions{})
	team := env.team(t, ev.ID, "Sweets", "DESSERTS")
	other := env.team(t, ev.ID, "Drinks", "DRINKS")
	p := env.person(t, "Promoted")
	_, err := env.Engine.AddMembership(env.Ctx, engine.MembershipOptions{EventID: ev.ID, PersonID: p.ID, Role: domain.RoleParticipant})
	require.NoError(t, err)
	res, err := env.Engine.EnsureTokens(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, scopeCounts(res.Tokens)[domain.ScopeParticipant])

	_, err = env.Engine.SetTeamCoordinator(env.Ctx, team.ID, p.ID, ev.HostID)
	require.NoError(t, err)
	_, err = env.Engine.AddMembership(env.Ctx, engine.MembershipOptions{EventID: ev.ID, PersonID: p.ID, Role: domain.RoleCoordinator, TeamID: other.ID})
	require.NoError(t, err)
	res, err = env.Engine.EnsureTokens(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 2, res.Created)
	for _, tok := range res.Tokens {
		if tok.PersonID == p.ID {
			assert.Equal(t, domain.ScopeCoordinator, tok.Scope)
		}
	}

	// Clearing one coordinator role removes exactly that stale token.
	_, err = env.Engine.SetTeamCoordinator(env.Ctx, team.ID, "", ev.HostID)
	require.NoError(t, err)
	res, err = env.Engine.EnsureTokens(env.Ctx, ev.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Zero(t, res.Created)
	assert.Equal(t, map[string]int{domain.ScopeHost: 1, domain.ScopeCoordinator: 1}, scopeCounts(res.Tokens))
}

func TestInviteLinks(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Links.BaseURL = "https://gather.example/"
	ev := env.event(t, engine.EventCreateOptions{})
	coord := env.person(t, "Cleo")
	team, err := env.Engine.AddTeam(env.Ctx, engine.TeamCreateOptions{EventID: ev.ID, Name: "Sides", CoordinatorID: coord.ID})
	require.NoError(t, err)
	_, err = env.Engine.EnsureTokens(env.Ctx, ev.ID, "")
	require.NoError(t, err)

	links, err := env.Engine.ListInviteLinks(env.Ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, domain.ScopeHost, links[0].Scope)
	assert.Equal(t, "Host", links[0].PersonName)
	assert.True(t, strings.HasPrefix(links[0].URL, "https://gather.example/h/"), links[0].URL)
	assert.Equal(t, domain.ScopeCoordinator, links[1].Scope)
	assert.Equal(t, team.Name, links[1].TeamName)
	assert.True(t, strings.HasPrefix(links[1].URL, "https://gather.example/c/"), links[1].URL)

	tokenValue := strings.TrimPrefix(links[1].URL, "https://gather.example/c/")
	tok, err := env.Engine.LookupToken(env.Ctx, tokenValue)
	require.NoError(t, err)
	assert.Equal(t, coord.ID, tok.PersonID)

	env.Engine.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	_, err = env.Engine.LookupToken(env.Ctx, tokenValue)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = env.Engine.ListInviteLinks(env.Ctx, "nope")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestNotificationFailureKeepsTransition(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Metrics = telemetry.NewMetrics()
	attempts := 0
	env.Engine.Notifier = notify.Func(func(context.Context, string, string, map[string]any) error {
		attempts++
		return errors.New("sms gateway down")
	})
	ev, _ := env.readyEvent(t)

	res, err := env.Engine.Transition(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	got, err := env.Engine.GetEvent(env.Ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventConfirming, got.Status)
	assert.Equal(t, res.SnapshotID, *got.PlanSnapshotIDAtConfirming)

	families, err := env.Engine.Metrics.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["gather_transitions_total"])
	assert.True(t, names["gather_notifications_total"])
}

func TestValidationOnPlanInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateEvent(env.Ctx, engine.EventCreateOptions{Name: "No host"})
	require.ErrorIs(t, err, engine.ErrValidation)
	e, _ := engine.AsError(err)
	assert.Equal(t, "host_id", e.Field)
	assert.Equal(t, engine.ReasonRequired, e.Reason)

	_, err = env.Engine.CreateEvent(env.Ctx, engine.EventCreateOptions{Name: "Ghost host", HostID: "ghost"})
	assert.ErrorIs(t, err, engine.ErrNotFound)

	ev := env.event(t, engine.EventCreateOptions{})
	team := env.team(t, ev.ID, "Mains", "")
	_, err = env.Engine.AddItem(env.Ctx, engine.ItemCreateOptions{TeamID: team.ID, Name: "Pie", DietaryTags: []string{"keto"}})
	require.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.AddItem(env.Ctx, engine.ItemCreateOptions{TeamID: team.ID, Name: "Pie", QuantityState: "specified"})
	require.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.AddMembership(env.Ctx, engine.MembershipOptions{EventID: ev.ID, PersonID: ev.HostID, Role: domain.RoleCoordinator})
	require.ErrorIs(t, err, engine.ErrValidation)
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	ev, _ := env.readyEvent(t)
	_, err := env.Engine.Transition(env.Ctx, ev.ID, ev.HostID)
	require.NoError(t, err)

	entries, err := env.Engine.AuditLog(env.Ctx, ev.ID, "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "event.confirming", entries[0].Type)
	assert.Equal(t, ev.HostID, entries[0].ActorID)
	assert.Contains(t, entries[0].Payload, `"snapshot_id"`)
}
