package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"gather/internal/config"
	"gather/internal/db"
	"gather/internal/domain"
	"gather/internal/engine"
	"gather/internal/engine/auth"
	"gather/internal/migrate"
	"gather/internal/telemetry"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	metrics := telemetry.NewMetrics()
	e := engine.New(conn, config.Default())
	e.Metrics = metrics
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret},
		Metrics:  metrics,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func operatorHeaders(t *testing.T, perms ...string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, "ops", perms, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// call performs a request, checks the status and decodes the response into out.
func call(t *testing.T, srv *testServer, method, path string, body any, headers map[string]string, want int, out any) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), method, srv.URL+path, body, headers)
	if res.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d: %s", method, path, res.StatusCode, want, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("%s %s: decode: %v: %s", method, path, err, string(data))
		}
	}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestTransitionFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ops := operatorHeaders(t)

	var host, guest domain.Person
	call(t, srv, http.MethodPost, "/v1/people", map[string]any{"name": "Hana"}, ops, http.StatusCreated, &host)
	call(t, srv, http.MethodPost, "/v1/people", map[string]any{"name": "Gus"}, ops, http.StatusCreated, &guest)

	var ev domain.Event
	call(t, srv, http.MethodPost, "/v1/events", map[string]any{
		"name":        "Winter dinner",
		"host_id":     host.ID,
		"guest_count": 12,
		"dietary":     map[string]any{"vegetarian": 3},
	}, ops, http.StatusCreated, &ev)
	if ev.Status != domain.EventDraft {
		t.Fatalf("new event status %s", ev.Status)
	}
	base := "/v1/events/" + ev.ID

	var team domain.Team
	call(t, srv, http.MethodPost, base+"/teams", map[string]any{"name": "Mains", "domain": "PROTEINS"}, ops, http.StatusCreated, &team)
	call(t, srv, http.MethodPost, base+"/items", map[string]any{
		"team_id":         team.ID,
		"name":            "Ham",
		"quantity_amount": 3,
		"quantity_unit":   "kg",
		"critical":        true,
	}, ops, http.StatusCreated, nil)
	call(t, srv, http.MethodPost, base+"/members", map[string]any{"person_id": guest.ID, "role": "PARTICIPANT"}, ops, http.StatusCreated, nil)

	var det engine.DetectionResult
	call(t, srv, http.MethodPost, base+"/detect", nil, ops, http.StatusOK, &det)
	if len(det.Open) != 1 || det.Open[0].Type != domain.ConflictDietaryGap {
		t.Fatalf("expected one dietary conflict, got %+v", det.Open)
	}
	conflictID := det.Open[0].ID

	var gate domain.GateResult
	call(t, srv, http.MethodGet, base+"/gate", nil, ops, http.StatusOK, &gate)
	if gate.Passed {
		t.Fatalf("gate should be blocked")
	}

	var blocked errorEnvelope
	call(t, srv, http.MethodPost, base+"/transition", nil, ops, http.StatusConflict, &blocked)
	if blocked.Error.Code != "gate_blocked" {
		t.Fatalf("expected gate_blocked, got %+v", blocked.Error)
	}
	blocks, _ := blocked.Error.Details["blocks"].([]any)
	if len(blocks) != 1 || blocks[0].(map[string]any)["code"] != domain.BlockCriticalConflict {
		t.Fatalf("unexpected blocks %v", blocked.Error.Details)
	}

	var invalid errorEnvelope
	call(t, srv, http.MethodPost, base+"/conflicts/"+conflictID+"/acknowledge", map[string]any{
		"impact_statement":     "short",
		"impact_understood":    true,
		"mitigation_plan_type": "COMMUNICATE",
	}, ops, http.StatusUnprocessableEntity, &invalid)
	if invalid.Error.Details["field"] != "impact_statement" || invalid.Error.Details["reason"] != engine.ReasonImpactTooShort {
		t.Fatalf("unexpected validation details %v", invalid.Error.Details)
	}

	var ack AcknowledgeResponse
	call(t, srv, http.MethodPost, base+"/conflicts/"+conflictID+"/acknowledge", map[string]any{
		"impact_statement":     "The vegetarian guests will bring a lentil roast",
		"impact_understood":    true,
		"mitigation_plan_type": "BRING_OWN",
	}, ops, http.StatusCreated, &ack)
	if ack.Conflict.Status != domain.ConflictAcknowledged || ack.Acknowledgement.AcknowledgedBy != "ops" {
		t.Fatalf("unexpected acknowledgement %+v", ack)
	}

	var tr engine.TransitionResult
	call(t, srv, http.MethodPost, base+"/transition", nil, ops, http.StatusOK, &tr)
	if tr.Event.Status != domain.EventConfirming || tr.SnapshotID == "" {
		t.Fatalf("unexpected transition %+v", tr.Event)
	}
	if tr.Tokens.Created != 2 {
		t.Fatalf("expected host and participant tokens, got %d", tr.Tokens.Created)
	}

	var again errorEnvelope
	call(t, srv, http.MethodPost, base+"/transition", nil, ops, http.StatusConflict, &again)
	if again.Error.Code != "invalid_state" {
		t.Fatalf("second transition code %s", again.Error.Code)
	}

	var locked errorEnvelope
	call(t, srv, http.MethodPost, base+"/teams", map[string]any{"name": "Late"}, ops, http.StatusConflict, &locked)

	var snap domain.PlanSnapshot
	call(t, srv, http.MethodGet, base+"/snapshots/"+tr.SnapshotID, nil, ops, http.StatusOK, &snap)
	if len(snap.Acknowledgements) != 1 {
		t.Fatalf("snapshot acknowledgements %d", len(snap.Acknowledgements))
	}

	var links LinksResponse
	call(t, srv, http.MethodGet, base+"/links", nil, ops, http.StatusOK, &links)
	if len(links.Links) != 2 || !strings.Contains(links.Links[0].URL, "/h/") {
		t.Fatalf("unexpected links %+v", links.Links)
	}

	var trail AuditResponse
	call(t, srv, http.MethodGet, base+"/audit?limit=100", nil, ops, http.StatusOK, &trail)
	if len(trail.Entries) == 0 {
		t.Fatalf("expected audit entries")
	}
}

func TestAccessTokenScopes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	e := srv.Engine

	host, _ := e.AddPerson(ctx, engine.PersonCreateOptions{Name: "Host"})
	guest, _ := e.AddPerson(ctx, engine.PersonCreateOptions{Name: "Guest"})
	ev, err := e.CreateEvent(ctx, engine.EventCreateOptions{Name: "Picnic", HostID: host.ID})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	other, err := e.CreateEvent(ctx, engine.EventCreateOptions{Name: "Other", HostID: host.ID})
	if err != nil {
		t.Fatalf("create other event: %v", err)
	}
	if _, err := e.AddMembership(ctx, engine.MembershipOptions{EventID: ev.ID, PersonID: guest.ID, Role: domain.RoleParticipant}); err != nil {
		t.Fatalf("add membership: %v", err)
	}
	res, err := e.EnsureTokens(ctx, ev.ID, host.ID)
	if err != nil {
		t.Fatalf("ensure tokens: %v", err)
	}
	tokens := map[string]string{}
	for _, tok := range res.Tokens {
		tokens[tok.Scope] = tok.Token
	}

	participant := map[string]string{accessTokenHeader: tokens[domain.ScopeParticipant]}
	var plan engine.Plan
	call(t, srv, http.MethodGet, "/v1/events/"+ev.ID, nil, participant, http.StatusOK, &plan)
	if plan.Event.ID != ev.ID {
		t.Fatalf("plan for wrong event")
	}

	var forbidden errorEnvelope
	call(t, srv, http.MethodPost, "/v1/events/"+ev.ID+"/detect", nil, participant, http.StatusForbidden, &forbidden)
	if forbidden.Error.Details["permission"] != auth.PermConflictWrite {
		t.Fatalf("unexpected forbidden details %v", forbidden.Error.Details)
	}
	call(t, srv, http.MethodGet, "/v1/events/"+other.ID, nil, participant, http.StatusForbidden, nil)

	var list EventListResponse
	call(t, srv, http.MethodGet, "/v1/events", nil, participant, http.StatusOK, &list)
	if len(list.Events) != 1 || list.Events[0].ID != ev.ID {
		t.Fatalf("token should only see its event, got %d", len(list.Events))
	}

	hostHeaders := map[string]string{accessTokenHeader: tokens[domain.ScopeHost]}
	call(t, srv, http.MethodPost, "/v1/events/"+ev.ID+"/detect", nil, hostHeaders, http.StatusOK, nil)
	call(t, srv, http.MethodPost, "/v1/events", map[string]any{"name": "x", "host_id": host.ID}, hostHeaders, http.StatusForbidden, nil)

	var me auth.Grant
	call(t, srv, http.MethodGet, "/v1/me", nil, hostHeaders, http.StatusOK, &me)
	if me.Scope != domain.ScopeHost || me.EventID != ev.ID || me.ActorID != host.ID {
		t.Fatalf("unexpected grant %+v", me)
	}
}

func TestAuthFailures(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var env errorEnvelope
	call(t, srv, http.MethodGet, "/v1/events", nil, nil, http.StatusUnauthorized, &env)
	if env.Error.Code != "unauthorized" {
		t.Fatalf("code %s", env.Error.Code)
	}
	call(t, srv, http.MethodGet, "/v1/events", nil, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, &env)
	if env.Error.Code != "invalid_credentials" {
		t.Fatalf("code %s", env.Error.Code)
	}
	call(t, srv, http.MethodGet, "/v1/events", nil, map[string]string{accessTokenHeader: "unknown"}, http.StatusUnauthorized, nil)

	wrongKey, err := SignToken("other-secret", "ops", nil, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	call(t, srv, http.MethodGet, "/v1/events", nil, map[string]string{"Authorization": "Bearer " + wrongKey}, http.StatusUnauthorized, nil)

	expired, err := SignToken(testSecret, "ops", nil, time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	call(t, srv, http.MethodGet, "/v1/events", nil, map[string]string{"Authorization": "Bearer " + expired}, http.StatusUnauthorized, nil)

	readOnly := operatorHeaders(t, auth.PermPlanRead)
	call(t, srv, http.MethodGet, "/v1/events", nil, readOnly, http.StatusOK, nil)
	call(t, srv, http.MethodPost, "/v1/people", map[string]any{"name": "X"}, readOnly, http.StatusForbidden, nil)

	var health HealthResponse
	call(t, srv, http.MethodGet, "/v1/health", nil, nil, http.StatusOK, &health)
	if health.Status != "ok" {
		t.Fatalf("health %s", health.Status)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ops := operatorHeaders(t)

	var env errorEnvelope
	call(t, srv, http.MethodGet, "/v1/events/missing", nil, ops, http.StatusNotFound, &env)
	if env.Error.Code != "not_found" {
		t.Fatalf("code %s", env.Error.Code)
	}

	var host domain.Person
	call(t, srv, http.MethodPost, "/v1/people", map[string]any{"name": "Host"}, ops, http.StatusCreated, &host)
	var ev domain.Event
	call(t, srv, http.MethodPost, "/v1/events", map[string]any{"name": "Lunch", "host_id": host.ID}, ops, http.StatusCreated, &ev)

	call(t, srv, http.MethodPost, "/v1/events/"+ev.ID+"/freeze", nil, ops, http.StatusConflict, &env)
	if env.Error.Code != "invalid_state" {
		t.Fatalf("freeze from draft code %s", env.Error.Code)
	}

	// Schema failures are request errors, not engine validation.
	call(t, srv, http.MethodPost, "/v1/events/"+ev.ID+"/members", map[string]any{"person_id": host.ID, "role": "OWNER"}, ops, http.StatusBadRequest, nil)

	call(t, srv, http.MethodPost, "/v1/events/"+ev.ID+"/items", map[string]any{"team_id": "nope", "name": "Bread"}, ops, http.StatusNotFound, nil)

	var team domain.Team
	call(t, srv, http.MethodPost, "/v1/events/"+ev.ID+"/teams", map[string]any{"name": "Bakery"}, ops, http.StatusCreated, &team)
	call(t, srv, http.MethodPost, "/v1/events/"+ev.ID+"/items", map[string]any{
		"team_id":      team.ID,
		"name":         "Bread",
		"dietary_tags": []string{"CARNIVORE"},
	}, ops, http.StatusUnprocessableEntity, &env)
	if env.Error.Details["field"] != "dietary_tags" {
		t.Fatalf("unexpected details %v", env.Error.Details)
	}
}

func TestMetricsAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var oas struct {
		Paths      map[string]any `json:"paths"`
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	if err := json.Unmarshal(body, &oas); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if _, ok := oas.Paths["/v1/events/{event_id}/transition"]; !ok {
		t.Fatalf("transition route missing from openapi")
	}
	if _, ok := oas.Components.SecuritySchemes["accessToken"]; !ok {
		t.Fatalf("access token scheme missing")
	}

	ops := operatorHeaders(t)
	var host domain.Person
	call(t, srv, http.MethodPost, "/v1/people", map[string]any{"name": "Host"}, ops, http.StatusCreated, &host)
	var ev domain.Event
	call(t, srv, http.MethodPost, "/v1/events", map[string]any{"name": "Brunch", "host_id": host.ID}, ops, http.StatusCreated, &ev)
	call(t, srv, http.MethodGet, "/v1/events/"+ev.ID+"/gate", nil, ops, http.StatusOK, nil)

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(body), `gather_gate_checks_total{passed="false"} 1`) {
		t.Fatalf("gate check not counted:\n%s", body)
	}
}
