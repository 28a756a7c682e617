package gathersdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gather/internal/config"
	"gather/internal/db"
	"gather/internal/engine"
	"gather/internal/migrate"
	"gather/internal/server"
)

const secret = "sdk-secret"

func newClient(t *testing.T) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	handler, err := server.New(server.Config{
		Engine:   engine.New(conn, config.Default()),
		BasePath: "/v1",
		Auth:     server.AuthConfig{JWTSecret: secret},
	})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	token, err := server.SignToken(secret, "sdk", nil, time.Hour, time.Now())
	require.NoError(t, err)
	c := New(ts.URL)
	c.BearerToken = token
	return c
}

func TestClientPlansAndConfirms(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	host, err := c.CreatePerson(ctx, "Hana", "hana@example.com")
	require.NoError(t, err)
	ev, err := c.CreateEvent(ctx, EventInput{Name: "Supper", HostID: host.ID, GuestCount: 6, Dietary: &Dietary{Vegan: 2}})
	require.NoError(t, err)
	team, err := c.AddTeam(ctx, ev.ID, "Mains", "PROTEINS")
	require.NoError(t, err)
	qty := 2.0
	_, err = c.AddItem(ctx, ev.ID, ItemInput{TeamID: team.ID, Name: "Chicken", QuantityAmount: &qty, QuantityUnit: "kg", Critical: true})
	require.NoError(t, err)

	det, err := c.Detect(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, det.Open, 1)
	conflict := det.Open[0]
	assert.Equal(t, "CRITICAL", conflict.Severity)

	_, err = c.Transition(ctx, ev.ID)
	require.Error(t, err)
	assert.True(t, IsCode(err, "gate_blocked"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Len(t, apiErr.Blocks(), 1)
	assert.Equal(t, conflict.ID, apiErr.Blocks()[0].ConflictID)

	ack, err := c.AcknowledgeConflict(ctx, ev.ID, conflict.ID, AcknowledgeInput{
		ImpactStatement:    "The vegan guests bring their own main course",
		ImpactUnderstood:   true,
		MitigationPlanType: "BRING_OWN",
	})
	require.NoError(t, err)
	assert.Equal(t, "sdk", ack.AcknowledgedBy)

	open, err := c.Conflicts(ctx, ev.ID, "OPEN")
	require.NoError(t, err)
	assert.Empty(t, open)

	gate, err := c.Gate(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, gate.Passed)

	tr, err := c.Transition(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMING", tr.Event.Status)
	require.Len(t, tr.Tokens.Tokens, 1)

	links, err := c.Links(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "HOST", links[0].Scope)

	// The host's invite token reads the plan but cannot create events.
	guest := New(c.BaseURL)
	guest.AccessToken = tr.Tokens.Tokens[0].Token
	plan, err := guest.Plan(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "LOCKED", plan.Event.StructureMode)
	_, err = guest.CreateEvent(ctx, EventInput{Name: "Other", HostID: host.ID})
	assert.True(t, IsCode(err, "forbidden"))

	frozen, err := c.Freeze(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "FROZEN", frozen.Status)
	done, err := c.Complete(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", done.Status)
}

func TestClientNotFound(t *testing.T) {
	c := newClient(t)
	_, err := c.Plan(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)
}
