package gathersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gather HTTP API client. Set BearerToken for operator
// access or AccessToken to act with an event invite token.
type Client struct {
	BaseURL     string
	BearerToken string
	AccessToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Person represents the API person model.
type Person struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Event represents the API event model (partial).
type Event struct {
	ID                         string  `json:"id"`
	Name                       string  `json:"name"`
	OccasionType               string  `json:"occasion_type"`
	HostID                     string  `json:"host_id"`
	Status                     string  `json:"status"`
	StructureMode              string  `json:"structure_mode"`
	GuestCount                 int     `json:"guest_count"`
	PlanSnapshotIDAtConfirming *string `json:"plan_snapshot_id_at_confirming,omitempty"`
}

// Dietary carries guest counts per dietary category.
type Dietary struct {
	Vegetarian int `json:"vegetarian,omitempty"`
	Vegan      int `json:"vegan,omitempty"`
	GlutenFree int `json:"gluten_free,omitempty"`
	DairyFree  int `json:"dairy_free,omitempty"`
	NutFree    int `json:"nut_free,omitempty"`
}

// EventInput creates an event.
type EventInput struct {
	Name           string   `json:"name"`
	OccasionType   string   `json:"occasion_type,omitempty"`
	HostID         string   `json:"host_id"`
	CoHostID       string   `json:"co_host_id,omitempty"`
	GuestCount     int      `json:"guest_count,omitempty"`
	Dietary        *Dietary `json:"dietary,omitempty"`
	VenueOvenCount *int     `json:"venue_oven_count,omitempty"`
}

type Team struct {
	ID            string  `json:"id"`
	EventID       string  `json:"event_id"`
	Name          string  `json:"name"`
	Domain        string  `json:"domain"`
	CoordinatorID *string `json:"coordinator_id,omitempty"`
}

type Item struct {
	ID             string   `json:"id"`
	EventID        string   `json:"event_id"`
	TeamID         string   `json:"team_id"`
	Name           string   `json:"name"`
	QuantityAmount *float64 `json:"quantity_amount,omitempty"`
	QuantityUnit   string   `json:"quantity_unit,omitempty"`
	QuantityState  string   `json:"quantity_state"`
	Critical       bool     `json:"critical"`
	DietaryTags    []string `json:"dietary_tags,omitempty"`
}

// ItemInput adds an item to a team.
type ItemInput struct {
	TeamID         string   `json:"team_id"`
	Name           string   `json:"name"`
	QuantityAmount *float64 `json:"quantity_amount,omitempty"`
	QuantityUnit   string   `json:"quantity_unit,omitempty"`
	QuantityState  string   `json:"quantity_state,omitempty"`
	Critical       bool     `json:"critical,omitempty"`
	DietaryTags    []string `json:"dietary_tags,omitempty"`
	Equipment      string   `json:"equipment,omitempty"`
	TimeSlot       string   `json:"time_slot,omitempty"`
}

// Plan is an event with its structure.
type Plan struct {
	Event Event  `json:"event"`
	Teams []Team `json:"teams"`
	Items []Item `json:"items"`
}

// Conflict represents a detected plan conflict (partial).
type Conflict struct {
	ID              string   `json:"id"`
	EventID         string   `json:"event_id"`
	Fingerprint     string   `json:"fingerprint"`
	Type            string   `json:"type"`
	Severity        string   `json:"severity"`
	Status          string   `json:"status"`
	Title           string   `json:"title"`
	AffectedParties []string `json:"affected_parties"`
}

// Detection summarizes a detection run.
type Detection struct {
	Persisted struct {
		Created   []string `json:"created"`
		Updated   []string `json:"updated"`
		Unchanged []string `json:"unchanged"`
	} `json:"persisted"`
	Open []Conflict `json:"open"`
}

// Acknowledgement records accepted residual risk on a conflict.
type Acknowledgement struct {
	ID                 string `json:"id"`
	ConflictID         string `json:"conflict_id"`
	ImpactStatement    string `json:"impact_statement"`
	MitigationPlanType string `json:"mitigation_plan_type"`
	AcknowledgedBy     string `json:"acknowledged_by"`
}

// AcknowledgeInput is the body of an acknowledgement.
type AcknowledgeInput struct {
	ImpactStatement    string `json:"impact_statement"`
	ImpactUnderstood   bool   `json:"impact_understood"`
	MitigationPlanType string `json:"mitigation_plan_type"`
}

type GateBlock struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	ConflictID string `json:"conflict_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
}

type GateResult struct {
	Passed bool        `json:"passed"`
	Blocks []GateBlock `json:"blocks"`
}

type AccessToken struct {
	EventID   string `json:"event_id"`
	PersonID  string `json:"person_id"`
	Scope     string `json:"scope"`
	TeamID    string `json:"team_id,omitempty"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// Transition is the outcome of moving an event to CONFIRMING.
type Transition struct {
	SnapshotID string `json:"snapshot_id"`
	Event      Event  `json:"event"`
	Tokens     struct {
		Created int           `json:"created"`
		Deleted int           `json:"deleted"`
		Tokens  []AccessToken `json:"tokens"`
	} `json:"tokens"`
}

type InviteLink struct {
	PersonID   string `json:"person_id"`
	PersonName string `json:"person_name"`
	Scope      string `json:"scope"`
	TeamName   string `json:"team_name,omitempty"`
	URL        string `json:"url"`
	ExpiresAt  string `json:"expires_at"`
}

// APIError wraps non-2xx responses. Code, Message and Details come from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Blocks returns the gate blocks of a gate_blocked error.
func (e *APIError) Blocks() []GateBlock {
	raw, ok := e.Details["blocks"]
	if !ok {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var blocks []GateBlock
	if json.Unmarshal(b, &blocks) != nil {
		return nil
	}
	return blocks
}

// IsCode reports whether err is an APIError with the given envelope code.
func IsCode(err error, code string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == code
}

func (c *Client) CreatePerson(ctx context.Context, name, email string) (Person, error) {
	body := map[string]any{"name": name}
	if email != "" {
		body["email"] = email
	}
	var resp Person
	err := c.do(ctx, http.MethodPost, "people", body, &resp)
	return resp, err
}

func (c *Client) CreateEvent(ctx context.Context, in EventInput) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, "events", in, &resp)
	return resp, err
}

// Plan fetches an event with its teams and items.
func (c *Client) Plan(ctx context.Context, eventID string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodGet, c.eventPath(eventID, ""), nil, &resp)
	return resp, err
}

func (c *Client) AddTeam(ctx context.Context, eventID, name, domain string) (Team, error) {
	var resp Team
	err := c.do(ctx, http.MethodPost, c.eventPath(eventID, "teams"), map[string]any{"name": name, "domain": domain}, &resp)
	return resp, err
}

func (c *Client) AddItem(ctx context.Context, eventID string, in ItemInput) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, c.eventPath(eventID, "items"), in, &resp)
	return resp, err
}

func (c *Client) AddMember(ctx context.Context, eventID, personID, role, teamID string) error {
	body := map[string]any{"person_id": personID, "role": role}
	if teamID != "" {
		body["team_id"] = teamID
	}
	return c.do(ctx, http.MethodPost, c.eventPath(eventID, "members"), body, nil)
}

// Detect runs conflict detection for an event.
func (c *Client) Detect(ctx context.Context, eventID string) (Detection, error) {
	var resp Detection
	err := c.do(ctx, http.MethodPost, c.eventPath(eventID, "detect"), nil, &resp)
	return resp, err
}

// Conflicts lists conflicts, optionally filtered by status.
func (c *Client) Conflicts(ctx context.Context, eventID, status string) ([]Conflict, error) {
	endpoint := c.eventPath(eventID, "conflicts")
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Conflicts []Conflict `json:"conflicts"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Conflicts, err
}

func (c *Client) ResolveConflict(ctx context.Context, eventID, conflictID string) (Conflict, error) {
	return c.settle(ctx, eventID, conflictID, "resolve")
}

func (c *Client) DismissConflict(ctx context.Context, eventID, conflictID string) (Conflict, error) {
	return c.settle(ctx, eventID, conflictID, "dismiss")
}

func (c *Client) settle(ctx context.Context, eventID, conflictID, action string) (Conflict, error) {
	var resp Conflict
	endpoint := c.eventPath(eventID, "conflicts/"+url.PathEscape(conflictID)+"/"+action)
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) AcknowledgeConflict(ctx context.Context, eventID, conflictID string, in AcknowledgeInput) (Acknowledgement, error) {
	var resp struct {
		Acknowledgement Acknowledgement `json:"acknowledgement"`
	}
	endpoint := c.eventPath(eventID, "conflicts/"+url.PathEscape(conflictID)+"/acknowledge")
	err := c.do(ctx, http.MethodPost, endpoint, in, &resp)
	return resp.Acknowledgement, err
}

// Gate evaluates whether the event may leave DRAFT.
func (c *Client) Gate(ctx context.Context, eventID string) (GateResult, error) {
	var resp GateResult
	err := c.do(ctx, http.MethodGet, c.eventPath(eventID, "gate"), nil, &resp)
	return resp, err
}

// Transition moves a DRAFT event to CONFIRMING. A blocked gate comes back as
// an *APIError with code gate_blocked; see APIError.Blocks.
func (c *Client) Transition(ctx context.Context, eventID string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.eventPath(eventID, "transition"), nil, &resp)
	return resp, err
}

func (c *Client) Freeze(ctx context.Context, eventID string) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, c.eventPath(eventID, "freeze"), nil, &resp)
	return resp, err
}

func (c *Client) Complete(ctx context.Context, eventID string) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, c.eventPath(eventID, "complete"), nil, &resp)
	return resp, err
}

// Links lists invite links for an event.
func (c *Client) Links(ctx context.Context, eventID string) ([]InviteLink, error) {
	var resp struct {
		Links []InviteLink `json:"links"`
	}
	err := c.do(ctx, http.MethodGet, c.eventPath(eventID, "links"), nil, &resp)
	return resp.Links, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.AccessToken != "":
		req.Header.Set("X-Access-Token", c.AccessToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) eventPath(eventID, p string) string {
	endpoint := "events/" + url.PathEscape(eventID)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
