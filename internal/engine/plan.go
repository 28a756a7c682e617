package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"gather/internal/audit"
	"gather/internal/domain"
)

// EventCreateOptions are parameters for creating an event.
type EventCreateOptions struct {
	ID             string
	Name           string `validate:"required"`
	OccasionType   string
	HostID         string `validate:"required"`
	CoHostID       string
	GuestCount     int `validate:"gte=0"`
	Dietary        domain.DietaryCounts
	VenueOvenCount *int `validate:"omitempty,gte=0"`
	ActorID        string
}

func (e Engine) CreateEvent(ctx context.Context, opts EventCreateOptions) (domain.Event, error) {
	const op = "create event"
	if err := checkOptions(op, opts); err != nil {
		return domain.Event{}, err
	}
	if err := checkDietary(op, opts.Dietary); err != nil {
		return domain.Event{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetPerson(ctx, tx, opts.HostID); err != nil {
		return domain.Event{}, lookupErr(op, "person", opts.HostID, err)
	}
	if opts.CoHostID != "" {
		if _, err := e.Repo.GetPerson(ctx, tx, opts.CoHostID); err != nil {
			return domain.Event{}, lookupErr(op, "person", opts.CoHostID, err)
		}
	}
	now := e.ts()
	ev := domain.Event{
		ID:             opts.ID,
		Name:           strings.TrimSpace(opts.Name),
		OccasionType:   strings.ToUpper(strings.TrimSpace(opts.OccasionType)),
		HostID:         opts.HostID,
		Status:         domain.EventDraft,
		StructureMode:  domain.StructureEditable,
		GuestCount:     opts.GuestCount,
		Dietary:        opts.Dietary,
		VenueOvenCount: opts.VenueOvenCount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.OccasionType == "" {
		ev.OccasionType = "OTHER"
	}
	if opts.CoHostID != "" {
		ev.CoHostID = &opts.CoHostID
	}
	if err := e.Repo.InsertEvent(ctx, tx, ev); err != nil {
		return domain.Event{}, err
	}
	for i, id := range hostIDs(ev) {
		role := domain.RoleHost
		if i > 0 {
			role = domain.RoleCoHost
		}
		if err := e.Repo.InsertMembership(ctx, tx, domain.Membership{EventID: ev.ID, PersonID: id, Role: role, CreatedAt: now}); err != nil {
			return domain.Event{}, err
		}
	}
	if err := e.appendAudit(ctx, tx, "event.created", ev.ID, "event", ev.ID, actorOr(opts.ActorID, ev.HostID), audit.Payload{
		"name":     ev.Name,
		"occasion": ev.OccasionType,
	}); err != nil {
		return domain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

// EventUpdateOptions changes editable event facts. Nil fields are kept.
type EventUpdateOptions struct {
	ID             string `validate:"required"`
	Name           *string
	OccasionType   *string
	CoHostID       *string
	GuestCount     *int `validate:"omitempty,gte=0"`
	Dietary        *domain.DietaryCounts
	VenueOvenCount *int `validate:"omitempty,gte=0"`
	ClearOvenCount bool
	ActorID        string
}

func (e Engine) UpdateEvent(ctx context.Context, opts EventUpdateOptions) (domain.Event, error) {
	const op = "update event"
	if err := checkOptions(op, opts); err != nil {
		return domain.Event{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	ev, err := e.editableEvent(ctx, tx, op, opts.ID)
	if err != nil {
		return ev, err
	}
	if opts.Name != nil {
		if strings.TrimSpace(*opts.Name) == "" {
			return ev, invalidField(op, "name", ReasonRequired, "name must not be empty")
		}
		ev.Name = strings.TrimSpace(*opts.Name)
	}
	if opts.OccasionType != nil {
		ev.OccasionType = strings.ToUpper(strings.TrimSpace(*opts.OccasionType))
	}
	if opts.GuestCount != nil {
		ev.GuestCount = *opts.GuestCount
	}
	if opts.Dietary != nil {
		if err := checkDietary(op, *opts.Dietary); err != nil {
			return ev, err
		}
		ev.Dietary = *opts.Dietary
	}
	if opts.ClearOvenCount {
		ev.VenueOvenCount = nil
	} else if opts.VenueOvenCount != nil {
		ev.VenueOvenCount = opts.VenueOvenCount
	}
	now := e.ts()
	if opts.CoHostID != nil {
		old := ev.CoHostID
		if *opts.CoHostID == "" {
			ev.CoHostID = nil
		} else {
			if _, err := e.Repo.GetPerson(ctx, tx, *opts.CoHostID); err != nil {
				return ev, lookupErr(op, "person", *opts.CoHostID, err)
			}
			ev.CoHostID = opts.CoHostID
		}
		if old != nil {
			if _, err := e.Repo.DeleteMembership(ctx, tx, domain.Membership{EventID: ev.ID, PersonID: *old, Role: domain.RoleCoHost}); err != nil {
				return ev, err
			}
		}
		if ev.CoHostID != nil {
			if err := e.Repo.InsertMembership(ctx, tx, domain.Membership{EventID: ev.ID, PersonID: *ev.CoHostID, Role: domain.RoleCoHost, CreatedAt: now}); err != nil {
				return ev, err
			}
		}
	}
	ev.UpdatedAt = now
	if err := e.Repo.UpdateEventDetails(ctx, tx, ev); err != nil {
		return ev, err
	}
	if err := e.appendAudit(ctx, tx, "event.updated", ev.ID, "event", ev.ID, opts.ActorID, audit.Payload{
		"guest_count": ev.GuestCount,
		"dietary":     ev.Dietary,
	}); err != nil {
		return ev, err
	}
	if err := tx.Commit(); err != nil {
		return ev, err
	}
	return ev, nil
}

func (e Engine) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	ev, err := e.Repo.GetEvent(ctx, nil, id)
	if err != nil {
		return ev, lookupErr("get event", "event", id, err)
	}
	return ev, nil
}

func (e Engine) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return e.Repo.ListEvents(ctx)
}

// Plan is the read model of an event's teams, items and members.
type Plan struct {
	Event       domain.Event        `json:"event"`
	Teams       []domain.Team       `json:"teams"`
	Items       []domain.Item       `json:"items"`
	Memberships []domain.Membership `json:"memberships"`
}

func (e Engine) GetPlan(ctx context.Context, eventID string) (Plan, error) {
	state, err := e.loadPlan(ctx, nil, "get plan", eventID)
	if err != nil {
		return Plan{}, err
	}
	members, err := e.Repo.ListMemberships(ctx, nil, eventID)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Event: state.Event, Teams: state.Teams, Items: state.Items, Memberships: members}, nil
}

// PersonCreateOptions are parameters for adding a person.
type PersonCreateOptions struct {
	ID      string
	Name    string `validate:"required"`
	Email   string `validate:"omitempty,email"`
	Phone   string
	ActorID string
}

func (e Engine) AddPerson(ctx context.Context, opts PersonCreateOptions) (domain.Person, error) {
	const op = "add person"
	if err := checkOptions(op, opts); err != nil {
		return domain.Person{}, err
	}
	p := domain.Person{
		ID:        opts.ID,
		Name:      strings.TrimSpace(opts.Name),
		Email:     strings.TrimSpace(opts.Email),
		Phone:     strings.TrimSpace(opts.Phone),
		CreatedAt: e.ts(),
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPerson(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.appendAudit(ctx, tx, "person.added", "", "person", p.ID, opts.ActorID, audit.Payload{"name": p.Name}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

func (e Engine) GetPerson(ctx context.Context, id string) (domain.Person, error) {
	p, err := e.Repo.GetPerson(ctx, nil, id)
	if err != nil {
		return p, lookupErr("get person", "person", id, err)
	}
	return p, nil
}

// MembershipOptions adds or removes a COORDINATOR or PARTICIPANT role.
// Host and co-host roles follow the event's host fields.
type MembershipOptions struct {
	EventID  string `validate:"required"`
	PersonID string `validate:"required"`
	Role     string `validate:"required,oneof=COORDINATOR PARTICIPANT"`
	TeamID   string
	ActorID  string
}

// AddMembership records a role. Members may be added after confirmation;
// EnsureTokens picks them up.
func (e Engine) AddMembership(ctx context.Context, opts MembershipOptions) (domain.Membership, error) {
	const op = "add membership"
	opts.Role = strings.ToUpper(strings.TrimSpace(opts.Role))
	if err := checkOptions(op, opts); err != nil {
		return domain.Membership{}, err
	}
	if opts.Role == domain.RoleCoordinator && opts.TeamID == "" {
		return domain.Membership{}, invalidField(op, "team_id", ReasonRequired, "coordinator membership needs a team")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Membership{}, err
	}
	defer tx.Rollback()

	ev, err := e.Repo.GetEvent(ctx, tx, opts.EventID)
	if err != nil {
		return domain.Membership{}, lookupErr(op, "event", opts.EventID, err)
	}
	if ev.Status == domain.EventComplete {
		return domain.Membership{}, invalidState(op, "event %s is complete", ev.ID)
	}
	if _, err := e.Repo.GetPerson(ctx, tx, opts.PersonID); err != nil {
		return domain.Membership{}, lookupErr(op, "person", opts.PersonID, err)
	}
	if opts.TeamID != "" {
		if _, err := e.teamInEvent(ctx, tx, op, ev.ID, opts.TeamID); err != nil {
			return domain.Membership{}, err
		}
	}
	m := domain.Membership{EventID: ev.ID, PersonID: opts.PersonID, Role: opts.Role, TeamID: opts.TeamID, CreatedAt: e.ts()}
	if err := e.Repo.InsertMembership(ctx, tx, m); err != nil {
		return m, err
	}
	if err := e.appendAudit(ctx, tx, "membership.added", ev.ID, "membership", m.PersonID, opts.ActorID, audit.Payload{
		"role":    m.Role,
		"team_id": m.TeamID,
	}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

func (e Engine) RemoveMembership(ctx context.Context, opts MembershipOptions) error {
	const op = "remove membership"
	opts.Role = strings.ToUpper(strings.TrimSpace(opts.Role))
	if err := checkOptions(op, opts); err != nil {
		return err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	n, err := e.Repo.DeleteMembership(ctx, tx, domain.Membership{EventID: opts.EventID, PersonID: opts.PersonID, Role: opts.Role, TeamID: opts.TeamID})
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(op, "membership", opts.PersonID+"/"+opts.Role)
	}
	if err := e.appendAudit(ctx, tx, "membership.removed", opts.EventID, "membership", opts.PersonID, opts.ActorID, audit.Payload{
		"role":    opts.Role,
		"team_id": opts.TeamID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// TeamCreateOptions are parameters for adding a team.
type TeamCreateOptions struct {
	ID            string
	EventID       string `validate:"required"`
	Name          string `validate:"required"`
	Domain        string
	CoordinatorID string
	IsProtected   bool
	ActorID       string
}

func (e Engine) AddTeam(ctx context.Context, opts TeamCreateOptions) (domain.Team, error) {
	const op = "add team"
	if err := checkOptions(op, opts); err != nil {
		return domain.Team{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()
	if _, err := e.editableEvent(ctx, tx, op, opts.EventID); err != nil {
		return domain.Team{}, err
	}
	t := domain.Team{
		ID:          opts.ID,
		EventID:     opts.EventID,
		Name:        strings.TrimSpace(opts.Name),
		Domain:      strings.ToUpper(strings.TrimSpace(opts.Domain)),
		IsProtected: opts.IsProtected,
		CreatedAt:   e.ts(),
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Domain == "" {
		t.Domain = "OTHER"
	}
	if opts.CoordinatorID != "" {
		if _, err := e.Repo.GetPerson(ctx, tx, opts.CoordinatorID); err != nil {
			return t, lookupErr(op, "person", opts.CoordinatorID, err)
		}
		t.CoordinatorID = &opts.CoordinatorID
	}
	if err := e.Repo.InsertTeam(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.appendAudit(ctx, tx, "team.added", t.EventID, "team", t.ID, opts.ActorID, audit.Payload{
		"name":   t.Name,
		"domain": t.Domain,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// SetTeamCoordinator assigns or clears (empty coordinatorID) a team's
// coordinator. Staffing may change after the structure is locked.
func (e Engine) SetTeamCoordinator(ctx context.Context, teamID, coordinatorID, actorID string) (domain.Team, error) {
	const op = "set coordinator"
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTeam(ctx, tx, teamID)
	if err != nil {
		return t, lookupErr(op, "team", teamID, err)
	}
	ev, err := e.Repo.GetEvent(ctx, tx, t.EventID)
	if err != nil {
		return t, lookupErr(op, "event", t.EventID, err)
	}
	if ev.Status == domain.EventComplete {
		return t, invalidState(op, "event %s is complete", ev.ID)
	}
	t.CoordinatorID = nil
	if coordinatorID != "" {
		if _, err := e.Repo.GetPerson(ctx, tx, coordinatorID); err != nil {
			return t, lookupErr(op, "person", coordinatorID, err)
		}
		t.CoordinatorID = &coordinatorID
	}
	if err := e.Repo.SetTeamCoordinator(ctx, tx, t.ID, t.CoordinatorID); err != nil {
		return t, err
	}
	if err := e.appendAudit(ctx, tx, "team.coordinator.set", t.EventID, "team", t.ID, actorID, audit.Payload{
		"coordinator_id": coordinatorID,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

func (e Engine) DeleteTeam(ctx context.Context, teamID, actorID string) error {
	const op = "delete team"
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTeam(ctx, tx, teamID)
	if err != nil {
		return lookupErr(op, "team", teamID, err)
	}
	if _, err := e.editableEvent(ctx, tx, op, t.EventID); err != nil {
		return err
	}
	if t.IsProtected {
		return invalidState(op, "team %s is protected", t.ID)
	}
	if err := e.Repo.DeleteTeam(ctx, tx, t.ID); err != nil {
		return err
	}
	if err := e.appendAudit(ctx, tx, "team.deleted", t.EventID, "team", t.ID, actorID, audit.Payload{"name": t.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

// ItemCreateOptions are parameters for adding an item. QuantityState
// defaults to SPECIFIED when an amount is given and PLACEHOLDER otherwise.
type ItemCreateOptions struct {
	ID             string
	TeamID         string   `validate:"required"`
	Name           string   `validate:"required"`
	QuantityAmount *float64 `validate:"omitempty,gt=0"`
	QuantityUnit   string
	QuantityState  string `validate:"omitempty,oneof=SPECIFIED PLACEHOLDER NA"`
	Critical       bool
	DietaryTags    []string
	Equipment      string
	TimeSlot       string
	AssigneeID     string
	ActorID        string
}

func (e Engine) AddItem(ctx context.Context, opts ItemCreateOptions) (domain.Item, error) {
	const op = "add item"
	opts.QuantityState = strings.ToUpper(strings.TrimSpace(opts.QuantityState))
	if err := checkOptions(op, opts); err != nil {
		return domain.Item{}, err
	}
	tags, err := normalizeTags(op, opts.DietaryTags)
	if err != nil {
		return domain.Item{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTeam(ctx, tx, opts.TeamID)
	if err != nil {
		return domain.Item{}, lookupErr(op, "team", opts.TeamID, err)
	}
	if _, err := e.editableEvent(ctx, tx, op, t.EventID); err != nil {
		return domain.Item{}, err
	}
	now := e.ts()
	it := domain.Item{
		ID:             opts.ID,
		EventID:        t.EventID,
		TeamID:         t.ID,
		Name:           strings.TrimSpace(opts.Name),
		QuantityAmount: opts.QuantityAmount,
		QuantityUnit:   strings.TrimSpace(opts.QuantityUnit),
		QuantityState:  opts.QuantityState,
		Critical:       opts.Critical,
		DietaryTags:    tags,
		Equipment:      strings.ToUpper(strings.TrimSpace(opts.Equipment)),
		TimeSlot:       strings.TrimSpace(opts.TimeSlot),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	if it.QuantityState == "" {
		it.QuantityState = domain.QuantityPlaceholder
		if it.QuantityAmount != nil {
			it.QuantityState = domain.QuantitySpecified
		}
	}
	if err := checkQuantity(op, it); err != nil {
		return it, err
	}
	if opts.AssigneeID != "" {
		if _, err := e.Repo.GetPerson(ctx, tx, opts.AssigneeID); err != nil {
			return it, lookupErr(op, "person", opts.AssigneeID, err)
		}
		it.AssigneeID = &opts.AssigneeID
	}
	if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
		return it, err
	}
	if err := e.appendAudit(ctx, tx, "item.added", it.EventID, "item", it.ID, opts.ActorID, audit.Payload{
		"team_id":        it.TeamID,
		"name":           it.Name,
		"quantity_state": it.QuantityState,
		"critical":       it.Critical,
	}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	return it, nil
}

// ItemUpdateOptions changes an item. Nil fields are kept.
type ItemUpdateOptions struct {
	ID                      string `validate:"required"`
	TeamID                  *string
	Name                    *string
	QuantityAmount          *float64 `validate:"omitempty,gt=0"`
	ClearQuantityAmount     bool
	QuantityUnit            *string
	QuantityState           *string `validate:"omitempty,oneof=SPECIFIED PLACEHOLDER NA"`
	PlaceholderAcknowledged *bool
	Critical                *bool
	DietaryTags             *[]string
	Equipment               *string
	TimeSlot                *string
	AssigneeID              *string
	ActorID                 string
}

func (e Engine) UpdateItem(ctx context.Context, opts ItemUpdateOptions) (domain.Item, error) {
	const op = "update item"
	if opts.QuantityState != nil {
		s := strings.ToUpper(strings.TrimSpace(*opts.QuantityState))
		opts.QuantityState = &s
	}
	if err := checkOptions(op, opts); err != nil {
		return domain.Item{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()
	it, err := e.Repo.GetItem(ctx, tx, opts.ID)
	if err != nil {
		return it, lookupErr(op, "item", opts.ID, err)
	}
	if _, err := e.editableEvent(ctx, tx, op, it.EventID); err != nil {
		return it, err
	}
	before := it
	if opts.TeamID != nil && *opts.TeamID != it.TeamID {
		if _, err := e.teamInEvent(ctx, tx, op, it.EventID, *opts.TeamID); err != nil {
			return it, err
		}
		it.TeamID = *opts.TeamID
	}
	if opts.Name != nil {
		if strings.TrimSpace(*opts.Name) == "" {
			return it, invalidField(op, "name", ReasonRequired, "name must not be empty")
		}
		it.Name = strings.TrimSpace(*opts.Name)
	}
	if opts.ClearQuantityAmount {
		it.QuantityAmount = nil
	} else if opts.QuantityAmount != nil {
		it.QuantityAmount = opts.QuantityAmount
		if opts.QuantityState == nil {
			it.QuantityState = domain.QuantitySpecified
		}
	}
	if opts.QuantityUnit != nil {
		it.QuantityUnit = strings.TrimSpace(*opts.QuantityUnit)
	}
	if opts.QuantityState != nil {
		it.QuantityState = *opts.QuantityState
	}
	if opts.PlaceholderAcknowledged != nil {
		it.PlaceholderAcknowledged = *opts.PlaceholderAcknowledged
	}
	if opts.Critical != nil {
		it.Critical = *opts.Critical
	}
	if opts.DietaryTags != nil {
		tags, err := normalizeTags(op, *opts.DietaryTags)
		if err != nil {
			return it, err
		}
		it.DietaryTags = tags
	}
	if opts.Equipment != nil {
		it.Equipment = strings.ToUpper(strings.TrimSpace(*opts.Equipment))
	}
	if opts.TimeSlot != nil {
		it.TimeSlot = strings.TrimSpace(*opts.TimeSlot)
	}
	if opts.AssigneeID != nil {
		if *opts.AssigneeID == "" {
			it.AssigneeID = nil
		} else {
			if _, err := e.Repo.GetPerson(ctx, tx, *opts.AssigneeID); err != nil {
				return it, lookupErr(op, "person", *opts.AssigneeID, err)
			}
			it.AssigneeID = opts.AssigneeID
		}
	}
	if err := checkQuantity(op, it); err != nil {
		return it, err
	}
	it.UpdatedAt = e.ts()
	if err := e.Repo.UpdateItem(ctx, tx, it); err != nil {
		return it, err
	}
	if err := e.appendAudit(ctx, tx, "item.updated", it.EventID, "item", it.ID, opts.ActorID, audit.Payload{
		"from_quantity_state": before.QuantityState,
		"to_quantity_state":   it.QuantityState,
		"critical":            it.Critical,
		"placeholder_ack":     it.PlaceholderAcknowledged,
	}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	return it, nil
}

func (e Engine) DeleteItem(ctx context.Context, itemID, actorID string) error {
	const op = "delete item"
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	it, err := e.Repo.GetItem(ctx, tx, itemID)
	if err != nil {
		return lookupErr(op, "item", itemID, err)
	}
	if _, err := e.editableEvent(ctx, tx, op, it.EventID); err != nil {
		return err
	}
	if err := e.Repo.DeleteItem(ctx, tx, it.ID); err != nil {
		return err
	}
	if err := e.appendAudit(ctx, tx, "item.deleted", it.EventID, "item", it.ID, actorID, audit.Payload{"name": it.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

// editableEvent loads an event whose team and item topology may still change.
func (e Engine) editableEvent(ctx context.Context, tx *sql.Tx, op, eventID string) (domain.Event, error) {
	ev, err := e.Repo.GetEvent(ctx, tx, eventID)
	if err != nil {
		return ev, lookupErr(op, "event", eventID, err)
	}
	if ev.StructureMode == domain.StructureLocked {
		return ev, invalidState(op, "event %s structure is locked (%s)", ev.ID, ev.Status)
	}
	return ev, nil
}

func (e Engine) teamInEvent(ctx context.Context, tx *sql.Tx, op, eventID, teamID string) (domain.Team, error) {
	t, err := e.Repo.GetTeam(ctx, tx, teamID)
	if err != nil {
		return t, lookupErr(op, "team", teamID, err)
	}
	if t.EventID != eventID {
		return t, invalidField(op, "team_id", ReasonInvalid, "team %s is not part of event %s", teamID, eventID)
	}
	return t, nil
}

func checkQuantity(op string, it domain.Item) error {
	if it.QuantityState == domain.QuantitySpecified && it.QuantityAmount == nil {
		return invalidField(op, "quantity_amount", ReasonRequired, "a specified quantity needs an amount")
	}
	return nil
}

func checkDietary(op string, d domain.DietaryCounts) error {
	for _, cat := range domain.DietaryCategories {
		if d.Count(cat.Tag) < 0 {
			return invalidField(op, "dietary."+strings.ToLower(cat.Tag), ReasonInvalid, "%s count must not be negative", cat.Label)
		}
	}
	return nil
}

// normalizeTags upper-cases dietary tags, drops duplicates and rejects
// unknown categories.
func normalizeTags(op string, tags []string) ([]string, error) {
	known := make(map[string]bool, len(domain.DietaryCategories))
	for _, cat := range domain.DietaryCategories {
		known[cat.Tag] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, raw := range tags {
		tag := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_"))
		if tag == "" || seen[tag] {
			continue
		}
		if !known[tag] {
			return nil, invalidField(op, "dietary_tags", ReasonInvalid, "unknown dietary tag %q", raw)
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out, nil
}

func actorOr(actorID, fallback string) string {
	if actorID != "" {
		return actorID
	}
	return fallback
}
