package domain

import "strings"

// Event lifecycle.
const (
	EventDraft      = "DRAFT"
	EventConfirming = "CONFIRMING"
	EventFrozen     = "FROZEN"
	EventComplete   = "COMPLETE"

	StructureEditable = "EDITABLE"
	StructureLocked   = "LOCKED"
)

// Membership roles.
const (
	RoleHost        = "HOST"
	RoleCoHost      = "COHOST"
	RoleCoordinator = "COORDINATOR"
	RoleParticipant = "PARTICIPANT"
)

// Item quantity states.
const (
	QuantitySpecified   = "SPECIFIED"
	QuantityPlaceholder = "PLACEHOLDER"
	QuantityNA          = "NA"
)

const EquipmentOven = "OVEN"

type Person struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type DietaryCounts struct {
	Vegetarian int `json:"vegetarian"`
	Vegan      int `json:"vegan"`
	GlutenFree int `json:"gluten_free"`
	DairyFree  int `json:"dairy_free"`
	NutFree    int `json:"nut_free"`
}

// DietaryCategory ties a guest count to the item tag that serves it.
type DietaryCategory struct {
	Tag   string
	Slug  string
	Label string
}

var DietaryCategories = []DietaryCategory{
	{Tag: "VEGETARIAN", Slug: "vegetarian", Label: "vegetarian"},
	{Tag: "VEGAN", Slug: "vegan", Label: "vegan"},
	{Tag: "GLUTEN_FREE", Slug: "gluten-free", Label: "gluten-free"},
	{Tag: "DAIRY_FREE", Slug: "dairy-free", Label: "dairy-free"},
	{Tag: "NUT_FREE", Slug: "nut-free", Label: "nut-free"},
}

// Count returns the guest count for a dietary tag.
func (d DietaryCounts) Count(tag string) int {
	switch strings.ToUpper(tag) {
	case "VEGETARIAN":
		return d.Vegetarian
	case "VEGAN":
		return d.Vegan
	case "GLUTEN_FREE":
		return d.GlutenFree
	case "DAIRY_FREE":
		return d.DairyFree
	case "NUT_FREE":
		return d.NutFree
	}
	return 0
}

type Event struct {
	ID                         string        `json:"id"`
	Name                       string        `json:"name"`
	OccasionType               string        `json:"occasion_type"`
	HostID                     string        `json:"host_id"`
	CoHostID                   *string       `json:"co_host_id,omitempty"`
	Status                     string        `json:"status" enum:"DRAFT,CONFIRMING,FROZEN,COMPLETE"`
	StructureMode              string        `json:"structure_mode" enum:"EDITABLE,LOCKED"`
	GuestCount                 int           `json:"guest_count"`
	Dietary                    DietaryCounts `json:"dietary"`
	VenueOvenCount             *int          `json:"venue_oven_count,omitempty"`
	PlanSnapshotIDAtConfirming *string       `json:"plan_snapshot_id_at_confirming,omitempty"`
	TransitionedToConfirmingAt *string       `json:"transitioned_to_confirming_at,omitempty" format:"date-time"`
	FrozenAt                   *string       `json:"frozen_at,omitempty" format:"date-time"`
	CompletedAt                *string       `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt                  string        `json:"created_at" format:"date-time"`
	UpdatedAt                  string        `json:"updated_at" format:"date-time"`
}

// EquipmentCapacity returns the declared venue capacity for a piece of shared
// equipment. ok is false when the venue did not declare one.
func (e Event) EquipmentCapacity(equipment string) (capacity int, ok bool) {
	switch strings.ToUpper(equipment) {
	case EquipmentOven:
		if e.VenueOvenCount == nil {
			return 0, false
		}
		return *e.VenueOvenCount, true
	}
	return 0, false
}

type Membership struct {
	EventID   string `json:"event_id"`
	PersonID  string `json:"person_id"`
	Role      string `json:"role" enum:"HOST,COHOST,COORDINATOR,PARTICIPANT"`
	TeamID    string `json:"team_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Team struct {
	ID            string  `json:"id"`
	EventID       string  `json:"event_id"`
	Name          string  `json:"name"`
	Domain        string  `json:"domain"`
	CoordinatorID *string `json:"coordinator_id,omitempty"`
	IsProtected   bool    `json:"is_protected"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type Item struct {
	ID                      string   `json:"id"`
	EventID                 string   `json:"event_id"`
	TeamID                  string   `json:"team_id"`
	Name                    string   `json:"name"`
	QuantityAmount          *float64 `json:"quantity_amount,omitempty"`
	QuantityUnit            string   `json:"quantity_unit,omitempty"`
	QuantityState           string   `json:"quantity_state" enum:"SPECIFIED,PLACEHOLDER,NA"`
	PlaceholderAcknowledged bool     `json:"placeholder_acknowledged"`
	Critical                bool     `json:"critical"`
	DietaryTags             []string `json:"dietary_tags,omitempty"`
	Equipment               string   `json:"equipment,omitempty"`
	TimeSlot                string   `json:"time_slot,omitempty"`
	AssigneeID              *string  `json:"assignee_id,omitempty"`
	CreatedAt               string   `json:"created_at" format:"date-time"`
	UpdatedAt               string   `json:"updated_at" format:"date-time"`
}

// HasTag reports whether the item is tagged for a dietary category.
func (i Item) HasTag(tag string) bool {
	for _, t := range i.DietaryTags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// BlocksOnPlaceholder is true for critical items whose quantity is still a
// placeholder nobody has signed off on.
func (i Item) BlocksOnPlaceholder() bool {
	return i.Critical && i.QuantityState == QuantityPlaceholder && !i.PlaceholderAcknowledged
}

type Acknowledgement struct {
	ID                    string `json:"id"`
	ConflictID            string `json:"conflict_id"`
	EventID               string `json:"event_id"`
	ImpactStatement       string `json:"impact_statement"`
	ImpactUnderstood      bool   `json:"impact_understood"`
	MitigationPlanType    string `json:"mitigation_plan_type"`
	VisibleToCoHosts      bool   `json:"visible_to_cohosts"`
	VisibleToCoordinators bool   `json:"visible_to_coordinators"`
	VisibleToParticipants bool   `json:"visible_to_participants"`
	AcknowledgedBy        string `json:"acknowledged_by"`
	CreatedAt             string `json:"created_at" format:"date-time"`
}

// Token scopes.
const (
	ScopeHost        = "HOST"
	ScopeCoordinator = "COORDINATOR"
	ScopeParticipant = "PARTICIPANT"
)

type AccessToken struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	PersonID  string `json:"person_id"`
	Scope     string `json:"scope" enum:"HOST,COORDINATOR,PARTICIPANT"`
	TeamID    string `json:"team_id,omitempty"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// InviteLink is the read-only projection of an access token.
type InviteLink struct {
	PersonID   string `json:"person_id"`
	PersonName string `json:"person_name"`
	Scope      string `json:"scope"`
	TeamID     string `json:"team_id,omitempty"`
	TeamName   string `json:"team_name,omitempty"`
	URL        string `json:"url"`
	ExpiresAt  string `json:"expires_at" format:"date-time"`
}

type CriticalFlag struct {
	ItemID                  string `json:"item_id"`
	Critical                bool   `json:"critical"`
	QuantityState           string `json:"quantity_state"`
	PlaceholderAcknowledged bool   `json:"placeholder_acknowledged"`
}

type PlanSnapshot struct {
	ID               string            `json:"id"`
	EventID          string            `json:"event_id"`
	Phase            string            `json:"phase"`
	Teams            []Team            `json:"teams"`
	Items            []Item            `json:"items"`
	CriticalFlags    []CriticalFlag    `json:"critical_flags"`
	Acknowledgements []Acknowledgement `json:"acknowledgements"`
	CreatedBy        string            `json:"created_by"`
	CreatedAt        string            `json:"created_at" format:"date-time"`
}

// Gate block codes.
const (
	BlockMinimumTeams        = "STRUCTURAL_MINIMUM_TEAMS"
	BlockMinimumItems        = "STRUCTURAL_MINIMUM_ITEMS"
	BlockCriticalConflict    = "CRITICAL_CONFLICT_OPEN"
	BlockCriticalPlaceholder = "CRITICAL_PLACEHOLDER_UNACKNOWLEDGED"
)

type GateBlock struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ConflictID  string `json:"conflict_id,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	ItemID      string `json:"item_id,omitempty"`
}

type GateResult struct {
	Passed bool        `json:"passed"`
	Blocks []GateBlock `json:"blocks"`
}

type AuditEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
