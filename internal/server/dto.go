package server

import (
	"gather/internal/domain"
	"gather/internal/engine"
)

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

type PersonCreateRequest struct {
	Name  string `json:"name" minLength:"1"`
	Email string `json:"email,omitempty" format:"email"`
	Phone string `json:"phone,omitempty"`
}

// DietaryRequest carries guest counts per dietary category. Omitted
// categories count as zero.
type DietaryRequest struct {
	Vegetarian int `json:"vegetarian,omitempty" minimum:"0"`
	Vegan      int `json:"vegan,omitempty" minimum:"0"`
	GlutenFree int `json:"gluten_free,omitempty" minimum:"0"`
	DairyFree  int `json:"dairy_free,omitempty" minimum:"0"`
	NutFree    int `json:"nut_free,omitempty" minimum:"0"`
}

func (d *DietaryRequest) counts() *domain.DietaryCounts {
	if d == nil {
		return nil
	}
	return &domain.DietaryCounts{
		Vegetarian: d.Vegetarian,
		Vegan:      d.Vegan,
		GlutenFree: d.GlutenFree,
		DairyFree:  d.DairyFree,
		NutFree:    d.NutFree,
	}
}

type EventCreateRequest struct {
	Name           string          `json:"name" minLength:"1"`
	OccasionType   string          `json:"occasion_type,omitempty" example:"CHRISTMAS"`
	HostID         string          `json:"host_id"`
	CoHostID       string          `json:"co_host_id,omitempty"`
	GuestCount     int             `json:"guest_count,omitempty" minimum:"0"`
	Dietary        *DietaryRequest `json:"dietary,omitempty"`
	VenueOvenCount *int            `json:"venue_oven_count,omitempty"`
}

type EventUpdateRequest struct {
	Name           *string         `json:"name,omitempty"`
	OccasionType   *string         `json:"occasion_type,omitempty"`
	CoHostID       *string         `json:"co_host_id,omitempty"`
	GuestCount     *int            `json:"guest_count,omitempty"`
	Dietary        *DietaryRequest `json:"dietary,omitempty"`
	VenueOvenCount *int            `json:"venue_oven_count,omitempty"`
	ClearOvenCount bool            `json:"clear_oven_count,omitempty"`
}

type EventListResponse struct {
	Events []domain.Event `json:"events"`
}

type MemberRequest struct {
	PersonID string `json:"person_id"`
	Role     string `json:"role" enum:"COORDINATOR,PARTICIPANT"`
	TeamID   string `json:"team_id,omitempty"`
}

type TeamCreateRequest struct {
	Name          string `json:"name" minLength:"1"`
	Domain        string `json:"domain,omitempty" example:"MAINS"`
	CoordinatorID string `json:"coordinator_id,omitempty"`
	IsProtected   bool   `json:"is_protected,omitempty"`
}

type CoordinatorRequest struct {
	CoordinatorID string `json:"coordinator_id"`
}

type ItemCreateRequest struct {
	TeamID         string   `json:"team_id"`
	Name           string   `json:"name" minLength:"1"`
	QuantityAmount *float64 `json:"quantity_amount,omitempty"`
	QuantityUnit   string   `json:"quantity_unit,omitempty"`
	QuantityState  string   `json:"quantity_state,omitempty" enum:"SPECIFIED,PLACEHOLDER,NA"`
	Critical       bool     `json:"critical,omitempty"`
	DietaryTags    []string `json:"dietary_tags,omitempty"`
	Equipment      string   `json:"equipment,omitempty"`
	TimeSlot       string   `json:"time_slot,omitempty"`
	AssigneeID     string   `json:"assignee_id,omitempty"`
}

// ItemUpdateRequest changes an item. Omitted fields are kept; dietary_tags
// replaces the whole set when present.
type ItemUpdateRequest struct {
	TeamID                  *string  `json:"team_id,omitempty"`
	Name                    *string  `json:"name,omitempty"`
	QuantityAmount          *float64 `json:"quantity_amount,omitempty"`
	ClearQuantityAmount     bool     `json:"clear_quantity_amount,omitempty"`
	QuantityUnit            *string  `json:"quantity_unit,omitempty"`
	QuantityState           *string  `json:"quantity_state,omitempty" enum:"SPECIFIED,PLACEHOLDER,NA"`
	PlaceholderAcknowledged *bool    `json:"placeholder_acknowledged,omitempty"`
	Critical                *bool    `json:"critical,omitempty"`
	DietaryTags             []string `json:"dietary_tags,omitempty"`
	ClearDietaryTags        bool     `json:"clear_dietary_tags,omitempty"`
	Equipment               *string  `json:"equipment,omitempty"`
	TimeSlot                *string  `json:"time_slot,omitempty"`
	AssigneeID              *string  `json:"assignee_id,omitempty"`
}

type ConflictListResponse struct {
	Conflicts []domain.Conflict `json:"conflicts"`
}

type VisibilityRequest struct {
	CoHosts      bool `json:"cohosts,omitempty"`
	Coordinators bool `json:"coordinators,omitempty"`
	Participants bool `json:"participants,omitempty"`
}

type AcknowledgeRequest struct {
	ImpactStatement    string             `json:"impact_statement,omitempty"`
	ImpactUnderstood   bool               `json:"impact_understood,omitempty"`
	MitigationPlanType string             `json:"mitigation_plan_type,omitempty" example:"SUBSTITUTE"`
	Visibility         *VisibilityRequest `json:"visibility,omitempty"`
}

func (r AcknowledgeRequest) options(conflictID, actorID string) engine.AcknowledgeOptions {
	opts := engine.AcknowledgeOptions{
		ConflictID:         conflictID,
		ActorID:            actorID,
		ImpactStatement:    r.ImpactStatement,
		ImpactUnderstood:   r.ImpactUnderstood,
		MitigationPlanType: r.MitigationPlanType,
	}
	if r.Visibility != nil {
		opts.Visibility = &engine.Visibility{
			CoHosts:      r.Visibility.CoHosts,
			Coordinators: r.Visibility.Coordinators,
			Participants: r.Visibility.Participants,
		}
	}
	return opts
}

type AcknowledgeResponse struct {
	Acknowledgement domain.Acknowledgement `json:"acknowledgement"`
	Conflict        domain.Conflict        `json:"conflict"`
}

type LinksResponse struct {
	Links []domain.InviteLink `json:"links"`
}

type AuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}
