package domain

import (
	"encoding/json"
	"fmt"
)

// Conflict types.
const (
	ConflictDietaryGap          = "DIETARY_GAP"
	ConflictTiming              = "TIMING"
	ConflictQuantityMissing     = "QUANTITY_MISSING"
	ConflictCoverageGap         = "COVERAGE_GAP"
	ConflictStructuralImbalance = "STRUCTURAL_IMBALANCE"
)

const (
	SeverityCritical    = "CRITICAL"
	SeveritySignificant = "SIGNIFICANT"
	SeverityAdvisory    = "ADVISORY"
)

const (
	ClaimConstraint = "CONSTRAINT"
	ClaimRisk       = "RISK"
	ClaimPattern    = "PATTERN"
	ClaimPreference = "PREFERENCE"
	ClaimAssumption = "ASSUMPTION"
)

const (
	ResolutionDecisionRequired = "DECISION_REQUIRED"
	ResolutionFixInPlan        = "FIX_IN_PLAN"
	ResolutionDelegateAllowed  = "DELEGATE_ALLOWED"
	ResolutionInformational    = "INFORMATIONAL"
)

const (
	ConflictOpen         = "OPEN"
	ConflictResolved     = "RESOLVED"
	ConflictDismissed    = "DISMISSED"
	ConflictAcknowledged = "ACKNOWLEDGED"
)

// MitigationPlanTypes is the fixed set accepted on acknowledgement.
var MitigationPlanTypes = []string{
	"SUBSTITUTE",
	"REASSIGN",
	"COMMUNICATE",
	"EXTERNAL_CATERING",
	"BRING_OWN",
	"ACCEPT_GAP",
	"OTHER",
}

// IsMitigationPlanType reports whether v is an accepted mitigation plan.
func IsMitigationPlanType(v string) bool {
	for _, t := range MitigationPlanTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Suggestion kinds.
const (
	SuggestQuantity  = "quantity"
	SuggestTiming    = "timing"
	SuggestDietary   = "dietary"
	SuggestCoverage  = "coverage"
	SuggestStructure = "structure"
)

type QuantitySuggestion struct {
	ItemIDs []string `json:"item_ids"`
}

type TimingSuggestion struct {
	Equipment string   `json:"equipment"`
	Slot      string   `json:"slot"`
	Capacity  int      `json:"capacity"`
	Demand    int      `json:"demand"`
	ItemIDs   []string `json:"item_ids"`
}

type DietarySuggestion struct {
	Category   string `json:"category"`
	GuestCount int    `json:"guest_count"`
}

type CoverageSuggestion struct {
	MissingDomains []string `json:"missing_domains"`
}

type StructureSuggestion struct {
	EmptyTeamIDs []string `json:"empty_team_ids"`
}

// Suggestion is a tagged union: Kind names the single populated variant.
type Suggestion struct {
	Kind      string               `json:"kind" enum:"quantity,timing,dietary,coverage,structure"`
	Quantity  *QuantitySuggestion  `json:"quantity,omitempty"`
	Timing    *TimingSuggestion    `json:"timing,omitempty"`
	Dietary   *DietarySuggestion   `json:"dietary,omitempty"`
	Coverage  *CoverageSuggestion  `json:"coverage,omitempty"`
	Structure *StructureSuggestion `json:"structure,omitempty"`
}

func NewQuantitySuggestion(s QuantitySuggestion) *Suggestion {
	return &Suggestion{Kind: SuggestQuantity, Quantity: &s}
}

func NewTimingSuggestion(s TimingSuggestion) *Suggestion {
	return &Suggestion{Kind: SuggestTiming, Timing: &s}
}

func NewDietarySuggestion(s DietarySuggestion) *Suggestion {
	return &Suggestion{Kind: SuggestDietary, Dietary: &s}
}

func NewCoverageSuggestion(s CoverageSuggestion) *Suggestion {
	return &Suggestion{Kind: SuggestCoverage, Coverage: &s}
}

func NewStructureSuggestion(s StructureSuggestion) *Suggestion {
	return &Suggestion{Kind: SuggestStructure, Structure: &s}
}

// Validate checks that exactly the variant named by Kind is set.
func (s Suggestion) Validate() error {
	set := map[string]bool{
		SuggestQuantity:  s.Quantity != nil,
		SuggestTiming:    s.Timing != nil,
		SuggestDietary:   s.Dietary != nil,
		SuggestCoverage:  s.Coverage != nil,
		SuggestStructure: s.Structure != nil,
	}
	present, ok := set[s.Kind]
	if !ok {
		return fmt.Errorf("unknown suggestion kind %q", s.Kind)
	}
	if !present {
		return fmt.Errorf("suggestion kind %s has no payload", s.Kind)
	}
	for kind, isSet := range set {
		if kind != s.Kind && isSet {
			return fmt.Errorf("suggestion kind %s carries a %s payload", s.Kind, kind)
		}
	}
	return nil
}

// EncodeSuggestion renders a suggestion for storage; nil encodes to "".
func EncodeSuggestion(s *Suggestion) (string, error) {
	if s == nil {
		return "", nil
	}
	if err := s.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeSuggestion parses a stored suggestion; "" decodes to nil.
func DecodeSuggestion(raw string) (*Suggestion, error) {
	if raw == "" {
		return nil, nil
	}
	var s Suggestion
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode suggestion: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ConflictCandidate is what a detection rule emits; persisting it yields a Conflict.
type ConflictCandidate struct {
	Rule            string      `json:"rule"`
	Fingerprint     string      `json:"fingerprint"`
	Type            string      `json:"type"`
	Severity        string      `json:"severity"`
	ClaimType       string      `json:"claim_type"`
	ResolutionClass string      `json:"resolution_class"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	AffectedParties []string    `json:"affected_parties"`
	AffectedItemIDs []string    `json:"affected_item_ids"`
	Suggestion      *Suggestion `json:"suggestion,omitempty"`
	CanDelegate     bool        `json:"can_delegate"`
	DelegateToRoles []string    `json:"delegate_to_roles,omitempty"`
	InputHash       string      `json:"input_hash"`
}

type Conflict struct {
	ID              string      `json:"id"`
	EventID         string      `json:"event_id"`
	Fingerprint     string      `json:"fingerprint"`
	Type            string      `json:"type"`
	Severity        string      `json:"severity" enum:"CRITICAL,SIGNIFICANT,ADVISORY"`
	ClaimType       string      `json:"claim_type" enum:"CONSTRAINT,RISK,PATTERN,PREFERENCE,ASSUMPTION"`
	ResolutionClass string      `json:"resolution_class" enum:"DECISION_REQUIRED,FIX_IN_PLAN,DELEGATE_ALLOWED,INFORMATIONAL"`
	Status          string      `json:"status" enum:"OPEN,RESOLVED,DISMISSED,ACKNOWLEDGED"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	AffectedParties []string    `json:"affected_parties"`
	AffectedItemIDs []string    `json:"affected_item_ids"`
	Suggestion      *Suggestion `json:"suggestion,omitempty"`
	CanDelegate     bool        `json:"can_delegate"`
	DelegateToRoles []string    `json:"delegate_to_roles,omitempty"`
	InputHash       string      `json:"-"`
	CreatedAt       string      `json:"created_at" format:"date-time"`
	UpdatedAt       string      `json:"updated_at" format:"date-time"`
	ResolvedAt      *string     `json:"resolved_at,omitempty" format:"date-time"`
	ResolvedBy      *string     `json:"resolved_by,omitempty"`
	DismissedAt     *string     `json:"dismissed_at,omitempty" format:"date-time"`
	DismissedBy     *string     `json:"dismissed_by,omitempty"`
}
