package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gather/internal/domain"
)

// PlaceholderRule flags critical items whose quantity is still a placeholder.
// All such items fold into one event-wide candidate.
type PlaceholderRule struct{}

func (PlaceholderRule) ID() string { return "placeholder-quantities" }

func (PlaceholderRule) Check(state PlanState) []domain.ConflictCandidate {
	teamNames := teamNameIndex(state.Teams)
	var ids []string
	parties := map[string]bool{}
	for _, it := range state.Items {
		if !it.BlocksOnPlaceholder() {
			continue
		}
		ids = append(ids, it.ID)
		if name := teamNames[it.TeamID]; name != "" {
			parties[name] = true
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	affected := append([]string{"guests"}, sortedKeys(parties)...)
	return []domain.ConflictCandidate{{
		Fingerprint:     "placeholder-quantities-" + state.Event.ID,
		Type:            domain.ConflictQuantityMissing,
		Severity:        domain.SeverityCritical,
		ClaimType:       domain.ClaimConstraint,
		ResolutionClass: domain.ResolutionFixInPlan,
		Title:           "Critical items have no quantity",
		Description:     fmt.Sprintf("%d critical item(s) still have placeholder quantities.", len(ids)),
		AffectedParties: affected,
		AffectedItemIDs: ids,
		Suggestion:      domain.NewQuantitySuggestion(domain.QuantitySuggestion{ItemIDs: ids}),
		CanDelegate:     true,
		DelegateToRoles: []string{domain.RoleCoordinator},
		InputHash:       hashInputs(ids),
	}}
}

// TimingRule flags time slots where more items need a shared appliance than
// the venue declared.
type TimingRule struct{}

func (TimingRule) ID() string { return "timing" }

func (TimingRule) Check(state PlanState) []domain.ConflictCandidate {
	type slotKey struct{ equipment, slot string }
	groups := map[slotKey][]domain.Item{}
	labels := map[slotKey]string{}
	for _, it := range state.Items {
		equipment := strings.ToUpper(strings.TrimSpace(it.Equipment))
		slot := slotKeyOf(it.TimeSlot)
		if equipment == "" || slot == "" {
			continue
		}
		k := slotKey{equipment, slot}
		groups[k] = append(groups[k], it)
		if _, ok := labels[k]; !ok {
			labels[k] = strings.TrimSpace(it.TimeSlot)
		}
	}
	keys := make([]slotKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].equipment != keys[j].equipment {
			return keys[i].equipment < keys[j].equipment
		}
		return keys[i].slot < keys[j].slot
	})

	var out []domain.ConflictCandidate
	for _, k := range keys {
		capacity, ok := state.Event.EquipmentCapacity(k.equipment)
		if !ok {
			continue
		}
		items := groups[k]
		if len(items) <= capacity {
			continue
		}
		ids := make([]string, len(items))
		names := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.ID
			names[i] = it.Name
		}
		sort.Strings(ids)
		sort.Strings(names)
		equipment := strings.ToLower(k.equipment)
		out = append(out, domain.ConflictCandidate{
			Fingerprint:     fmt.Sprintf("timing-%s-%s-%s", fingerprintSegment(equipment), fingerprintSegment(k.slot), state.Event.ID),
			Type:            domain.ConflictTiming,
			Severity:        domain.SeveritySignificant,
			ClaimType:       domain.ClaimRisk,
			ResolutionClass: domain.ResolutionDecisionRequired,
			Title:           fmt.Sprintf("Too many dishes need the %s at %s", equipment, labels[k]),
			Description: fmt.Sprintf("%d items need the %s at %s but the venue has %d: %s.",
				len(items), equipment, labels[k], capacity, strings.Join(names, ", ")),
			AffectedParties: []string{"cooks", equipment + " users"},
			AffectedItemIDs: ids,
			Suggestion: domain.NewTimingSuggestion(domain.TimingSuggestion{
				Equipment: k.equipment,
				Slot:      labels[k],
				Capacity:  capacity,
				Demand:    len(items),
				ItemIDs:   ids,
			}),
			CanDelegate:     true,
			DelegateToRoles: []string{domain.RoleCoordinator},
			InputHash:       hashInputs(ids, capacity),
		})
	}
	return out
}

// DietaryRule flags dietary categories with guests but no tagged items.
type DietaryRule struct{}

func (DietaryRule) ID() string { return "dietary" }

func (DietaryRule) Check(state PlanState) []domain.ConflictCandidate {
	var out []domain.ConflictCandidate
	for _, cat := range domain.DietaryCategories {
		guests := state.Event.Dietary.Count(cat.Tag)
		if guests <= 0 {
			continue
		}
		covered := false
		for _, it := range state.Items {
			if it.HasTag(cat.Tag) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		party := cat.Label + " guests"
		out = append(out, domain.ConflictCandidate{
			Fingerprint:     fmt.Sprintf("dietary-%s-%s", cat.Slug, state.Event.ID),
			Type:            domain.ConflictDietaryGap,
			Severity:        domain.SeverityCritical,
			ClaimType:       domain.ClaimConstraint,
			ResolutionClass: domain.ResolutionFixInPlan,
			Title:           fmt.Sprintf("No %s options", cat.Label),
			Description:     fmt.Sprintf("%d %s but no item is tagged %s.", guests, party, cat.Tag),
			AffectedParties: []string{party},
			Suggestion: domain.NewDietarySuggestion(domain.DietarySuggestion{
				Category:   cat.Tag,
				GuestCount: guests,
			}),
			CanDelegate:     true,
			DelegateToRoles: []string{domain.RoleCoordinator},
			InputHash:       hashInputs(cat.Tag, guests),
		})
	}
	return out
}

// CoverageRule compares the team domains present against what the occasion
// is expected to cover.
type CoverageRule struct {
	Expected func(occasion string) []string
}

func (CoverageRule) ID() string { return "coverage" }

func (r CoverageRule) Check(state PlanState) []domain.ConflictCandidate {
	if r.Expected == nil {
		return nil
	}
	expected := r.Expected(state.Event.OccasionType)
	if len(expected) == 0 {
		return nil
	}
	present := map[string]bool{}
	for _, t := range state.Teams {
		present[strings.ToUpper(strings.TrimSpace(t.Domain))] = true
	}
	var missing []string
	for _, d := range expected {
		if !present[strings.ToUpper(d)] {
			missing = append(missing, strings.ToUpper(d))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return []domain.ConflictCandidate{{
		Fingerprint:     "coverage-domains-" + state.Event.ID,
		Type:            domain.ConflictCoverageGap,
		Severity:        domain.SeveritySignificant,
		ClaimType:       domain.ClaimPattern,
		ResolutionClass: domain.ResolutionFixInPlan,
		Title:           "Menu is missing expected courses",
		Description: fmt.Sprintf("A %s gathering usually covers %s; no team covers %s.",
			strings.ToLower(state.Event.OccasionType), strings.ToLower(strings.Join(expected, ", ")), strings.ToLower(strings.Join(missing, ", "))),
		AffectedParties: []string{"guests"},
		Suggestion:      domain.NewCoverageSuggestion(domain.CoverageSuggestion{MissingDomains: missing}),
		InputHash:       hashInputs(missing),
	}}
}

// EmptyTeamRule points out teams that were created but hold no items.
type EmptyTeamRule struct{}

func (EmptyTeamRule) ID() string { return "structure" }

func (EmptyTeamRule) Check(state PlanState) []domain.ConflictCandidate {
	counts := map[string]int{}
	for _, it := range state.Items {
		counts[it.TeamID]++
	}
	var ids, names []string
	for _, t := range state.Teams {
		if counts[t.ID] == 0 {
			ids = append(ids, t.ID)
			names = append(names, t.Name)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	sort.Strings(names)
	return []domain.ConflictCandidate{{
		Fingerprint:     "structure-empty-teams-" + state.Event.ID,
		Type:            domain.ConflictStructuralImbalance,
		Severity:        domain.SeverityAdvisory,
		ClaimType:       domain.ClaimPattern,
		ResolutionClass: domain.ResolutionInformational,
		Title:           "Some teams have nothing to bring",
		Description:     "Teams without items: " + strings.Join(names, ", ") + ".",
		AffectedParties: names,
		Suggestion:      domain.NewStructureSuggestion(domain.StructureSuggestion{EmptyTeamIDs: ids}),
		InputHash:       hashInputs(ids),
	}}
}

var plainSlot = regexp.MustCompile(`^[a-z0-9]+( [a-z0-9]+)*$`)

// slotKeyOf folds case and whitespace only, so "17:00" and "17.00" stay
// distinct slots.
func slotKeyOf(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// fingerprintSegment renders a key for use inside a fingerprint. Keys made of
// lowercase letters and digits separated by single spaces map one-to-one onto
// their slug; anything else becomes "x_" plus a short hash of the key. The
// underscore never appears in a slug, so the two forms cannot collide.
func fingerprintSegment(key string) string {
	if plainSlot.MatchString(key) {
		return strings.ReplaceAll(key, " ", "-")
	}
	sum := sha256.Sum256([]byte(key))
	return "x_" + hex.EncodeToString(sum[:6])
}

func hashInputs(parts ...any) string {
	b, err := json.Marshal(parts)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func teamNameIndex(teams []domain.Team) map[string]string {
	out := make(map[string]string, len(teams))
	for _, t := range teams {
		out[t.ID] = t.Name
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
