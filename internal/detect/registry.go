// Package detect inspects event plan state and emits conflict candidates.
// Rules are independent; each sees the same read-only PlanState.
package detect

import (
	"fmt"
	"sort"
	"sync"

	"gather/internal/domain"
)

// PlanState is the input every rule reads.
type PlanState struct {
	Event domain.Event
	Teams []domain.Team
	Items []domain.Item
}

// Rule is a single deterministic check. Check must not mutate state and must
// return candidates with stable fingerprints for unchanged input.
type Rule interface {
	ID() string
	Check(state PlanState) []domain.ConflictCandidate
}

// Registry holds rules in registration order.
type Registry struct {
	mu    sync.RWMutex
	rules []Rule
	byID  map[string]Rule
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Rule)}
}

// Register adds a rule. Returns an error if a rule with the same ID is
// already registered.
func (r *Registry) Register(rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule == nil || rule.ID() == "" {
		return fmt.Errorf("rule id required")
	}
	if _, exists := r.byID[rule.ID()]; exists {
		return fmt.Errorf("rule %q already registered", rule.ID())
	}
	r.rules = append(r.rules, rule)
	r.byID[rule.ID()] = rule
	return nil
}

func (r *Registry) MustRegister(rules ...Rule) *Registry {
	for _, rule := range rules {
		if err := r.Register(rule); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Get(id string) Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Result is one detection pass.
type Result struct {
	Candidates []domain.ConflictCandidate
	// PerRule counts candidates by rule id.
	PerRule map[string]int
}

// Detect runs every rule against state. The output is sorted by fingerprint
// and holds at most one candidate per fingerprint (first rule wins), so the
// result does not depend on registration order.
func (r *Registry) Detect(state PlanState) Result {
	res := Result{PerRule: map[string]int{}}
	seen := map[string]bool{}
	for _, rule := range r.Rules() {
		for _, c := range rule.Check(state) {
			if c.Fingerprint == "" || seen[c.Fingerprint] {
				continue
			}
			seen[c.Fingerprint] = true
			if c.Rule == "" {
				c.Rule = rule.ID()
			}
			res.Candidates = append(res.Candidates, c)
			res.PerRule[rule.ID()]++
		}
	}
	sort.Slice(res.Candidates, func(i, j int) bool {
		return res.Candidates[i].Fingerprint < res.Candidates[j].Fingerprint
	})
	return res
}

// Options configures the default rule set.
type Options struct {
	// ExpectedDomains maps an occasion type to the team domains it should cover.
	ExpectedDomains func(occasion string) []string
}

// DefaultRegistry returns the built-in rules.
func DefaultRegistry(opts Options) *Registry {
	return NewRegistry().MustRegister(
		PlaceholderRule{},
		TimingRule{},
		DietaryRule{},
		CoverageRule{Expected: opts.ExpectedDomains},
		EmptyTeamRule{},
	)
}
