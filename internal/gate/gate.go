// Package gate decides whether an event plan may leave DRAFT.
package gate

import (
	"fmt"

	"gather/internal/domain"
)

// Input is the plan state the gate reads. Conflicts may be in any status;
// only OPEN CRITICAL ones block.
type Input struct {
	Teams     []domain.Team
	Items     []domain.Item
	Conflicts []domain.Conflict
}

// Evaluate collects every block rather than stopping at the first one.
func Evaluate(in Input) domain.GateResult {
	blocks := []domain.GateBlock{}
	if len(in.Teams) == 0 {
		blocks = append(blocks, domain.GateBlock{
			Code:    domain.BlockMinimumTeams,
			Message: "the plan needs at least one team",
		})
	}
	if len(in.Items) == 0 {
		blocks = append(blocks, domain.GateBlock{
			Code:    domain.BlockMinimumItems,
			Message: "the plan needs at least one item",
		})
	}
	for _, c := range in.Conflicts {
		if c.Status != domain.ConflictOpen || c.Severity != domain.SeverityCritical {
			continue
		}
		blocks = append(blocks, domain.GateBlock{
			Code:        domain.BlockCriticalConflict,
			Message:     fmt.Sprintf("critical conflict %q is still open", c.Title),
			ConflictID:  c.ID,
			Fingerprint: c.Fingerprint,
		})
	}
	for _, it := range in.Items {
		if !it.BlocksOnPlaceholder() {
			continue
		}
		blocks = append(blocks, domain.GateBlock{
			Code:    domain.BlockCriticalPlaceholder,
			Message: fmt.Sprintf("critical item %q has an unacknowledged placeholder quantity", it.Name),
			ItemID:  it.ID,
		})
	}
	return domain.GateResult{Passed: len(blocks) == 0, Blocks: blocks}
}

// Codes lists the block codes in a result, in order.
func Codes(res domain.GateResult) []string {
	out := make([]string, len(res.Blocks))
	for i, b := range res.Blocks {
		out[i] = b.Code
	}
	return out
}
