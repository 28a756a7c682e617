package engine

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel/attribute"

	"gather/internal/detect"
	"gather/internal/domain"
	"gather/internal/gate"
)

// CheckGate reports whether the event may leave DRAFT. Blocks are data, not
// errors; only a missing event or a store failure returns an error.
func (e Engine) CheckGate(ctx context.Context, eventID string) (res domain.GateResult, err error) {
	ctx, span, start := e.startOp(ctx, "check_gate", attribute.String("event.id", eventID))
	defer func() { e.endOp(span, "check_gate", start, err) }()

	state, err := e.loadPlan(ctx, nil, "check gate", eventID)
	if err != nil {
		return res, err
	}
	res, err = e.evaluateGate(ctx, nil, state)
	if err != nil {
		return res, err
	}
	span.SetAttributes(attribute.Bool("gate.passed", res.Passed), attribute.Int("gate.blocks", len(res.Blocks)))
	return res, nil
}

func (e Engine) evaluateGate(ctx context.Context, tx *sql.Tx, state detect.PlanState) (domain.GateResult, error) {
	conflicts, err := e.Repo.ListConflicts(ctx, tx, state.Event.ID, domain.ConflictOpen)
	if err != nil {
		return domain.GateResult{}, err
	}
	res := gate.Evaluate(gate.Input{Teams: state.Teams, Items: state.Items, Conflicts: conflicts})
	e.Metrics.GateChecked(res.Passed)
	return res, nil
}
