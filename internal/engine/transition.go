package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"gather/internal/audit"
	"gather/internal/domain"
	"gather/internal/notify"
)

// TransitionResult is returned by a successful DRAFT -> CONFIRMING move.
type TransitionResult struct {
	SnapshotID string            `json:"snapshot_id"`
	Event      domain.Event      `json:"event"`
	Tokens     TokenResult       `json:"tokens"`
	Gate       domain.GateResult `json:"gate"`
}

// Transition moves a DRAFT event to CONFIRMING. The gate is re-evaluated,
// the plan snapshotted, the event locked and tokens issued inside a single
// IMMEDIATE transaction; members are notified after it commits.
func (e Engine) Transition(ctx context.Context, eventID, actorID string) (res TransitionResult, err error) {
	const op = "transition"
	ctx, span, start := e.startOp(ctx, "transition", attribute.String("event.id", eventID))
	defer func() {
		e.endOp(span, "transition", start, err)
		e.Metrics.Transition(domain.EventConfirming, transitionOutcome(err))
	}()

	tx, err := e.begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	state, err := e.loadPlan(ctx, tx, op, eventID)
	if err != nil {
		return res, err
	}
	if err := ensureEventTransition(state.Event.Status, domain.EventConfirming); err != nil {
		return res, invalidState(op, "%v", err)
	}
	gateRes, err := e.evaluateGate(ctx, tx, state)
	if err != nil {
		return res, err
	}
	if !gateRes.Passed {
		return res, gateBlocked(op, gateRes.Blocks)
	}

	acks, err := e.Repo.ListAcknowledgements(ctx, tx, eventID)
	if err != nil {
		return res, err
	}
	now := e.ts()
	snap := domain.PlanSnapshot{
		ID:               uuid.New().String(),
		EventID:          eventID,
		Phase:            domain.EventConfirming,
		Teams:            state.Teams,
		Items:            state.Items,
		CriticalFlags:    criticalFlags(state.Items),
		Acknowledgements: acks,
		CreatedBy:        actorOr(actorID, state.Event.HostID),
		CreatedAt:        now,
	}
	if err := e.Repo.InsertPlanSnapshot(ctx, tx, snap); err != nil {
		return res, fmt.Errorf("%s: insert snapshot: %w", op, err)
	}
	n, err := e.Repo.ConfirmEvent(ctx, tx, eventID, snap.ID, now)
	if err != nil {
		return res, err
	}
	if n == 0 {
		return res, concurrent(op, "event %s left DRAFT during the transition", eventID)
	}
	tokens, err := e.ensureTokensTx(ctx, tx, eventID)
	if err != nil {
		return res, err
	}
	if err := e.appendAudit(ctx, tx, "event.confirming", eventID, "event", eventID, actorID, audit.Payload{
		"from":           state.Event.Status,
		"to":             domain.EventConfirming,
		"snapshot_id":    snap.ID,
		"tokens_created": tokens.Created,
		"tokens_deleted": tokens.Deleted,
	}); err != nil {
		return res, err
	}
	ev, err := e.Repo.GetEvent(ctx, tx, eventID)
	if err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	e.recordTokenChanges(tokens)

	e.Logger.Info().Str("event_id", eventID).Str("snapshot_id", snap.ID).Int("tokens_created", tokens.Created).Msg("event confirming")
	e.notifyAll(ctx, tokenHolders(tokens.Tokens), notify.EventConfirming, map[string]any{
		"event_id":    eventID,
		"event_name":  ev.Name,
		"snapshot_id": snap.ID,
	})
	return TransitionResult{SnapshotID: snap.ID, Event: ev, Tokens: tokens, Gate: gateRes}, nil
}

// Freeze moves a CONFIRMING event to FROZEN.
func (e Engine) Freeze(ctx context.Context, eventID, actorID string) (domain.Event, error) {
	return e.advance(ctx, "freeze", eventID, actorID, domain.EventFrozen, notify.EventFrozen)
}

// Complete moves a FROZEN event to COMPLETE.
func (e Engine) Complete(ctx context.Context, eventID, actorID string) (domain.Event, error) {
	return e.advance(ctx, "complete", eventID, actorID, domain.EventComplete, notify.EventCompleted)
}

func (e Engine) advance(ctx context.Context, op, eventID, actorID, to, notification string) (ev domain.Event, err error) {
	ctx, span, start := e.startOp(ctx, op, attribute.String("event.id", eventID))
	defer func() {
		e.endOp(span, op, start, err)
		e.Metrics.Transition(to, transitionOutcome(err))
	}()

	tx, err := e.begin(ctx)
	if err != nil {
		return ev, err
	}
	defer tx.Rollback()
	ev, err = e.Repo.GetEvent(ctx, tx, eventID)
	if err != nil {
		return ev, lookupErr(op, "event", eventID, err)
	}
	from := ev.Status
	if err := ensureEventTransition(from, to); err != nil {
		return ev, invalidState(op, "%v", err)
	}
	n, err := e.Repo.SetEventStatus(ctx, tx, eventID, from, to, e.ts())
	if err != nil {
		return ev, err
	}
	if n == 0 {
		return ev, concurrent(op, "event %s changed status during %s", eventID, op)
	}
	if err := e.appendAudit(ctx, tx, "event."+lowerStatus(to), eventID, "event", eventID, actorID, audit.Payload{
		"from": from,
		"to":   to,
	}); err != nil {
		return ev, err
	}
	ev, err = e.Repo.GetEvent(ctx, tx, eventID)
	if err != nil {
		return ev, err
	}
	if err := tx.Commit(); err != nil {
		return ev, err
	}
	e.notifyAll(ctx, hostIDs(ev), notification, map[string]any{"event_id": eventID, "event_name": ev.Name})
	return ev, nil
}

func ensureEventTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.EventDraft:
		if newStatus == domain.EventConfirming {
			return nil
		}
	case domain.EventConfirming:
		if newStatus == domain.EventFrozen {
			return nil
		}
	case domain.EventFrozen:
		if newStatus == domain.EventComplete {
			return nil
		}
	}
	return fmt.Errorf("invalid event status transition %s -> %s", oldStatus, newStatus)
}

// GetSnapshot returns a stored plan snapshot.
func (e Engine) GetSnapshot(ctx context.Context, id string) (domain.PlanSnapshot, error) {
	s, err := e.Repo.GetPlanSnapshot(ctx, id)
	if err != nil {
		return s, lookupErr("get snapshot", "snapshot", id, err)
	}
	return s, nil
}

func criticalFlags(items []domain.Item) []domain.CriticalFlag {
	var out []domain.CriticalFlag
	for _, it := range items {
		if !it.Critical {
			continue
		}
		out = append(out, domain.CriticalFlag{
			ItemID:                  it.ID,
			Critical:                it.Critical,
			QuantityState:           it.QuantityState,
			PlaceholderAcknowledged: it.PlaceholderAcknowledged,
		})
	}
	return out
}

func transitionOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := AsError(err); ok {
		return string(e.Kind)
	}
	return "error"
}

func lowerStatus(s string) string {
	switch s {
	case domain.EventFrozen:
		return "frozen"
	case domain.EventComplete:
		return "completed"
	}
	return s
}
