package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"gather/internal/audit"
	"gather/internal/domain"
	"gather/internal/notify"
	"gather/internal/repo"
)

// PersistResult lists fingerprints by what persisting a detection pass did
// to them.
type PersistResult struct {
	Created      []string `json:"created"`
	Updated      []string `json:"updated"`
	Unchanged    []string `json:"unchanged"`
	Reopened     []string `json:"reopened,omitempty"`
	AutoResolved []string `json:"auto_resolved,omitempty"`
}

// DetectionResult is the outcome of RunDetection.
type DetectionResult struct {
	EventID    string                     `json:"event_id"`
	Candidates []domain.ConflictCandidate `json:"candidates"`
	Persisted  PersistResult              `json:"persisted"`
	Open       []domain.Conflict          `json:"open"`
}

// Detect runs the rule registry against the current plan without writing.
func (e Engine) Detect(ctx context.Context, eventID string) ([]domain.ConflictCandidate, error) {
	state, err := e.loadPlan(ctx, nil, "detect", eventID)
	if err != nil {
		return nil, err
	}
	return e.Rules.Detect(state).Candidates, nil
}

// RunDetection detects and persists conflicts for an event in one transaction.
func (e Engine) RunDetection(ctx context.Context, eventID, actorID string) (res DetectionResult, err error) {
	const op = "run detection"
	ctx, span, start := e.startOp(ctx, "run_detection", attribute.String("event.id", eventID))
	defer func() { e.endOp(span, "run_detection", start, err) }()

	tx, err := e.begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	state, err := e.loadPlan(ctx, tx, op, eventID)
	if err != nil {
		return res, err
	}
	detected := e.Rules.Detect(state)
	persisted, err := e.persistTx(ctx, tx, eventID, detected.Candidates, actorID, e.config().Detection.ResolveStale)
	if err != nil {
		return res, err
	}
	if err := e.appendAudit(ctx, tx, "conflicts.detected", eventID, "event", eventID, actorID, audit.Payload{
		"candidates":    len(detected.Candidates),
		"created":       persisted.Created,
		"updated":       persisted.Updated,
		"reopened":      persisted.Reopened,
		"auto_resolved": persisted.AutoResolved,
	}); err != nil {
		return res, err
	}
	open, err := e.Repo.ListConflicts(ctx, tx, eventID, domain.ConflictOpen)
	if err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}

	for rule, n := range detected.PerRule {
		e.Metrics.DetectionCandidates(rule, n)
	}
	e.Metrics.ConflictPersisted("created", len(persisted.Created))
	e.Metrics.ConflictPersisted("updated", len(persisted.Updated))
	e.Metrics.ConflictPersisted("unchanged", len(persisted.Unchanged))
	e.Metrics.ConflictPersisted("reopened", len(persisted.Reopened))
	e.Metrics.ConflictPersisted("auto_resolved", len(persisted.AutoResolved))
	span.SetAttributes(attribute.Int("conflicts.candidates", len(detected.Candidates)), attribute.Int("conflicts.open", len(open)))
	if len(persisted.AutoResolved) > 0 {
		e.Logger.Info().Str("event_id", eventID).Strs("fingerprints", persisted.AutoResolved).Msg("stale conflicts auto-resolved")
	}
	return DetectionResult{EventID: eventID, Candidates: detected.Candidates, Persisted: persisted, Open: open}, nil
}

// PersistConflicts upserts candidates by fingerprint in its own transaction.
// Conflicts missing from candidates are left as they are.
func (e Engine) PersistConflicts(ctx context.Context, eventID string, candidates []domain.ConflictCandidate, actorID string) (PersistResult, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return PersistResult{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetEvent(ctx, tx, eventID); err != nil {
		return PersistResult{}, lookupErr("persist conflicts", "event", eventID, err)
	}
	res, err := e.persistTx(ctx, tx, eventID, candidates, actorID, false)
	if err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

// persistTx creates new conflicts OPEN, refreshes OPEN ones in place and
// leaves settled ones alone. A DISMISSED conflict reopens only when
// detection.reopen_dismissed_on_change is set and its inputs changed. With
// resolveStale, OPEN conflicts absent from candidates are resolved by the
// detector, and any conflict the detector resolved reopens as soon as it is
// detected again. Host decisions are never undone here.
func (e Engine) persistTx(ctx context.Context, tx *sql.Tx, eventID string, candidates []domain.ConflictCandidate, actorID string, resolveStale bool) (PersistResult, error) {
	cfg := e.config()
	res := PersistResult{Created: []string{}, Updated: []string{}, Unchanged: []string{}}
	now := e.ts()
	seen := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		if seen[cand.Fingerprint] {
			continue
		}
		seen[cand.Fingerprint] = true
		existing, err := e.Repo.GetConflictByFingerprint(ctx, tx, eventID, cand.Fingerprint)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			c := conflictFromCandidate(eventID, cand, now)
			if err := e.Repo.InsertConflict(ctx, tx, c); err != nil {
				return res, err
			}
			if err := e.appendAudit(ctx, tx, "conflict.created", eventID, "conflict", c.ID, actorID, audit.Payload{
				"fingerprint": c.Fingerprint,
				"severity":    c.Severity,
			}); err != nil {
				return res, err
			}
			res.Created = append(res.Created, cand.Fingerprint)
			continue
		case err != nil:
			return res, err
		}

		refreshed := refreshConflict(existing, cand, now)
		switch existing.Status {
		case domain.ConflictOpen:
			if sameDetection(existing, cand) {
				res.Unchanged = append(res.Unchanged, cand.Fingerprint)
				continue
			}
			if _, err := e.Repo.RefreshOpenConflict(ctx, tx, refreshed); err != nil {
				return res, err
			}
			res.Updated = append(res.Updated, cand.Fingerprint)
		case domain.ConflictDismissed:
			if !cfg.Detection.ReopenDismissedOnChange || existing.InputHash == cand.InputHash {
				res.Unchanged = append(res.Unchanged, cand.Fingerprint)
				continue
			}
			if _, err := e.Repo.ReopenDismissedConflict(ctx, tx, refreshed); err != nil {
				return res, err
			}
			if err := e.appendAudit(ctx, tx, "conflict.reopened", eventID, "conflict", existing.ID, actorID, audit.Payload{
				"fingerprint": existing.Fingerprint,
			}); err != nil {
				return res, err
			}
			res.Reopened = append(res.Reopened, cand.Fingerprint)
		case domain.ConflictResolved:
			if existing.ResolvedBy == nil || *existing.ResolvedBy != SystemDetector {
				res.Unchanged = append(res.Unchanged, cand.Fingerprint)
				continue
			}
			if _, err := e.Repo.ReopenResolvedConflict(ctx, tx, refreshed, SystemDetector); err != nil {
				return res, err
			}
			if err := e.appendAudit(ctx, tx, "conflict.reopened", eventID, "conflict", existing.ID, actorID, audit.Payload{
				"fingerprint": existing.Fingerprint,
				"resolved_by": SystemDetector,
			}); err != nil {
				return res, err
			}
			res.Reopened = append(res.Reopened, cand.Fingerprint)
		default:
			res.Unchanged = append(res.Unchanged, cand.Fingerprint)
		}
	}

	if !resolveStale {
		return res, nil
	}
	open, err := e.Repo.ListConflicts(ctx, tx, eventID, domain.ConflictOpen)
	if err != nil {
		return res, err
	}
	for _, c := range open {
		if seen[c.Fingerprint] {
			continue
		}
		if _, err := e.Repo.ResolveOpenConflict(ctx, tx, c.ID, SystemDetector, now); err != nil {
			return res, err
		}
		if err := e.appendAudit(ctx, tx, "conflict.auto_resolved", eventID, "conflict", c.ID, SystemDetector, audit.Payload{
			"fingerprint": c.Fingerprint,
		}); err != nil {
			return res, err
		}
		res.AutoResolved = append(res.AutoResolved, c.Fingerprint)
	}
	return res, nil
}

func conflictFromCandidate(eventID string, cand domain.ConflictCandidate, now string) domain.Conflict {
	return domain.Conflict{
		ID:              uuid.New().String(),
		EventID:         eventID,
		Fingerprint:     cand.Fingerprint,
		Type:            cand.Type,
		Severity:        cand.Severity,
		ClaimType:       cand.ClaimType,
		ResolutionClass: cand.ResolutionClass,
		Status:          domain.ConflictOpen,
		Title:           cand.Title,
		Description:     cand.Description,
		AffectedParties: cand.AffectedParties,
		AffectedItemIDs: cand.AffectedItemIDs,
		Suggestion:      cand.Suggestion,
		CanDelegate:     cand.CanDelegate,
		DelegateToRoles: cand.DelegateToRoles,
		InputHash:       cand.InputHash,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func refreshConflict(c domain.Conflict, cand domain.ConflictCandidate, now string) domain.Conflict {
	c.Title = cand.Title
	c.Description = cand.Description
	c.AffectedParties = cand.AffectedParties
	c.AffectedItemIDs = cand.AffectedItemIDs
	c.Suggestion = cand.Suggestion
	c.InputHash = cand.InputHash
	c.UpdatedAt = now
	return c
}

func sameDetection(c domain.Conflict, cand domain.ConflictCandidate) bool {
	return c.InputHash == cand.InputHash && c.Title == cand.Title && c.Description == cand.Description
}

// ConflictFilter narrows ListConflicts.
type ConflictFilter struct {
	EventID string
	Status  string
}

func (e Engine) ListConflicts(ctx context.Context, f ConflictFilter) ([]domain.Conflict, error) {
	if _, err := e.Repo.GetEvent(ctx, nil, f.EventID); err != nil {
		return nil, lookupErr("list conflicts", "event", f.EventID, err)
	}
	return e.Repo.ListConflicts(ctx, nil, f.EventID, strings.ToUpper(f.Status))
}

func (e Engine) GetConflict(ctx context.Context, id string) (domain.Conflict, error) {
	c, err := e.Repo.GetConflict(ctx, nil, id)
	if err != nil {
		return c, lookupErr("get conflict", "conflict", id, err)
	}
	return c, nil
}

// ResolveConflict marks an OPEN conflict RESOLVED.
func (e Engine) ResolveConflict(ctx context.Context, conflictID, actorID string) (domain.Conflict, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.Conflict{}, invalidField("resolve conflict", "actor_id", ReasonRequired, "actor is required to resolve")
	}
	return e.settle(ctx, "resolve", conflictID, actorID, func(tx *sql.Tx, c domain.Conflict, now string) (int64, error) {
		return e.Repo.ResolveOpenConflict(ctx, tx, c.ID, actorID, now)
	}, nil)
}

// DismissConflict marks an OPEN conflict DISMISSED. actorID may be empty.
func (e Engine) DismissConflict(ctx context.Context, conflictID, actorID string) (domain.Conflict, error) {
	return e.settle(ctx, "dismiss", conflictID, actorID, func(tx *sql.Tx, c domain.Conflict, now string) (int64, error) {
		return e.Repo.DismissOpenConflict(ctx, tx, c.ID, actorID, now)
	}, nil)
}

// AcknowledgeOptions carries an acknowledgement of residual risk.
type AcknowledgeOptions struct {
	ConflictID         string `validate:"required"`
	ActorID            string `validate:"required"`
	ImpactStatement    string
	ImpactUnderstood   bool
	MitigationPlanType string
	// Visibility defaults to co-hosts only when nil.
	Visibility *Visibility
}

type Visibility struct {
	CoHosts      bool `json:"cohosts"`
	Coordinators bool `json:"coordinators"`
	Participants bool `json:"participants"`
}

// AcknowledgeConflict validates the acknowledgement, stores it and marks the
// conflict ACKNOWLEDGED. Co-hosts are notified after commit when visible.
func (e Engine) AcknowledgeConflict(ctx context.Context, opts AcknowledgeOptions) (domain.Acknowledgement, error) {
	const op = "acknowledge conflict"
	if err := checkOptions(op, opts); err != nil {
		return domain.Acknowledgement{}, err
	}
	vis := Visibility{CoHosts: true}
	if opts.Visibility != nil {
		vis = *opts.Visibility
	}
	var ack domain.Acknowledgement
	c, err := e.settle(ctx, "acknowledge", opts.ConflictID, opts.ActorID, func(tx *sql.Tx, c domain.Conflict, now string) (int64, error) {
		if err := e.validateAcknowledgement(op, c, opts); err != nil {
			return 0, err
		}
		ack = domain.Acknowledgement{
			ID:                    uuid.New().String(),
			ConflictID:            c.ID,
			EventID:               c.EventID,
			ImpactStatement:       strings.TrimSpace(opts.ImpactStatement),
			ImpactUnderstood:      opts.ImpactUnderstood,
			MitigationPlanType:    strings.ToUpper(strings.TrimSpace(opts.MitigationPlanType)),
			VisibleToCoHosts:      vis.CoHosts,
			VisibleToCoordinators: vis.Coordinators,
			VisibleToParticipants: vis.Participants,
			AcknowledgedBy:        opts.ActorID,
			CreatedAt:             now,
		}
		n, err := e.Repo.AcknowledgeOpenConflict(ctx, tx, c.ID, now)
		if err != nil || n == 0 {
			return n, err
		}
		return n, e.Repo.InsertAcknowledgement(ctx, tx, ack)
	}, func(c domain.Conflict) audit.Payload {
		return audit.Payload{
			"fingerprint":     c.Fingerprint,
			"mitigation_plan": ack.MitigationPlanType,
			"acknowledgement": ack.ID,
		}
	})
	if err != nil {
		return domain.Acknowledgement{}, err
	}
	if vis.CoHosts {
		if ev, err := e.Repo.GetEvent(ctx, nil, c.EventID); err == nil && ev.CoHostID != nil && *ev.CoHostID != opts.ActorID {
			e.notifyAll(ctx, []string{*ev.CoHostID}, notify.ConflictAcknowledged, map[string]any{
				"event_id":        c.EventID,
				"conflict_id":     c.ID,
				"title":           c.Title,
				"mitigation_plan": ack.MitigationPlanType,
			})
		}
	}
	return ack, nil
}

func (e Engine) validateAcknowledgement(op string, c domain.Conflict, opts AcknowledgeOptions) error {
	statement := strings.TrimSpace(opts.ImpactStatement)
	if minLen := e.config().Acknowledgement.MinImpactLength; len([]rune(statement)) < minLen {
		return invalidField(op, "impact_statement", ReasonImpactTooShort, "impact statement must be at least %d characters", minLen)
	}
	if len(c.AffectedParties) > 0 && !mentionsParty(statement, c.AffectedParties) {
		return invalidField(op, "impact_statement", ReasonImpactNoParty, "impact statement must mention one of: %s", strings.Join(c.AffectedParties, ", "))
	}
	if !opts.ImpactUnderstood {
		return invalidField(op, "impact_understood", ReasonImpactNotUnderstood, "the impact must be confirmed as understood")
	}
	plan := strings.ToUpper(strings.TrimSpace(opts.MitigationPlanType))
	if plan == "" {
		return invalidField(op, "mitigation_plan_type", ReasonMitigationMissing, "a mitigation plan is required")
	}
	if !domain.IsMitigationPlanType(plan) {
		return invalidField(op, "mitigation_plan_type", ReasonMitigationInvalid, "mitigation plan must be one of %s", strings.Join(domain.MitigationPlanTypes, ", "))
	}
	return nil
}

func mentionsParty(statement string, parties []string) bool {
	lower := strings.ToLower(statement)
	for _, p := range parties {
		if p = strings.TrimSpace(p); p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// settle runs one OPEN -> terminal status change. apply must update the row
// conditionally on OPEN and return the rows affected; 0 means another writer
// got there first.
func (e Engine) settle(ctx context.Context, action, conflictID, actorID string,
	apply func(tx *sql.Tx, c domain.Conflict, now string) (int64, error),
	payload func(c domain.Conflict) audit.Payload,
) (c domain.Conflict, err error) {
	op := action + " conflict"
	ctx, span, start := e.startOp(ctx, action+"_conflict", attribute.String("conflict.id", conflictID))
	defer func() { e.endOp(span, action+"_conflict", start, err) }()

	tx, err := e.begin(ctx)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()

	c, err = e.Repo.GetConflict(ctx, tx, conflictID)
	if err != nil {
		return c, lookupErr(op, "conflict", conflictID, err)
	}
	if c.Status != domain.ConflictOpen {
		return c, invalidState(op, "conflict %s is %s", c.ID, c.Status)
	}
	now := e.ts()
	n, err := apply(tx, c, now)
	if err != nil {
		return c, err
	}
	if n == 0 {
		current, rerr := e.Repo.GetConflict(ctx, tx, conflictID)
		if rerr == nil && current.Status != domain.ConflictOpen {
			return current, invalidState(op, "conflict %s is %s", c.ID, current.Status)
		}
		return c, concurrent(op, "conflict %s changed while being settled", c.ID)
	}
	p := audit.Payload{"fingerprint": c.Fingerprint}
	if payload != nil {
		p = payload(c)
	}
	p["from"] = c.Status
	if err := e.appendAudit(ctx, tx, "conflict."+pastTense(action), c.EventID, "conflict", c.ID, actorID, p); err != nil {
		return c, err
	}
	updated, err := e.Repo.GetConflict(ctx, tx, conflictID)
	if err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	e.Metrics.Resolution(action)
	return updated, nil
}

func pastTense(action string) string {
	switch action {
	case "resolve":
		return "resolved"
	case "dismiss":
		return "dismissed"
	case "acknowledge":
		return "acknowledged"
	}
	return action
}
