package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gather/internal/audit"
	"gather/internal/config"
	"gather/internal/detect"
	"gather/internal/domain"
	"gather/internal/notify"
	"gather/internal/repo"
	"gather/internal/telemetry"
)

// SystemDetector is recorded as the resolver of conflicts the detector
// closes on its own.
const SystemDetector = "system:detector"

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Audit    audit.Writer
	Config   *config.Config
	Rules    *detect.Registry
	Notifier notify.Notifier
	Logger   zerolog.Logger
	Metrics  *telemetry.Metrics
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Config:   cfg,
		Rules:    detect.DefaultRegistry(detect.Options{ExpectedDomains: cfg.ExpectedDomains}),
		Notifier: notify.Nop{},
		Logger:   zerolog.Nop(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) config() *config.Config {
	if e.Config == nil {
		return config.Default()
	}
	return e.Config
}

func (e Engine) appendAudit(ctx context.Context, tx *sql.Tx, entryType, eventID, entityKind, entityID, actorID string, payload audit.Payload) error {
	w := e.Audit
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, entryType, eventID, entityKind, entityID, actorID, payload)
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return tx, nil
}

// startOp opens a span and starts the latency clock for op.
func (e Engine) startOp(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := telemetry.Tracer().Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
	return ctx, span, time.Now()
}

func (e Engine) endOp(span trace.Span, op string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	e.Metrics.ObserveSince(op, start)
}

// notifyAll sends one message per person. It runs after commit; failures are
// logged and counted, never returned.
func (e Engine) notifyAll(ctx context.Context, personIDs []string, eventType string, metadata map[string]any) {
	if e.Notifier == nil {
		return
	}
	for _, id := range personIDs {
		if err := e.Notifier.Notify(ctx, id, eventType, metadata); err != nil {
			e.Metrics.Notification("failed")
			e.Logger.Warn().Err(err).Str("person_id", id).Str("type", eventType).Msg("notification failed")
			continue
		}
		e.Metrics.Notification("sent")
	}
}

// loadPlan reads the event with its teams and items. tx may be nil.
func (e Engine) loadPlan(ctx context.Context, tx *sql.Tx, op, eventID string) (detect.PlanState, error) {
	ev, err := e.Repo.GetEvent(ctx, tx, eventID)
	if err != nil {
		return detect.PlanState{}, lookupErr(op, "event", eventID, err)
	}
	teams, err := e.Repo.ListTeams(ctx, tx, eventID)
	if err != nil {
		return detect.PlanState{}, err
	}
	items, err := e.Repo.ListItems(ctx, tx, eventID)
	if err != nil {
		return detect.PlanState{}, err
	}
	return detect.PlanState{Event: ev, Teams: teams, Items: items}, nil
}

// hostIDs returns the host and co-host of an event.
func hostIDs(ev domain.Event) []string {
	ids := []string{ev.HostID}
	if ev.CoHostID != nil && *ev.CoHostID != "" && *ev.CoHostID != ev.HostID {
		ids = append(ids, *ev.CoHostID)
	}
	return ids
}

// AuditLog returns the newest audit entries first, optionally narrowed to an
// event and an entry type.
func (e Engine) AuditLog(ctx context.Context, eventID, entryType string, limit int) ([]domain.AuditEntry, error) {
	return e.Repo.LatestAudit(ctx, limit, eventID, entryType)
}
