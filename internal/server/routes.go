package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"gather/internal/domain"
	"gather/internal/engine"
	"gather/internal/engine/auth"
)

type bodyOut[T any] struct {
	Body T `json:"body"`
}

func out[T any](v T) *bodyOut[T] { return &bodyOut[T]{Body: v} }

var (
	readErrors  = []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError}
	writeErrors = []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
		http.StatusInternalServerError,
	}
)

// notInEvent hides entities of other events behind a 404 so a credential for
// one event learns nothing about another.
func notInEvent(what, id string) huma.StatusError {
	return newAPIError(http.StatusNotFound, "not_found", what+" "+id+" not found", nil)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(ctx context.Context, input *struct{}) (*bodyOut[HealthResponse], error) {
		return out(HealthResponse{Status: "ok"}), nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Describe the calling credential",
		Tags:        []string{"system"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct{}) (*bodyOut[auth.Grant], error) {
		g, herr := grantFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		return out(g), nil
	})
}

func registerPeople(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-person",
		Method:        http.MethodPost,
		Path:          "/people",
		Summary:       "Add a person",
		Tags:          []string{"people"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body PersonCreateRequest `json:"body"`
	}) (*bodyOut[domain.Person], error) {
		g, herr := require(ctx, "", auth.PermPeopleWrite)
		if herr != nil {
			return nil, herr
		}
		p, err := e.AddPerson(ctx, engine.PersonCreateOptions{
			Name:    input.Body.Name,
			Email:   input.Body.Email,
			Phone:   input.Body.Phone,
			ActorID: g.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return out(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-person",
		Method:      http.MethodGet,
		Path:        "/people/{person_id}",
		Summary:     "Get a person",
		Tags:        []string{"people"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		PersonID string `path:"person_id"`
	}) (*bodyOut[domain.Person], error) {
		if _, herr := require(ctx, "", auth.PermPlanRead); herr != nil {
			return nil, herr
		}
		p, err := e.GetPerson(ctx, input.PersonID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(p), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Create an event in DRAFT",
		Tags:          []string{"events"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body EventCreateRequest `json:"body"`
	}) (*bodyOut[domain.Event], error) {
		g, herr := require(ctx, "", auth.PermEventCreate)
		if herr != nil {
			return nil, herr
		}
		opts := engine.EventCreateOptions{
			Name:           input.Body.Name,
			OccasionType:   input.Body.OccasionType,
			HostID:         input.Body.HostID,
			CoHostID:       input.Body.CoHostID,
			GuestCount:     input.Body.GuestCount,
			VenueOvenCount: input.Body.VenueOvenCount,
			ActorID:        g.ActorID,
		}
		if d := input.Body.Dietary.counts(); d != nil {
			opts.Dietary = *d
		}
		ev, err := e.CreateEvent(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return out(ev), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events visible to the caller",
		Tags:        []string{"events"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct{}) (*bodyOut[EventListResponse], error) {
		g, herr := require(ctx, "", auth.PermPlanRead)
		if herr != nil {
			return nil, herr
		}
		events, err := e.ListEvents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		visible := make([]domain.Event, 0, len(events))
		for _, ev := range events {
			if g.EventID == "" || g.EventID == ev.ID {
				visible = append(visible, ev)
			}
		}
		return out(EventListResponse{Events: visible}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}",
		Summary:     "Get an event with its teams, items and members",
		Tags:        []string{"events"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*bodyOut[engine.Plan], error) {
		if _, herr := require(ctx, input.EventID, auth.PermPlanRead); herr != nil {
			return nil, herr
		}
		plan, err := e.GetPlan(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(plan), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-event",
		Method:      http.MethodPatch,
		Path:        "/events/{event_id}",
		Summary:     "Update event facts",
		Tags:        []string{"events"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID string             `path:"event_id"`
		Body    EventUpdateRequest `json:"body"`
	}) (*bodyOut[domain.Event], error) {
		g, herr := require(ctx, input.EventID, auth.PermPlanWrite)
		if herr != nil {
			return nil, herr
		}
		b := input.Body
		ev, err := e.UpdateEvent(ctx, engine.EventUpdateOptions{
			ID:             input.EventID,
			Name:           b.Name,
			OccasionType:   b.OccasionType,
			CoHostID:       b.CoHostID,
			GuestCount:     b.GuestCount,
			Dietary:        b.Dietary.counts(),
			VenueOvenCount: b.VenueOvenCount,
			ClearOvenCount: b.ClearOvenCount,
			ActorID:        g.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return out(ev), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-member",
		Method:        http.MethodPost,
		Path:          "/events/{event_id}/members",
		Summary:       "Add a coordinator or participant",
		Tags:          []string{"events"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID string        `path:"event_id"`
		Body    MemberRequest `json:"body"`
	}) (*bodyOut[domain.Membership], error) {
		g, herr := require(ctx, input.EventID, auth.PermPeopleWrite)
		if herr != nil {
			return nil, herr
		}
		m, err := e.AddMembership(ctx, engine.MembershipOptions{
			EventID:  input.EventID,
			PersonID: input.Body.PersonID,
			Role:     input.Body.Role,
			TeamID:   input.Body.TeamID,
			ActorID:  g.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return out(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-member",
		Method:        http.MethodDelete,
		Path:          "/events/{event_id}/members/{person_id}",
		Summary:       "Remove a membership",
		Tags:          []string{"events"},
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID  string `path:"event_id"`
		PersonID string `path:"person_id"`
		Role     string `query:"role" required:"true"`
		TeamID   string `query:"team_id"`
	}) (*struct{}, error) {
		g, herr := require(ctx, input.EventID, auth.PermPeopleWrite)
		if herr != nil {
			return nil, herr
		}
		err := e.RemoveMembership(ctx, engine.MembershipOptions{
			EventID:  input.EventID,
			PersonID: input.PersonID,
			Role:     input.Role,
			TeamID:   input.TeamID,
			ActorID:  g.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerPlan(api huma.API, e engine.Engine) {
	teamOf := func(ctx context.Context, eventID, teamID string) huma.StatusError {
		t, err := e.Repo.GetTeam(ctx, nil, teamID)
		if err != nil {
			return handleError(err)
		}
		if t.EventID != eventID {
			return notInEvent("team", teamID)
		}
		return nil
	}
	itemOf := func(ctx context.Context, eventID, itemID string) huma.StatusError {
		it, err := e.Repo.GetItem(ctx, nil, itemID)
		if err != nil {
			return handleError(err)
		}
		if it.EventID != eventID {
			return notInEvent("item", itemID)
		}
		return nil
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/events/{event_id}/teams",
		Summary:       "Add a team",
		Tags:          []string{"plan"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID string            `path:"event_id"`
		Body    TeamCreateRequest `json:"body"`
	}) (*bodyOut[domain.Team], error) {
		g, herr := require(ctx, input.EventID, auth.PermPlanWrite)
		if herr != nil {
			return nil, herr
		}
		t, err := e.AddTeam(ctx, engine.TeamCreateOptions{
			EventID:       input.EventID,
			Name:          input.Body.Name,
			Domain:        input.Body.Domain,
			CoordinatorID: input.Body.CoordinatorID,
			IsProtected:   input.Body.IsProtected,
			ActorID:       g.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return out(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-team-coordinator",
		Method:      http.MethodPut,
		Path:        "/events/{event_id}/teams/{team_id}/coordinator",
		Summary:     "Assign the team coordinator",
		Tags:        []string{"plan"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID string             `path:"event_id"`
		TeamID  string             `path:"team_id"`
		Body    CoordinatorRequest `json:"body"`
	}) (*bodyOut[domain.Team], error) {
		g, herr := require(ctx, input.EventID, auth.PermPlanWrite)
		if herr != nil {
			return nil, herr
		}
		if herr := teamOf(ctx, input.EventID, input.TeamID); herr != nil {
			return nil, herr
		}
		t, err := e.SetTeamCoordinator(ctx, input.TeamID, input.Body.CoordinatorID, g.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-team",
		Method:        http.MethodDelete,
		Path:          "/events/{event_id}/teams/{team_id}",
		Summary:       "Delete a team",
		Tags:          []string{"plan"},
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
		TeamID  string `path:"team_id"`
	}) (*struct{}, error) {
		g, herr := require(ctx, input.EventID, auth.PermPlanWrite)
		if herr != nil {
			return nil, herr
		}
		if herr := teamOf(ctx, input.EventID, input.TeamID); herr != nil {
			return nil, herr
		}
		if err := e.DeleteTeam(ctx, input.TeamID, g.ActorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/events/{event_id}/items",
		Summary:       "Add an item to a team",
		Tags:          []string{"plan"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID string            `path:"event_id"`
		Body    ItemCreateRequest `json:"body"`
	}) (*bodyOut[domain.Item], error) {
		g, herr := require(ctx, input.EventID, auth.PermPlanWrite)
		if herr != nil {
			return nil, herr
		}
		b := input.Body
		if herr := teamOf(ctx, input.EventID, b.TeamID); herr != nil {
			return nil, herr
		}
		it, err := e.AddItem(ctx, engine.ItemCreateOptions{
			TeamID:         b.TeamID,
			Name:           b.Name,
			QuantityAmount: b.QuantityAmount,
			QuantityUnit:   b.QuantityUnit,
			QuantityState:  b.QuantityState,
			Critical:       b.Critical,
			DietaryTags:    b.DietaryTags,
			Equipment:      b.Equipment,
			TimeSlot:       b.TimeSlot,
			AssigneeID:     b.AssigneeID,
			ActorID:        g.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return out(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-item",
		Method:      http.MethodPatch,
		Path:        "/events/{event_id}/items/{item_id}",
		Summary:     "Update an item",
		Tags:        []string{"plan"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID string            `path:"event_id"`
		ItemID  string            `path:"item_id"`
		Body    ItemUpdateRequest `json:"body"`
	}) (*bodyOut[domain.Item], error) {
		g, herr := require(ctx, input.EventID, auth.PermPlanWrite)
		if herr != nil {
			return nil, herr
		}
		if herr := itemOf(ctx, input.EventID, input.ItemID); herr != nil {
			return nil, herr
		}
		b := input.Body
		opts := engine.ItemUpdateOptions{
			ID:                      input.ItemID,
			TeamID:                  b.TeamID,
			Name:                    b.Name,
			QuantityAmount:          b.QuantityAmount,
			ClearQuantityAmount:     b.ClearQuantityAmount,
			QuantityUnit:            b.QuantityUnit,
			QuantityState:           b.QuantityState,
			PlaceholderAcknowledged: b.PlaceholderAcknowledged,
			Critical:                b.Critical,
			Equipment:               b.Equipment,
			TimeSlot:                b.TimeSlot,
			AssigneeID:              b.AssigneeID,
			ActorID:                 g.ActorID,
		}
		switch {
		case b.ClearDietaryTags:
			empty := []string{}
			opts.DietaryTags = &empty
		case b.DietaryTags != nil:
			opts.DietaryTags = &b.DietaryTags
		}
		if b.TeamID != nil {
			if herr := teamOf(ctx, input.EventID, *b.TeamID); herr != nil {
				return nil, herr
			}
		}
		it, err := e.UpdateItem(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return out(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-item",
		Method:        http.MethodDelete,
		Path:          "/events/{event_id}/items/{item_id}",
		Summary:       "Delete an item",
		Tags:          []string{"plan"},
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
		ItemID  string `path:"item_id"`
	}) (*struct{}, error) {
		g, herr := require(ctx, input.EventID, auth.PermPlanWrite)
		if herr != nil {
			return nil, herr
		}
		if herr := itemOf(ctx, input.EventID, input.ItemID); herr != nil {
			return nil, herr
		}
		if err := e.DeleteItem(ctx, input.ItemID, g.ActorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerConflicts(api huma.API, e engine.Engine) {
	conflictOf := func(ctx context.Context, eventID, conflictID string) (domain.Conflict, huma.StatusError) {
		c, err := e.GetConflict(ctx, conflictID)
		if err != nil {
			return c, handleError(err)
		}
		if c.EventID != eventID {
			return c, notInEvent("conflict", conflictID)
		}
		return c, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "detect-conflicts",
		Method:      http.MethodPost,
		Path:        "/events/{event_id}/detect",
		Summary:     "Run conflict detection and persist the results",
		Tags:        []string{"conflicts"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*bodyOut[engine.DetectionResult], error) {
		g, herr := require(ctx, input.EventID, auth.PermConflictWrite)
		if herr != nil {
			return nil, herr
		}
		res, err := e.RunDetection(ctx, input.EventID, g.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-conflicts",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/conflicts",
		Summary:     "List conflicts",
		Tags:        []string{"conflicts"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
		Status  string `query:"status" doc:"OPEN, RESOLVED, DISMISSED or ACKNOWLEDGED"`
	}) (*bodyOut[ConflictListResponse], error) {
		if _, herr := require(ctx, input.EventID, auth.PermConflictRead); herr != nil {
			return nil, herr
		}
		list, err := e.ListConflicts(ctx, engine.ConflictFilter{EventID: input.EventID, Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		if list == nil {
			list = []domain.Conflict{}
		}
		return out(ConflictListResponse{Conflicts: list}), nil
	})

	settle := func(id, summary string, fn func(ctx context.Context, conflictID, actorID string) (domain.Conflict, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id + "-conflict",
			Method:      http.MethodPost,
			Path:        "/events/{event_id}/conflicts/{conflict_id}/" + id,
			Summary:     summary,
			Tags:        []string{"conflicts"},
			Errors:      writeErrors,
		}, func(ctx context.Context, input *struct {
			EventID    string `path:"event_id"`
			ConflictID string `path:"conflict_id"`
		}) (*bodyOut[domain.Conflict], error) {
			g, herr := require(ctx, input.EventID, auth.PermConflictWrite)
			if herr != nil {
				return nil, herr
			}
			if _, herr := conflictOf(ctx, input.EventID, input.ConflictID); herr != nil {
				return nil, herr
			}
			c, err := fn(ctx, input.ConflictID, g.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			return out(c), nil
		})
	}
	settle("resolve", "Resolve an open conflict", e.ResolveConflict)
	settle("dismiss", "Dismiss an open conflict", e.DismissConflict)

	huma.Register(api, huma.Operation{
		OperationID:   "acknowledge-conflict",
		Method:        http.MethodPost,
		Path:          "/events/{event_id}/conflicts/{conflict_id}/acknowledge",
		Summary:       "Acknowledge a critical conflict with an impact statement",
		Tags:          []string{"conflicts"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID    string             `path:"event_id"`
		ConflictID string             `path:"conflict_id"`
		Body       AcknowledgeRequest `json:"body"`
	}) (*bodyOut[AcknowledgeResponse], error) {
		g, herr := require(ctx, input.EventID, auth.PermConflictWrite)
		if herr != nil {
			return nil, herr
		}
		if _, herr := conflictOf(ctx, input.EventID, input.ConflictID); herr != nil {
			return nil, herr
		}
		ack, err := e.AcknowledgeConflict(ctx, input.Body.options(input.ConflictID, g.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.GetConflict(ctx, input.ConflictID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(AcknowledgeResponse{Acknowledgement: ack, Conflict: c}), nil
	})
}

func registerLifecycle(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "check-gate",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/gate",
		Summary:     "Evaluate the DRAFT to CONFIRMING gate",
		Tags:        []string{"lifecycle"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*bodyOut[domain.GateResult], error) {
		if _, herr := require(ctx, input.EventID, auth.PermPlanRead); herr != nil {
			return nil, herr
		}
		res, err := e.CheckGate(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-event",
		Method:      http.MethodPost,
		Path:        "/events/{event_id}/transition",
		Summary:     "Move a DRAFT event to CONFIRMING",
		Tags:        []string{"lifecycle"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*bodyOut[engine.TransitionResult], error) {
		g, herr := require(ctx, input.EventID, auth.PermLifecycleWrite)
		if herr != nil {
			return nil, herr
		}
		res, err := e.Transition(ctx, input.EventID, g.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(res), nil
	})

	advance := func(id, summary string, fn func(ctx context.Context, eventID, actorID string) (domain.Event, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id + "-event",
			Method:      http.MethodPost,
			Path:        "/events/{event_id}/" + id,
			Summary:     summary,
			Tags:        []string{"lifecycle"},
			Errors:      writeErrors,
		}, func(ctx context.Context, input *struct {
			EventID string `path:"event_id"`
		}) (*bodyOut[domain.Event], error) {
			g, herr := require(ctx, input.EventID, auth.PermLifecycleWrite)
			if herr != nil {
				return nil, herr
			}
			ev, err := fn(ctx, input.EventID, g.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			return out(ev), nil
		})
	}
	advance("freeze", "Freeze a CONFIRMING event", e.Freeze)
	advance("complete", "Complete a FROZEN event", e.Complete)

	huma.Register(api, huma.Operation{
		OperationID: "get-snapshot",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/snapshots/{snapshot_id}",
		Summary:     "Get a plan snapshot",
		Tags:        []string{"lifecycle"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		EventID    string `path:"event_id"`
		SnapshotID string `path:"snapshot_id"`
	}) (*bodyOut[domain.PlanSnapshot], error) {
		if _, herr := require(ctx, input.EventID, auth.PermPlanRead); herr != nil {
			return nil, herr
		}
		s, err := e.GetSnapshot(ctx, input.SnapshotID)
		if err != nil {
			return nil, handleError(err)
		}
		if s.EventID != input.EventID {
			return nil, notInEvent("snapshot", input.SnapshotID)
		}
		return out(s), nil
	})
}

func registerTokens(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ensure-tokens",
		Method:      http.MethodPost,
		Path:        "/events/{event_id}/tokens",
		Summary:     "Issue missing access tokens and drop stale ones",
		Tags:        []string{"tokens"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*bodyOut[engine.TokenResult], error) {
		g, herr := require(ctx, input.EventID, auth.PermTokensManage)
		if herr != nil {
			return nil, herr
		}
		res, err := e.EnsureTokens(ctx, input.EventID, g.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return out(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-links",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/links",
		Summary:     "List invite links",
		Tags:        []string{"tokens"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*bodyOut[LinksResponse], error) {
		if _, herr := require(ctx, input.EventID, auth.PermTokensManage); herr != nil {
			return nil, herr
		}
		links, err := e.ListInviteLinks(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		if links == nil {
			links = []domain.InviteLink{}
		}
		return out(LinksResponse{Links: links}), nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "event-audit",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/audit",
		Summary:     "Tail the event audit log",
		Tags:        []string{"audit"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
		Type    string `query:"type"`
		Limit   int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*bodyOut[AuditResponse], error) {
		if _, herr := require(ctx, input.EventID, auth.PermAuditRead); herr != nil {
			return nil, herr
		}
		if _, err := e.GetEvent(ctx, input.EventID); err != nil {
			return nil, handleError(err)
		}
		entries, err := e.AuditLog(ctx, input.EventID, strings.TrimSpace(input.Type), input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if entries == nil {
			entries = []domain.AuditEntry{}
		}
		return out(AuditResponse{Entries: entries}), nil
	})
}
