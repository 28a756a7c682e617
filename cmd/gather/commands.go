package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gather/internal/domain"
	"gather/internal/engine"
)

type dietaryFlags struct {
	counts domain.DietaryCounts
}

func (d *dietaryFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&d.counts.Vegetarian, "vegetarian", 0, "vegetarian guests")
	cmd.Flags().IntVar(&d.counts.Vegan, "vegan", 0, "vegan guests")
	cmd.Flags().IntVar(&d.counts.GlutenFree, "gluten-free", 0, "gluten-free guests")
	cmd.Flags().IntVar(&d.counts.DairyFree, "dairy-free", 0, "dairy-free guests")
	cmd.Flags().IntVar(&d.counts.NutFree, "nut-free", 0, "nut-free guests")
}

func (d *dietaryFlags) changed(cmd *cobra.Command) bool {
	for _, name := range []string{"vegetarian", "vegan", "gluten-free", "dairy-free", "nut-free"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

func eventCmd() *cobra.Command {
	ev := &cobra.Command{Use: "event", Short: "Manage events"}
	ev.AddCommand(eventCreateCmd())
	ev.AddCommand(eventListCmd())
	ev.AddCommand(eventShowCmd())
	ev.AddCommand(eventUpdateCmd())
	ev.AddCommand(advanceCmd("freeze", "Freeze a CONFIRMING event", engine.Engine.Freeze))
	ev.AddCommand(advanceCmd("complete", "Complete a FROZEN event", engine.Engine.Complete))
	return ev
}

func eventCreateCmd() *cobra.Command {
	var opts engine.EventCreateOptions
	var diet dietaryFlags
	var ovens int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event in DRAFT",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Dietary = diet.counts
			if cmd.Flags().Changed("ovens") {
				opts.VenueOvenCount = &ovens
			}
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.CreateEvent(ctx, opts)
				if err != nil {
					return err
				}
				return printEvent(ev)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "event id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "event name")
	cmd.Flags().StringVar(&opts.OccasionType, "occasion", "", "occasion type (CHRISTMAS, THANKSGIVING, EASTER, OTHER)")
	cmd.Flags().StringVar(&opts.HostID, "host-id", "", "host person id")
	cmd.Flags().StringVar(&opts.CoHostID, "cohost-id", "", "co-host person id")
	cmd.Flags().IntVar(&opts.GuestCount, "guests", 0, "guest count")
	cmd.Flags().IntVar(&ovens, "ovens", 0, "ovens available at the venue")
	diet.register(cmd)
	return cmd
}

func eventListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "Name", "Occasion", "Status", "Guests", "Host")
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.Name, ev.OccasionType, ev.Status, ev.GuestCount, ev.HostID})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func eventShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <event-id>",
		Short: "Show an event with its teams and items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plan, err := e.GetPlan(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plan)
				}
				ev := plan.Event
				fmt.Printf("%s  %s  [%s, %s]\n", ev.ID, ev.Name, ev.Status, ev.StructureMode)
				fmt.Printf("occasion %s, %d guests, host %s\n", ev.OccasionType, ev.GuestCount, ev.HostID)
				teamNames := map[string]string{}
				tw := newTable("Team", "Name", "Domain", "Coordinator")
				for _, t := range plan.Teams {
					teamNames[t.ID] = t.Name
					tw.AppendRow(table.Row{t.ID, t.Name, t.Domain, deref(t.CoordinatorID)})
				}
				tw.Render()
				it := newTable("Item", "Team", "Name", "Quantity", "Critical", "Tags", "Slot")
				for _, i := range plan.Items {
					it.AppendRow(table.Row{i.ID, teamNames[i.TeamID], i.Name, quantity(i), i.Critical, strings.Join(i.DietaryTags, ","), i.TimeSlot})
				}
				it.Render()
				return nil
			})
		},
	}
}

func quantity(i domain.Item) string {
	switch {
	case i.QuantityState == domain.QuantityPlaceholder && i.PlaceholderAcknowledged:
		return "TBD (acknowledged)"
	case i.QuantityState == domain.QuantityPlaceholder:
		return "TBD"
	case i.QuantityAmount != nil:
		return strings.TrimSpace(fmt.Sprintf("%g %s", *i.QuantityAmount, i.QuantityUnit))
	}
	return i.QuantityState
}

func eventUpdateCmd() *cobra.Command {
	var name, occasion, cohost string
	var guests, ovens int
	var clearOvens bool
	var diet dietaryFlags
	cmd := &cobra.Command{
		Use:   "update <event-id>",
		Short: "Update event facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.EventUpdateOptions{ID: args[0], ClearOvenCount: clearOvens, ActorID: actorID()}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("occasion") {
				opts.OccasionType = &occasion
			}
			if cmd.Flags().Changed("cohost-id") {
				opts.CoHostID = &cohost
			}
			if cmd.Flags().Changed("guests") {
				opts.GuestCount = &guests
			}
			if cmd.Flags().Changed("ovens") {
				opts.VenueOvenCount = &ovens
			}
			if diet.changed(cmd) {
				opts.Dietary = &diet.counts
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.UpdateEvent(ctx, opts)
				if err != nil {
					return err
				}
				return printEvent(ev)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "event name")
	cmd.Flags().StringVar(&occasion, "occasion", "", "occasion type")
	cmd.Flags().StringVar(&cohost, "cohost-id", "", "co-host person id (empty clears)")
	cmd.Flags().IntVar(&guests, "guests", 0, "guest count")
	cmd.Flags().IntVar(&ovens, "ovens", 0, "ovens available at the venue")
	cmd.Flags().BoolVar(&clearOvens, "clear-ovens", false, "forget the venue oven count")
	diet.register(cmd)
	return cmd
}

func advanceCmd(use, short string, fn func(engine.Engine, context.Context, string, string) (domain.Event, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <event-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := fn(e, ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printEvent(ev)
			})
		},
	}
}

func printEvent(ev domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(ev)
	}
	fmt.Printf("%s  %s  [%s, %s]\n", ev.ID, ev.Name, ev.Status, ev.StructureMode)
	return nil
}

func personCmd() *cobra.Command {
	p := &cobra.Command{Use: "person", Short: "Manage people"}
	var opts engine.PersonCreateOptions
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a person",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				person, err := e.AddPerson(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(person)
				}
				fmt.Println(person.ID, person.Name)
				return nil
			})
		},
	}
	add.Flags().StringVar(&opts.ID, "id", "", "person id (generated when empty)")
	add.Flags().StringVar(&opts.Name, "name", "", "name")
	add.Flags().StringVar(&opts.Email, "email", "", "email")
	add.Flags().StringVar(&opts.Phone, "phone", "", "phone")
	p.AddCommand(add)
	return p
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage coordinator and participant roles"}
	for _, remove := range []bool{false, true} {
		var opts engine.MembershipOptions
		use, short := "add <event-id>", "Add a membership"
		if remove {
			use, short = "remove <event-id>", "Remove a membership"
		}
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				opts.EventID = args[0]
				opts.ActorID = actorID()
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					if remove {
						if err := e.RemoveMembership(ctx, opts); err != nil {
							return err
						}
						return printJSONOrTable(map[string]any{"removed": true, "person_id": opts.PersonID, "role": opts.Role})
					}
					mem, err := e.AddMembership(ctx, opts)
					if err != nil {
						return err
					}
					return printJSONOrTable(mem)
				})
			},
		}
		cmd.Flags().StringVar(&opts.PersonID, "person-id", "", "person id")
		cmd.Flags().StringVar(&opts.Role, "role", domain.RoleParticipant, "COORDINATOR or PARTICIPANT")
		cmd.Flags().StringVar(&opts.TeamID, "team-id", "", "team id")
		m.AddCommand(cmd)
	}
	return m
}

func teamCmd() *cobra.Command {
	t := &cobra.Command{Use: "team", Short: "Manage teams"}

	var opts engine.TeamCreateOptions
	add := &cobra.Command{
		Use:   "add <event-id>",
		Short: "Add a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.EventID = args[0]
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				team, err := e.AddTeam(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(team)
				}
				fmt.Println(team.ID, team.Name)
				return nil
			})
		},
	}
	add.Flags().StringVar(&opts.ID, "id", "", "team id (generated when empty)")
	add.Flags().StringVar(&opts.Name, "name", "", "team name")
	add.Flags().StringVar(&opts.Domain, "domain", "", "domain the team covers (PROTEINS, SIDES, DESSERTS, ...)")
	add.Flags().StringVar(&opts.CoordinatorID, "coordinator-id", "", "coordinator person id")
	add.Flags().BoolVar(&opts.IsProtected, "protected", false, "protect the team from deletion")

	coordinator := &cobra.Command{
		Use:   "coordinator <team-id> <person-id>",
		Short: "Assign a team coordinator (empty person clears)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			person := ""
			if len(args) == 2 {
				person = args[1]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				team, err := e.SetTeamCoordinator(ctx, args[0], person, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(team)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <team-id>",
		Short: "Delete a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTeam(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	t.AddCommand(add, coordinator, del)
	return t
}

func itemCmd() *cobra.Command {
	it := &cobra.Command{Use: "item", Short: "Manage items"}

	var opts engine.ItemCreateOptions
	var amount float64
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an item to a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("amount") {
				opts.QuantityAmount = &amount
			}
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := e.AddItem(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(item)
				}
				fmt.Println(item.ID, item.Name, quantity(item))
				return nil
			})
		},
	}
	add.Flags().StringVar(&opts.ID, "id", "", "item id (generated when empty)")
	add.Flags().StringVar(&opts.TeamID, "team-id", "", "team id")
	add.Flags().StringVar(&opts.Name, "name", "", "item name")
	add.Flags().Float64Var(&amount, "amount", 0, "quantity amount")
	add.Flags().StringVar(&opts.QuantityUnit, "unit", "", "quantity unit")
	add.Flags().StringVar(&opts.QuantityState, "state", "", "SPECIFIED, PLACEHOLDER or NA")
	add.Flags().BoolVar(&opts.Critical, "critical", false, "the meal fails without this item")
	add.Flags().StringSliceVar(&opts.DietaryTags, "tag", nil, "dietary tag (repeatable)")
	add.Flags().StringVar(&opts.Equipment, "equipment", "", "shared equipment needed (OVEN)")
	add.Flags().StringVar(&opts.TimeSlot, "slot", "", "time slot the equipment is needed")
	add.Flags().StringVar(&opts.AssigneeID, "assignee-id", "", "person bringing the item")

	it.AddCommand(add, itemUpdateCmd(), itemDeleteCmd())
	return it
}

func itemUpdateCmd() *cobra.Command {
	var teamID, name, unit, state, equipment, slot, assignee string
	var amount float64
	var clearAmount, ackPlaceholder, critical bool
	var tags []string
	cmd := &cobra.Command{
		Use:   "update <item-id>",
		Short: "Update an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ItemUpdateOptions{ID: args[0], ClearQuantityAmount: clearAmount, ActorID: actorID()}
			changed := cmd.Flags().Changed
			if changed("team-id") {
				opts.TeamID = &teamID
			}
			if changed("name") {
				opts.Name = &name
			}
			if changed("amount") {
				opts.QuantityAmount = &amount
			}
			if changed("unit") {
				opts.QuantityUnit = &unit
			}
			if changed("state") {
				opts.QuantityState = &state
			}
			if changed("ack-placeholder") {
				opts.PlaceholderAcknowledged = &ackPlaceholder
			}
			if changed("critical") {
				opts.Critical = &critical
			}
			if changed("tag") {
				opts.DietaryTags = &tags
			}
			if changed("equipment") {
				opts.Equipment = &equipment
			}
			if changed("slot") {
				opts.TimeSlot = &slot
			}
			if changed("assignee-id") {
				opts.AssigneeID = &assignee
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := e.UpdateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team-id", "", "move to team")
	cmd.Flags().StringVar(&name, "name", "", "item name")
	cmd.Flags().Float64Var(&amount, "amount", 0, "quantity amount")
	cmd.Flags().BoolVar(&clearAmount, "clear-amount", false, "drop the quantity amount")
	cmd.Flags().StringVar(&unit, "unit", "", "quantity unit")
	cmd.Flags().StringVar(&state, "state", "", "SPECIFIED, PLACEHOLDER or NA")
	cmd.Flags().BoolVar(&ackPlaceholder, "ack-placeholder", false, "acknowledge a critical placeholder quantity")
	cmd.Flags().BoolVar(&critical, "critical", false, "the meal fails without this item")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "dietary tags (replaces the set)")
	cmd.Flags().StringVar(&equipment, "equipment", "", "shared equipment needed")
	cmd.Flags().StringVar(&slot, "slot", "", "time slot")
	cmd.Flags().StringVar(&assignee, "assignee-id", "", "person bringing the item")
	return cmd
}

func itemDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteItem(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <event-id>",
		Short: "Run conflict detection and store the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RunDetection(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				p := res.Persisted
				fmt.Printf("%d candidates: %d created, %d updated, %d unchanged, %d reopened, %d auto-resolved\n",
					len(res.Candidates), len(p.Created), len(p.Updated), len(p.Unchanged), len(p.Reopened), len(p.AutoResolved))
				printConflicts(res.Open)
				return nil
			})
		},
	}
}

func printConflicts(conflicts []domain.Conflict) {
	tw := newTable("ID", "Severity", "Type", "Status", "Title")
	for _, c := range conflicts {
		tw.AppendRow(table.Row{c.ID, c.Severity, c.Type, c.Status, c.Title})
	}
	tw.Render()
}

func conflictCmd() *cobra.Command {
	c := &cobra.Command{Use: "conflict", Short: "Work through detected conflicts"}

	var status string
	list := &cobra.Command{
		Use:   "list <event-id>",
		Short: "List conflicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				conflicts, err := e.ListConflicts(ctx, engine.ConflictFilter{EventID: args[0], Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(conflicts)
				}
				printConflicts(conflicts)
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "OPEN, RESOLVED, DISMISSED or ACKNOWLEDGED")

	settle := func(use, short string, fn func(engine.Engine, context.Context, string, string) (domain.Conflict, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <conflict-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					conflict, err := fn(e, ctx, args[0], actorID())
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(conflict)
					}
					fmt.Println(conflict.ID, conflict.Status)
					return nil
				})
			},
		}
	}

	c.AddCommand(
		list,
		settle("resolve", "Mark an open conflict resolved", engine.Engine.ResolveConflict),
		settle("dismiss", "Dismiss an open conflict", engine.Engine.DismissConflict),
		conflictAckCmd(),
	)
	return c
}

func conflictAckCmd() *cobra.Command {
	var opts engine.AcknowledgeOptions
	var vis engine.Visibility
	cmd := &cobra.Command{
		Use:   "ack <conflict-id>",
		Short: "Acknowledge a critical conflict and record how it is mitigated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConflictID = args[0]
			opts.ActorID = actorID()
			for _, name := range []string{"cohosts", "coordinators", "participants"} {
				if cmd.Flags().Changed(name) {
					opts.Visibility = &vis
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ack, err := e.AcknowledgeConflict(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ack)
				}
				fmt.Println(ack.ConflictID, "ACKNOWLEDGED", ack.MitigationPlanType)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ImpactStatement, "impact", "", "who is affected and how")
	cmd.Flags().BoolVar(&opts.ImpactUnderstood, "understood", false, "confirm the impact is understood")
	cmd.Flags().StringVar(&opts.MitigationPlanType, "mitigation", "", strings.Join(domain.MitigationPlanTypes, ", "))
	cmd.Flags().BoolVar(&vis.CoHosts, "cohosts", true, "visible to co-hosts")
	cmd.Flags().BoolVar(&vis.Coordinators, "coordinators", false, "visible to coordinators")
	cmd.Flags().BoolVar(&vis.Participants, "participants", false, "visible to participants")
	return cmd
}

func gateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gate <event-id>",
		Short: "Check whether the event may leave DRAFT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CheckGate(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printGate(res)
				return nil
			})
		},
	}
}

func printGate(res domain.GateResult) {
	if res.Passed {
		fmt.Println("gate passed")
		return
	}
	tw := newTable("Block", "Message", "Conflict", "Item")
	for _, b := range res.Blocks {
		tw.AppendRow(table.Row{b.Code, b.Message, b.ConflictID, b.ItemID})
	}
	tw.Render()
}

func transitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transition <event-id>",
		Short: "Move a DRAFT event to CONFIRMING, lock its structure and issue invite tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Transition(ctx, args[0], actorID())
				if err != nil {
					if ee, ok := engine.AsError(err); ok && ee.Kind == engine.KindGateBlocked && !viper.GetBool("json") {
						printGate(domain.GateResult{Blocks: ee.Blocks})
					}
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s is %s (snapshot %s, %d tokens issued)\n", res.Event.ID, res.Event.Status, res.SnapshotID, res.Tokens.Created)
				return nil
			})
		},
	}
}

func tokensCmd() *cobra.Command {
	t := &cobra.Command{Use: "tokens", Short: "Manage invite tokens"}
	t.AddCommand(&cobra.Command{
		Use:   "ensure <event-id>",
		Short: "Issue missing tokens and drop stale ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.EnsureTokens(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%d created, %d deleted\n", res.Created, res.Deleted)
				tw := newTable("Scope", "Person", "Team", "Expires")
				for _, tok := range res.Tokens {
					tw.AppendRow(table.Row{tok.Scope, tok.PersonID, tok.TeamID, tok.ExpiresAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return t
}

func linksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "links <event-id>",
		Short: "List invite links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				links, err := e.ListInviteLinks(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(links)
				}
				tw := newTable("Scope", "Person", "Team", "URL", "Expires")
				for _, l := range links {
					tw.AppendRow(table.Row{l.Scope, l.PersonName, l.TeamName, l.URL, l.ExpiresAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}
