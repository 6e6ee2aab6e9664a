package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseflow/internal/app"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/repo"
)

func stageCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "stage", Short: "Manage pipelines"}
	cmd.AddCommand(stageCreateCmd())
	cmd.AddCommand(stageShowCmd())
	cmd.AddCommand(stageStatusCmd())
	cmd.AddCommand(stageListCmd())
	cmd.AddCommand(stageNextCmd())
	cmd.AddCommand(stageSetNextCmd())
	cmd.AddCommand(stageAdvanceCmd())
	cmd.AddCommand(stageDeactivateCmd())
	return cmd
}

type entityFlags struct {
	entityType string
	entityID   string
}

func (f *entityFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.entityType, "entity-type", "contact", "contact or lead")
	cmd.Flags().StringVar(&f.entityID, "entity-id", "", "entity id")
}

func stageCreateCmd() *cobra.Command {
	var ent entityFlags
	var situacion, agentID, notes string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a pipeline for an entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				var raw json.RawMessage
				if situacion != "" {
					raw = json.RawMessage(situacion)
				}
				st, err := a.Engine.CreateStage(ctx, engine.CreateStageOptions{
					EntityID:          ent.entityID,
					EntityType:        domain.EntityType(ent.entityType),
					SituacionMigrante: raw,
					CreatedByAgentID:  agentID,
					Notes:             notes,
					Actor:             actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	ent.bind(cmd)
	cmd.Flags().StringVar(&situacion, "situacion", "", "migration situation as a JSON object")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent owning the pipeline (defaults to the caller when an agent)")
	cmd.Flags().StringVar(&notes, "notes", "", "free-text notes")
	_ = cmd.MarkFlagRequired("entity-id")
	return cmd
}

func stageShowCmd() *cobra.Command {
	var ent entityFlags
	var stageID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a pipeline by id or by entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var (
					st  domain.PipelineStage
					err error
				)
				if stageID != "" {
					st, err = a.Engine.GetStageByID(ctx, stageID)
				} else {
					st, err = a.Engine.GetStage(ctx, ent.entityID, domain.EntityType(ent.entityType))
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	ent.bind(cmd)
	cmd.Flags().StringVar(&stageID, "id", "", "pipeline id")
	return cmd
}

func stageStatusCmd() *cobra.Command {
	var ent entityFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize an entity's pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.Status(ctx, ent.entityID, domain.EntityType(ent.entityType))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Pipeline %s (%s/%s)\n", s.StageID, s.EntityType, s.EntityID)
				fmt.Printf("Stage: %s (active: %t)\n", s.CurrentStage, s.IsActive)
				fmt.Printf("Next: %s, responsible %s, due %s\n", deref(s.NextAction.Type), deref(s.NextAction.ResponsibleID), deref(s.NextAction.DueDate))
				fmt.Printf("Actions: %d (%d pending)\n", s.ActionsCount, s.PendingActionsCount)
				return nil
			})
		},
	}
	ent.bind(cmd)
	_ = cmd.MarkFlagRequired("entity-id")
	return cmd
}

func stageListCmd() *cobra.Command {
	var f repo.StageFilters
	var active string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				switch active {
				case "":
				case "true", "false":
					v := active == "true"
					f.IsActive = &v
				default:
					return fmt.Errorf("--active must be true or false")
				}
				items, err := a.Engine.ListStages(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Entity", "Stage", "Next", "Responsible", "Due", "Active"})
				for _, st := range items {
					tw.AppendRow(table.Row{
						st.ID,
						fmt.Sprintf("%s/%s", st.EntityType, st.EntityID),
						st.CurrentStage,
						deref(st.NextAction.Type),
						deref(st.NextAction.ResponsibleID),
						deref(st.NextAction.DueDate),
						st.IsActive,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.EntityType, "entity-type", "", "contact or lead")
	cmd.Flags().StringVar(&f.CurrentStage, "stage", "", "current stage filter")
	cmd.Flags().StringVar(&f.ResponsibleID, "responsible", "", "next-action responsible filter")
	cmd.Flags().StringVar(&f.DueBefore, "due-before", "", "next action due before (RFC3339)")
	cmd.Flags().StringVar(&active, "active", "", "true or false")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func stageNextCmd() *cobra.Command {
	var ent entityFlags
	var role string
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Actions a role may perform now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r := domain.Role(role)
				if r == "" {
					actor, err := currentActor(ctx, a)
					if err != nil {
						return err
					}
					r = actor.Role
				}
				offered, st, err := a.Engine.NextActions(ctx, ent.entityID, domain.EntityType(ent.entityType), r)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"stage_id": st.ID, "current_stage": st.CurrentStage, "role": r, "actions": offered})
				}
				fmt.Printf("Pipeline %s in %s, as %s:\n", st.ID, st.CurrentStage, r)
				if len(offered) == 0 {
					fmt.Println("  nothing to do")
					return nil
				}
				tw := newTable(table.Row{"Action", "Required", "Can modify"})
				for _, o := range offered {
					tw.AppendRow(table.Row{o.ActionCode, o.IsRequired, o.CanModify})
				}
				tw.Render()
				return nil
			})
		},
	}
	ent.bind(cmd)
	cmd.Flags().StringVar(&role, "as", "", "role to compute for (defaults to the caller's role)")
	_ = cmd.MarkFlagRequired("entity-id")
	return cmd
}

func stageSetNextCmd() *cobra.Command {
	var stageID, typ, responsible, due, description string
	cmd := &cobra.Command{
		Use:   "set-next",
		Short: "Overwrite the next-action reminder; an empty flag value clears the field",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				st, err := a.Engine.UpdateNextAction(ctx, engine.UpdateNextActionOptions{
					StageID:       stageID,
					Type:          changed(cmd, "type", typ),
					ResponsibleID: changed(cmd, "responsible", responsible),
					DueDate:       changed(cmd, "due", due),
					Description:   changed(cmd, "description", description),
					Actor:         actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&stageID, "id", "", "pipeline id")
	cmd.Flags().StringVar(&typ, "type", "", "action type")
	cmd.Flags().StringVar(&responsible, "responsible", "", "responsible actor id")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339)")
	cmd.Flags().StringVar(&description, "description", "", "reminder text")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func stageAdvanceCmd() *cobra.Command {
	var stageID, to, validatedBy, hiringCode string
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Move a pipeline along the transition table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				st, err := a.Engine.AdvanceStage(ctx, engine.AdvanceStageOptions{
					StageID: stageID,
					To:      domain.Stage(to),
					Provenance: domain.Provenance{
						ValidatedByLawyerID: optionalString(validatedBy),
						HiringCodeID:        optionalString(hiringCode),
					},
					Actor: actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&stageID, "id", "", "pipeline id")
	cmd.Flags().StringVar(&to, "to", "", "target stage")
	cmd.Flags().StringVar(&validatedBy, "validated-by", "", "validating lawyer id")
	cmd.Flags().StringVar(&hiringCode, "hiring-code", "", "hiring code id")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func stageDeactivateCmd() *cobra.Command {
	var stageID, reason string
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Close a pipeline (won, lost or cancelled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				st, err := a.Engine.DeactivateStage(ctx, engine.DeactivateStageOptions{
					StageID: stageID,
					Reason:  domain.CloseReason(reason),
					Actor:   actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&stageID, "id", "", "pipeline id")
	cmd.Flags().StringVar(&reason, "reason", "", "won, lost or cancelled")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
