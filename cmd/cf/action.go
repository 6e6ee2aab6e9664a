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

func actionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "action", Short: "Record and resolve pipeline actions"}
	cmd.AddCommand(actionRecordCmd())
	cmd.AddCommand(actionResolveCmd())
	cmd.AddCommand(actionListCmd())
	cmd.AddCommand(actionShowCmd())
	return cmd
}

func actionRecordCmd() *cobra.Command {
	var opts engine.RecordActionOptions
	var data, expected string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an action on a pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				opts.Actor = actor
				opts.ExpectedStage = domain.Stage(expected)
				if data != "" {
					opts.ActionData = json.RawMessage(data)
				}
				out, err := a.Engine.RecordAction(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Recorded %s (%s) as %s\n", out.Action.ID, out.Action.ActionType, out.Action.Status)
				if out.Replayed {
					fmt.Println("Replayed an earlier call with the same idempotency key")
				}
				if out.Advanced {
					fmt.Printf("Pipeline moved to %s\n", out.Stage.CurrentStage)
				} else {
					fmt.Printf("Pipeline stays in %s\n", out.Stage.CurrentStage)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.StageID, "stage-id", "", "pipeline id")
	cmd.Flags().StringVar(&opts.ActionType, "type", "", "action type code")
	cmd.Flags().StringVar(&opts.ActionName, "name", "", "display name (defaults to the type's)")
	cmd.Flags().StringVar(&opts.ResponsibleForValidationID, "responsible", "", "validator for actions that need validation")
	cmd.Flags().StringVar(&data, "data", "", "action data as a JSON object")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.IdempotencyKey, "idempotency-key", "", "replay-safe key")
	cmd.Flags().StringVar(&expected, "expected-stage", "", "fail unless the pipeline is in this stage")
	_ = cmd.MarkFlagRequired("stage-id")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func actionResolveCmd() *cobra.Command {
	var id, outcome, notes string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Validate or reject a pending action",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := currentActor(ctx, a)
				if err != nil {
					return err
				}
				out, err := a.Engine.ResolveAction(ctx, engine.ResolveActionOptions{
					ActionID: id,
					Outcome:  domain.ActionStatus(outcome),
					Notes:    notes,
					Actor:    actor,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Action %s %s; pipeline in %s\n", out.Action.ID, out.Action.Status, out.Stage.CurrentStage)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "action id")
	cmd.Flags().StringVar(&outcome, "outcome", "", "validated or rejected")
	cmd.Flags().StringVar(&notes, "notes", "", "validation notes")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func actionListCmd() *cobra.Command {
	var opts engine.ActionPageOptions
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a pipeline's actions in append order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts.Status = domain.ActionStatus(status)
				page, err := a.Engine.ListActionsPage(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := newTable(table.Row{"Seq", "ID", "Type", "Stage", "By", "Status", "Created"})
				for _, act := range page.Items {
					tw.AppendRow(table.Row{act.Seq, act.ID, act.ActionType, act.Stage, act.PerformedByID, act.Status, act.CreatedAt})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "", "Total", page.Total})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.StageID, "stage-id", "", "pipeline id")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "rows to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "max rows")
	_ = cmd.MarkFlagRequired("stage-id")
	return cmd
}

func actionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				act, err := a.Engine.GetAction(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(act)
			})
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.LatestEvents(ctx, a.DB, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Stage", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.StageID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.StageID, "stage-id", "", "pipeline filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}
