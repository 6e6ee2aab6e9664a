package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseflow/internal/app"
	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/policy"
	"caseflow/internal/registry"
)

func initCmd() *cobra.Command {
	var adminID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace, its catalog and store",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("Catalog %s already exists (use --force to overwrite)\n", path)
			} else {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if adminID = strings.TrimSpace(adminID); adminID != "" {
					if err := a.Engine.Repo.UpsertActor(ctx, a.DB, domain.ActorRecord{
						ID:        adminID,
						Role:      domain.RoleAdmin,
						CreatedAt: time.Now().UTC().Format(time.RFC3339),
					}); err != nil {
						return err
					}
					fmt.Printf("Registered admin %s\n", adminID)
				}
				fmt.Printf("Store ready (%s)\n", a.Dialect)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&adminID, "admin", "", "register this actor id as admin")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing catalog")
	return cmd
}

func typesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "types", Short: "Inspect the action-type catalog"}
	cmd.AddCommand(typesListCmd())
	cmd.AddCommand(typesShowCmd())
	return cmd
}

func loadRegistry() (*registry.Registry, error) {
	cfg, err := app.LoadCatalog(viper.GetString("workspace"), viper.GetString("catalog"))
	if err != nil {
		return nil, err
	}
	return registry.FromConfig(cfg)
}

func typesListCmd() *cobra.Command {
	var role, stage string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List action types",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			items := reg.Filter(registry.Filter{Role: domain.Role(role), ActiveOnly: activeOnly, Stage: domain.Stage(stage)})
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := newTable(table.Row{"Code", "Name", "Role", "Validation", "Due days", "Stages", "Active"})
			for _, at := range items {
				validation := ""
				if at.ValidationRole != nil {
					validation = string(*at.ValidationRole)
				}
				stages := make([]string, 0, len(at.ApplicableStages))
				for _, s := range at.ApplicableStages {
					stages = append(stages, string(s))
				}
				tw.AppendRow(table.Row{at.Code, at.DisplayName, at.RequiredRole, validation, at.DefaultDueDays, strings.Join(stages, ","), at.IsActive})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "for-role", "", "only types whose required role is this one")
	cmd.Flags().StringVar(&stage, "stage", "", "only types applicable to this stage")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active types")
	return cmd
}

func typesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <code>",
		Short: "Show an action type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			at, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(at)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Catalog configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Print the effective catalog as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadCatalog(viper.GetString("workspace"), viper.GetString("catalog"))
			if err != nil {
				return err
			}
			data, err := cfg.Export()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the catalog against the pipeline rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if viper.GetBool("json") {
				out := map[string]any{"valid": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				if perr := printJSON(out); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}
			fmt.Printf("Catalog valid: %d action types, %d transitions\n", len(reg.List()), len(policy.Transitions()))
			return nil
		},
	})
	return cmd
}
