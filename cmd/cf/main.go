package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"caseflow/internal/app"
	"caseflow/internal/domain"
	"caseflow/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "cf",
	Short: "Caseflow CLI",
	Long: `Caseflow drives the pipeline of a legal-services case from first contact to case file.
Core concepts:
- Pipeline: one active record per contact or lead, sitting in one of five stages
  (agent_initial -> lawyer_validation -> admin_contract -> client_signature -> expediente_created).
- Action types: the catalog in caseflow.yml says who may perform what, and in which stages.
- Actions: the append-only log of work done on a pipeline. Some start pending and need a validation.
- Next actions: what a role may do right now, computed from the stage and the current visit's log.
- Reminder: the single "what's next" note on a pipeline, refreshed when work changes it.
- Event log: every mutation, view it with 'cf log tail'.`,
	SilenceUsage: true,
}

func main() {
	// .env is optional
	_ = godotenv.Load()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CF")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.String("catalog", "", "action-type catalog file (defaults to <workspace>/caseflow.yml)")
	pf.String("db-driver", "sqlite", "store driver: sqlite or postgres")
	pf.String("db-dsn", "", "store DSN (sqlite defaults to <workspace>/.caseflow/caseflow.db)")
	pf.String("actor-id", "", "acting user id")
	pf.String("role", "", "acting role; when empty the role is looked up in the actors table")
	pf.Bool("json", false, "output JSON")
	pf.String("log-level", "warn", "log level")
	pf.String("log-format", "console", "log format: console or json")
	_ = viper.BindPFlag("workspace", pf.Lookup("workspace"))
	_ = viper.BindPFlag("catalog", pf.Lookup("catalog"))
	_ = viper.BindPFlag("db.driver", pf.Lookup("db-driver"))
	_ = viper.BindPFlag("db.dsn", pf.Lookup("db-dsn"))
	_ = viper.BindPFlag("actor-id", pf.Lookup("actor-id"))
	_ = viper.BindPFlag("role", pf.Lookup("role"))
	_ = viper.BindPFlag("json", pf.Lookup("json"))
	_ = viper.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", pf.Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(typesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func newLogger() (*zap.Logger, error) {
	return logging.New(viper.GetString("log.level"), viper.GetString("log.format"))
}

func openApp() (*app.App, *zap.Logger, error) {
	log, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Open(app.Options{
		Workspace:   viper.GetString("workspace"),
		CatalogPath: viper.GetString("catalog"),
		DBDriver:    viper.GetString("db.driver"),
		DBDSN:       viper.GetString("db.dsn"),
		Logger:      log,
	})
	if err != nil {
		return nil, nil, err
	}
	return a, log, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, log, err := openApp()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer a.Close()
	return fn(ctx, a)
}

// currentActor trusts --role when given, otherwise resolves --actor-id against the actors table.
func currentActor(ctx context.Context, a *app.App) (domain.Actor, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return domain.Actor{}, fmt.Errorf("--actor-id required")
	}
	if role := strings.TrimSpace(viper.GetString("role")); role != "" {
		r := domain.Role(role)
		if !r.Valid() {
			return domain.Actor{}, fmt.Errorf("unknown role %q", role)
		}
		return domain.Actor{ID: id, Role: r}, nil
	}
	return a.Auth.ResolveActor(ctx, id)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// changed returns a pointer to value when the flag was set, so an explicit empty string clears the field.
func changed(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
