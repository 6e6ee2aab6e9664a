package app

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/engine"
	"caseflow/internal/engine/auth"
	"caseflow/internal/migrate"
	"caseflow/internal/registry"
)

type Options struct {
	Workspace string
	// CatalogPath overrides <workspace>/caseflow.yml.
	CatalogPath string
	DBDriver    string
	DBDSN       string
	Logger      *zap.Logger
}

// App is the wired runtime shared by the CLI and the server.
type App struct {
	DB       *sql.DB
	Dialect  db.Dialect
	Config   *config.Config
	Registry *registry.Registry
	Engine   engine.Engine
	Auth     auth.Service
}

// LoadCatalog picks the catalog: an explicit path, then the workspace file, then the built-in default.
func LoadCatalog(workspace, path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load catalog %s: %w", path, err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Open connects to the store, applies pending migrations and builds the engine.
func Open(opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := LoadCatalog(opts.Workspace, opts.CatalogPath)
	if err != nil {
		return nil, err
	}
	reg, err := registry.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn, dialect, err := db.Open(db.Config{Driver: opts.DBDriver, DSN: opts.DBDSN, Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(conn, dialect)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("schema ready", zap.Int("version", version), zap.String("dialect", string(dialect)))
	eng := engine.New(conn, dialect, reg, log)
	return &App{
		DB:       conn,
		Dialect:  dialect,
		Config:   cfg,
		Registry: reg,
		Engine:   eng,
		Auth:     auth.Service{Repo: eng.Repo},
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
