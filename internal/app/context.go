package app

import (
	"context"
	"database/sql"
	"fmt"

	"signalwars/internal/config"
	"signalwars/internal/db"
	"signalwars/internal/engine"
	"signalwars/internal/migrate"
)

// Workspace bundles an open, migrated arena store with its config.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open prepares the workspace directory, migrates the store and loads
// arena.yml, falling back to defaults when the file is absent.
func Open(ctx context.Context, dir string) (*Workspace, error) {
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.Path(dir), err)
	}
	return &Workspace{
		Dir:    dir,
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg),
	}, nil
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}
