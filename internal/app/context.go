// Package app opens the store and builds the engine from configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vector/internal/config"
	"vector/internal/db"
	"vector/internal/engine"
	"vector/internal/migrate"
	"vector/internal/protocols"
)

// Runtime is everything a command needs once configuration is resolved.
type Runtime struct {
	Config    *config.Config
	DB        *sql.DB
	Dialect   db.Dialect
	Engine    engine.Engine
	Protocols protocols.Store
	Log       zerolog.Logger
}

// Open connects to the configured store, applies migrations and builds the engine.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Runtime, error) {
	dbCfg := db.Config{Workspace: cfg.Workspace, DSN: cfg.DSN}
	dialect := dbCfg.Dialect()
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, dialect, engine.Options{
		Log:           log.With().Str("component", "engine").Logger(),
		WebhookSecret: cfg.WebhookSecret,
		Now:           time.Now,
	})
	return &Runtime{
		Config:    cfg,
		DB:        conn,
		Dialect:   dialect,
		Engine:    eng,
		Protocols: protocols.Store{Root: cfg.ProtocolsDir},
		Log:       log,
	}, nil
}

func (r *Runtime) Close() error {
	return r.DB.Close()
}
