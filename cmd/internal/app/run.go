package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"spotline/cmd/internal/storage/migrations"

	"go.uber.org/zap"
)

// Run is the CLI entrypoint used by cmd/spotline.
//
//	spotline [serve]            run the server (default)
//	spotline migrate [up|down]  apply or roll back the schema
//
// It returns an error instead of calling os.Exit so defers still run.
func Run(args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		a, err := New(ctx, cfg, log)
		if err != nil {
			return err
		}
		return a.Run(ctx)
	case "migrate":
		return runMigrate(ctx, cfg, log, args)
	default:
		return fmt.Errorf("unknown command %q (want serve or migrate)", cmd)
	}
}

func runMigrate(ctx context.Context, cfg Config, log *zap.Logger, args []string) error {
	dir := migrations.Up
	if len(args) > 0 {
		dir = migrations.Direction(args[0])
	}
	if err := migrations.Run(ctx, cfg.DatabaseURL, cfg.DBSchema, dir); err != nil {
		return err
	}
	log.Info("db.migrate.done", zap.String("direction", string(dir)), zap.String("schema", cfg.DBSchema))
	return nil
}
