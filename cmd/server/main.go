package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/campuslink/campuschat/internal/chat"
	"github.com/campuslink/campuschat/internal/config"
	"github.com/campuslink/campuschat/internal/server"
	"github.com/campuslink/campuschat/internal/storage/sqlite"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadServer()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.NewStore(cfg.DatabasePath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	app := server.NewApp(cfg, store, chat.NewLogSink(log), log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Error("server shutdown", "error", err)
		os.Exit(1)
	}
}
