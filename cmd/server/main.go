// Package main is the entry point of the admission-control service.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/gsoc2/novu/internal/application"
	"github.com/gsoc2/novu/internal/infrastructure/config"
)

func main() {
	cfg, v, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		fx.Supply(cfg, v),
		application.Module,
		fx.StartTimeout(cfg.Server.ShutdownTimeout),
		fx.StopTimeout(cfg.Server.ShutdownTimeout),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
	)

	app.Run()
}
