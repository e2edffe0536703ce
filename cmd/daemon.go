package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/MimeLyc/sidecar-translator/internal/httpapi"
	"github.com/MimeLyc/sidecar-translator/internal/service"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

// daemon is the part of service.App the run command drives.
type daemon interface {
	Run(ctx context.Context, api service.HTTPServer) error
	Close()
}

func runDaemon(ctx context.Context, cc *commandContext) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := cc.config()
	log.Info("config %s", cfg)

	app, err := service.NewApp(ctx, cfg)
	if err != nil {
		return err
	}

	var api service.HTTPServer
	if cfg.API.Addr != "" {
		api = httpapi.NewServer(app, httpapi.WithToken(cfg.API.Token))
	}
	return runWithComponents(ctx, app, api)
}

// runWithComponents blocks until ctx is cancelled or the daemon fails.
// Cancellation is a clean exit.
func runWithComponents(ctx context.Context, d daemon, api service.HTTPServer) error {
	defer d.Close()

	err := d.Run(ctx, api)
	if err != nil && ctx.Err() != nil {
		log.Info("shutdown reason=%v", context.Cause(ctx))
		return nil
	}
	return err
}
