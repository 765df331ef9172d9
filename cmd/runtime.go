package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"clicktodial/pkg/app"
	"clicktodial/pkg/config"
	"clicktodial/pkg/logger"
	"clicktodial/pkg/transport"
)

// loadRuntime loads the config and installs the configured logger as the
// slog default.
func loadRuntime(component string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return cfg, slog.Default().With("component", component), nil
}

// runPeer connects a foreground context to the hub and runs it until ctx
// ends or the hub goes away.
func runPeer(ctx context.Context, cfg *config.Config, a *app.App, hello transport.Hello, log *slog.Logger) (context.Context, func(), error) {
	client, err := transport.DialApp(ctx, cfg.Hub.PortURL(), a, hello, log)
	if err != nil {
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		if err := client.Run(runCtx, transport.Deliverer(a)); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Hub connection lost", "error", err)
		}
	}()
	go app.ObserveEvents(runCtx, a)

	stop := func() {
		cancel()
		_ = client.Close()
		a.Close()
	}
	return runCtx, stop, nil
}
