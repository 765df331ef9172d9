package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"clicktodial/pkg/analytics"
	"clicktodial/pkg/app"
	"clicktodial/pkg/browser"
	"clicktodial/pkg/config"
	"clicktodial/pkg/dialer"
	"clicktodial/pkg/i18n"
	"clicktodial/pkg/statesync"
	"clicktodial/pkg/storage"
	"clicktodial/pkg/transport"
	"clicktodial/pkg/voip"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const notificationHistory = 20

var backgroundCmd = &cobra.Command{
	Use:   "background",
	Short: "Run the background context and its hub",
	Long:  "Runs the background context: VoIP session, state persistence, context menus and the hub that tab and popup contexts connect to.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, log, err := loadRuntime("cmd.background")
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}

		if err := runBackground(cmd.Context(), cfg, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Background context failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(backgroundCmd)
}

func runBackground(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	store, err := storage.Open(cfg.Storage.Path, log)
	if err != nil {
		return err
	}
	defer store.Close()

	bg, err := app.New(app.Options{
		Kind: app.Background,
		Env:  app.Env{Extension: cfg.Runtime.Extension()},
		Log:  log,
	})
	if err != nil {
		return err
	}
	defer bg.Close()

	hub := transport.NewHub(log)
	hub.Attach(bg)

	catalog, err := i18n.New(cfg.I18n.Language, log)
	if err != nil {
		return err
	}

	caller, err := voip.New(cfg.VoIP)
	if err != nil {
		return fmt.Errorf("initialize voip client: %w", err)
	}

	metricsReader := sdkmetric.NewManualReader()
	meters := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(metricsReader),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", "clicktodial"))),
	)
	defer func() {
		logUsage(log, metricsReader)
		_ = meters.Shutdown(context.Background())
	}()

	tracker, err := analytics.New(cfg.Analytics.Enabled, meters, log)
	if err != nil {
		return err
	}

	menus := browser.NewContextMenus(log)
	d, err := dialer.New(bg, dialer.Deps{
		Menus:        menus,
		Tabs:         hub,
		Analytics:    tracker,
		Translator:   catalog,
		Caller:       caller,
		Notifier:     browser.NewNotifications(log, notificationHistory),
		PollInterval: cfg.Dialer.PollInterval(),
		DialTimeout:  cfg.Dialer.DialTimeout(),
		BlockedURLs:  cfg.Dialer.BlockedURLs,
		Log:          log,
	})
	if err != nil {
		return err
	}

	writer := statesync.NewWriter(store, log)
	syncer := statesync.New(store, writer)
	if err := bg.Register(syncer.Module(), d.Module()); err != nil {
		return err
	}
	if err := bg.Activate(); err != nil {
		// Failed modules are torn down; the rest keep running.
		log.Warn("Some modules failed to activate", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan error, 1)
	go func() { writerDone <- writer.Run(runCtx) }()
	go app.ObserveEvents(runCtx, bg)

	hubErr := make(chan error, 1)
	go func() { hubErr <- hub.Serve(runCtx, cfg.Hub.Addr()) }()

	bg.Post(func() { login(bg, cfg, caller.Authenticated()) })

	loopDone := make(chan error, 1)
	go func() { loopDone <- bg.Run(runCtx) }()

	log.Info("Background context started", "hub", cfg.Hub.PortURL(), "extension", cfg.Runtime.Extension(), "language", catalog.Language().String())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-hubErr:
	case runErr = <-loopDone:
	}

	cancel()
	if err := <-writerDone; err != nil {
		log.Warn("Final state flush failed", "error", err)
	}
	return runErr
}

// login records the session state and announces the login when the VoIP
// account is configured.
func login(bg *app.App, cfg *config.Config, authenticated bool) {
	statesync.SetState(bg, map[string]any{
		"c2d":  cfg.Dialer.ClickToDial,
		"user": map[string]any{"authenticated": authenticated},
	}, false)

	if !authenticated {
		bg.Log().Warn("VoIP credentials missing, click-to-dial stays idle")
		return
	}
	bg.Bus().Emit(dialer.EventLoginSuccess, nil)
}

func logUsage(log *slog.Logger, reader sdkmetric.Reader) {
	usage, err := analytics.Usage(context.Background(), reader)
	if err != nil {
		log.Warn("Failed to collect click-to-dial usage", "error", err)
		return
	}
	if len(usage) > 0 {
		log.Info("Click-to-dial usage", "dials", usage)
	}
}
