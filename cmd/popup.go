package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"clicktodial/pkg/app"
	"clicktodial/pkg/config"
	"clicktodial/pkg/i18n"
	"clicktodial/pkg/statesync"
	"clicktodial/pkg/transport"
	"clicktodial/pkg/ui/popup"

	"github.com/spf13/cobra"
)

var popupCmd = &cobra.Command{
	Use:   "popup",
	Short: "Open the popup in the terminal",
	Long:  "Connects a popup context to the background hub and shows layer navigation and a dial pad.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, log, err := loadRuntime("cmd.popup")
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}

		if err := runPopup(cmd.Context(), cfg, log); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Printf("popup failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(popupCmd)
}

func runPopup(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	catalog, err := i18n.New(cfg.I18n.Language, log)
	if err != nil {
		return err
	}

	popupApp, err := app.New(app.Options{
		Kind: app.Popup,
		Env:  app.Env{Extension: cfg.Runtime.Extension()},
		Log:  log,
	})
	if err != nil {
		return err
	}

	if err := popupApp.Register(statesync.New(nil, nil).Module()); err != nil {
		return err
	}

	runCtx, stop, err := runPeer(ctx, cfg, popupApp, transport.Hello{}, log)
	if err != nil {
		return err
	}
	defer stop()

	if err := popupApp.Activate(); err != nil {
		return err
	}
	go func() { _ = popupApp.Run(runCtx) }()

	return popup.Run(runCtx, popup.NewSession(popupApp), catalog)
}
