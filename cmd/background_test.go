package cmd

import (
	"testing"

	"clicktodial/pkg/app"
	"clicktodial/pkg/bus"
	"clicktodial/pkg/config"
	"clicktodial/pkg/dialer"

	"github.com/stretchr/testify/require"
)

func TestLoginSetsStateAndAnnounces(t *testing.T) {
	bg, err := app.New(app.Options{Kind: app.Background, Log: quietLog})
	require.NoError(t, err)
	t.Cleanup(bg.Close)

	logins := 0
	bg.Bus().On(dialer.EventLoginSuccess, func(bus.Event) error {
		logins++
		return nil
	})

	cfg := &config.Config{Dialer: config.DialerConfig{ClickToDial: true}}
	login(bg, cfg, false)
	if logins != 0 || bg.Store().Bool("user.authenticated") || !bg.Store().Bool("c2d") {
		t.Fatalf("logins = %d, state = %#v", logins, bg.Store().Snapshot(""))
	}

	login(bg, cfg, true)
	if logins != 1 || !bg.Store().Bool("user.authenticated") {
		t.Fatalf("logins = %d, state = %#v", logins, bg.Store().Snapshot(""))
	}
}
