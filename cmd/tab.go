package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"clicktodial/pkg/app"
	"clicktodial/pkg/browser"
	"clicktodial/pkg/bus"
	"clicktodial/pkg/config"
	"clicktodial/pkg/dialer"
	"clicktodial/pkg/page"
	"clicktodial/pkg/statesync"
	"clicktodial/pkg/transport"

	"github.com/spf13/cobra"
)

var (
	tabID      int
	tabURL     string
	tabTitle   string
	tabNumbers []string
)

var tabCmd = &cobra.Command{
	Use:   "tab",
	Short: "Run a tab context with a terminal page",
	Long:  "Connects a tab context to the background hub. Phone numbers given with --numbers stand in for the annotated page; commands are read from stdin.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, log, err := loadRuntime("cmd.tab")
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}

		if err := runTab(cmd.Context(), cfg, log, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Tab context failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(tabCmd)
	tabCmd.Flags().IntVar(&tabID, "tab-id", 1, "browser tab id")
	tabCmd.Flags().StringVar(&tabURL, "url", "https://example.test", "url of the page")
	tabCmd.Flags().StringVar(&tabTitle, "title", "", "title of the page")
	tabCmd.Flags().StringSliceVar(&tabNumbers, "numbers", nil, "phone numbers shown on the page")
}

func runTab(ctx context.Context, cfg *config.Config, log *slog.Logger, in io.Reader, out io.Writer) error {
	tabApp, err := app.New(app.Options{
		Kind: app.Tab,
		ID:   app.TabTarget(tabID),
		Env:  app.Env{Extension: cfg.Runtime.Extension()},
		Log:  log,
	})
	if err != nil {
		return err
	}

	pg := page.New(tabURL, tabNumbers, out)
	d, err := dialer.New(tabApp, dialer.Deps{Page: pg, Log: log})
	if err != nil {
		return err
	}

	calls := &callTracker{out: out}
	if err := tabApp.Register(statesync.New(nil, nil).Module(), calls.Module(), d.Module()); err != nil {
		return err
	}

	runCtx, stop, err := runPeer(ctx, cfg, tabApp, transport.Hello{
		Tab: &browser.Tab{ID: tabID, URL: tabURL, Title: tabTitle},
	}, log)
	if err != nil {
		return err
	}
	defer stop()

	if err := tabApp.Activate(); err != nil {
		log.Warn("Some modules failed to activate", "error", err)
	}

	go func() {
		readTabCommands(runCtx, in, out, tabApp, pg, calls)
		stop()
	}()

	fmt.Fprintf(out, "tab %d ready with %d numbers, type help for commands\n", tabID, len(pg.Icons()))
	return tabApp.Run(runCtx)
}

// callTracker remembers the open call of the tab and reports observer
// starts on the terminal.
type callTracker struct {
	out io.Writer

	mu     sync.Mutex
	callID string
}

func (c *callTracker) Module() app.Module {
	return app.Module{
		Name: "terminal",
		Tab: func(actions *app.Actions) error {
			actions.On(dialer.EventStatusShow, func(event bus.Event) error {
				c.mu.Lock()
				c.callID = event.Payload.String("callid")
				c.mu.Unlock()
				return nil
			})
			actions.On(dialer.EventStatusHide, func(bus.Event) error {
				c.mu.Lock()
				c.callID = ""
				c.mu.Unlock()
				return nil
			})
			actions.On(dialer.EventObserverStart, func(bus.Event) error {
				fmt.Fprintln(c.out, "[observer] annotating phone numbers")
				return nil
			})
			return nil
		},
	}
}

func (c *callTracker) current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

type tabCommand struct {
	name string
	arg  string
}

func parseTabCommand(line string) (tabCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return tabCommand{}, errors.New("empty command")
	}

	cmd := tabCommand{name: strings.ToLower(fields[0]), arg: strings.Join(fields[1:], " ")}
	switch cmd.name {
	case "dial", "select":
		if cmd.arg == "" {
			return tabCommand{}, fmt.Errorf("%s needs a phone number", cmd.name)
		}
	case "hide", "ready", "help", "quit", "exit":
	default:
		return tabCommand{}, fmt.Errorf("unknown command %q", cmd.name)
	}

	return cmd, nil
}

func readTabCommands(ctx context.Context, in io.Reader, out io.Writer, tabApp *app.App, pg *page.Page, calls *callTracker) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, err := parseTabCommand(line)
		if err != nil {
			fmt.Fprintf(out, "%v\n", err)
			continue
		}
		if cmd.name == "quit" || cmd.name == "exit" {
			return
		}
		if cmd.name == "help" {
			fmt.Fprintln(out, "commands: dial <number> · select <number> · hide [callid] · ready · quit")
			continue
		}

		if err := runTabCommand(cmd, tabApp, pg, calls); err != nil {
			fmt.Fprintf(out, "%v\n", err)
		}
	}
}

// runTabCommand turns a terminal command into what the content script would
// emit for the same user action.
func runTabCommand(cmd tabCommand, tabApp *app.App, pg *page.Page, calls *callTracker) error {
	sender := map[string]any{"tab": map[string]any{"id": tabID}}

	switch cmd.name {
	case "dial":
		number, err := pg.Click(cmd.arg)
		if err != nil {
			return err
		}
		tabApp.Post(func() {
			tabApp.Bus().Emit(dialer.EventDial, bus.Payload{"b_number": number, "sender": sender}, bus.To(app.BackgroundID))
		})
	case "select":
		tabApp.Post(func() {
			tabApp.Bus().Emit(dialer.EventMenuClick, bus.Payload{"selectionText": cmd.arg, "tab": map[string]any{"id": tabID}}, bus.To(app.BackgroundID))
		})
	case "hide":
		callID := cmd.arg
		if callID == "" {
			callID = calls.current()
		}
		if callID == "" {
			return errors.New("no call to hide")
		}
		tabApp.Post(func() {
			tabApp.Bus().Emit(dialer.EventStatusHide, bus.Payload{"callid": callID}, bus.LocalOnly())
		})
	case "ready":
		tabApp.Post(func() {
			tabApp.Bus().Emit(dialer.EventObserverReady, bus.Payload{"frame": dialer.ObserverFrame}, bus.To(app.BackgroundID))
		})
	}

	return nil
}
