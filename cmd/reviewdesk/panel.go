package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/reviewdesk/internal/controller"
	"github.com/kalambet/reviewdesk/internal/reply"
)

var panelCmd = &cobra.Command{
	Use:   "panel",
	Short: "Browse the session and draft replies interactively",
	Long: `Start a line-driven review panel connected to the running relay.

Commands:
  scrape (s)   extract records from the active browser page
  next (n)     show the next record
  prev (p)     show the previous record
  reply (r)    draft a reply to the shown record
  show         print the current view again
  quit (q)     leave the panel`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := newRelayClient()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		var gen reply.Generator
		if g, err := newGenerator(cfg); err != nil {
			printWarning("replies disabled: %v", err)
		} else {
			gen = g
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if _, err := client.Health(ctx); err != nil {
			return relayErr(err)
		}
		if gen != nil {
			if err := ensureGenerator(ctx, gen, os.Stderr); err != nil {
				printWarning("reply backend not ready: %v", err)
			}
		}

		out := cmd.OutOrStdout()
		ctrl := controller.New(client, gen, cfg.Hosts.AllowedHosts(),
			controller.WithScrapeTimeout(cfg.Scrape.Timeout),
			controller.WithTransitionHook(func(_ controller.State, v controller.View) {
				renderView(out, v)
			}),
		)
		return runPanel(ctx, ctrl, cmd.InOrStdin(), out)
	},
}

// panelCommand is one parsed line of panel input.
type panelCommand int

const (
	cmdUnknown panelCommand = iota
	cmdEmpty
	cmdScrape
	cmdNext
	cmdPrev
	cmdReply
	cmdShow
	cmdHelp
	cmdQuit
)

func parsePanelCommand(line string) panelCommand {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return cmdEmpty
	case "scrape", "s":
		return cmdScrape
	case "next", "n":
		return cmdNext
	case "prev", "p", "previous":
		return cmdPrev
	case "reply", "r":
		return cmdReply
	case "show":
		return cmdShow
	case "help", "h", "?":
		return cmdHelp
	case "quit", "q", "exit":
		return cmdQuit
	}
	return cmdUnknown
}

// runPanel drives ctrl from line input until quit, end of input or ctx
// cancellation. It owns ctrl's event loop.
func runPanel(ctx context.Context, ctrl *controller.Controller, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return relayErr(err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handlePanelLine(ctx, ctrl, line, out); quit {
				return nil
			}
		}
	}
}

func handlePanelLine(ctx context.Context, ctrl *controller.Controller, line string, out io.Writer) (quit bool) {
	var err error
	switch parsePanelCommand(line) {
	case cmdEmpty:
	case cmdScrape:
		err = ctrl.Trigger(ctx)
	case cmdNext:
		err = navigate(ctx, ctrl, 1, out)
	case cmdPrev:
		err = navigate(ctx, ctrl, -1, out)
	case cmdReply:
		err = ctrl.RequestReply(ctx)
	case cmdShow:
		renderView(out, ctrl.View())
	case cmdHelp:
		fmt.Fprintln(out, "commands: scrape (s), next (n), prev (p), reply (r), show, quit (q)")
	case cmdQuit:
		return true
	default:
		fmt.Fprintf(out, "unknown command %q; type help\n", strings.TrimSpace(line))
	}

	switch {
	case err == nil:
	case errors.Is(err, controller.ErrNotReady):
		fmt.Fprintln(out, colorize(colorYellow, "⚠ no record is shown yet; type scrape first"))
	default:
		fmt.Fprintln(out, colorize(colorRed, "✗ "+relayErr(err).Error()))
	}
	return false
}

// navigate moves by delta and says so when the move hit either end.
func navigate(ctx context.Context, ctrl *controller.Controller, delta int, out io.Writer) error {
	before := ctrl.View().Cursor
	if err := ctrl.Navigate(ctx, delta); err != nil {
		return err
	}
	if ctrl.View().Cursor == before {
		fmt.Fprintln(out, colorize(colorDim, "(no more records in that direction)"))
	}
	return nil
}
