package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/reviewdesk/internal/api"
	"github.com/kalambet/reviewdesk/internal/config"
	"github.com/kalambet/reviewdesk/internal/extract"
	"github.com/kalambet/reviewdesk/internal/feedback"
	"github.com/kalambet/reviewdesk/internal/page"
	"github.com/kalambet/reviewdesk/internal/reply"
)

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run an extractor over a saved page or a URL and print the records",
	Long: `Run one extractor outside the browser. The session is not changed.

Examples:
  reviewdesk extract --adapter store --url https://apps.apple.com/us/app/id123/see-all?see-all=reviews
  reviewdesk extract --adapter mail --file ./message.html
  reviewdesk extract --file ./reviews.html --location https://play.google.com/console/u/0/reviews`,
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, _ := cmd.Flags().GetString("adapter")
		file, _ := cmd.Flags().GetString("file")
		url, _ := cmd.Flags().GetString("url")
		location, _ := cmd.Flags().GetString("location")
		selectors, _ := cmd.Flags().GetString("selectors")

		var doc page.Page
		switch {
		case file != "":
			doc = page.FilePage{Path: file, URL: location}
		case url != "":
			doc = page.RemotePage{URL: url, Client: &http.Client{Timeout: 15 * time.Second}}
		default:
			return fmt.Errorf("one of --file or --url is required")
		}

		recs, err := runExtract(cmd.Context(), adapter, selectors, doc)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	},
}

// runExtract picks the extractor named by adapter, or the one whose default
// host occurs in the document location, and runs it once.
func runExtract(ctx context.Context, adapter, selectorsPath string, doc page.Page) ([]feedback.Record, error) {
	if adapter == "" {
		adapter = adapterForLocation(doc.Location())
		if adapter == "" {
			return nil, fmt.Errorf("cannot tell the site from %q; pass --adapter console|store|mail", doc.Location())
		}
	}
	profiles, err := extract.LoadProfiles(selectorsPath)
	if err != nil {
		return nil, err
	}
	// A saved or fetched page is already rendered.
	ex, err := extract.New(adapter, profiles, extract.WithSettleDelay(0))
	if err != nil {
		return nil, err
	}
	return ex.Extract(ctx, doc)
}

func adapterForLocation(loc string) string {
	hosts := config.Defaults().Hosts
	if cfg, err := config.Load(); err == nil {
		hosts = cfg.Hosts
	}
	for _, h := range []struct{ match, adapter string }{
		{hosts.Console, extract.ConsoleAdapter},
		{hosts.Store, extract.StoreAdapter},
		{hosts.Mail, extract.MailAdapter},
	} {
		if h.match != "" && strings.Contains(loc, h.match) {
			return h.adapter
		}
	}
	return ""
}

func init() {
	extractCmd.Flags().String("adapter", "", "extractor to use: console, store or mail (default: from the location)")
	extractCmd.Flags().String("file", "", "saved HTML page to read")
	extractCmd.Flags().String("url", "", "URL to fetch")
	extractCmd.Flags().String("location", "", "URL recorded for records read from --file")
	extractCmd.Flags().String("selectors", "", "YAML selector profile overriding the built-in one")
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect the persisted session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the session's records, marking the cursor",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, _, err := newRelayClient()
		if err != nil {
			return err
		}
		st, err := client.Load(cmd.Context())
		if err != nil {
			return relayErr(err)
		}

		out := cmd.OutOrStdout()
		if asJSON {
			recs := st.Records
			if recs == nil {
				recs = []feedback.Record{}
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(api.SessionResponse{Records: recs, Cursor: st.Cursor})
		}
		printSession(out, st.Records, st.Cursor)
		return nil
	},
}

func printSession(w io.Writer, recs []feedback.Record, cursor int) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "The session is empty.")
		return
	}
	for i, r := range recs {
		marker := "  "
		if i == cursor {
			marker = colorize(colorCyan, "▶ ")
		}
		text := strings.ReplaceAll(r.Text, "\n", " ")
		if runes := []rune(text); len(runes) > 80 {
			text = string(runes[:80]) + "..."
		}
		fmt.Fprintf(w, "%s%3d  %-20s  %-9s  %s\n", marker, i+1, r.Author, stars(r.Stars), text)
	}
}

func init() {
	sessionShowCmd.Flags().Bool("json", false, "print the session as JSON")
	sessionCmd.AddCommand(sessionShowCmd)
}

// --- select ---

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Replace the session with one record made from selected text",
	Long: `Store text selected on any page as the only record of the session.

Examples:
  reviewdesk select --text "The export button does nothing" --url https://forum.example.com/t/42
  pbpaste | reviewdesk select --text - --url https://forum.example.com/t/42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")

		if text == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			text = string(data)
		}

		client, _, err := newRelayClient()
		if err != nil {
			return err
		}
		if err := client.CaptureSelection(cmd.Context(), text, url); err != nil {
			return relayErr(err)
		}
		printSuccess("Selection saved as the session's only record")
		return nil
	},
}

func init() {
	selectCmd.Flags().String("text", "", "selected text, or - to read stdin")
	selectCmd.Flags().String("url", "", "URL of the page the text came from")
	selectCmd.MarkFlagRequired("text")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show relay, session and reply backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func showStatus(ctx context.Context) error {
	client, cfg, err := newRelayClient()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if h, err := client.Health(hctx); err != nil {
		printStatus("Relay", "stopped")
	} else {
		printStatus("Relay", "running on port %d", cfg.Server.Port)
		printStatus("Panels", "%d attached", h.Controllers)
		if loc, err := client.ActiveLocation(hctx); err == nil {
			printStatus("Active page", "%s", loc)
		} else {
			printStatus("Active page", "unknown (%v)", err)
		}
		if st, err := client.Load(hctx); err == nil {
			printStatus("Session", "%d records, cursor at %d", len(st.Records), st.Cursor+1)
		}
	}

	printStatus("Reply backend", "%s", cfg.Reply.Backend)
	if gen, err := newGenerator(cfg); err == nil {
		if hc, ok := gen.(reply.HealthChecker); ok {
			if err := hc.Healthy(hctx); err != nil {
				printStatus("Reply service", "unavailable (%v)", err)
			} else {
				printStatus("Reply service", "ok")
			}
		}
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the session as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := newRelayClient()
		if err != nil {
			return err
		}
		// stdout carries the protocol; keep logs on stderr.
		setupLogging(cfg.Log.Level)

		gen, err := newGenerator(cfg)
		if err != nil {
			printWarning("generate_reply disabled: %v", err)
			gen = nil
		}

		s := api.NewMCPServer(api.MCPDeps{Session: client, Generator: gen})
		stdio := server.NewStdioServer(s)
		if err := stdio.Listen(cmd.Context(), os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp stdio server: %w", err)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
