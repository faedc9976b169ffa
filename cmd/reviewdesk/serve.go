package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/reviewdesk/internal/agent"
	"github.com/kalambet/reviewdesk/internal/api"
	"github.com/kalambet/reviewdesk/internal/config"
	"github.com/kalambet/reviewdesk/internal/extract"
	"github.com/kalambet/reviewdesk/internal/page"
	"github.com/kalambet/reviewdesk/internal/relay"
	"github.com/kalambet/reviewdesk/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay, extraction agents and HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "reviewdesk.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// buildBindings attaches one extractor per configured host. The binding is
// fixed here; a page never chooses its extractor.
func buildBindings(cfg config.Config, profiles extract.Profiles, logger *slog.Logger) ([]agent.Binding, error) {
	opts := []extract.Option{
		extract.WithLogger(logger),
		extract.WithSettleDelay(cfg.Scrape.MailSettleDelay),
	}
	hosts := []struct{ match, adapter string }{
		{cfg.Hosts.Console, extract.ConsoleAdapter},
		{cfg.Hosts.Store, extract.StoreAdapter},
		{cfg.Hosts.Mail, extract.MailAdapter},
	}

	var bindings []agent.Binding
	for _, h := range hosts {
		if h.match == "" {
			continue
		}
		ex, err := extract.New(h.adapter, profiles, opts...)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, agent.Binding{Match: h.match, Extractor: ex})
	}
	if len(bindings) == 0 {
		return nil, errors.New("no hosts configured; set hosts.console, hosts.store or hosts.mail")
	}
	return bindings, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "reviewdesk version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice: a second relay would be a second writer.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("reviewdesk is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("reviewdesk is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	profiles, err := extract.LoadProfiles(cfg.Selectors.Path)
	if err != nil {
		return fmt.Errorf("loading selector profiles: %w", err)
	}
	bindings, err := buildBindings(cfg, profiles, slog.Default())
	if err != nil {
		return err
	}

	browser := page.NewRodBrowser(cfg.Browser.ControlURL, slog.Default())
	defer browser.Close()
	pool := agent.NewPool(browser, bindings)
	defer pool.Close()

	rl := relay.New(store, pool)
	handler := api.NewRelayHandler(api.RelayDeps{Relay: rl, Token: apiToken})

	g, gctx := errgroup.WithContext(ctx)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return gctx
		},
	}

	g.Go(func() error {
		if err := rl.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("relay: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "reviewdesk listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("reviewdesk is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop reviewdesk (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to reviewdesk (PID %d)", pid)
	return nil
}
