package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atimmer/devservers/internal/api"
	"github.com/atimmer/devservers/internal/catalogstore"
	"github.com/atimmer/devservers/internal/orchestrator"
	"github.com/atimmer/devservers/pkg/logging"
)

var (
	serveDebug      bool
	servePort       int
	serveConfigPath string
)

// serveCmd starts the devservers daemon: it builds the Orchestrator, wires
// it to the API Surface's chi router, and serves it on loopback until an
// interrupt or terminate signal arrives.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the devservers daemon",
	Long: `Starts the devservers daemon: a loopback HTTP+WebSocket API in
front of the service catalog, the compose-project cache, and the tmux
session that hosts every running service.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if serveDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	configPath := serveConfigPath
	if configPath == "" {
		configPath = catalogstore.DefaultPath()
	}

	orch := orchestrator.New(configPath)
	defer orch.Close()

	srv := api.New(orch)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(servePort))
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Serve", "listening on %s (config: %s)", addr, configPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-quit:
		logging.Info("Serve", "shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Serve", "forced shutdown: %v", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")
	serveCmd.Flags().IntVar(&servePort, "port", api.DefaultPort, "loopback port to bind")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "override the configuration file path")
}
