package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/algoprep/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the practice web server",
	Long: `Start the algoprep HTTP server with REST API and WebSocket support.

API endpoints are under /api. When server.static_dir is set, the front end
is served from the root URL.

Examples:
  algoprep serve
  algoprep serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, cache, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cache.Close()
	defer store.Wait()

	eng := newEngine(cfg)
	defer eng.Close()
	if cfg.Engine.Prewarm {
		go func() {
			if err := eng.Warm(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("interpreter prewarm failed")
			}
		}()
	}

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(cfg, server.Options{
		Catalog:  newCatalog(cfg),
		Store:    store,
		Executor: eng,
		Warmer:   eng,
		Logger:   logger,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		srv.Shutdown(context.Background())
	}()

	if err := srv.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
