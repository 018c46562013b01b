package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/algoprep/internal/storage/remote"
)

var (
	remoteDirFlag   string
	remotePortFlag  int
	remoteTokenFlag string
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Run a remote state store",
}

var remoteServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the remote file API from a directory",
	Long: `Serve the file API that remote.base_url points at, storing documents
under a local directory.

Examples:
  algoprep remote serve --dir ~/algoprep-remote --port 8090 --token secret`,
	RunE: runRemoteServe,
}

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.AddCommand(remoteServeCmd)

	remoteServeCmd.Flags().StringVar(&remoteDirFlag, "dir", "remote-store", "Directory holding the documents")
	remoteServeCmd.Flags().IntVar(&remotePortFlag, "port", 8090, "Port to listen on")
	remoteServeCmd.Flags().StringVar(&remoteTokenFlag, "token", os.Getenv("ALGOPREP_REMOTE_TOKEN"), "Bearer token required from clients (empty disables auth)")
}

func runRemoteServe(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(remoteDirFlag, 0o755); err != nil {
		return fmt.Errorf("creating store dir: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", remotePortFlag),
		Handler:           remote.NewHandler(remote.DirStore{Root: remoteDirFlag}, remoteTokenFlag, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	logger.Info().Int("port", remotePortFlag).Str("dir", remoteDirFlag).Bool("auth", remoteTokenFlag != "").Msg("remote store listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
