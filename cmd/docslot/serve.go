package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/docslot/internal/server"
	"github.com/hyperjump/docslot/internal/watcher"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve search, audit, status and ingestion over HTTP (server.host:server.port).
With --watch (or watch.enabled), changes in the corpus directory trigger an ingestion run.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "docslot version %s\n", Version)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "ingest corpus changes as they happen")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := setup(openOptions{write: true, embedder: true, text: true})
	if err != nil {
		return err
	}
	defer c.Close()
	cfg, logger := c.cfg, c.logger

	ctrl := c.controller()
	srv := server.NewServer(c.resolver(), ctrl, c.auditor(ctrl), c.registry, c.index, cfg, logger)

	ctx, stop := signalContext()
	defer stop()

	if serveWatch || cfg.Watch.Enabled {
		w := watcher.New(cfg.Corpus.Directory, cfg.Corpus.Extensions, cfg.Corpus.RecursiveOrDefault(),
			func(ctx context.Context) error {
				_, err := ctrl.TryRun(ctx, cfg.Corpus.Directory)
				return err
			},
			watcher.WithLogger(logger),
			watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMillis)*time.Millisecond))
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer w.Stop()
		logger.Info("watching corpus", zap.String("dir", cfg.Corpus.Directory))
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return err
	}
	// a cancelled background run still has to let go of the stores before they close
	ctrl.Wait()
	return nil
}
