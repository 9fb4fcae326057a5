package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/reddit-collector/internal/web"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the collection trigger over HTTP",
	Long: `Serve starts an HTTP server with three endpoints: POST /collect triggers
a batch and returns its structured result (409 while one is running),
GET /status reports the scheduler and quota state, and GET /healthz
probes auth and storage reachability.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().String("sources", "sources.yaml", "sources YAML file")
	serveCmd.Flags().String("db", "data/collector.db", "SQLite database path")
	serveCmd.Flags().String("keywords", "", "keyword table YAML (default: built-in table)")
	serveCmd.Flags().Bool("no-relevance", false, "skip relevance scoring, keep every quality survivor")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)

	p, err := buildPipeline(cmd, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	addr, _ := cmd.Flags().GetString("addr")

	probes := make(map[string]web.Probe, 2)
	for name, fn := range p.probes() {
		probes[name] = fn
	}
	srv := web.NewServer(p.scheduler, p.sources, probes, logger)

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "sources", len(p.sources))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	p.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
