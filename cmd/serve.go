package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/apicrawler/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and all platform workers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := fromContext(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := app.New(ctx, cfg, logger, app.Deps{})
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		logger.Info("platform workers started")
		a.Run(runCtx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-runCtx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	stop()
	<-workersDone

	closeCtx, cancelClose := context.WithTimeout(context.Background(), cfg.Pipeline.SinkTimeout+cfg.Server.ShutdownGrace)
	defer cancelClose()
	if err := a.Close(closeCtx); err != nil {
		return fmt.Errorf("close application: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
