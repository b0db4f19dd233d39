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
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP front door, verifier, and bundle pipeline",
		RunE:  runServe,
	}
}

// runServe starts every long-running component and blocks until SIGINT or
// SIGTERM, then shuts down in reverse dependency order, following
// gateway_node.go's gwStart (signal.Notify in a goroutine, a clean Close on
// signal) generalized to several independently cancelable components
// instead of one GatewayInterface.Close.
func runServe(cmd *cobra.Command, args []string) error {
	a := currentApp()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.sink.Logger().Infow("gateway starting", "listen_addr", a.cfg.ListenAddr, "version", gatewayVersion)

	go a.verifier.Run(ctx)
	go a.unbundler.Run(ctx, a.stageAQ)

	serveErrCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.sink.Logger().Infow("gateway shutting down", "signal", sig.String())
	case err := <-serveErrCh:
		if err != nil {
			return err
		}
	}

	cancel()
	a.stageAQ.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.sink.Logger().Warnw("http shutdown error", "error", err)
	}
	return nil
}
