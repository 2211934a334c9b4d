package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harborpoint/advisory-backend/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		application.Log.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			application.Log.Error("HTTP server error", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), application.Cfg.ShutdownGrace)
	defer cancel()
	application.Shutdown(ctx)
}
