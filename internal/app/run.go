package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"membership-manager/internal/common/logging"
	"membership-manager/internal/config"
)

// shutdownTimeout bounds the graceful shutdown
const shutdownTimeout = 30 * time.Second

// Run is the main entry point for the application
func Run() error {
	// A .env file is optional; real environment variables win
	_ = godotenv.Load()

	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting membership manager",
		logging.Field{"cpus", runtime.NumCPU()},
	)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv := app.RunServer()
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}
	app.StartWorkers()

	serveErr := awaitStop(srv.Errors())
	logging.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop accepting requests first so no new tasks are enqueued
	shutdownErr := srv.Shutdown(ctx)
	if shutdownErr != nil {
		logging.Error("Server forced to shutdown", shutdownErr)
	}

	if err := app.Shutdown(ctx); err != nil {
		logging.Warn("Error during app shutdown", logging.Field{"error", err})
	}

	logging.Info("Server exited")
	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// awaitStop blocks until SIGINT/SIGTERM or a serve failure, returning the
// failure if there was one
func awaitStop(serveErrs <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logging.Info("Received signal", logging.String("signal", sig.String()))
		return nil
	case err := <-serveErrs:
		return err
	}
}
