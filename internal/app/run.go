package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cache-coordinator/internal/common/logging"
	"cache-coordinator/internal/config"
	"cache-coordinator/internal/server"
)

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	if err := logging.InitGlobalLogger(); err != nil {
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting cache coordinator",
		logging.Int("cpus", runtime.NumCPU()),
	)

	cfg, err := config.Load()
	if err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	app, err := New(ctx, cfg)
	cancel()
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if err := app.Scheduler.Start(); err != nil {
		logging.Error("Warm-up scheduler failed to start", err)
		return err
	}

	srv := server.New(server.NewRouter(app.Handlers, app.Registry), strconv.Itoa(cfg.Port), cfg.TLSCertFile, cfg.TLSKeyFile)
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	// Wait for interrupt signal or a serve failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-srv.Errors():
		logging.Error("Server stopped unexpectedly", err)
	}

	logging.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	app.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}
