package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/yourusername/rtu-fetch-go/api"
	"github.com/yourusername/rtu-fetch-go/api/handlers"
	"github.com/yourusername/rtu-fetch-go/internal/app"
	"github.com/yourusername/rtu-fetch-go/internal/domain"
	"github.com/yourusername/rtu-fetch-go/internal/infrastructure"
	"github.com/yourusername/rtu-fetch-go/pkg/logger"
)

var configPath = flag.String("config", "", "Path to config file (default: ./configs, ~/.rtu-fetch, /etc/rtu-fetch)")

func main() {
	flag.Parse()

	config, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := run(config); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(config *domain.Config) error {
	for _, dir := range []string{config.Download.BaseDir, config.Download.LogsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// Daily category files: session, scheduler, error
	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: config.Download.LogsDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize category logs: %w", err)
	}
	defer multiLog.Close()

	logAdapter := logger.NewLoggerAdapter(multiLog, log)

	log.Info("Starting RTU fetch server",
		zap.String("version", handlers.Version),
		zap.String("host", config.API.Host),
		zap.Int("port", config.API.Port),
		zap.Int("servers", len(config.Servers)),
		zap.String("base_dir", config.Download.BaseDir))

	repo, err := infrastructure.NewSQLiteRunRepository(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	notifier := infrastructure.NewNotificationService(&config.Notification, log)
	transports := infrastructure.NewFTPTransportFactory(&config.Download, log)
	engine := infrastructure.NewTransferEngine(afero.NewOsFs(), log)

	orch := app.NewOrchestrator(config, transports, engine, repo, notifier, multiLog, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	var scheduler *app.Scheduler
	if app.ScheduleEnabled(config) {
		scheduler, err = app.NewScheduler(orch, &config.Schedule, multiLog, log)
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	router := api.SetupRouter(orch, repo, logAdapter, config.Download.LogsDir, api.RouterOptions{
		Scheduler:   scheduler,
		SaveServers: saveServers(config, *configPath),
	})

	addr := fmt.Sprintf("%s:%d", config.API.Host, config.API.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Received shutdown signal")
	case err := <-serveErr:
		log.Error("HTTP server failed", zap.Error(err))
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			log.Error("Error stopping scheduler", zap.Error(err))
		}
	}

	// Live sessions end as cancelled
	if err := orch.Stop(); err != nil {
		log.Error("Error stopping orchestrator", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}

// saveServers writes server edits back to the config file. Without an
// explicit path edits only live until restart.
func saveServers(config *domain.Config, path string) func([]domain.ServerConfig) error {
	if path == "" {
		return nil
	}
	return func(servers []domain.ServerConfig) error {
		updated := *config
		updated.Servers = servers
		return app.SaveConfig(&updated, path)
	}
}
