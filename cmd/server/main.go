package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourusername/offline-cache-go/api"
	"github.com/yourusername/offline-cache-go/internal/app"
	"github.com/yourusername/offline-cache-go/internal/downloader"
	"github.com/yourusername/offline-cache-go/internal/infrastructure"
	"github.com/yourusername/offline-cache-go/internal/video"
	"github.com/yourusername/offline-cache-go/pkg/logger"
)

var (
	configPath string
	serverMode bool
	foreground bool

	rootCmd = &cobra.Command{
		Use:   "offline-cache-server",
		Short: "Offline content cache service",
		Long:  `A service that downloads web content, including embedded video, for offline viewing.`,
		Run: func(cmd *cobra.Command, args []string) {
			if serverMode || foreground {
				runServer()
				return
			}
			startAsDaemon()
		},
	}
)

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground instead of daemonizing")
	rootCmd.Flags().BoolVar(&serverMode, "server-mode", false, "Internal flag: run in server mode (called by daemon)")
	_ = rootCmd.Flags().MarkHidden("server-mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// startAsDaemon forks the current process and runs the server in background
func startAsDaemon() {
	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	}

	args := []string{"--server-mode"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command(execPath, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open /dev/null: %v\n", err)
		os.Exit(1)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Server started as daemon (PID: %d)\n", cmd.Process.Pid)
	os.Exit(0)
}

func runServer() {
	config, err := app.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting offline cache server",
		zap.String("version", app.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("content_root", config.Download.RootPath))

	if err := os.MkdirAll(filepath.Dir(config.Queue.DatabasePath), 0755); err != nil {
		log.Fatal("Failed to create database directory", zap.Error(err))
	}

	store, err := infrastructure.NewSQLiteStore(config.Queue.DatabasePath, config.Queue.ContainerID)
	if err != nil {
		log.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer store.Close()

	notifier := infrastructure.NewNotificationService(&config.Notification, log)
	config.ErrorsHandler = notifier.ErrorsHandler()

	links := downloader.NewLinkDownloader(&http.Client{}, afero.NewOsFs())
	resolver := video.NewResolver(links, nil, log)
	deps := downloader.NewDeps(links, resolver, nil, config, log)

	queueMgr := app.NewQueueManager(store, deps, config, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := queueMgr.Start(ctx); err != nil {
		log.Fatal("Failed to start queue manager", zap.Error(err))
	}

	// Surface queue completion on the desktop.
	events, unsubscribe := queueMgr.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range events {
			if ev.Kind == app.EventQueueCompleted {
				notifier.NotifyQueueCompleted(ev.Success)
			}
		}
	}()

	router := api.SetupRouter(queueMgr, log)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := queueMgr.Stop(); err != nil {
		log.Error("Error stopping queue manager", zap.Error(err))
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
