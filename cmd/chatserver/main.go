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

	"github.com/amoylab/roomhub/internal/apiserver"
	"github.com/amoylab/roomhub/internal/chat/coordinator"
	"github.com/amoylab/roomhub/internal/chat/storage"
	"github.com/amoylab/roomhub/internal/common/config"
	"github.com/amoylab/roomhub/pkg/logger"
	"github.com/amoylab/roomhub/pkg/metrics"
	"github.com/amoylab/roomhub/pkg/trace"
	"github.com/amoylab/roomhub/pkg/version"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of chatserver",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chatserver version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "chatserver",
		Short: "Real-time chat server",
		Long:  `chatserver serves multi-room chat with live presence over WebSocket`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", "chatserver.yaml", "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run(ctx context.Context) error {
	cfg, cfgPath, err := config.LoadConfig[config.ChatServerConfig](configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", cfgPath, err)
	}

	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	lg.Info("Starting chatserver",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath))

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			lg.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	store, err := storage.NewStore(lg, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			lg.Warn("failed to close store", zap.Error(err))
		}
	}()

	var (
		m    *metrics.Metrics
		opts []coordinator.Option
	)
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
		opts = append(opts, coordinator.WithRecorder(m))
	}
	coord := coordinator.New(lg, store, opts...)

	gin.SetMode(gin.ReleaseMode)
	router := apiserver.NewRouter(apiserver.Deps{
		Logger:      lg,
		Config:      cfg,
		Store:       store,
		Coordinator: coord,
		Metrics:     m,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("Shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// stop accepting, then drain writes and close live sockets
		httpErr := srv.Shutdown(sctx)
		coordErr := coord.Shutdown(sctx)
		return errors.Join(httpErr, coordErr)
	})

	if err := g.Wait(); err != nil {
		lg.Error("Server stopped with error", zap.Error(err))
		return err
	}
	lg.Info("Server stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
