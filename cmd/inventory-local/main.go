package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prima-machinery/inventory/backend/internal/cache"
	"github.com/prima-machinery/inventory/backend/internal/config"
	"github.com/prima-machinery/inventory/backend/internal/database"
	"github.com/prima-machinery/inventory/backend/internal/logging"
	"github.com/prima-machinery/inventory/backend/internal/outbox"
	"github.com/prima-machinery/inventory/backend/internal/server"
	"github.com/prima-machinery/inventory/backend/internal/snapshot"
	"github.com/prima-machinery/inventory/backend/internal/syncer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inventory-local",
		Short: "Offline-capable local data tier for the inventory desktop app",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("remote-base-url", defaults.GetString("remote.base_url"), "Remote server base URL")
	cmd.PersistentFlags().String("remote-bearer-token", "", "Bearer token for remote requests (overrides env)")
	cmd.PersistentFlags().Int("sync-page-size", defaults.GetInt("sync.page_size"), "Page size for remote list fetches")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "remote.bearer_token", "remote-bearer-token")
	bindFlag(cmd, "sync.page_size", "sync-page-size")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := snapshot.NewStore(snapshot.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	queue, err := outbox.NewQueue(outbox.QueueConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	cacheStore, err := cache.NewStore(cache.StoreConfig{Database: db})
	if err != nil {
		return err
	}

	remoteClient := syncer.NewClient(syncer.ClientConfig{
		HTTPClient: &http.Client{Timeout: appConfig.ProbeTimeout},
		PageSize:   appConfig.SyncPageSize,
		Logger:     logger,
	})

	syncEngine, err := syncer.NewEngine(syncer.EngineConfig{
		Store:       store,
		Outbox:      queue,
		Client:      remoteClient,
		BaseURL:     appConfig.RemoteBaseURL,
		BearerToken: appConfig.RemoteBearerToken,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:  store,
		Outbox: queue,
		Syncer: syncEngine,
		Cache:  cacheStore,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initial sync is fire-and-forget: the app stays usable fully offline.
	go func() {
		if _, err := syncEngine.Sync(signalCtx, ""); err != nil {
			logger.Warn("initial sync failed", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
