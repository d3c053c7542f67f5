package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/huddle/internal/auth"
	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"github.com/MarcoPoloResearchLab/huddle/internal/cache"
	"github.com/MarcoPoloResearchLab/huddle/internal/channels"
	"github.com/MarcoPoloResearchLab/huddle/internal/config"
	"github.com/MarcoPoloResearchLab/huddle/internal/database"
	"github.com/MarcoPoloResearchLab/huddle/internal/directory"
	"github.com/MarcoPoloResearchLab/huddle/internal/ids"
	"github.com/MarcoPoloResearchLab/huddle/internal/logging"
	"github.com/MarcoPoloResearchLab/huddle/internal/notifications"
	"github.com/MarcoPoloResearchLab/huddle/internal/operations"
	"github.com/MarcoPoloResearchLab/huddle/internal/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	shutdownTimeout   = 10 * time.Second
	relayReadyTimeout = 5 * time.Second
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "huddle-api",
		Short: "Huddle realtime channel messaging service",
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
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for the redis transport or cache")
	cmd.PersistentFlags().String("broadcast-transport", defaults.GetString("broadcast.transport"), "Broadcast transport (local, redis)")
	cmd.PersistentFlags().String("cache-backend", defaults.GetString("cache.backend"), "Cache backend (memory, redis)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "broadcast.transport", "broadcast-transport")
	bindFlag(cmd, "cache.backend", "cache-backend")
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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if appConfig.UsesRedis() {
		options, err := redis.ParseURL(appConfig.RedisURL)
		if err != nil {
			return err
		}
		redisClient = redis.NewClient(options)
		defer redisClient.Close()
		if err := redisClient.Ping(signalCtx).Err(); err != nil {
			return err
		}
	}

	var store cache.Cache
	switch appConfig.CacheBackend {
	case config.CacheBackendRedis:
		store = cache.NewRedis(redisClient, "")
	default:
		store = cache.NewMemory(time.Now)
	}

	workerCtx, cancelWorkers := context.WithCancel(signalCtx)
	var background sync.WaitGroup
	defer func() {
		cancelWorkers()
		background.Wait()
	}()

	dispatcher := broadcast.NewDispatcher()
	var transport broadcast.Transport
	switch appConfig.BroadcastTransport {
	case config.BroadcastTransportRedis:
		transport = broadcast.NewRedisTransport(redisClient, "", time.Now)
		relay := broadcast.NewRedisRelay(redisClient, "", dispatcher, logger)
		ready := make(chan struct{})
		background.Add(1)
		go func() {
			defer background.Done()
			if err := relay.Run(workerCtx, ready); err != nil {
				logger.Error("redis relay stopped", zap.Error(err))
			}
		}()
		select {
		case <-ready:
		case <-time.After(relayReadyTimeout):
			logger.Warn("redis relay not ready; continuing")
		}
	default:
		transport = broadcast.NewLocalTransport(dispatcher, time.Now)
	}

	fanout, err := broadcast.NewFanout(broadcast.FanoutConfig{
		Transport: transport,
		Timeout:   appConfig.BroadcastTimeout,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer fanout.Close()

	directoryService, err := directory.NewService(directory.ServiceConfig{
		Database: db,
		Cache:    store,
		CacheTTL: appConfig.CacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	idProvider := ids.NewUUIDProvider()

	channelService, err := channels.NewService(channels.ServiceConfig{
		Database:          db,
		Directory:         directoryService,
		Notifier:          fanout,
		Clock:             time.Now,
		IDProvider:        idProvider,
		MaxPinnedChannels: appConfig.MaxPinnedChannels,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		Notifier:   fanout,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	operationService, err := operations.NewService(operations.ServiceConfig{
		Database:         db,
		Transport:        transport,
		Notifications:    notificationService,
		Rooms:            channelService,
		Cache:            store,
		CacheTTL:         appConfig.CacheTTL,
		RetryWindow:      appConfig.OperationsRetryWindow,
		Retention:        appConfig.OperationsRetention,
		BroadcastTimeout: appConfig.BroadcastTimeout,
		Clock:            time.Now,
		IDProvider:       idProvider,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	worker := operations.NewWorker(operations.WorkerConfig{
		Service:         operationService,
		Purgers:         []operations.ExpiredPurger{notificationService},
		RetryInterval:   appConfig.OperationsRetryInterval,
		CleanupInterval: appConfig.OperationsCleanupInterval,
		Logger:          logger,
	})
	background.Add(1)
	go func() {
		defer background.Done()
		worker.Start(workerCtx)
	}()
	// Runs after the HTTP server has shut down: stop the worker, let pending
	// finalizations finish, then close the fan-out.
	defer func() {
		cancelWorkers()
		background.Wait()
		operationService.Wait()
		fanout.Close()
	}()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningKey),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Profiles:       directoryService,
		Channels:       channelService,
		Operations:     operationService,
		Notifications:  notificationService,
		Realtime:       dispatcher,
		ElevatedRoles:  appConfig.AuthElevatedRoles,
		AllowedOrigins: appConfig.HTTPAllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

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
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
