package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/portfolio/internal/auth"
	"github.com/MarcoPoloResearchLab/portfolio/internal/cache"
	"github.com/MarcoPoloResearchLab/portfolio/internal/config"
	"github.com/MarcoPoloResearchLab/portfolio/internal/database"
	"github.com/MarcoPoloResearchLab/portfolio/internal/gallery"
	"github.com/MarcoPoloResearchLab/portfolio/internal/logging"
	"github.com/MarcoPoloResearchLab/portfolio/internal/payload"
	"github.com/MarcoPoloResearchLab/portfolio/internal/roster"
	"github.com/MarcoPoloResearchLab/portfolio/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	shutdownTimeout  = 10 * time.Second
	cachePingTimeout = 2 * time.Second
)

var (
	cfgFile string

	errPasswordMismatch = errors.New("password does not match the configured hash")
	errEmptyPassword    = errors.New("password must not be empty")
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "portfolio-api",
		Short: "Portfolio admin backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations()
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the admin password hash to configure as auth.admin_password_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := passwordArgument(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			hash, err := auth.HashForStorage(password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "verify-password [password]",
		Short: "Check a password against the configured admin hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := passwordArgument(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			verifier, err := auth.NewPasswordVerifier(viper.GetString("auth.admin_password_hash"))
			if err != nil {
				return err
			}
			if !verifier.Verify(auth.ClientDigest(password)) {
				return errPasswordMismatch
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "password matches")
			return err
		},
	})

	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres DSN")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Payload storage backend (filesystem, minio)")
	cmd.PersistentFlags().String("storage-root", defaults.GetString("storage.root"), "Payload directory for filesystem storage")
	cmd.PersistentFlags().String("redis-address", "", "Redis address for the gallery read cache")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Admin token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "storage.root", "storage-root")
	bindFlag(cmd, "cache.redis_address", "redis-address")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotenv(); err != nil {
		return err
	}
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

func passwordArgument(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		if args[0] == "" {
			return "", errEmptyPassword
		}
		return args[0], nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errEmptyPassword
	}
	return password, nil
}

func databaseConfig(configViper *viper.Viper) database.Config {
	return database.Config{
		Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		Path:   configViper.GetString("database.path"),
		DSN:    configViper.GetString("database.dsn"),
	}
}

func runMigrations() error {
	logger, err := logging.NewLogger(viper.GetString("log.level"))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(databaseConfig(viper.GetViper()), logger)
	if err != nil {
		return err
	}
	return database.Close(db)
}

func openPayloadStore(ctx context.Context, appConfig config.AppConfig) (*payload.Guard, error) {
	var backend payload.Store
	switch appConfig.StorageBackend {
	case config.StorageMinio:
		store, err := payload.NewMinioStore(ctx, payload.MinioConfig{
			Endpoint:        appConfig.MinioEndpoint,
			AccessKeyID:     appConfig.MinioAccessKey,
			SecretAccessKey: appConfig.MinioSecretKey,
			Bucket:          appConfig.MinioBucket,
			UseSSL:          appConfig.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		backend = store
	default:
		store, err := payload.NewFilesystemStore(afero.NewOsFs(), appConfig.StorageRoot)
		if err != nil {
			return nil, err
		}
		backend = store
	}
	return payload.NewGuard(backend, appConfig.MaxUploadSize, payload.DefaultAllowedTypes)
}

func openViewCache(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*cache.RedisGalleryCache, error) {
	viewCache, err := cache.NewRedisGalleryCache(cache.Options{
		Address:  appConfig.RedisAddress,
		Password: appConfig.RedisPassword,
		TTL:      appConfig.CacheTTL,
	})
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, cachePingTimeout)
	defer cancel()
	if err := viewCache.Ping(pingCtx); err != nil {
		logger.Warn("gallery cache unreachable at startup", zap.String("address", appConfig.RedisAddress), zap.Error(err))
	}
	return viewCache, nil
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

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	defer database.Close(db) //nolint:errcheck

	passwords, err := auth.NewPasswordVerifier(appConfig.AdminPasswordHash)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	authorizer := auth.AnyOf(tokens, passwords)

	payloads, err := openPayloadStore(ctx, appConfig)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	dispatcher := server.NewRealtimeDispatcher()

	galleryConfig := gallery.ServiceConfig{
		Database:   db,
		Authorizer: authorizer,
		Payloads:   payloads,
		Notifier:   dispatcher,
		Metrics:    gallery.NewMetrics(registry),
		Clock:      time.Now,
		IDProvider: gallery.NewUUIDProvider(),
		Logger:     logger,
	}
	if appConfig.RedisAddress != "" {
		viewCache, err := openViewCache(ctx, appConfig, logger)
		if err != nil {
			return err
		}
		defer viewCache.Close() //nolint:errcheck
		galleryConfig.Cache = viewCache
	}

	galleryService, err := gallery.NewService(galleryConfig)
	if err != nil {
		return err
	}
	rosterService, err := roster.NewService(roster.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Authorizer:        authorizer,
		Tokens:            tokens,
		Passwords:         passwords,
		Roster:            rosterService,
		Gallery:           galleryService,
		Payloads:          payloads,
		Realtime:          dispatcher,
		Gatherer:          registry,
		Logger:            logger,
		MaxAttempts:       appConfig.GalleryMaxAttempts,
		MaxUploadBytes:    int64(appConfig.MaxUploadBytes),
		HeartbeatInterval: appConfig.HeartbeatInterval,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
		BaseContext: func(net.Listener) context.Context {
			return signalCtx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
			zap.String("storage_backend", appConfig.StorageBackend),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
