package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diamondstd/cycles/internal/httpapi"
	"github.com/diamondstd/cycles/internal/store/gormkv"
	"github.com/diamondstd/cycles/internal/store/pgkv"
	"github.com/diamondstd/cycles/internal/store/rtdb"
	"github.com/diamondstd/cycles/pkg/kv"
	"github.com/diamondstd/cycles/pkg/provision"
)

const (
	flagDatabaseURL         = "database-url"
	flagListenAddr          = "listen-addr"
	flagStoreDriver         = "store-driver"
	flagCredentialsFile     = "firebase-credentials-file"
	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyStoreDriver    = "store_driver"
	configKeyCredentials    = "firebase_credentials_file"
	configKeyAppSecret      = "app_secret_key"
	configKeyStripeSecret   = "stripe_webhook_secret"
	configKeyStripeAPIKey   = "stripe_api_key"
	configKeyHotmartToken   = "hotmart_hottok"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyStoreTimeout   = "store_timeout"
	configKeyMaxAttempts    = "max_allocation_attempts"

	defaultDatabaseURL  = "sqlite:///tmp/cycles.db"
	defaultListenAddr   = ":8080"
	defaultStoreTimeout = 10 * time.Second
)

type runtimeConfig struct {
	DatabaseURL     string
	StoreDriver     string
	CredentialsFile string
	HTTP            httpapi.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cyclesd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "cyclesd",
		Short:         "Payment webhook provisioning and cycle balance server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "store URL: postgres://, sqlite://, a sqlite path, or a Firebase RTDB https:// URL")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagStoreDriver, "auto", "store driver: auto, gorm, pgx, or rtdb")
	cmd.Flags().String(flagCredentialsFile, "", "Firebase service account credentials file")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "LISTEN_ADDR",
		configKeyStoreDriver:    "STORE_DRIVER",
		configKeyCredentials:    "FIREBASE_CREDENTIALS_FILE",
		configKeyAppSecret:      "APP_SECRET_KEY",
		configKeyStripeSecret:   "STRIPE_WEBHOOK_SECRET",
		configKeyStripeAPIKey:   "STRIPE_API_KEY",
		configKeyHotmartToken:   "HOTMART_HOTTOK",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeyStoreTimeout:   "STORE_TIMEOUT",
		configKeyMaxAttempts:    "MAX_ALLOCATION_ATTEMPTS",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL: flagDatabaseURL,
		configKeyListenAddr:  flagListenAddr,
		configKeyStoreDriver: flagStoreDriver,
		configKeyCredentials: flagCredentialsFile,
	}
	for key, flag := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	viper.SetDefault(configKeyStoreTimeout, defaultStoreTimeout)
	viper.SetDefault(configKeyMaxAttempts, provision.DefaultMaxAllocationAttempts)

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.StoreDriver = viper.GetString(configKeyStoreDriver)
	cfg.CredentialsFile = viper.GetString(configKeyCredentials)

	cfg.HTTP = httpapi.Config{
		ListenAddr:            viper.GetString(configKeyListenAddr),
		AppSecret:             viper.GetString(configKeyAppSecret),
		StripeWebhookSecret:   viper.GetString(configKeyStripeSecret),
		StripeAPIKey:          viper.GetString(configKeyStripeAPIKey),
		HotmartToken:          viper.GetString(configKeyHotmartToken),
		AllowedOrigins:        httpapi.ParseAllowedOrigins(viper.GetString(configKeyAllowedOrigins)),
		StoreTimeout:          viper.GetDuration(configKeyStoreTimeout),
		MaxAllocationAttempts: viper.GetInt(configKeyMaxAttempts),
	}
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = defaultListenAddr
	}
	return cfg.HTTP.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer cleanup()

	return httpapi.Run(ctx, cfg.HTTP, store, logger)
}

func openStore(ctx context.Context, cfg *runtimeConfig) (kv.Store, func(), error) {
	driver, sqlitePath, err := resolveDriver(cfg.DatabaseURL, cfg.StoreDriver)
	if err != nil {
		return nil, nil, err
	}

	switch driver {
	case "rtdb":
		store, err := rtdb.New(ctx, cfg.DatabaseURL, cfg.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case "pgx":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := pgkv.New(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	case "gorm-postgres":
		return openGorm(ctx, postgres.Open(cfg.DatabaseURL))

	case "sqlite":
		return openGorm(ctx, sqlite.Open(sqlitePath))

	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func openGorm(ctx context.Context, dialector gorm.Dialector) (kv.Store, func(), error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	store := gormkv.New(db.WithContext(ctx))
	if err := store.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return store, func() { _ = sqlDB.Close() }, nil
}

// resolveDriver maps the database URL and optional driver override onto a
// concrete backend. Postgres URLs default to the native pgx store; the gorm
// driver can be forced for deployments that want schema management through
// gorm on Postgres too.
func resolveDriver(dsn string, override string) (string, string, error) {
	override = strings.ToLower(strings.TrimSpace(override))

	if strings.HasPrefix(dsn, "https://") {
		return "rtdb", "", nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if override == "gorm" {
			return "gorm-postgres", "", nil
		}
		return "pgx", "", nil
	}
	if override == "rtdb" || override == "pgx" {
		return "", "", fmt.Errorf("driver %q requires a matching database url", override)
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "cycles.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
