package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/halocore099/phone-repair-dashboard/awsx"
	"github.com/halocore099/phone-repair-dashboard/database"
	"github.com/halocore099/phone-repair-dashboard/providers"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/multierr"
)

const (
	dbSecretName          = "catalog-sync/DB_CREDENTIALS"
	woocommerceSecretName = "catalog-sync/WOOCOMMERCE_CREDENTIALS"
)

// Config holds all configuration for the catalog sync service.
type Config struct {
	Port        string
	Env         string
	LogDir      string
	CORSOrigins []string

	Postgres    database.PostgresConfig
	WooCommerce providers.WooCommerceConfig

	SyncInterval    time.Duration
	SyncOnStart     bool
	RedisURL        string
	SyncLockTTL     time.Duration
	SyncSNSTopicARN string
	ReportBucket    string

	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string
	UseSecrets          bool
}

// secretSource reads JSON object secrets.
type secretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads configuration from environment variables with optional
// Secrets Manager override.
func LoadConfig(ctx context.Context) (*Config, error) {
	cfg, err := configFromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.UseSecrets {
		awsCfg, err := awsx.LoadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		if err := applySecrets(ctx, cfg, awsx.NewSecretsClient(secretsmanager.NewFromConfig(awsCfg))); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configFromEnv() (*Config, error) {
	var errs []error
	duration := func(key string, fallback time.Duration) time.Duration {
		d, err := getDuration(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	integer := func(key string, fallback int) int {
		n, err := getInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}
	boolean := func(key string) bool {
		b, err := getBool(key)
		if err != nil {
			errs = append(errs, err)
		}
		return b
	}

	cfg := &Config{
		Port:        getEnv("PORT", "3001"),
		Env:         getEnv("APP_ENV", "development"),
		LogDir:      getEnv("LOG_DIR", "logs"),
		CORSOrigins: getList("CORS_ALLOWED_ORIGINS"),
		Postgres: database.PostgresConfig{
			User:            os.Getenv("POSTGRES_USER"),
			Password:        os.Getenv("POSTGRES_PASSWORD"),
			DBName:          os.Getenv("POSTGRES_DB"),
			Host:            os.Getenv("POSTGRES_HOST"),
			Port:            getEnv("POSTGRES_PORT", "5432"),
			SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
			TimeZone:        getEnv("POSTGRES_TIMEZONE", "UTC"),
			ConnectAttempts: 5,
		},
		WooCommerce: providers.WooCommerceConfig{
			BaseURL:        os.Getenv("WOOCOMMERCE_URL"),
			ConsumerKey:    os.Getenv("WOOCOMMERCE_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("WOOCOMMERCE_CONSUMER_SECRET"),
			Timeout:        duration("WOOCOMMERCE_TIMEOUT", 30*time.Second),
			DefaultStock:   integer("WOOCOMMERCE_DEFAULT_STOCK", providers.DefaultStockQuantity),
		},
		SyncInterval:        duration("SYNC_INTERVAL", time.Hour),
		SyncOnStart:         boolean("SYNC_ON_START"),
		RedisURL:            os.Getenv("REDIS_URL"),
		SyncLockTTL:         duration("SYNC_LOCK_TTL", 30*time.Minute),
		SyncSNSTopicARN:     os.Getenv("SYNC_SNS_TOPIC_ARN"),
		ReportBucket:        os.Getenv("SYNC_REPORT_BUCKET"),
		CloudWatchEnabled:   boolean("CLOUDWATCH_ENABLED"),
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", awsx.DefaultNamespace),
		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", awsx.DefaultLogGroup),
		UseSecrets:          boolean("AWS_USE_SECRETS"),
	}
	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySecrets overrides database and storefront credentials with the values stored in
// Secrets Manager. Missing keys keep their environment value.
func applySecrets(ctx context.Context, cfg *Config, src secretSource) error {
	db, err := src.GetSecretMap(ctx, dbSecretName)
	if err != nil {
		return fmt.Errorf("load database credentials: %w", err)
	}
	override(&cfg.Postgres.User, db["POSTGRES_USER"])
	override(&cfg.Postgres.Password, db["POSTGRES_PASSWORD"])
	override(&cfg.Postgres.DBName, db["POSTGRES_DB"])
	override(&cfg.Postgres.Host, db["POSTGRES_HOST"])
	override(&cfg.Postgres.Port, db["POSTGRES_PORT"])

	woo, err := src.GetSecretMap(ctx, woocommerceSecretName)
	if err != nil {
		return fmt.Errorf("load storefront credentials: %w", err)
	}
	override(&cfg.WooCommerce.BaseURL, woo["WOOCOMMERCE_URL"])
	override(&cfg.WooCommerce.ConsumerKey, woo["WOOCOMMERCE_CONSUMER_KEY"])
	override(&cfg.WooCommerce.ConsumerSecret, woo["WOOCOMMERCE_CONSUMER_SECRET"])
	return nil
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	if c.Postgres.User == "" || c.Postgres.Password == "" || c.Postgres.DBName == "" || c.Postgres.Host == "" {
		return fmt.Errorf("database config incomplete")
	}
	if c.WooCommerce.BaseURL == "" || c.WooCommerce.ConsumerKey == "" || c.WooCommerce.ConsumerSecret == "" {
		return fmt.Errorf("woocommerce config incomplete")
	}
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getList splits a comma separated variable, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
