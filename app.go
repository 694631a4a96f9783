package main

import (
	"context"
	"fmt"
	"os"

	"github.com/halocore099/phone-repair-dashboard/awsx"
	"github.com/halocore099/phone-repair-dashboard/controllers"
	"github.com/halocore099/phone-repair-dashboard/database"
	"github.com/halocore099/phone-repair-dashboard/logger"
	"github.com/halocore099/phone-repair-dashboard/providers"
	"github.com/halocore099/phone-repair-dashboard/ratelimit"
	"github.com/halocore099/phone-repair-dashboard/repository"
	servicepkg "github.com/halocore099/phone-repair-dashboard/services"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app is the dependency graph shared by the serve and sync commands.
type app struct {
	cfg      *Config
	log      *zap.Logger
	closeLog func() error

	db      *gorm.DB
	redis   *redis.Client
	limiter *ratelimit.Limiter
	repo    repository.CatalogRepository
	metrics *awsx.MetricsClient
	sync    servicepkg.SyncService
}

type appOptions struct {
	// lazyDB opens the pool without dialing so the server can start while the database is down.
	lazyDB bool
	// console receives human-oriented log output.
	console *os.File
}

func newApp(ctx context.Context, cfg *Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}

	// AWS is optional. Without it metrics, events, log shipping and report archiving are off.
	var awsCfg sdkaws.Config
	var awsErr error
	needAWS := cfg.CloudWatchEnabled || cfg.SyncSNSTopicARN != "" || cfg.ReportBucket != ""
	if needAWS {
		awsCfg, awsErr = awsx.LoadAWSConfig(ctx)
	}
	awsReady := needAWS && awsErr == nil

	var cwWriter *awsx.CloudWatchLogsClient
	var cwErr error
	if awsReady && cfg.CloudWatchEnabled {
		cwWriter, cwErr = awsx.NewCloudWatchLogsClient(ctx, cloudwatchlogs.NewFromConfig(awsCfg), cfg.CloudWatchLogGroup, controllers.ServiceName)
	}

	logOpts := logger.Options{Env: cfg.Env, Dir: cfg.LogDir}
	if opts.console != nil {
		logOpts.Console = opts.console
	}
	if cwWriter != nil {
		logOpts.CloudWatch = cwWriter
	}
	closeLog, err := logger.Initialize(logOpts)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a.log = logger.Log
	a.closeLog = closeLog

	if awsErr != nil {
		a.log.Warn("AWS config unavailable, metrics and events disabled", zap.Error(awsErr))
	}
	if cwErr != nil {
		a.log.Warn("CloudWatch Logs unavailable, shipping logs disabled", zap.Error(cwErr))
	}

	pg := cfg.Postgres
	pg.LazyConnect = opts.lazyDB
	a.db, err = database.ConnectPostgres(pg, a.log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.repo = repository.NewGormCatalogRepository(a.db)

	var guard servicepkg.RunGuard = servicepkg.NewLocalGuard()
	if cfg.RedisURL != "" {
		a.redis, err = database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		guard = servicepkg.NewRedisGuard(a.redis, servicepkg.DefaultLockKey, cfg.SyncLockTTL, a.log)
		a.log.Info("Using Redis run lock", zap.String("key", servicepkg.DefaultLockKey))
	}

	a.limiter = ratelimit.New(ratelimit.DefaultConfig(), nil)
	storefront := providers.NewWooCommerceProvider(cfg.WooCommerce, a.limiter, a.log)

	if awsReady {
		a.metrics = awsx.NewMetricsClient(cloudwatch.NewFromConfig(awsCfg), cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
	} else {
		a.metrics = awsx.NewMetricsClient(nil, cfg.CloudWatchNamespace, false)
	}

	syncOpts := []servicepkg.Option{
		servicepkg.WithGuard(guard),
		servicepkg.WithMetrics(a.metrics),
	}
	if awsReady && cfg.SyncSNSTopicARN != "" {
		syncOpts = append(syncOpts, servicepkg.WithEvents(
			awsx.NewSNSClient(sns.NewFromConfig(awsCfg), servicepkg.SyncCompletedEvent),
			cfg.SyncSNSTopicARN,
		))
	}
	if awsReady && cfg.ReportBucket != "" {
		syncOpts = append(syncOpts, servicepkg.WithReportArchive(
			awsx.NewS3Store(s3.NewFromConfig(awsCfg), cfg.ReportBucket),
		))
	}
	a.sync = servicepkg.NewSyncService(a.repo, storefront, a.log, syncOpts...)
	return a, nil
}

// Close releases connections and flushes the logs.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.log.Warn("Failed to close database", zap.Error(err))
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}
