package controllers

import (
	"context"
	"net/http"

	apperrors "github.com/halocore099/phone-repair-dashboard/errors"
	"github.com/halocore099/phone-repair-dashboard/logger"
	"github.com/halocore099/phone-repair-dashboard/models"
	"github.com/halocore099/phone-repair-dashboard/ratelimit"
	"github.com/halocore099/phone-repair-dashboard/services"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "catalog-sync"

// Pinger probes the catalog store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LimiterStats exposes the storefront request budget.
type LimiterStats interface {
	Stats() ratelimit.Stats
}

// SyncController handles the sync trigger and diagnostics endpoints.
type SyncController struct {
	syncService services.SyncService
	db          Pinger
	limiter     LimiterStats
	logger      *zap.Logger
	validate    *validator.Validate
}

// NewSyncController creates a new SyncController. limiter may be nil.
func NewSyncController(svc services.SyncService, db Pinger, limiter LimiterStats, logger *zap.Logger) *SyncController {
	return &SyncController{
		syncService: svc,
		db:          db,
		limiter:     limiter,
		logger:      logger,
		validate:    validator.New(),
	}
}

// Root handles GET /
func (sc *SyncController) Root(ctx *gin.Context) {
	ctx.String(http.StatusOK, "Catalog sync server is running")
}

// Health handles GET /health
func (sc *SyncController) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "healthy", "service": ServiceName})
}

// DebugSync handles GET /debug-sync?limit=N&dry_run=true and returns the run report.
func (sc *SyncController) DebugSync(ctx *gin.Context) {
	opts, err := sc.parseSyncOptions(ctx)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	log := logger.FromContext(ctx.Request.Context(), sc.logger)
	log.Info("Manual sync triggered", zap.Int("limit", opts.Limit), zap.Bool("dry_run", opts.DryRun))

	// The run outlives the request: a client that disconnects must not abort it half way.
	report, err := sc.syncService.Sync(context.WithoutCancel(ctx.Request.Context()), opts)
	if err != nil {
		log.Error("Manual sync failed", zap.Error(err))
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, report)
}

// TestDB handles GET /test-db
func (sc *SyncController) TestDB(ctx *gin.Context) {
	if err := sc.db.Ping(ctx.Request.Context()); err != nil {
		logger.FromContext(ctx.Request.Context(), sc.logger).Error("Database probe failed", zap.Error(err))
		ctx.String(http.StatusInternalServerError, "Database connection failed: %s", err.Error())
		return
	}
	ctx.String(http.StatusOK, "Database connection successful!")
}

// LimiterStats handles GET /debug-sync/limiter
func (sc *SyncController) LimiterStats(ctx *gin.Context) {
	if sc.limiter == nil {
		ctx.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"enabled": true, "stats": sc.limiter.Stats()})
}

// syncQuery is the query string accepted by DebugSync.
type syncQuery struct {
	Limit  int  `form:"limit" validate:"gte=0"`
	DryRun bool `form:"dry_run"`
}

func (sc *SyncController) parseSyncOptions(ctx *gin.Context) (models.SyncOptions, error) {
	var q syncQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		return models.SyncOptions{}, apperrors.Validation("limit must be a non-negative integer and dry_run a boolean", err)
	}
	if err := sc.validate.Struct(&q); err != nil {
		return models.SyncOptions{}, apperrors.Validation("limit must be a non-negative integer", err)
	}
	return models.SyncOptions{Limit: q.Limit, DryRun: q.DryRun}, nil
}
