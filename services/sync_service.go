package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/halocore099/phone-repair-dashboard/awsx"
	apperrors "github.com/halocore099/phone-repair-dashboard/errors"
	"github.com/halocore099/phone-repair-dashboard/models"
	"github.com/halocore099/phone-repair-dashboard/providers"
	"github.com/halocore099/phone-repair-dashboard/ratelimit"
	"github.com/halocore099/phone-repair-dashboard/repository"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SyncCompletedEvent is the SNS event type published after every run.
const SyncCompletedEvent = "catalog_sync_completed"

// SyncService reconciles the local repair catalog with the storefront.
type SyncService interface {
	// Sync runs one reconciliation. Per-item failures are recorded in the report; an error
	// is returned only when the run could not start or the initial fetch failed.
	Sync(ctx context.Context, opts models.SyncOptions) (*models.SyncReport, error)
}

// RunMetrics receives the per-run counters.
type RunMetrics interface {
	RecordValue(ctx context.Context, metricName string, value float64, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

// FetchError reports which side of the initial fetch failed. Both sides are unwrapped, so
// apperrors.IsStorage and IsStorefront see every failing side. KindOf reports the catalog
// side first.
type FetchError struct {
	Catalog    error
	Storefront error
}

func (e *FetchError) Error() string {
	return "initial fetch failed (" + strings.Join(e.Sides(), ", ") + "): " +
		multierr.Combine(e.Catalog, e.Storefront).Error()
}

// Unwrap returns the failing sides, catalog first.
func (e *FetchError) Unwrap() []error {
	return multierr.Errors(multierr.Combine(e.Catalog, e.Storefront))
}

// Sides names the failing sides.
func (e *FetchError) Sides() []string {
	var sides []string
	if e.Catalog != nil {
		sides = append(sides, "catalog store")
	}
	if e.Storefront != nil {
		sides = append(sides, "storefront")
	}
	return sides
}

// Option customizes the sync service.
type Option func(*syncService)

// WithGuard replaces the default in-process run guard.
func WithGuard(g RunGuard) Option {
	return func(s *syncService) { s.guard = g }
}

// WithMetrics publishes run counters after every run.
func WithMetrics(m RunMetrics) Option {
	return func(s *syncService) { s.metrics = m }
}

// WithEvents publishes a completion event to topicARN after every run.
func WithEvents(p awsx.SNSPublisher, topicARN string) Option {
	return func(s *syncService) {
		s.events = p
		s.topicARN = topicARN
	}
}

// WithReportArchive stores the full JSON report of every run.
func WithReportArchive(store awsx.ObjectStore) Option {
	return func(s *syncService) { s.archive = store }
}

// WithClock replaces the clock used for report timestamps.
func WithClock(c ratelimit.Clock) Option {
	return func(s *syncService) { s.clock = c }
}

type syncService struct {
	catalog  repository.CatalogRepository
	store    providers.StorefrontProvider
	guard    RunGuard
	metrics  RunMetrics
	events   awsx.SNSPublisher
	topicARN string
	archive  awsx.ObjectStore
	clock    ratelimit.Clock
	logger   *zap.Logger
}

// NewSyncService creates a new SyncService.
func NewSyncService(catalog repository.CatalogRepository, store providers.StorefrontProvider, logger *zap.Logger, opts ...Option) SyncService {
	s := &syncService{
		catalog: catalog,
		store:   store,
		guard:   NewLocalGuard(),
		clock:   ratelimit.RealClock(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *syncService) Sync(ctx context.Context, opts models.SyncOptions) (*models.SyncReport, error) {
	if opts.Limit < 0 {
		return nil, apperrors.Validation("limit must not be negative", nil)
	}

	release, err := s.guard.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	runID := uuid.NewString()
	log := s.logger.With(zap.String("run_id", runID))
	started := s.clock.Now()

	log.Info("Starting catalog sync", zap.Int("limit", opts.Limit), zap.Bool("dry_run", opts.DryRun))

	local, remote, err := s.fetch(ctx, opts.Limit)
	if err != nil {
		log.Error("Initial fetch failed", zap.Error(err))
		return nil, err
	}

	diff := Diff(local, BuildSKUIndex(remote), log)
	log.Info("Catalog diff computed",
		zap.Int("local", len(local)),
		zap.Int("remote", len(remote)),
		zap.Int("new", len(diff.NewItems)),
		zap.Int("updated", len(diff.UpdatedItems)),
		zap.Int("unchanged", len(diff.UnchangedItems)),
		zap.Int("skipped_no_sku", len(diff.Skipped)),
	)

	report := &models.SyncReport{
		RunID:           runID,
		DryRun:          opts.DryRun,
		StartedAt:       started,
		TotalConsidered: len(local),
		SkippedNoSKU:    len(diff.Skipped),
		Details:         make([]models.ItemDetail, 0, len(local)-len(diff.Skipped)),
	}

	s.applyCreates(ctx, log, report, diff.NewItems, opts.DryRun)
	s.applyUpdates(ctx, log, report, diff.UpdatedItems, opts.DryRun)
	for _, m := range diff.UnchangedItems {
		report.Record(models.ItemDetail{
			SKU:       m.Item.SKU,
			Name:      m.Item.ProductName(),
			Status:    models.StatusUnchanged,
			RemoteID:  m.RemoteID,
			Price:     models.FormatPrice(m.Item.Price),
			Timestamp: s.clock.Now(),
		})
	}

	report.FinishedAt = s.clock.Now()
	log.Info("Catalog sync finished",
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed", report.Failed),
		zap.Bool("dry_run", report.DryRun),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	s.publish(context.WithoutCancel(ctx), log, report)
	return report, nil
}

// fetch reads both catalogs concurrently and waits for both before returning.
func (s *syncService) fetch(ctx context.Context, limit int) ([]models.CatalogItem, []models.StorefrontProduct, error) {
	var (
		wg        sync.WaitGroup
		local     []models.CatalogItem
		remote    []models.StorefrontProduct
		localErr  error
		remoteErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		local, localErr = s.catalog.FetchCatalog(ctx, limit)
	}()
	go func() {
		defer wg.Done()
		remote, remoteErr = s.store.ListProducts(ctx)
	}()
	wg.Wait()

	if localErr != nil || remoteErr != nil {
		return nil, nil, &FetchError{Catalog: localErr, Storefront: remoteErr}
	}
	return local, remote, nil
}

func (s *syncService) applyCreates(ctx context.Context, log *zap.Logger, report *models.SyncReport, items []models.CatalogItem, dryRun bool) {
	for _, item := range items {
		detail := models.ItemDetail{
			SKU:   item.SKU,
			Name:  item.ProductName(),
			Price: models.FormatPrice(item.Price),
		}

		if dryRun {
			log.Info("Dry run: would create product", zap.String("sku", item.SKU), zap.String("name", detail.Name))
			detail.Status = models.StatusCreated
			detail.Simulated = true
			detail.Reason = "dry run"
			detail.Timestamp = s.clock.Now()
			report.Record(detail)
			continue
		}

		if err := ctx.Err(); err != nil {
			detail.Status = models.StatusFailed
			detail.Reason = "run cancelled: " + err.Error()
			detail.Timestamp = s.clock.Now()
			report.Record(detail)
			continue
		}

		// Once dispatched, a call runs to completion even if the run is cancelled.
		created, err := s.store.CreateProduct(context.WithoutCancel(ctx), item)
		detail.Timestamp = s.clock.Now()
		if err != nil {
			log.Error("Failed to create product", zap.String("sku", item.SKU), zap.Error(err))
			detail.Status = models.StatusFailed
			detail.Reason = err.Error()
			report.Record(detail)
			continue
		}

		detail.Status = models.StatusCreated
		detail.RemoteID = created.ID
		report.Record(detail)
	}
}

func (s *syncService) applyUpdates(ctx context.Context, log *zap.Logger, report *models.SyncReport, items []models.MatchedItem, dryRun bool) {
	for _, m := range items {
		detail := models.ItemDetail{
			SKU:           m.Item.SKU,
			Name:          m.Item.ProductName(),
			RemoteID:      m.RemoteID,
			Price:         models.FormatPrice(m.Item.Price),
			PreviousName:  m.PreviousName,
			PreviousPrice: m.PreviousPrice,
		}

		if dryRun {
			log.Info("Dry run: would update product",
				zap.String("sku", m.Item.SKU),
				zap.Int64("id", m.RemoteID),
				zap.String("previous_price", m.PreviousPrice),
				zap.String("price", detail.Price),
			)
			detail.Status = models.StatusUpdated
			detail.Simulated = true
			detail.Reason = "dry run"
			detail.Timestamp = s.clock.Now()
			report.Record(detail)
			continue
		}

		if err := ctx.Err(); err != nil {
			detail.Status = models.StatusFailed
			detail.Reason = "run cancelled: " + err.Error()
			detail.Timestamp = s.clock.Now()
			report.Record(detail)
			continue
		}

		res, err := s.store.UpdateProduct(context.WithoutCancel(ctx), m.RemoteID, models.ProductPatch{
			Name:  m.Item.ProductName(),
			Price: m.Item.Price,
		})
		detail.Timestamp = s.clock.Now()
		switch {
		case err != nil:
			log.Error("Failed to update product", zap.String("sku", m.Item.SKU), zap.Int64("id", m.RemoteID), zap.Error(err))
			detail.Status = models.StatusFailed
			detail.Reason = err.Error()
		case !res.Changed:
			// Someone else already brought the product in line since the listing.
			detail.Status = models.StatusUnchanged
			detail.Reason = "already up to date"
		default:
			detail.Status = models.StatusUpdated
			detail.Reason = "changed: " + strings.Join(res.ChangedFields, ",")
		}
		report.Record(detail)
	}
}

type syncCompletedMessage struct {
	Event      string    `json:"event"`
	RunID      string    `json:"run_id"`
	DryRun     bool      `json:"dry_run"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Unchanged  int       `json:"unchanged"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped_no_sku"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// publish ships run metrics and the completion event. Failures are logged only.
func (s *syncService) publish(ctx context.Context, log *zap.Logger, report *models.SyncReport) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.metrics != nil {
		dims := map[string]string{"DryRun": strconv.FormatBool(report.DryRun)}
		err := multierr.Combine(
			s.metrics.RecordValue(ctx, awsx.MetricSyncCreated, float64(report.Created), dims),
			s.metrics.RecordValue(ctx, awsx.MetricSyncUpdated, float64(report.Updated), dims),
			s.metrics.RecordValue(ctx, awsx.MetricSyncUnchanged, float64(report.Unchanged), dims),
			s.metrics.RecordValue(ctx, awsx.MetricSyncFailed, float64(report.Failed), dims),
			s.metrics.RecordLatency(ctx, awsx.MetricSyncDuration, report.FinishedAt.Sub(report.StartedAt), dims),
		)
		if err != nil {
			log.Warn("Failed to record sync metrics", zap.Error(err))
		}
	}

	if s.events != nil && s.topicARN != "" {
		msg, err := json.Marshal(syncCompletedMessage{
			Event:      SyncCompletedEvent,
			RunID:      report.RunID,
			DryRun:     report.DryRun,
			Created:    report.Created,
			Updated:    report.Updated,
			Unchanged:  report.Unchanged,
			Failed:     report.Failed,
			Skipped:    report.SkippedNoSKU,
			StartedAt:  report.StartedAt,
			FinishedAt: report.FinishedAt,
		})
		if err == nil {
			err = s.events.Publish(ctx, s.topicARN, msg)
		}
		if err != nil {
			log.Warn("Failed to publish sync event", zap.Error(err))
		}
	}

	if s.archive != nil {
		body, err := json.Marshal(report)
		if err == nil {
			err = s.archive.PutJSON(ctx, ReportKey(report), body)
		}
		if err != nil {
			log.Warn("Failed to archive sync report", zap.Error(err))
		}
	}
}

// ReportKey is the object key of an archived report, partitioned by run date.
func ReportKey(report *models.SyncReport) string {
	return fmt.Sprintf("sync-reports/%s/%s.json", report.StartedAt.UTC().Format("2006/01/02"), report.RunID)
}
