package providers

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/halocore099/phone-repair-dashboard/errors"
	"github.com/halocore099/phone-repair-dashboard/models"
	"github.com/halocore099/phone-repair-dashboard/ratelimit"

	"go.uber.org/zap"
)

const (
	apiPath = "/wp-json/wc/v3"

	// PageSize is the number of products requested per listing page.
	PageSize = 100
	// DefaultStockQuantity is the stock level given to newly created products.
	DefaultStockQuantity = 10
	// LastSyncMetaKey is the meta entry stamped on every product the sync writes.
	LastSyncMetaKey = "_last_sync"

	maxErrorBody = 512
)

// StorefrontProvider defines the storefront product operations the sync needs.
type StorefrontProvider interface {
	// ListProducts returns the whole storefront catalog in ascending id order.
	ListProducts(ctx context.Context) ([]models.StorefrontProduct, error)

	// GetProduct fetches a single product.
	GetProduct(ctx context.Context, id int64) (*models.StorefrontProduct, error)

	// CreateProduct creates a product for a catalog item.
	CreateProduct(ctx context.Context, item models.CatalogItem) (*models.StorefrontProduct, error)

	// UpdateProduct writes only the fields of patch that differ from the live product and
	// verifies the write. A result with Changed == false means nothing was sent.
	UpdateProduct(ctx context.Context, id int64, patch models.ProductPatch) (*models.UpdateResult, error)
}

// WooCommerceConfig holds the storefront connection settings.
type WooCommerceConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
	DefaultStock   int
}

// StatusError is a non-2xx storefront response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("woocommerce API error (status %d): %s", e.StatusCode, e.Body)
}

// WooCommerceProvider implements StorefrontProvider against the WooCommerce REST API.
type WooCommerceProvider struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	defaultStock   int
	httpClient     *http.Client
	scheduler      ratelimit.Scheduler
	retry          ratelimit.RetryPolicy
	clock          ratelimit.Clock
	logger         *zap.Logger
}

// Option customizes a WooCommerceProvider.
type Option func(*WooCommerceProvider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *WooCommerceProvider) { p.httpClient = c }
}

// WithRetryPolicy replaces the default 429 retry policy.
func WithRetryPolicy(rp ratelimit.RetryPolicy) Option {
	return func(p *WooCommerceProvider) { p.retry = rp }
}

// WithClock replaces the clock used for retry waits and sync timestamps.
func WithClock(c ratelimit.Clock) Option {
	return func(p *WooCommerceProvider) { p.clock = c }
}

// NewWooCommerceProvider creates a new WooCommerceProvider. Every request goes through
// scheduler.
func NewWooCommerceProvider(cfg WooCommerceConfig, scheduler ratelimit.Scheduler, logger *zap.Logger, opts ...Option) *WooCommerceProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	stock := cfg.DefaultStock
	if stock <= 0 {
		stock = DefaultStockQuantity
	}
	if scheduler == nil {
		scheduler = ratelimit.Unlimited()
	}
	p := &WooCommerceProvider{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/") + apiPath,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		defaultStock:   stock,
		httpClient:     &http.Client{Timeout: timeout},
		scheduler:      scheduler,
		retry:          ratelimit.DefaultRetryPolicy(),
		clock:          ratelimit.RealClock(),
		logger:         logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ---- WooCommerce request bodies ----

type productUpdate struct {
	Name         *string           `json:"name,omitempty"`
	RegularPrice *string           `json:"regular_price,omitempty"`
	MetaData     []models.MetaData `json:"meta_data"`
}

// ---- StorefrontProvider implementation ----

// ListProducts pages through /products until a short page is returned.
func (p *WooCommerceProvider) ListProducts(ctx context.Context) ([]models.StorefrontProduct, error) {
	p.logger.Debug("Starting WooCommerce product fetch")

	var all []models.StorefrontProduct
	page := 1
	for {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(PageSize))
		q.Set("page", strconv.Itoa(page))
		q.Set("orderby", "id")
		q.Set("order", "asc")

		var batch []models.StorefrontProduct
		if err := p.doRequest(ctx, http.MethodGet, "/products", q, nil, &batch); err != nil {
			p.logger.Error("Product fetch failed", zap.Int("page", page), zap.Error(err))
			return nil, fmt.Errorf("list products page %d: %w", page, err)
		}
		all = append(all, batch...)

		p.logger.Debug("Fetched product page",
			zap.Int("page", page),
			zap.Int("items", len(batch)),
			zap.Int("total", len(all)),
		)

		if len(batch) < PageSize {
			break
		}
		page++
	}

	p.logger.Info("Fetched WooCommerce products", zap.Int("total", len(all)), zap.Int("pages", page))
	return all, nil
}

// GetProduct fetches /products/:id.
func (p *WooCommerceProvider) GetProduct(ctx context.Context, id int64) (*models.StorefrontProduct, error) {
	var product models.StorefrontProduct
	if err := p.doRequest(ctx, http.MethodGet, productPath(id), nil, nil, &product); err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	return &product, nil
}

// CreateProduct posts a new product built from item.
func (p *WooCommerceProvider) CreateProduct(ctx context.Context, item models.CatalogItem) (*models.StorefrontProduct, error) {
	draft := models.ProductDraft{
		Name:          item.ProductName(),
		SKU:           item.SKU,
		RegularPrice:  models.FormatPrice(item.Price),
		StockQuantity: p.defaultStock,
	}

	p.logger.Debug("Creating product", zap.String("sku", draft.SKU))

	var created models.StorefrontProduct
	if err := p.doRequest(ctx, http.MethodPost, "/products", nil, draft, &created); err != nil {
		p.logger.Error("Creation failed", zap.String("sku", draft.SKU), zap.Error(err))
		return nil, fmt.Errorf("create product %s: %w", draft.SKU, err)
	}

	p.logger.Info("Created product", zap.String("sku", draft.SKU), zap.Int64("id", created.ID))
	return &created, nil
}

// UpdateProduct reads the live product, writes only what differs, then reads it back.
func (p *WooCommerceProvider) UpdateProduct(ctx context.Context, id int64, patch models.ProductPatch) (*models.UpdateResult, error) {
	current, err := p.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	name := models.TruncateName(patch.Name)
	price := models.FormatPrice(patch.Price)

	var body productUpdate
	var changed []string
	if current.Name != name {
		body.Name = &name
		changed = append(changed, "name")
	}
	if !models.PriceMatches(patch.Price, current.CurrentPrice()) {
		body.RegularPrice = &price
		changed = append(changed, "price")
	}

	if len(changed) == 0 {
		p.logger.Debug("Product already up to date", zap.Int64("id", id))
		return &models.UpdateResult{Product: current, Changed: false}, nil
	}

	body.MetaData = make([]models.MetaData, 0, len(current.MetaData)+1)
	body.MetaData = append(body.MetaData, current.MetaData...)
	body.MetaData = append(body.MetaData, models.MetaData{
		Key:   LastSyncMetaKey,
		Value: p.clock.Now().UTC().Format(time.RFC3339),
	})

	p.logger.Debug("Updating product", zap.Int64("id", id), zap.Strings("fields", changed))

	if err := p.doRequest(ctx, http.MethodPut, productPath(id), nil, body, nil); err != nil {
		p.logger.Error("Update failed", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("update product %d: %w", id, err)
	}

	after, err := p.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("verify product %d: %w", id, err)
	}
	if mismatch := verifyWrite(after, body, patch); mismatch != "" {
		return nil, apperrors.Storefront(
			fmt.Sprintf("verification failed for product %d", id),
			stderrors.New(mismatch),
		)
	}

	p.logger.Info("Updated product", zap.Int64("id", id), zap.Strings("fields", changed))
	return &models.UpdateResult{Product: after, Changed: true, ChangedFields: changed}, nil
}

// verifyWrite compares the re-fetched product with the fields that were written.
func verifyWrite(after *models.StorefrontProduct, body productUpdate, patch models.ProductPatch) string {
	var problems []string
	if body.Name != nil && after.Name != *body.Name {
		problems = append(problems, fmt.Sprintf("expected name %q, got %q", *body.Name, after.Name))
	}
	if body.RegularPrice != nil && !models.PriceMatches(patch.Price, after.CurrentPrice()) {
		problems = append(problems, fmt.Sprintf("expected price %s, got %s", *body.RegularPrice, after.CurrentPrice()))
	}
	return strings.Join(problems, "; ")
}

// ---- HTTP helper ----

// doRequest sends one API call through the scheduler, retrying 429 responses under the
// retry policy. Every other failure is returned as a storefront error.
func (p *WooCommerceProvider) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apperrors.Storefront("marshal request", err)
		}
		payload = b
	}

	target := p.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	op := method + " " + path

	for attempt := 1; ; attempt++ {
		var status int
		var retryAfter string
		var respBytes []byte

		err := p.scheduler.Schedule(ctx, func(ctx context.Context) error {
			var reqBody io.Reader
			if payload != nil {
				reqBody = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.SetBasicAuth(p.consumerKey, p.consumerSecret)
			req.Header.Set("Accept", "application/json")
			if payload != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := p.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("http do: %w", err)
			}
			defer resp.Body.Close()

			respBytes, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			status = resp.StatusCode
			retryAfter = resp.Header.Get("Retry-After")
			return nil
		})
		if err != nil {
			return apperrors.Storefront(op, err)
		}

		if status == http.StatusTooManyRequests {
			if attempt >= p.retry.Attempts() {
				return apperrors.Storefront(op, fmt.Errorf("still rate limited after %d attempts", attempt))
			}
			hint, _ := ratelimit.ParseRetryAfter(retryAfter, p.clock.Now())
			wait := p.retry.Delay(attempt, hint)
			p.logger.Warn("Rate limited by storefront, backing off",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
			if err := p.clock.Sleep(ctx, wait); err != nil {
				return apperrors.Storefront(op, err)
			}
			continue
		}

		if status < 200 || status >= 300 {
			return apperrors.Storefront(op, &StatusError{StatusCode: status, Body: truncate(string(respBytes), maxErrorBody)})
		}

		if out != nil && len(respBytes) > 0 {
			if err := json.Unmarshal(respBytes, out); err != nil {
				return apperrors.Storefront(op, fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}
}

func productPath(id int64) string {
	return "/products/" + strconv.FormatInt(id, 10)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
