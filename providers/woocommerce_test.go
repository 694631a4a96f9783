package providers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	apperrors "github.com/halocore099/phone-repair-dashboard/errors"
	"github.com/halocore099/phone-repair-dashboard/models"
	"github.com/halocore099/phone-repair-dashboard/providers"
	"github.com/halocore099/phone-repair-dashboard/ratelimit"
	"github.com/halocore099/phone-repair-dashboard/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testKey    = "ck_test"
	testSecret = "cs_test"
)

var testStart = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// ---- helper ----

func newTestProvider(t *testing.T, opts ...providers.Option) (*providers.WooCommerceProvider, *testutil.WooServer, *testutil.FakeClock) {
	t.Helper()
	srv := testutil.NewWooServer(testKey, testSecret)
	t.Cleanup(srv.Close)

	clock := testutil.NewFakeClock(testStart)
	opts = append([]providers.Option{providers.WithClock(clock)}, opts...)
	p := providers.NewWooCommerceProvider(providers.WooCommerceConfig{
		BaseURL:        srv.URL + "/",
		ConsumerKey:    testKey,
		ConsumerSecret: testSecret,
	}, ratelimit.Unlimited(), zap.NewNop(), opts...)
	return p, srv, clock
}

func seedProducts(srv *testutil.WooServer, n int) {
	for i := 1; i <= n; i++ {
		srv.Seed(models.StorefrontProduct{
			ID:           int64(i),
			SKU:          fmt.Sprintf("SKU-%03d", i),
			Name:         fmt.Sprintf("Device %d - Screen", i),
			Price:        "10.00",
			RegularPrice: "10.00",
		})
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ---- tests ----

func TestListProducts_Paginates(t *testing.T) {
	p, srv, _ := newTestProvider(t)
	seedProducts(srv, 205)

	products, err := p.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 205)
	assert.Equal(t, int64(1), products[0].ID)
	assert.Equal(t, int64(205), products[204].ID)

	reqs := srv.Requests()
	require.Len(t, reqs, 3)
	for i, r := range reqs {
		assert.Equal(t, fmt.Sprint(i+1), r.Query.Get("page"))
		assert.Equal(t, "100", r.Query.Get("per_page"))
		assert.Equal(t, "id", r.Query.Get("orderby"))
		assert.Equal(t, "asc", r.Query.Get("order"))
	}
}

func TestListProducts_ExactPageMultiple(t *testing.T) {
	p, srv, _ := newTestProvider(t)
	seedProducts(srv, 100)

	products, err := p.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 100)
	// the second, empty page ends the listing
	assert.Equal(t, 2, srv.Count(http.MethodGet, "/products"))
}

func TestListProducts_Empty(t *testing.T) {
	p, _, _ := newTestProvider(t)

	products, err := p.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestListProducts_RetriesThrottledPage(t *testing.T) {
	p, srv, clock := newTestProvider(t)
	seedProducts(srv, 150)
	srv.ThrottlePage(2, 1, "2")

	products, err := p.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 150)

	var pages []string
	for _, r := range srv.Requests() {
		pages = append(pages, r.Query.Get("page"))
	}
	assert.Equal(t, []string{"1", "2", "2"}, pages)
	assert.Equal(t, []time.Duration{2 * time.Second}, clock.Sleeps())
}

func TestListProducts_GivesUpAfterRetryBudget(t *testing.T) {
	p, srv, clock := newTestProvider(t, providers.WithRetryPolicy(ratelimit.RetryPolicy{
		MaxAttempts:  3,
		DefaultDelay: time.Second,
	}))
	seedProducts(srv, 5)
	srv.ThrottlePage(1, 10, "")

	_, err := p.ListProducts(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsStorefront(err))
	assert.Contains(t, err.Error(), "page 1")
	assert.Equal(t, 3, srv.Count(http.MethodGet, "/products"))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps())
}

func TestListProducts_BadCredentials(t *testing.T) {
	srv := testutil.NewWooServer(testKey, testSecret)
	defer srv.Close()
	p := providers.NewWooCommerceProvider(providers.WooCommerceConfig{
		BaseURL:        srv.URL,
		ConsumerKey:    "wrong",
		ConsumerSecret: "wrong",
	}, nil, zap.NewNop())

	_, err := p.ListProducts(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsStorefront(err))

	var statusErr *providers.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestCreateProduct_Payload(t *testing.T) {
	p, srv, _ := newTestProvider(t)
	item := models.CatalogItem{
		DeviceName: strings.Repeat("X", 130),
		Brand:      "Apple",
		RepairType: "Screen",
		Price:      dec("19.5"),
		SKU:        "LONG-1",
	}

	created, err := p.CreateProduct(context.Background(), item)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	assert.Equal(t, "LONG-1", body["sku"])
	assert.Equal(t, "19.50", body["regular_price"])
	assert.Equal(t, float64(10), body["stock_quantity"])
	assert.Len(t, []rune(body["name"].(string)), models.MaxProductNameLength)
}

func TestCreateProduct_Rejected(t *testing.T) {
	p, srv, _ := newTestProvider(t)
	srv.FailCreate("DUP-1", http.StatusBadRequest)

	_, err := p.CreateProduct(context.Background(), models.CatalogItem{
		DeviceName: "Pixel 7", RepairType: "Battery", Price: dec("40"), SKU: "DUP-1",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsStorefront(err))
	assert.Contains(t, err.Error(), "DUP-1")
	assert.Contains(t, err.Error(), "status 400")
}

func TestUpdateProduct_NoChangeSkipsWrite(t *testing.T) {
	p, srv, _ := newTestProvider(t)
	srv.Seed(models.StorefrontProduct{ID: 7, SKU: "A", Name: "iPhone 13 - Screen", Price: "129.9", RegularPrice: "129.90"})

	res, err := p.UpdateProduct(context.Background(), 7, models.ProductPatch{Name: "iPhone 13 - Screen", Price: dec("129.90")})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, res.ChangedFields)
	assert.Equal(t, 0, srv.Count(http.MethodPut, "/products"))
}

func TestUpdateProduct_WritesOnlyDiffAndStampsMeta(t *testing.T) {
	p, srv, _ := newTestProvider(t)
	srv.Seed(models.StorefrontProduct{
		ID:           9,
		SKU:          "B",
		Name:         "Galaxy S22 - Battery",
		Price:        "50.00",
		RegularPrice: "50.00",
		MetaData:     []models.MetaData{{ID: 3, Key: "warranty", Value: "90d"}},
	})

	res, err := p.UpdateProduct(context.Background(), 9, models.ProductPatch{Name: "Galaxy S22 - Battery", Price: dec("59.5")})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{"price"}, res.ChangedFields)
	assert.Equal(t, "59.50", res.Product.RegularPrice)

	var put *testutil.RecordedRequest
	for _, r := range srv.Requests() {
		if r.Method == http.MethodPut {
			r := r
			put = &r
		}
	}
	require.NotNil(t, put)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(put.Body, &body))
	assert.NotContains(t, body, "name")
	assert.Equal(t, "59.50", body["regular_price"])

	meta := body["meta_data"].([]interface{})
	require.Len(t, meta, 2)
	assert.Equal(t, "warranty", meta[0].(map[string]interface{})["key"])
	stamp := meta[1].(map[string]interface{})
	assert.Equal(t, providers.LastSyncMetaKey, stamp["key"])
	assert.Equal(t, testStart.Format(time.RFC3339), stamp["value"])

	stored, ok := srv.Product(9)
	require.True(t, ok)
	assert.Len(t, stored.MetaData, 2)
}

func TestUpdateProduct_VerificationMismatch(t *testing.T) {
	p, srv, _ := newTestProvider(t)
	srv.Seed(models.StorefrontProduct{ID: 5, SKU: "C", Name: "Pixel 7 - Screen", Price: "20.00", RegularPrice: "20.00"})
	srv.IgnorePriceWrites(5)

	_, err := p.UpdateProduct(context.Background(), 5, models.ProductPatch{Name: "Pixel 7 - Screen", Price: dec("25")})
	require.Error(t, err)
	assert.True(t, apperrors.IsStorefront(err))
	assert.Contains(t, err.Error(), "verification failed for product 5")
	assert.Contains(t, err.Error(), "expected price 25.00, got 20.00")
}

func TestUpdateProduct_MissingProduct(t *testing.T) {
	p, _, _ := newTestProvider(t)

	_, err := p.UpdateProduct(context.Background(), 404, models.ProductPatch{Name: "X", Price: dec("1")})
	require.Error(t, err)
	assert.True(t, apperrors.IsStorefront(err))

	var statusErr *providers.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestRequests_GoThroughScheduler(t *testing.T) {
	srv := testutil.NewWooServer(testKey, testSecret)
	defer srv.Close()
	seedProducts(srv, 3)

	sched := &countingScheduler{}
	p := providers.NewWooCommerceProvider(providers.WooCommerceConfig{
		BaseURL: srv.URL, ConsumerKey: testKey, ConsumerSecret: testSecret,
	}, sched, zap.NewNop())

	_, err := p.ListProducts(context.Background())
	require.NoError(t, err)
	_, err = p.GetProduct(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, sched.calls)
}

type countingScheduler struct{ calls int }

func (s *countingScheduler) Schedule(ctx context.Context, fn func(context.Context) error) error {
	s.calls++
	return fn(ctx)
}
