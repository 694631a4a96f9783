package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/halocore099/phone-repair-dashboard/models"
)

// RecordedRequest is one request seen by a WooServer.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

type throttleRule struct {
	remaining  int
	retryAfter string
}

// WooServer is an in-memory WooCommerce products API for tests. Paths are served under
// /wp-json/wc/v3 and require HTTP basic auth with the configured key and secret.
type WooServer struct {
	*httptest.Server

	key    string
	secret string

	mu           sync.Mutex
	products     map[int64]*models.StorefrontProduct
	nextID       int64
	nextMetaID   int64
	pageThrottle map[int]*throttleRule
	createFail   map[string]int
	stickyPrice  map[int64]bool
	requests     []RecordedRequest
}

// NewWooServer starts a fake storefront.
func NewWooServer(key, secret string) *WooServer {
	s := &WooServer{
		key:          key,
		secret:       secret,
		products:     make(map[int64]*models.StorefrontProduct),
		nextID:       1,
		nextMetaID:   1,
		pageThrottle: make(map[int]*throttleRule),
		createFail:   make(map[string]int),
		stickyPrice:  make(map[int64]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Seed stores products as-is. Products without an id get the next free one.
func (s *WooServer) Seed(products ...models.StorefrontProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		p := p
		if p.ID == 0 {
			p.ID = s.nextID
		}
		if p.ID >= s.nextID {
			s.nextID = p.ID + 1
		}
		s.products[p.ID] = &p
	}
}

// ThrottlePage answers the next `times` requests for listing page `page` with 429.
func (s *WooServer) ThrottlePage(page, times int, retryAfter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageThrottle[page] = &throttleRule{remaining: times, retryAfter: retryAfter}
}

// FailCreate makes POST /products for sku answer with status.
func (s *WooServer) FailCreate(sku string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createFail[sku] = status
}

// IgnorePriceWrites makes PUT /products/:id accept but drop regular_price changes.
func (s *WooServer) IgnorePriceWrites(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stickyPrice[id] = true
}

// Product returns a copy of the stored product.
func (s *WooServer) Product(id int64) (models.StorefrontProduct, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return models.StorefrontProduct{}, false
	}
	return copyProduct(p), true
}

// Products returns every stored product ordered by id.
func (s *WooServer) Products() []models.StorefrontProduct {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Requests returns the recorded requests in arrival order.
func (s *WooServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns the number of recorded requests with method whose path starts with prefix.
func (s *WooServer) Count(method, prefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			n++
		}
	}
	return n
}

// Mutations returns the number of POST and PUT requests received.
func (s *WooServer) Mutations() int {
	return s.Count(http.MethodPost, "/") + s.Count(http.MethodPut, "/")
}

func (s *WooServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, "/wp-json/wc/v3")

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{Method: r.Method, Path: path, Query: r.URL.Query(), Body: body})
	s.mu.Unlock()

	if user, pass, ok := r.BasicAuth(); !ok || user != s.key || pass != s.secret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "woocommerce_rest_cannot_view"})
		return
	}

	switch {
	case path == "/products" && r.Method == http.MethodGet:
		s.list(w, r)
	case path == "/products" && r.Method == http.MethodPost:
		s.create(w, body)
	case strings.HasPrefix(path, "/products/"):
		id, err := strconv.ParseInt(strings.TrimPrefix(path, "/products/"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"code": "rest_invalid_param"})
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.get(w, id)
		case http.MethodPut:
			s.update(w, id, body)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *WooServer) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 {
		perPage = 10
	}

	s.mu.Lock()
	if rule, ok := s.pageThrottle[page]; ok && rule.remaining > 0 {
		rule.remaining--
		s.mu.Unlock()
		if rule.retryAfter != "" {
			w.Header().Set("Retry-After", rule.retryAfter)
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"code": "too_many_requests"})
		return
	}
	all := s.sortedLocked()
	s.mu.Unlock()

	from := (page - 1) * perPage
	if from > len(all) {
		from = len(all)
	}
	to := from + perPage
	if to > len(all) {
		to = len(all)
	}
	writeJSON(w, http.StatusOK, all[from:to])
}

func (s *WooServer) create(w http.ResponseWriter, body []byte) {
	var draft models.ProductDraft
	if err := json.Unmarshal(body, &draft); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "rest_invalid_json"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.createFail[draft.SKU]; ok {
		writeJSON(w, status, map[string]string{"code": "product_invalid_sku", "sku": draft.SKU})
		return
	}
	p := &models.StorefrontProduct{
		ID:           s.nextID,
		SKU:          draft.SKU,
		Name:         draft.Name,
		Price:        draft.RegularPrice,
		RegularPrice: draft.RegularPrice,
		MetaData:     []models.MetaData{},
	}
	s.nextID++
	s.products[p.ID] = p
	writeJSON(w, http.StatusCreated, p)
}

func (s *WooServer) get(w http.ResponseWriter, id int64) {
	s.mu.Lock()
	p, ok := s.products[id]
	var out models.StorefrontProduct
	if ok {
		out = copyProduct(p)
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "woocommerce_rest_product_invalid_id"})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *WooServer) update(w http.ResponseWriter, id int64, body []byte) {
	var patch struct {
		Name         *string           `json:"name"`
		RegularPrice *string           `json:"regular_price"`
		MetaData     []models.MetaData `json:"meta_data"`
	}
	if err := json.Unmarshal(body, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "rest_invalid_json"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "woocommerce_rest_product_invalid_id"})
		return
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.RegularPrice != nil && !s.stickyPrice[id] {
		p.RegularPrice = *patch.RegularPrice
		p.Price = *patch.RegularPrice
	}
	for _, m := range patch.MetaData {
		if m.ID != 0 {
			for i := range p.MetaData {
				if p.MetaData[i].ID == m.ID {
					p.MetaData[i].Value = m.Value
				}
			}
			continue
		}
		m.ID = s.nextMetaID
		s.nextMetaID++
		p.MetaData = append(p.MetaData, m)
	}
	writeJSON(w, http.StatusOK, copyProduct(p))
}

func (s *WooServer) sortedLocked() []models.StorefrontProduct {
	out := make([]models.StorefrontProduct, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, copyProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyProduct(p *models.StorefrontProduct) models.StorefrontProduct {
	out := *p
	out.MetaData = append([]models.MetaData(nil), p.MetaData...)
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
