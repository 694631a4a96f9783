package models

import "github.com/shopspring/decimal"

// MetaData is a single key/value entry attached to a storefront product.
type MetaData struct {
	ID    int64       `json:"id,omitempty"`
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// StorefrontProduct is the subset of a WooCommerce product the sync reads.
type StorefrontProduct struct {
	ID           int64      `json:"id"`
	SKU          string     `json:"sku"`
	Name         string     `json:"name"`
	Price        string     `json:"price"`
	RegularPrice string     `json:"regular_price"`
	MetaData     []MetaData `json:"meta_data"`
}

// CurrentPrice is the price the sync compares against. The regular price wins over the
// computed (possibly on-sale) price.
func (p StorefrontProduct) CurrentPrice() string {
	if p.RegularPrice != "" {
		return p.RegularPrice
	}
	return p.Price
}

// ProductDraft is the payload for creating a storefront product.
type ProductDraft struct {
	Name          string `json:"name"`
	SKU           string `json:"sku"`
	RegularPrice  string `json:"regular_price"`
	StockQuantity int    `json:"stock_quantity"`
}

// ProductPatch holds the intended values for a storefront product.
type ProductPatch struct {
	Name  string
	Price decimal.Decimal
}

// UpdateResult describes the outcome of a verified update.
type UpdateResult struct {
	Product       *StorefrontProduct `json:"product"`
	Changed       bool               `json:"changed"`
	ChangedFields []string           `json:"changed_fields,omitempty"`
}
