package models

import (
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// MaxProductNameLength is the longest product name the storefront accepts from the sync.
const MaxProductNameLength = 120

// CatalogItem is one device/repair pairing read from the shop database.
type CatalogItem struct {
	DeviceName string          `json:"device_name"`
	Brand      string          `json:"brand"`
	RepairType string          `json:"repair_type"`
	Price      decimal.Decimal `json:"price"`
	SKU        string          `json:"sku,omitempty"` // empty when the row has no SKU
}

// HasSKU reports whether the item can be matched against the storefront.
func (c CatalogItem) HasSKU() bool {
	return c.SKU != ""
}

// ProductName is the storefront name for the item, e.g. "iPhone 13 - Screen Replacement".
func (c CatalogItem) ProductName() string {
	return TruncateName(c.DeviceName + " - " + c.RepairType)
}

// TruncateName cuts name to MaxProductNameLength characters.
func TruncateName(name string) string {
	if utf8.RuneCountInString(name) <= MaxProductNameLength {
		return name
	}
	runes := []rune(name)
	return string(runes[:MaxProductNameLength])
}
