package services

import (
	"github.com/halocore099/phone-repair-dashboard/models"

	"go.uber.org/zap"
)

// SKUIndex maps a storefront SKU to its product. Keys are matched exactly, with no case
// folding or trimming.
type SKUIndex map[string]models.StorefrontProduct

// BuildSKUIndex indexes products by SKU. Products without a SKU are left out, and when two
// products share a SKU the later one in the list wins.
func BuildSKUIndex(products []models.StorefrontProduct) SKUIndex {
	index := make(SKUIndex, len(products))
	for _, p := range products {
		if p.SKU == "" {
			continue
		}
		index[p.SKU] = p
	}
	return index
}

// Diff classifies every local item against the storefront index. Order within each bucket
// follows the local catalog.
func Diff(local []models.CatalogItem, index SKUIndex, logger *zap.Logger) models.DiffResult {
	var result models.DiffResult
	seen := make(map[string]int, len(local))

	for _, item := range local {
		if !item.HasSKU() {
			logger.Warn("Skipping catalog item without SKU",
				zap.String("device", item.DeviceName),
				zap.String("repair_type", item.RepairType),
			)
			result.Skipped = append(result.Skipped, item)
			continue
		}

		seen[item.SKU]++
		if seen[item.SKU] == 2 {
			logger.Warn("Duplicate SKU in local catalog, rows are processed independently",
				zap.String("sku", item.SKU),
			)
		}

		remote, ok := index[item.SKU]
		if !ok {
			result.NewItems = append(result.NewItems, item)
			continue
		}

		matched := models.MatchedItem{
			Item:          item,
			RemoteID:      remote.ID,
			PreviousName:  remote.Name,
			PreviousPrice: remote.CurrentPrice(),
		}
		if remote.Name != item.ProductName() || !models.PriceMatches(item.Price, remote.CurrentPrice()) {
			result.UpdatedItems = append(result.UpdatedItems, matched)
		} else {
			result.UnchangedItems = append(result.UnchangedItems, matched)
		}
	}
	return result
}
