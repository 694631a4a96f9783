package repository

import (
	"context"
	"fmt"

	apperrors "github.com/halocore099/phone-repair-dashboard/errors"
	"github.com/halocore099/phone-repair-dashboard/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// catalogQuery joins every priced repair with its device and repair type. The ORDER BY keeps
// limited reads stable.
const catalogQuery = `SELECT d.device_name, d.brand, rt.repair_type, dr.price, dr.sku
FROM device_repairs dr
JOIN devices d ON dr.device_id = d.device_id
JOIN repairtypes rt ON dr.repair_type_id = rt.repair_type_id
ORDER BY dr.device_id ASC, dr.repair_type_id ASC`

// CatalogRepository reads the authoritative repair catalog.
type CatalogRepository interface {
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	// FetchCatalog returns at most limit rows, or every row when limit <= 0.
	FetchCatalog(ctx context.Context, limit int) ([]models.CatalogItem, error)
}

// GormCatalogRepository implements CatalogRepository using GORM.
type GormCatalogRepository struct {
	db *gorm.DB
}

// NewGormCatalogRepository creates a new GormCatalogRepository.
func NewGormCatalogRepository(db *gorm.DB) CatalogRepository {
	return &GormCatalogRepository{db: db}
}

type catalogRow struct {
	DeviceName string          `gorm:"column:device_name"`
	Brand      string          `gorm:"column:brand"`
	RepairType string          `gorm:"column:repair_type"`
	Price      decimal.Decimal `gorm:"column:price"`
	SKU        *string         `gorm:"column:sku"`
}

func (r *GormCatalogRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return apperrors.Storage("Database connection error", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperrors.Storage("Database connection error", err)
	}
	return nil
}

func (r *GormCatalogRepository) FetchCatalog(ctx context.Context, limit int) ([]models.CatalogItem, error) {
	if err := r.Ping(ctx); err != nil {
		return nil, err
	}

	var rows []catalogRow
	query := r.db.WithContext(ctx)
	if limit > 0 {
		query = query.Raw(catalogQuery+"\nLIMIT ?", limit)
	} else {
		query = query.Raw(catalogQuery)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, apperrors.Storage("Database query error", fmt.Errorf("fetch catalog: %w", err))
	}

	items := make([]models.CatalogItem, 0, len(rows))
	for _, row := range rows {
		item := models.CatalogItem{
			DeviceName: row.DeviceName,
			Brand:      row.Brand,
			RepairType: row.RepairType,
			Price:      row.Price,
		}
		if row.SKU != nil {
			item.SKU = *row.SKU
		}
		items = append(items, item)
	}
	return items, nil
}
