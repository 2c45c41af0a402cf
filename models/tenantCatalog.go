package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/shopspring/decimal"
)

// TenantCatalogEntry is one row of a tenant's catalog projection. A single
// polymorphic table keyed by tenant_kind covers wholesalers, resellers and
// retailers alike.
//
// Provenance: rows written by the sync engine carry is_auto_imported=true
// and may be rewritten or removed by it. Rows a tenant imported manually
// are never touched by sync.
type TenantCatalogEntry struct {
	ID             int             `gorm:"primary_key" json:"id"`
	TenantKind     TenantKind      `gorm:"type:enum('wholesaler','reseller','retailer');uniqueIndex:idx_tenant_product;not null" json:"tenant_kind"`
	TenantId       int             `gorm:"uniqueIndex:idx_tenant_product;not null" json:"tenant_id"`
	ProductId      int             `gorm:"uniqueIndex:idx_tenant_product;index;not null" json:"product_id"`
	SellingPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"selling_price"`
	IsVisible      *bool           `gorm:"not null;default:true" json:"is_visible"`
	IsAutoImported *bool           `gorm:"not null;default:false" json:"is_auto_imported"`
	// Markup snapshot at the time of the last sync.
	MarkupType  MarkupType      `gorm:"type:enum('percentage','fixed');default:percentage" json:"markup_type"`
	MarkupValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"markup_value"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// AutoImportSetting holds a tenant's auto-import preference and markup rule.
type AutoImportSetting struct {
	ID          int             `gorm:"primary_key" json:"id"`
	TenantKind  TenantKind      `gorm:"type:enum('wholesaler','reseller','retailer');uniqueIndex:idx_tenant_setting;not null" json:"tenant_kind"`
	TenantId    int             `gorm:"uniqueIndex:idx_tenant_setting;not null" json:"tenant_id"`
	Enabled     *bool           `gorm:"not null;default:false" json:"enabled"`
	MarkupType  MarkupType      `gorm:"type:enum('percentage','fixed');default:percentage" json:"markup_type"`
	MarkupValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"markup_value"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCatalogEntry struct {
	ProductId    int             `json:"product_id" binding:"required"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	IsVisible    *bool           `json:"is_visible"`
}

type UpdateCatalogEntryInput struct {
	SellingPrice *decimal.Decimal `json:"selling_price"`
	IsVisible    *bool            `json:"is_visible"`
}

type NewAutoImportSetting struct {
	TenantKind  string          `json:"tenant_kind" binding:"required"`
	TenantId    int             `json:"tenant_id" binding:"required"`
	Enabled     *bool           `json:"enabled" binding:"required"`
	MarkupType  string          `json:"markup_type"`
	MarkupValue decimal.Decimal `json:"markup_value"`
}

// ValidateSellingPriceBounds enforces the tenant price clamp:
// retail tier price (cross-tier minimum) <= selling price <= MRP.
// Values exactly on either bound are accepted.
func ValidateSellingPriceBounds(product *Product, sellingPrice decimal.Decimal) error {
	if product.RetailPrice.IsPositive() && sellingPrice.LessThan(product.RetailPrice) {
		return fmt.Errorf("selling price %s is below minimum selling price %s",
			sellingPrice.String(), product.RetailPrice.String())
	}
	if product.Mrp.IsPositive() && sellingPrice.GreaterThan(product.Mrp) {
		return fmt.Errorf("selling price %s exceeds MRP %s",
			sellingPrice.String(), product.Mrp.String())
	}
	return nil
}

// CreateCatalogEntry performs a manual import for the calling tenant.
// Manual rows (is_auto_imported=false) are owned by the tenant and are
// off-limits to the sync engine.
func CreateCatalogEntry(ctx context.Context, input *NewCatalogEntry) (*TenantCatalogEntry, error) {

	kindStr, tenantId, ok := utils.GetTenantFromContext(ctx)
	if !ok {
		return nil, errors.New("tenant is required")
	}
	kind, err := ParseTenantKind(kindStr)
	if err != nil {
		return nil, err
	}

	product, err := utils.FetchModel[Product](ctx, input.ProductId)
	if err != nil {
		return nil, errors.New("product not found")
	}
	if err := ValidateSellingPriceBounds(product, input.SellingPrice); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&TenantCatalogEntry{}).
		Where("tenant_kind = ? AND tenant_id = ? AND product_id = ?", kind, tenantId, input.ProductId).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("product already in catalog")
	}

	isVisible := utils.NewTrue()
	if input.IsVisible != nil {
		isVisible = input.IsVisible
	}
	entry := TenantCatalogEntry{
		TenantKind:     kind,
		TenantId:       tenantId,
		ProductId:      input.ProductId,
		SellingPrice:   input.SellingPrice,
		IsVisible:      isVisible,
		IsAutoImported: utils.NewFalse(),
	}
	if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdateCatalogEntry edits the calling tenant's own entry. Editing an
// auto-imported row converts it to a manual one so sync stops rewriting it.
func UpdateCatalogEntry(ctx context.Context, id int, input *UpdateCatalogEntryInput) (*TenantCatalogEntry, error) {

	kindStr, tenantId, ok := utils.GetTenantFromContext(ctx)
	if !ok {
		return nil, errors.New("tenant is required")
	}

	db := config.GetDB()
	var entry TenantCatalogEntry
	if err := db.WithContext(ctx).
		Where("tenant_kind = ? AND tenant_id = ?", kindStr, tenantId).
		First(&entry, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	updates := map[string]interface{}{}
	if input.SellingPrice != nil {
		product, err := utils.FetchModel[Product](ctx, entry.ProductId)
		if err != nil {
			return nil, errors.New("product not found")
		}
		if err := ValidateSellingPriceBounds(product, *input.SellingPrice); err != nil {
			return nil, err
		}
		updates["selling_price"] = *input.SellingPrice
		updates["is_auto_imported"] = false
	}
	if input.IsVisible != nil {
		updates["is_visible"] = *input.IsVisible
	}
	if len(updates) == 0 {
		return &entry, nil
	}

	if err := db.WithContext(ctx).Model(&entry).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).First(&entry, id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListCatalogEntries returns the calling tenant's catalog. Entries whose
// product has been removed (dangling manual imports) are filtered out of
// storefront listings here rather than deleted.
func ListCatalogEntries(ctx context.Context) ([]*TenantCatalogEntry, error) {

	kindStr, tenantId, ok := utils.GetTenantFromContext(ctx)
	if !ok {
		return nil, errors.New("tenant is required")
	}

	db := config.GetDB()
	var entries []*TenantCatalogEntry
	err := db.WithContext(ctx).
		Joins("JOIN products ON products.id = tenant_catalog_entries.product_id").
		Where("tenant_catalog_entries.tenant_kind = ? AND tenant_catalog_entries.tenant_id = ?", kindStr, tenantId).
		Order("tenant_catalog_entries.id").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// UpsertAutoImportSetting replaces a tenant's auto-import rule.
func UpsertAutoImportSetting(ctx context.Context, input *NewAutoImportSetting) (*AutoImportSetting, error) {

	kind, err := ParseTenantKind(input.TenantKind)
	if err != nil {
		return nil, err
	}
	markupType := MarkupTypePercentage
	if input.MarkupType != "" {
		markupType, err = ParseMarkupType(input.MarkupType)
		if err != nil {
			return nil, err
		}
	}
	if input.MarkupValue.IsNegative() {
		return nil, errors.New("markup value cannot be negative")
	}

	db := config.GetDB()
	var setting AutoImportSetting
	err = db.WithContext(ctx).
		Where("tenant_kind = ? AND tenant_id = ?", kind, input.TenantId).
		First(&setting).Error
	if err != nil {
		setting = AutoImportSetting{
			TenantKind:  kind,
			TenantId:    input.TenantId,
			Enabled:     input.Enabled,
			MarkupType:  markupType,
			MarkupValue: input.MarkupValue,
		}
		if err := db.WithContext(ctx).Create(&setting).Error; err != nil {
			return nil, err
		}
		return &setting, nil
	}

	if err := db.WithContext(ctx).Model(&setting).Updates(map[string]interface{}{
		"enabled":      *input.Enabled,
		"markup_type":  markupType,
		"markup_value": input.MarkupValue,
	}).Error; err != nil {
		return nil, err
	}
	setting.Enabled = input.Enabled
	setting.MarkupType = markupType
	setting.MarkupValue = input.MarkupValue
	return &setting, nil
}
