package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int    `gorm:"primary_key" json:"id"`
	Name        string `gorm:"size:100;not null" json:"name" binding:"required"`
	Sku         string `gorm:"index;size:100;not null" json:"sku" binding:"required"`
	Description string `gorm:"type:text" json:"description"`
	// CostPrice is derived from the purchase ledger (weighted average);
	// it is never accepted from client input.
	CostPrice      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost_price"`
	Mrp            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"mrp"`
	WholesalePrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"wholesale_price"`
	ResellerPrice  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"reseller_price"`
	RetailPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"retail_price"`
	StockQty       int             `gorm:"not null;default:0" json:"stock_qty"`
	Availability   Availability    `gorm:"type:enum('in_stock','out_of_stock');default:out_of_stock" json:"availability"`
	IsActive       *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name           string          `json:"name" binding:"required"`
	Sku            string          `json:"sku" binding:"required"`
	Description    string          `json:"description"`
	Mrp            decimal.Decimal `json:"mrp"`
	WholesalePrice decimal.Decimal `json:"wholesale_price"`
	ResellerPrice  decimal.Decimal `json:"reseller_price"`
	RetailPrice    decimal.Decimal `json:"retail_price"`
}

// UpdateProductInput is the PATCH body. Only mutable fields appear here;
// cost_price, stock_qty and availability are ledger-derived and rejected
// by omission.
type UpdateProductInput struct {
	Name           *string          `json:"name"`
	Description    *string          `json:"description"`
	Mrp            *decimal.Decimal `json:"mrp"`
	WholesalePrice *decimal.Decimal `json:"wholesale_price"`
	ResellerPrice  *decimal.Decimal `json:"reseller_price"`
	RetailPrice    *decimal.Decimal `json:"retail_price"`
	IsActive       *bool            `json:"is_active"`
}

func (input *NewProduct) validate(ctx context.Context, id int) error {
	if err := utils.ValidateUnique[Product](ctx, "sku", input.Sku, id); err != nil {
		return err
	}
	if input.Mrp.IsNegative() ||
		input.WholesalePrice.IsNegative() ||
		input.ResellerPrice.IsNegative() ||
		input.RetailPrice.IsNegative() {
		return errors.New("prices cannot be negative")
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	product := Product{
		Name:           input.Name,
		Sku:            input.Sku,
		Description:    input.Description,
		Mrp:            input.Mrp,
		WholesalePrice: input.WholesalePrice,
		ResellerPrice:  input.ResellerPrice,
		RetailPrice:    input.RetailPrice,
		Availability:   AvailabilityOutOfStock,
		IsActive:       utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}

	return &product, nil
}

// UpdateProductPartial applies a PATCH. Returns the updated product and
// whether any price field changed (callers dispatch catalog fan-out when
// it did).
func UpdateProductPartial(ctx context.Context, id int, input *UpdateProductInput) (*Product, bool, error) {

	product, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return nil, false, err
	}

	updates := map[string]interface{}{}
	priceChanged := false

	if input.Name != nil {
		updates["name"] = *input.Name
	}
	if input.Description != nil {
		updates["description"] = *input.Description
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
		// Activation state drives catalog eligibility, so it fans out too.
		if product.IsActive == nil || *input.IsActive != *product.IsActive {
			priceChanged = true
		}
	}
	priceFields := []struct {
		column string
		value  *decimal.Decimal
		stored decimal.Decimal
	}{
		{"mrp", input.Mrp, product.Mrp},
		{"wholesale_price", input.WholesalePrice, product.WholesalePrice},
		{"reseller_price", input.ResellerPrice, product.ResellerPrice},
		{"retail_price", input.RetailPrice, product.RetailPrice},
	}
	for _, f := range priceFields {
		if f.value == nil {
			continue
		}
		if f.value.IsNegative() {
			return nil, false, errors.New("prices cannot be negative")
		}
		updates[f.column] = *f.value
		if !f.value.Equal(f.stored) {
			priceChanged = true
		}
	}

	if len(updates) == 0 {
		return product, false, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(product).Updates(updates).Error; err != nil {
		return nil, false, err
	}
	if err := db.WithContext(ctx).First(product, id).Error; err != nil {
		return nil, false, err
	}

	return product, priceChanged, nil
}

func DeleteProduct(ctx context.Context, id int) (*Product, error) {

	product, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(product).Error; err != nil {
		return nil, err
	}

	return product, nil
}

// ListProducts returns products, optionally restricted to in-stock rows
// (storefront listings must exclude unavailable products).
func ListProducts(ctx context.Context, inStockOnly bool) ([]*Product, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("is_active = ?", true)
	if inStockOnly {
		dbCtx = dbCtx.Where("availability = ?", AvailabilityInStock)
	}
	var products []*Product
	if err := dbCtx.Order("id").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}
