package workflow

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/marketplace_backend/models"
)

var oneHundred = decimal.NewFromInt(100)

// DerivePrice applies a markup rule to a cost price, rounded to 2 decimal
// places. A markup value that is not positive means the rule is unset and
// derivation produces no price; likewise a zero cost derives nothing.
func DerivePrice(cost decimal.Decimal, markupType models.MarkupType, markupValue decimal.Decimal) decimal.Decimal {
	if !markupValue.IsPositive() || !cost.IsPositive() {
		return decimal.Zero
	}
	switch markupType {
	case models.MarkupTypeFixed:
		return cost.Add(markupValue).Round(2)
	default:
		return cost.Mul(oneHundred.Add(markupValue)).Div(oneHundred).Round(2)
	}
}

// FillProductTierPrices derives the three tier prices from the product's
// cost. Without override only empty (zero) tiers are filled, so prices a
// merchandiser set by hand survive cost recomputations. Returns whether any
// stored price changed.
func FillProductTierPrices(tx *gorm.DB, product *models.Product, policy *models.MarkupPolicy, override bool) (bool, error) {

	updates := map[string]interface{}{}

	apply := func(column string, stored decimal.Decimal, kind models.TenantKind) {
		if !override && !stored.IsZero() {
			return
		}
		markupType, markupValue := policy.TierMarkup(kind)
		derived := DerivePrice(product.CostPrice, markupType, markupValue)
		if derived.IsZero() || derived.Equal(stored) {
			return
		}
		updates[column] = derived
	}

	apply("wholesale_price", product.WholesalePrice, models.TenantKindWholesaler)
	apply("reseller_price", product.ResellerPrice, models.TenantKindReseller)
	apply("retail_price", product.RetailPrice, models.TenantKindRetailer)

	if len(updates) == 0 {
		return false, nil
	}
	err := tx.Model(&models.Product{}).Where("id = ?", product.ID).
		Updates(updates).Error
	if err != nil {
		return false, err
	}
	if v, ok := updates["wholesale_price"]; ok {
		product.WholesalePrice = v.(decimal.Decimal)
	}
	if v, ok := updates["reseller_price"]; ok {
		product.ResellerPrice = v.(decimal.Decimal)
	}
	if v, ok := updates["retail_price"]; ok {
		product.RetailPrice = v.(decimal.Decimal)
	}
	return true, nil
}

// MarkupApplySummary reports the outcome of a bulk markup run.
type MarkupApplySummary struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// ApplyMarkupPolicy re-derives tier prices for every product with a known
// cost. With applyToExisting false the pass is a no-op; with
// overrideExisting false only empty tiers are filled. Products whose
// derived retail price would exceed a positive MRP are skipped and counted
// instead of clamped, since a silently clamped price hides a policy that no
// longer fits the catalog.
// Returns the summary and the ids of products whose prices changed.
func ApplyMarkupPolicy(tx *gorm.DB, logger *logrus.Logger, policy *models.MarkupPolicy, applyToExisting bool, overrideExisting bool) (*MarkupApplySummary, []int, error) {

	if !applyToExisting {
		return &MarkupApplySummary{}, nil, nil
	}

	var products []models.Product
	if err := tx.Where("cost_price > 0").Order("id").Find(&products).Error; err != nil {
		return nil, nil, err
	}

	summary := &MarkupApplySummary{}
	var changedIds []int

	for i := range products {
		product := &products[i]

		retailType, retailValue := policy.TierMarkup(models.TenantKindRetailer)
		derivedRetail := DerivePrice(product.CostPrice, retailType, retailValue)
		if product.Mrp.IsPositive() && derivedRetail.GreaterThan(product.Mrp) {
			summary.Skipped++
			logger.WithFields(logrus.Fields{
				"product_id":     product.ID,
				"derived_retail": derivedRetail.String(),
				"mrp":            product.Mrp.String(),
			}).Warn("markup apply skipped: derived retail price exceeds MRP")
			continue
		}

		changed, err := FillProductTierPrices(tx, product, policy, overrideExisting)
		if err != nil {
			return nil, nil, err
		}
		if changed {
			summary.Updated++
			changedIds = append(changedIds, product.ID)
		}
	}

	return summary, changedIds, nil
}
