package workflow

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/marketplace_backend/models"
)

// costEpsilon suppresses writes for sub-cent recomputation drift so that
// re-saving a bill without changes does not ripple into catalog syncs.
var costEpsilon = decimal.NewFromFloat(0.01)

// CostLot is one purchase receipt contributing to a product's average cost.
type CostLot struct {
	Qty      int
	UnitCost decimal.Decimal
}

// WeightedAverageCost computes sum(qty*cost)/sum(qty) over the surviving
// purchase lots. Lots with non-positive quantity carry no weight. An empty
// ledger yields zero cost.
func WeightedAverageCost(lots []CostLot) decimal.Decimal {
	totalQty := decimal.Zero
	totalValue := decimal.Zero
	for _, lot := range lots {
		if lot.Qty <= 0 {
			continue
		}
		qty := decimal.NewFromInt(int64(lot.Qty))
		totalQty = totalQty.Add(qty)
		totalValue = totalValue.Add(lot.UnitCost.Mul(qty))
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalValue.Div(totalQty).Round(4)
}

// RecomputeProductCost re-derives a product's cost price from its purchase
// ledger and persists it when it moved by more than the epsilon. The caller
// must hold the product posting lock. Returns the new cost and whether the
// stored value changed.
func RecomputeProductCost(tx *gorm.DB, logger *logrus.Logger, productId int) (decimal.Decimal, bool, error) {

	var items []models.PurchaseBillItem
	err := tx.Joins("JOIN purchase_bills ON purchase_bills.id = purchase_bill_items.purchase_bill_id").
		Where("purchase_bill_items.product_id = ?", productId).
		Find(&items).Error
	if err != nil {
		return decimal.Zero, false, err
	}

	lots := make([]CostLot, 0, len(items))
	for _, item := range items {
		lots = append(lots, CostLot{Qty: item.Qty, UnitCost: item.FinalCostPrice})
	}
	newCost := WeightedAverageCost(lots)

	var product models.Product
	if err := tx.First(&product, productId).Error; err != nil {
		return decimal.Zero, false, err
	}

	if newCost.Sub(product.CostPrice).Abs().LessThan(costEpsilon) {
		return product.CostPrice, false, nil
	}

	err = tx.Model(&models.Product{}).Where("id = ?", productId).
		Update("cost_price", newCost).Error
	if err != nil {
		return decimal.Zero, false, err
	}

	logger.WithFields(logrus.Fields{
		"product_id": productId,
		"old_cost":   product.CostPrice.String(),
		"new_cost":   newCost.String(),
	}).Info("product cost recomputed")

	return newCost, true, nil
}
