package workflow

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/marketplace_backend/models"
)

// StockDirection marks whether purchase quantities are being applied or
// reversed against the stock summary.
type StockDirection int

const (
	StockApply StockDirection = iota
	StockReverse
)

// ApplyPurchaseStock posts a bill's item quantities to product stock.
// Reversal subtracts exactly what apply added, so update and delete flows
// reuse the same path. Items whose product has been deleted are skipped
// with a warning; the rest of the bill still posts. A reversal that would
// drive stock negative means the summary has diverged from the ledger and
// aborts the transaction instead of clamping.
// Returns the ids of products whose stock changed.
func ApplyPurchaseStock(tx *gorm.DB, logger *logrus.Logger, items []models.PurchaseBillItem, direction StockDirection) ([]int, error) {

	var affectedIds []int

	for _, item := range items {
		var product models.Product
		if err := tx.First(&product, item.ProductId).Error; err != nil {
			logger.WithFields(logrus.Fields{
				"product_id":       item.ProductId,
				"purchase_bill_id": item.PurchaseBillId,
			}).Warn("stock posting skipped: product no longer exists")
			continue
		}

		delta := item.Qty
		if direction == StockReverse {
			delta = -item.Qty
		}
		newQty := product.StockQty + delta
		if newQty < 0 {
			err := fmt.Errorf("stock reversal would drive product %d to %d units", product.ID, newQty)
			logger.WithFields(logrus.Fields{
				"product_id":       product.ID,
				"purchase_bill_id": item.PurchaseBillId,
				"stock_qty":        product.StockQty,
				"delta":            delta,
			}).Error("stock summary inconsistent with purchase ledger")
			return nil, err
		}

		err := tx.Model(&models.Product{}).Where("id = ?", product.ID).
			Updates(map[string]interface{}{
				"stock_qty":    newQty,
				"availability": models.AvailabilityForQty(newQty),
			}).Error
		if err != nil {
			return nil, err
		}
		affectedIds = append(affectedIds, product.ID)
	}

	return affectedIds, nil
}
