package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/models"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
)

// lockProductsSorted takes the per-product posting locks in ascending id
// order so two bills touching the same products cannot deadlock. Returns a
// release func for the acquired locks.
// NOTE: GET_LOCK is session-scoped, not transaction-scoped; the release
// must run on the live transaction (inside the db.Transaction closure),
// never after commit, or the lock leaks on the pooled connection.
func lockProductsSorted(tx *gorm.DB, productIds []int) (func(), error) {
	ids := utils.UniqueSlice(productIds)
	sort.Ints(ids)

	var held []int
	release := func() {
		for _, id := range held {
			ReleaseProductPostingLock(tx, id)
		}
	}
	for _, id := range ids {
		if err := AcquireProductPostingLock(tx, id); err != nil {
			release()
			return nil, err
		}
		held = append(held, id)
	}
	return release, nil
}

// recomputeAndFill re-derives cost and fills empty tier prices for each
// product, returning the ids whose stored pricing actually moved.
func recomputeAndFill(tx *gorm.DB, policy *models.MarkupPolicy, productIds []int) ([]int, error) {
	logger := config.GetLogger()
	var changedIds []int

	for _, productId := range utils.UniqueSlice(productIds) {
		_, costChanged, err := RecomputeProductCost(tx, logger, productId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}

		var product models.Product
		if err := tx.First(&product, productId).Error; err != nil {
			continue
		}
		priceChanged, err := FillProductTierPrices(tx, &product, policy, false)
		if err != nil {
			return nil, err
		}
		if costChanged || priceChanged {
			changedIds = append(changedIds, productId)
		}
	}
	return changedIds, nil
}

func buildBillItems(inputs []models.NewPurchaseBillItem) []models.PurchaseBillItem {
	items := make([]models.PurchaseBillItem, 0, len(inputs))
	for _, in := range inputs {
		items = append(items, models.PurchaseBillItem{
			ProductId:     in.ProductId,
			Qty:           in.Qty,
			UnitCostPrice: in.UnitCostPrice,
		})
	}
	return items
}

func collectProductIds(items []models.PurchaseBillItem) []int {
	ids := make([]int, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductId)
	}
	return utils.UniqueSlice(ids)
}

// CreatePurchaseBill records a vendor purchase: distribute bill-level
// expenses across item units, post stock, re-derive costs and tier prices,
// then fan the changed products out to tenant catalogs after commit.
func CreatePurchaseBill(ctx context.Context, input *models.NewPurchaseBill) (*models.PurchaseBill, error) {
	logger := config.GetLogger()

	if err := input.Validate(ctx, 0, true); err != nil {
		return nil, err
	}
	policy, err := models.GetMarkupPolicy(ctx)
	if err != nil {
		return nil, err
	}

	items := models.DistributeExpenses(buildBillItems(input.Items), input.TotalExpenses())
	productIds := collectProductIds(items)

	db := config.GetDB()
	var bill models.PurchaseBill
	var syncIds []int
	err = db.Transaction(func(tx *gorm.DB) error {
		release, err := lockProductsSorted(tx, productIds)
		if err != nil {
			config.LogError(logger, "purchaseBillWorkflow.go", "CreatePurchaseBill", "lockProductsSorted", productIds, err)
			return err
		}
		defer release()

		sequenceNo, err := models.NextBillSequence(tx)
		if err != nil {
			return err
		}

		bill = models.PurchaseBill{
			VendorName:      input.VendorName,
			BillNumber:      fmt.Sprintf("PB-%06d", sequenceNo),
			SequenceNo:      sequenceNo,
			BillDate:        input.BillDate,
			ShippingCharges: input.ShippingCharges,
			Miscellaneous:   input.Miscellaneous,
			OriginalBoxCost: input.OriginalBoxCost,
			PaidAmount:      input.PaidAmount,
			Items:           items,
		}
		bill.ApplyBillTotals()

		if err := tx.Create(&bill).Error; err != nil {
			config.LogError(logger, "purchaseBillWorkflow.go", "CreatePurchaseBill", "create bill", input, err)
			return err
		}

		stockIds, err := ApplyPurchaseStock(tx, logger, bill.Items, StockApply)
		if err != nil {
			return err
		}
		changedIds, err := recomputeAndFill(tx, policy, productIds)
		if err != nil {
			return err
		}
		syncIds = utils.MergeIntSlices(stockIds, changedIds)
		return nil
	})
	if err != nil {
		return nil, err
	}

	DispatchProductSync(ctx, db, logger, syncIds)
	return &bill, nil
}

// UpdatePurchaseBill edits a bill. With items present the old items are
// reversed out of stock and replaced; without items only the bill-level
// expenses change and the existing items are redistributed in place, stock
// untouched. Recompute and fan-out cover the union of old and new products.
func UpdatePurchaseBill(ctx context.Context, id int, input *models.NewPurchaseBill) (*models.PurchaseBill, error) {
	logger := config.GetLogger()

	if err := input.Validate(ctx, id, false); err != nil {
		return nil, err
	}
	policy, err := models.GetMarkupPolicy(ctx)
	if err != nil {
		return nil, err
	}

	oldBill, err := utils.FetchModel[models.PurchaseBill](ctx, id, "Items")
	if err != nil {
		return nil, err
	}

	expensesOnly := len(input.Items) == 0

	var newItems []models.PurchaseBillItem
	if expensesOnly {
		newItems = models.DistributeExpenses(oldBill.Items, input.TotalExpenses())
	} else {
		newItems = models.DistributeExpenses(buildBillItems(input.Items), input.TotalExpenses())
	}
	affectedIds := utils.MergeIntSlices(collectProductIds(oldBill.Items), collectProductIds(newItems))

	db := config.GetDB()
	var bill models.PurchaseBill
	var syncIds []int
	err = db.Transaction(func(tx *gorm.DB) error {
		release, err := lockProductsSorted(tx, affectedIds)
		if err != nil {
			config.LogError(logger, "purchaseBillWorkflow.go", "UpdatePurchaseBill", "lockProductsSorted", affectedIds, err)
			return err
		}
		defer release()

		if expensesOnly {
			for i := range newItems {
				err := tx.Model(&models.PurchaseBillItem{}).Where("id = ?", newItems[i].ID).
					Updates(map[string]interface{}{
						"distributed_cost": newItems[i].DistributedCost,
						"final_cost_price": newItems[i].FinalCostPrice,
					}).Error
				if err != nil {
					return err
				}
			}
		} else {
			if _, err := ApplyPurchaseStock(tx, logger, oldBill.Items, StockReverse); err != nil {
				return err
			}
			err := tx.Where("purchase_bill_id = ?", oldBill.ID).
				Delete(&models.PurchaseBillItem{}).Error
			if err != nil {
				return err
			}
			for i := range newItems {
				newItems[i].PurchaseBillId = oldBill.ID
			}
			if err := tx.Create(&newItems).Error; err != nil {
				return err
			}
			if _, err := ApplyPurchaseStock(tx, logger, newItems, StockApply); err != nil {
				return err
			}
		}

		bill = *oldBill
		bill.VendorName = input.VendorName
		bill.BillDate = input.BillDate
		bill.ShippingCharges = input.ShippingCharges
		bill.Miscellaneous = input.Miscellaneous
		bill.OriginalBoxCost = input.OriginalBoxCost
		bill.PaidAmount = input.PaidAmount
		bill.Items = newItems
		bill.ApplyBillTotals()

		err = tx.Model(&models.PurchaseBill{}).Where("id = ?", bill.ID).
			Updates(map[string]interface{}{
				"vendor_name":       bill.VendorName,
				"bill_date":         bill.BillDate,
				"shipping_charges":  bill.ShippingCharges,
				"miscellaneous":     bill.Miscellaneous,
				"original_box_cost": bill.OriginalBoxCost,
				"paid_amount":       bill.PaidAmount,
				"total_amount":      bill.TotalAmount,
				"balance_amount":    bill.BalanceAmount,
			}).Error
		if err != nil {
			config.LogError(logger, "purchaseBillWorkflow.go", "UpdatePurchaseBill", "update bill", bill.ID, err)
			return err
		}

		changedIds, err := recomputeAndFill(tx, policy, affectedIds)
		if err != nil {
			return err
		}
		syncIds = utils.MergeIntSlices(affectedIds, changedIds)
		return nil
	})
	if err != nil {
		return nil, err
	}

	DispatchProductSync(ctx, db, logger, syncIds)
	return &bill, nil
}

// DeletePurchaseBill reverses the bill's stock, removes it from the ledger
// and re-derives costs. A product whose whole purchase history is gone
// drops to zero cost; its tier prices stay as last derived.
func DeletePurchaseBill(ctx context.Context, id int) error {
	logger := config.GetLogger()

	bill, err := utils.FetchModel[models.PurchaseBill](ctx, id, "Items")
	if err != nil {
		return err
	}
	policy, err := models.GetMarkupPolicy(ctx)
	if err != nil {
		return err
	}

	productIds := collectProductIds(bill.Items)

	db := config.GetDB()
	var syncIds []int
	err = db.Transaction(func(tx *gorm.DB) error {
		release, err := lockProductsSorted(tx, productIds)
		if err != nil {
			config.LogError(logger, "purchaseBillWorkflow.go", "DeletePurchaseBill", "lockProductsSorted", productIds, err)
			return err
		}
		defer release()

		if _, err := ApplyPurchaseStock(tx, logger, bill.Items, StockReverse); err != nil {
			return err
		}
		err = tx.Where("purchase_bill_id = ?", bill.ID).
			Delete(&models.PurchaseBillItem{}).Error
		if err != nil {
			return err
		}
		if err := tx.Delete(&models.PurchaseBill{}, bill.ID).Error; err != nil {
			config.LogError(logger, "purchaseBillWorkflow.go", "DeletePurchaseBill", "delete bill", bill.ID, err)
			return err
		}

		changedIds, err := recomputeAndFill(tx, policy, productIds)
		if err != nil {
			return err
		}
		syncIds = utils.MergeIntSlices(productIds, changedIds)
		return nil
	})
	if err != nil {
		return err
	}

	DispatchProductSync(ctx, db, logger, syncIds)
	return nil
}
