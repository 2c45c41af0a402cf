package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PurchaseBill struct {
	ID         int       `gorm:"primary_key" json:"id"`
	VendorName string    `gorm:"size:255;not null" json:"vendor_name" binding:"required"`
	BillNumber string    `gorm:"size:255;not null" json:"bill_number"`
	SequenceNo int64     `gorm:"uniqueIndex;not null" json:"sequence_no"`
	BillDate   time.Time `gorm:"not null" json:"bill_date" binding:"required"`
	// Expense components, summed and distributed across item quantities.
	ShippingCharges decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"shipping_charges"`
	Miscellaneous   decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"miscellaneous"`
	OriginalBoxCost decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"original_box_cost"`
	TotalAmount     decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	PaidAmount      decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	BalanceAmount   decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"balance_amount"`
	Items           []PurchaseBillItem `gorm:"constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseBillItem struct {
	ID             int             `gorm:"primary_key" json:"id"`
	PurchaseBillId int             `gorm:"index;not null" json:"purchase_bill_id"`
	ProductId      int             `gorm:"index;not null" json:"product_id"`
	Qty            int             `gorm:"not null" json:"qty"`
	UnitCostPrice  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost_price"`
	// DistributedCost is this item's per-unit share of the bill expenses.
	DistributedCost decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"distributed_cost"`
	FinalCostPrice  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"final_cost_price"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPurchaseBill struct {
	VendorName      string               `json:"vendor_name" binding:"required"`
	BillDate        time.Time            `json:"bill_date" binding:"required"`
	ShippingCharges decimal.Decimal      `json:"shipping_charges"`
	Miscellaneous   decimal.Decimal      `json:"miscellaneous"`
	OriginalBoxCost decimal.Decimal      `json:"original_box_cost"`
	PaidAmount      decimal.Decimal      `json:"paid_amount"`
	Items           []NewPurchaseBillItem `json:"items"`
}

type NewPurchaseBillItem struct {
	ProductId     int             `json:"product_id" binding:"required"`
	Qty           int             `json:"qty" binding:"required"`
	UnitCostPrice decimal.Decimal `json:"unit_cost_price"`
}

// validate input for both create & update. (id = 0 for create)
// forCreate requires at least one item; an update without items is an
// expenses-only edit (existing items are redistributed, stock untouched).
func (input *NewPurchaseBill) Validate(ctx context.Context, id int, forCreate bool) error {
	if forCreate && len(input.Items) == 0 {
		return errors.New("purchase bill requires at least one item")
	}
	if input.ShippingCharges.IsNegative() ||
		input.Miscellaneous.IsNegative() ||
		input.OriginalBoxCost.IsNegative() {
		return errors.New("expenses cannot be negative")
	}
	if input.PaidAmount.IsNegative() {
		return errors.New("paid amount cannot be negative")
	}

	productIds := make([]int, 0, len(input.Items))
	for _, item := range input.Items {
		if item.Qty <= 0 {
			return errors.New("item qty must be positive")
		}
		if item.UnitCostPrice.IsNegative() {
			return errors.New("item unit cost cannot be negative")
		}
		productIds = append(productIds, item.ProductId)
	}
	if len(productIds) > 0 {
		if err := utils.ValidateResourcesId[Product](ctx, productIds); err != nil {
			return errors.New("product not found")
		}
	}
	return nil
}

// TotalExpenses sums the three expense components of the input.
func (input *NewPurchaseBill) TotalExpenses() decimal.Decimal {
	return input.ShippingCharges.Add(input.Miscellaneous).Add(input.OriginalBoxCost)
}

func (b *PurchaseBill) TotalExpenses() decimal.Decimal {
	return b.ShippingCharges.Add(b.Miscellaneous).Add(b.OriginalBoxCost)
}

// DistributeExpenses allocates the given expense total across items
// uniformly per unit and recomputes each item's FinalCostPrice.
// Allocation stays proportional to quantity, matching the bill's original
// distribution on create.
func DistributeExpenses(items []PurchaseBillItem, totalExpenses decimal.Decimal) []PurchaseBillItem {
	totalQty := 0
	for _, item := range items {
		totalQty += item.Qty
	}
	perUnit := decimal.Zero
	if totalQty > 0 && totalExpenses.IsPositive() {
		perUnit = totalExpenses.Div(decimal.NewFromInt(int64(totalQty))).Round(4)
	}
	for i := range items {
		items[i].DistributedCost = perUnit
		items[i].FinalCostPrice = items[i].UnitCostPrice.Add(perUnit)
	}
	return items
}

// BillSubtotal sums qty × unit cost over the items.
func BillSubtotal(items []PurchaseBillItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitCostPrice.Mul(decimal.NewFromInt(int64(item.Qty))))
	}
	return subtotal
}

// ApplyBillTotals recomputes TotalAmount and
// BalanceAmount = (TotalAmount + expenses) - PaidAmount.
func (b *PurchaseBill) ApplyBillTotals() {
	b.TotalAmount = BillSubtotal(b.Items)
	b.BalanceAmount = b.TotalAmount.Add(b.TotalExpenses()).Sub(b.PaidAmount)
}

// NextBillSequence returns the next sequence number. The MAX read takes a
// FOR UPDATE lock so concurrent creates serialize on it, and sequence_no
// carries a unique index so a stale read still cannot commit a duplicate.
func NextBillSequence(tx *gorm.DB) (int64, error) {
	var seq int64
	err := tx.Model(&PurchaseBill{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("COALESCE(MAX(sequence_no), 0) + 1").
		Scan(&seq).Error
	if err != nil {
		return 0, err
	}
	if seq <= 0 {
		seq = 1
	}
	return seq, nil
}
