package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDistributeExpenses_PerUnitShare(t *testing.T) {
	items := []PurchaseBillItem{
		{Qty: 10, UnitCostPrice: decimal.RequireFromString("100")},
		{Qty: 30, UnitCostPrice: decimal.RequireFromString("50")},
	}
	// 200 over 40 units = 5 per unit.
	items = DistributeExpenses(items, decimal.RequireFromString("200"))

	for i, item := range items {
		if !item.DistributedCost.Equal(decimal.RequireFromString("5")) {
			t.Fatalf("item %d: expected distributed cost 5, got %s", i, item.DistributedCost)
		}
	}
	if !items[0].FinalCostPrice.Equal(decimal.RequireFromString("105")) {
		t.Fatalf("expected final cost 105, got %s", items[0].FinalCostPrice)
	}
	if !items[1].FinalCostPrice.Equal(decimal.RequireFromString("55")) {
		t.Fatalf("expected final cost 55, got %s", items[1].FinalCostPrice)
	}
}

func TestDistributeExpenses_RoundsPerUnitToFourPlaces(t *testing.T) {
	items := []PurchaseBillItem{
		{Qty: 3, UnitCostPrice: decimal.RequireFromString("10")},
	}
	// 10 / 3 = 3.3333...
	items = DistributeExpenses(items, decimal.RequireFromString("10"))
	if !items[0].DistributedCost.Equal(decimal.RequireFromString("3.3333")) {
		t.Fatalf("expected per-unit 3.3333, got %s", items[0].DistributedCost)
	}
	if !items[0].FinalCostPrice.Equal(decimal.RequireFromString("13.3333")) {
		t.Fatalf("expected final cost 13.3333, got %s", items[0].FinalCostPrice)
	}
}

func TestDistributeExpenses_NoExpenses(t *testing.T) {
	items := []PurchaseBillItem{
		{Qty: 4, UnitCostPrice: decimal.RequireFromString("25")},
	}
	items = DistributeExpenses(items, decimal.Zero)
	if !items[0].DistributedCost.IsZero() {
		t.Fatalf("expected zero distributed cost, got %s", items[0].DistributedCost)
	}
	if !items[0].FinalCostPrice.Equal(items[0].UnitCostPrice) {
		t.Fatalf("expected final cost to equal unit cost, got %s", items[0].FinalCostPrice)
	}
}

func TestBillSubtotal(t *testing.T) {
	items := []PurchaseBillItem{
		{Qty: 2, UnitCostPrice: decimal.RequireFromString("10.50")},
		{Qty: 5, UnitCostPrice: decimal.RequireFromString("4")},
	}
	got := BillSubtotal(items)
	if !got.Equal(decimal.RequireFromString("41")) {
		t.Fatalf("expected 41, got %s", got)
	}
}

func TestApplyBillTotals_BalanceIncludesExpenses(t *testing.T) {
	bill := PurchaseBill{
		ShippingCharges: decimal.RequireFromString("30"),
		Miscellaneous:   decimal.RequireFromString("10"),
		PaidAmount:      decimal.RequireFromString("100"),
		Items: []PurchaseBillItem{
			{Qty: 10, UnitCostPrice: decimal.RequireFromString("20")},
		},
	}
	bill.ApplyBillTotals()
	if !bill.TotalAmount.Equal(decimal.RequireFromString("200")) {
		t.Fatalf("expected total 200, got %s", bill.TotalAmount)
	}
	// (200 + 40) - 100 = 140
	if !bill.BalanceAmount.Equal(decimal.RequireFromString("140")) {
		t.Fatalf("expected balance 140, got %s", bill.BalanceAmount)
	}
}
