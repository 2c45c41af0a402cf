package workflow

import (
	"testing"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/marketplace_backend/models"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
)

func pricedProduct(wholesale, reseller, retail string) *models.Product {
	return &models.Product{
		ID:             1,
		IsActive:       utils.NewTrue(),
		WholesalePrice: decimal.RequireFromString(wholesale),
		ResellerPrice:  decimal.RequireFromString(reseller),
		RetailPrice:    decimal.RequireFromString(retail),
	}
}

func TestProductEligibleFor_RequiresKindTierPrice(t *testing.T) {
	cases := []struct {
		name    string
		product *models.Product
		kind    models.TenantKind
		want    bool
	}{
		{"fully priced wholesaler", pricedProduct("80", "90", "100"), models.TenantKindWholesaler, true},
		{"no wholesale price", pricedProduct("0", "90", "100"), models.TenantKindWholesaler, false},
		{"no reseller price", pricedProduct("80", "0", "100"), models.TenantKindReseller, false},
		{"retailer needs only retail", pricedProduct("0", "0", "100"), models.TenantKindRetailer, true},
		{"no retail price blocks everyone", pricedProduct("80", "90", "0"), models.TenantKindRetailer, false},
		{"no retail price blocks wholesaler too", pricedProduct("80", "90", "0"), models.TenantKindWholesaler, false},
	}
	for _, tc := range cases {
		if got := productEligibleFor(tc.product, tc.kind); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestProductEligibleFor_InactiveProduct(t *testing.T) {
	product := pricedProduct("80", "90", "100")
	product.IsActive = utils.NewFalse()
	if productEligibleFor(product, models.TenantKindRetailer) {
		t.Fatal("inactive product must not be eligible")
	}
}

func TestTenantSellingPrice_AppliesTenantMarkup(t *testing.T) {
	product := pricedProduct("80", "90", "100")
	setting := &models.AutoImportSetting{
		MarkupType:  models.MarkupTypePercentage,
		MarkupValue: decimal.RequireFromString("20"),
	}
	got := tenantSellingPrice(product, setting)
	if !got.Equal(decimal.RequireFromString("120")) {
		t.Fatalf("expected 120, got %s", got)
	}
}

func TestTenantSellingPrice_UnsetMarkupSellsAtBase(t *testing.T) {
	product := pricedProduct("80", "90", "100")
	setting := &models.AutoImportSetting{
		MarkupType:  models.MarkupTypePercentage,
		MarkupValue: decimal.Zero,
	}
	got := tenantSellingPrice(product, setting)
	if !got.Equal(product.RetailPrice) {
		t.Fatalf("expected base price %s, got %s", product.RetailPrice, got)
	}
}

func TestSyncSummary_Merge(t *testing.T) {
	total := &SyncSummary{Created: 1, Skipped: 2}
	total.Merge(&SyncSummary{Created: 2, Updated: 3, Failed: 1})
	if total.Created != 3 || total.Updated != 3 || total.Skipped != 2 || total.Failed != 1 {
		t.Fatalf("unexpected merged summary: %+v", total)
	}
}
