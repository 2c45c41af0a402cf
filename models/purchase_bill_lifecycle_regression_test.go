package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/models"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"bitbucket.org/mmdatafocus/marketplace_backend/workflow"
)

// Regression: the purchase-bill lifecycle must keep derived product state
// (cost, stock, availability) consistent with the ledger through create,
// update and delete, and fan eligible products out to auto-importing tenants.
func TestPurchaseBillLifecycle_KeepsDerivedStateConsistent(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "marketplace_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")

	phone, err := models.CreateProduct(ctx, &models.NewProduct{
		Name: "Phone X",
		Sku:  "PHX-001",
		Mrp:  decimal.RequireFromString("500"),
	})
	if err != nil {
		t.Fatalf("CreateProduct phone: %v", err)
	}
	charger, err := models.CreateProduct(ctx, &models.NewProduct{
		Name: "Charger",
		Sku:  "CHG-001",
	})
	if err != nil {
		t.Fatalf("CreateProduct charger: %v", err)
	}

	// Markup policy so tier prices fill from cost after the first purchase.
	_, err = models.SaveMarkupPolicy(ctx, &models.NewMarkupPolicy{
		WholesaleMarkupValue: decimal.RequireFromString("10"),
		ResellerMarkupValue:  decimal.RequireFromString("20"),
		RetailMarkupValue:    decimal.RequireFromString("50"),
	})
	if err != nil {
		t.Fatalf("SaveMarkupPolicy: %v", err)
	}

	// 100 over 20 units = 5/unit on top of each item's unit cost.
	bill, err := workflow.CreatePurchaseBill(ctx, &models.NewPurchaseBill{
		VendorName:      "Acme Traders",
		BillDate:        time.Now().UTC(),
		ShippingCharges: decimal.RequireFromString("100"),
		Items: []models.NewPurchaseBillItem{
			{ProductId: phone.ID, Qty: 10, UnitCostPrice: decimal.RequireFromString("195")},
			{ProductId: charger.ID, Qty: 10, UnitCostPrice: decimal.RequireFromString("15")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseBill: %v", err)
	}
	if bill.BillNumber == "" || bill.SequenceNo != 1 {
		t.Fatalf("expected first bill number, got %q seq %d", bill.BillNumber, bill.SequenceNo)
	}

	phone = mustFetchProduct(t, ctx, phone.ID)
	if !phone.CostPrice.Equal(decimal.RequireFromString("200")) {
		t.Fatalf("expected phone cost 200, got %s", phone.CostPrice)
	}
	if phone.StockQty != 10 || phone.Availability != models.AvailabilityInStock {
		t.Fatalf("expected 10 in stock, got %d %s", phone.StockQty, phone.Availability)
	}
	// Fill-only derivation: 200 +50% = 300 retail.
	if !phone.RetailPrice.Equal(decimal.RequireFromString("300")) {
		t.Fatalf("expected retail 300, got %s", phone.RetailPrice)
	}

	// Second receipt at a different cost moves the weighted average:
	// (10*200 + 10*100) / 20 = 150. Tier prices already set stay put.
	secondBill, err := workflow.CreatePurchaseBill(ctx, &models.NewPurchaseBill{
		VendorName: "Acme Traders",
		BillDate:   time.Now().UTC(),
		Items: []models.NewPurchaseBillItem{
			{ProductId: phone.ID, Qty: 10, UnitCostPrice: decimal.RequireFromString("100")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseBill second: %v", err)
	}
	if secondBill.SequenceNo != 2 {
		t.Fatalf("expected sequence 2, got %d", secondBill.SequenceNo)
	}

	phone = mustFetchProduct(t, ctx, phone.ID)
	if !phone.CostPrice.Equal(decimal.RequireFromString("150")) {
		t.Fatalf("expected phone cost 150, got %s", phone.CostPrice)
	}
	if phone.StockQty != 20 {
		t.Fatalf("expected 20 units, got %d", phone.StockQty)
	}
	if !phone.RetailPrice.Equal(decimal.RequireFromString("300")) {
		t.Fatalf("retail price must not move on recompute, got %s", phone.RetailPrice)
	}

	// Editing the second bill to a larger quantity must net the difference
	// (reverse 10, apply 15), not stack on top.
	secondBill, err = workflow.UpdatePurchaseBill(ctx, secondBill.ID, &models.NewPurchaseBill{
		VendorName: "Acme Traders",
		BillDate:   secondBill.BillDate,
		Items: []models.NewPurchaseBillItem{
			{ProductId: phone.ID, Qty: 15, UnitCostPrice: decimal.RequireFromString("100")},
		},
	})
	if err != nil {
		t.Fatalf("UpdatePurchaseBill: %v", err)
	}
	phone = mustFetchProduct(t, ctx, phone.ID)
	if phone.StockQty != 25 {
		t.Fatalf("expected 25 units after edit, got %d", phone.StockQty)
	}
	// (10*200 + 15*100) / 25 = 140
	if !phone.CostPrice.Equal(decimal.RequireFromString("140")) {
		t.Fatalf("expected cost 140 after edit, got %s", phone.CostPrice)
	}

	// Deleting the second bill reverses its stock and restores the average.
	if err := workflow.DeletePurchaseBill(ctx, secondBill.ID); err != nil {
		t.Fatalf("DeletePurchaseBill: %v", err)
	}
	phone = mustFetchProduct(t, ctx, phone.ID)
	if phone.StockQty != 10 {
		t.Fatalf("expected 10 units after reversal, got %d", phone.StockQty)
	}
	if !phone.CostPrice.Equal(decimal.RequireFromString("200")) {
		t.Fatalf("expected cost 200 after reversal, got %s", phone.CostPrice)
	}

	// Tenant fan-out: an enabled retailer setting imports the phone at
	// retail + 10%.
	enabled := true
	_, err = models.UpsertAutoImportSetting(ctx, &models.NewAutoImportSetting{
		TenantKind:  "retailer",
		TenantId:    42,
		Enabled:     &enabled,
		MarkupValue: decimal.RequireFromString("10"),
	})
	if err != nil {
		t.Fatalf("UpsertAutoImportSetting: %v", err)
	}

	db := config.GetDB()
	summary, err := workflow.SyncAll(db.WithContext(ctx), config.GetLogger())
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if summary.Failed != 0 {
		t.Fatalf("sync reported failures: %+v", summary)
	}
	// Both products gained retail prices from the markup fill, so both import.
	var entryCount int64
	err = db.WithContext(ctx).Model(&models.TenantCatalogEntry{}).
		Where("tenant_kind = ? AND tenant_id = ?", "retailer", 42).
		Count(&entryCount).Error
	if err != nil {
		t.Fatalf("count catalog entries: %v", err)
	}
	if entryCount != 2 {
		t.Fatalf("expected 2 catalog entries, got %d", entryCount)
	}

	var entry models.TenantCatalogEntry
	err = db.WithContext(ctx).
		Where("tenant_kind = ? AND tenant_id = ? AND product_id = ?", "retailer", 42, phone.ID).
		First(&entry).Error
	if err != nil {
		t.Fatalf("fetch catalog entry: %v", err)
	}
	if !entry.SellingPrice.Equal(decimal.RequireFromString("330")) {
		t.Fatalf("expected selling price 330, got %s", entry.SellingPrice)
	}
	if entry.IsAutoImported == nil || !*entry.IsAutoImported {
		t.Fatal("synced entry must be marked auto-imported")
	}

	// A manual price edit flips provenance; the next sync leaves it alone.
	newPrice := decimal.RequireFromString("350")
	tenantCtx := utils.SetTenantInContext(ctx, "retailer", 42)
	edited, err := models.UpdateCatalogEntry(tenantCtx, entry.ID, &models.UpdateCatalogEntryInput{
		SellingPrice: &newPrice,
	})
	if err != nil {
		t.Fatalf("UpdateCatalogEntry: %v", err)
	}
	if edited.IsAutoImported == nil || *edited.IsAutoImported {
		t.Fatal("edited entry must no longer be auto-imported")
	}

	if _, err := workflow.OnProductChanged(db.WithContext(ctx), config.GetLogger(), phone.ID); err != nil {
		t.Fatalf("OnProductChanged: %v", err)
	}
	err = db.WithContext(ctx).First(&entry, entry.ID).Error
	if err != nil {
		t.Fatalf("refetch catalog entry: %v", err)
	}
	if !entry.SellingPrice.Equal(newPrice) {
		t.Fatalf("sync must not overwrite manual price, got %s", entry.SellingPrice)
	}

	// Removing a product sweeps only the rows the sync engine wrote: the
	// auto-imported charger entry goes, a manually imported one for another
	// tenant stays.
	manualCtx := utils.SetTenantInContext(ctx, "retailer", 77)
	manualEntry, err := models.CreateCatalogEntry(manualCtx, &models.NewCatalogEntry{
		ProductId:    charger.ID,
		SellingPrice: decimal.RequireFromString("35"),
	})
	if err != nil {
		t.Fatalf("CreateCatalogEntry manual: %v", err)
	}
	if manualEntry.IsAutoImported == nil || *manualEntry.IsAutoImported {
		t.Fatal("manually created entry must not be auto-imported")
	}

	if _, err := models.DeleteProduct(ctx, charger.ID); err != nil {
		t.Fatalf("DeleteProduct charger: %v", err)
	}
	removed, err := workflow.OnProductRemoved(db.WithContext(ctx), config.GetLogger(), charger.ID)
	if err != nil {
		t.Fatalf("OnProductRemoved: %v", err)
	}
	if removed.Updated != 1 {
		t.Fatalf("expected 1 auto entry swept, got %d", removed.Updated)
	}

	var autoLeft int64
	err = db.WithContext(ctx).Model(&models.TenantCatalogEntry{}).
		Where("product_id = ? AND is_auto_imported = ?", charger.ID, true).
		Count(&autoLeft).Error
	if err != nil {
		t.Fatalf("count auto entries: %v", err)
	}
	if autoLeft != 0 {
		t.Fatalf("expected auto entries removed, %d left", autoLeft)
	}
	err = db.WithContext(ctx).First(&models.TenantCatalogEntry{}, manualEntry.ID).Error
	if err != nil {
		t.Fatalf("manual entry must survive product removal: %v", err)
	}
}

func mustFetchProduct(t *testing.T, ctx context.Context, id int) *models.Product {
	t.Helper()
	product, err := utils.FetchModel[models.Product](ctx, id)
	if err != nil {
		t.Fatalf("fetch product %d: %v", id, err)
	}
	return product
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("marketplace-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("marketplace-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=marketplace_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
