package workflow

import (
	"context"
	"os"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/models"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
)

const syncChunkSize = 200

// SyncSummary aggregates the outcome of a fan-out run. Skipped covers
// manual entries left alone, unchanged entries and ineligible tenants;
// Failed entries are logged and never abort the run.
type SyncSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (s *SyncSummary) Merge(other *SyncSummary) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Skipped += other.Skipped
	s.Failed += other.Failed
}

// productEligibleFor is the per-kind eligibility rule: the product must be
// active, carry the kind's own tier price, and carry a retail price since
// retail is the base every tenant's selling price derives from.
func productEligibleFor(product *models.Product, kind models.TenantKind) bool {
	if product.IsActive != nil && !*product.IsActive {
		return false
	}
	if !product.RetailPrice.IsPositive() {
		return false
	}
	switch kind {
	case models.TenantKindWholesaler:
		return product.WholesalePrice.IsPositive()
	case models.TenantKindReseller:
		return product.ResellerPrice.IsPositive()
	default:
		return true
	}
}

// tenantSellingPrice derives a tenant's selling price from the product's
// retail price and the tenant's markup rule. An unset markup sells at base.
func tenantSellingPrice(product *models.Product, setting *models.AutoImportSetting) decimal.Decimal {
	derived := DerivePrice(product.RetailPrice, setting.MarkupType, setting.MarkupValue)
	if derived.IsZero() {
		return product.RetailPrice
	}
	return derived
}

// OnProductChanged reconciles one product into every auto-importing
// tenant's catalog. Auto entries are upserted idempotently; manual entries
// are never touched; tenants for whom the product lost eligibility get
// their auto entry removed.
func OnProductChanged(db *gorm.DB, logger *logrus.Logger, productId int) (*SyncSummary, error) {
	summary := &SyncSummary{}

	var product models.Product
	if err := db.First(&product, productId).Error; err != nil {
		return OnProductRemoved(db, logger, productId)
	}

	var settings []models.AutoImportSetting
	if err := db.Where("enabled = ?", true).Order("id").Find(&settings).Error; err != nil {
		return nil, err
	}

	for i := range settings {
		setting := &settings[i]
		syncProductForTenant(db, logger, &product, setting, summary)
	}
	return summary, nil
}

func syncProductForTenant(db *gorm.DB, logger *logrus.Logger, product *models.Product, setting *models.AutoImportSetting, summary *SyncSummary) {

	var entry models.TenantCatalogEntry
	err := db.Where("tenant_kind = ? AND tenant_id = ? AND product_id = ?",
		setting.TenantKind, setting.TenantId, product.ID).
		First(&entry).Error
	found := err == nil

	if !productEligibleFor(product, setting.TenantKind) {
		if found && entry.IsAutoImported != nil && *entry.IsAutoImported {
			if err := db.Delete(&entry).Error; err != nil {
				summary.Failed++
				config.LogError(logger, "workflow", "syncProductForTenant", "delete ineligible entry", entry.ID, err)
				return
			}
			summary.Updated++
			return
		}
		summary.Skipped++
		return
	}

	sellingPrice := tenantSellingPrice(product, setting)
	if product.Mrp.IsPositive() && sellingPrice.GreaterThan(product.Mrp) {
		summary.Skipped++
		logger.WithFields(logrus.Fields{
			"product_id":  product.ID,
			"tenant_kind": setting.TenantKind,
			"tenant_id":   setting.TenantId,
			"derived":     sellingPrice.String(),
			"mrp":         product.Mrp.String(),
		}).Warn("sync skipped: derived selling price exceeds MRP")
		return
	}

	if !found {
		entry = models.TenantCatalogEntry{
			TenantKind:     setting.TenantKind,
			TenantId:       setting.TenantId,
			ProductId:      product.ID,
			SellingPrice:   sellingPrice,
			IsVisible:      utils.NewTrue(),
			IsAutoImported: utils.NewTrue(),
			MarkupType:     setting.MarkupType,
			MarkupValue:    setting.MarkupValue,
		}
		if err := db.Create(&entry).Error; err != nil {
			summary.Failed++
			config.LogError(logger, "workflow", "syncProductForTenant", "create entry", product.ID, err)
			return
		}
		summary.Created++
		return
	}

	if entry.IsAutoImported == nil || !*entry.IsAutoImported {
		summary.Skipped++
		return
	}

	if entry.SellingPrice.Equal(sellingPrice) &&
		entry.MarkupType == setting.MarkupType &&
		entry.MarkupValue.Equal(setting.MarkupValue) {
		summary.Skipped++
		return
	}

	err = db.Model(&entry).Updates(map[string]interface{}{
		"selling_price": sellingPrice,
		"markup_type":   setting.MarkupType,
		"markup_value":  setting.MarkupValue,
	}).Error
	if err != nil {
		summary.Failed++
		config.LogError(logger, "workflow", "syncProductForTenant", "update entry", entry.ID, err)
		return
	}
	summary.Updated++
}

// OnProductRemoved deletes every auto-imported catalog entry for a gone
// product. Manual entries stay; listings filter them against the product
// table instead.
func OnProductRemoved(db *gorm.DB, logger *logrus.Logger, productId int) (*SyncSummary, error) {
	summary := &SyncSummary{}
	result := db.Where("product_id = ? AND is_auto_imported = ?", productId, true).
		Delete(&models.TenantCatalogEntry{})
	if result.Error != nil {
		config.LogError(logger, "workflow", "OnProductRemoved", "delete entries", productId, result.Error)
		return nil, result.Error
	}
	summary.Updated = int(result.RowsAffected)
	return summary, nil
}

// SyncAll reconciles the whole catalog: a paginated product scan feeds
// OnProductChanged, then auto entries whose product vanished are swept.
// No lock is held across the run; each chunk reads current state.
func SyncAll(db *gorm.DB, logger *logrus.Logger) (*SyncSummary, error) {
	summary := &SyncSummary{}

	lastId := 0
	for {
		var ids []int
		err := db.Model(&models.Product{}).
			Where("id > ?", lastId).
			Order("id").Limit(syncChunkSize).
			Pluck("id", &ids).Error
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			chunk, err := OnProductChanged(db, logger, id)
			if err != nil {
				summary.Failed++
				config.LogError(logger, "workflow", "SyncAll", "sync product", id, err)
				continue
			}
			summary.Merge(chunk)
		}
		lastId = ids[len(ids)-1]
	}

	result := db.Where("is_auto_imported = ? AND product_id NOT IN (?)",
		true, db.Model(&models.Product{}).Select("id")).
		Delete(&models.TenantCatalogEntry{})
	if result.Error != nil {
		return nil, result.Error
	}
	summary.Updated += int(result.RowsAffected)

	return summary, nil
}

func fanoutWorkerCount() int {
	if v := os.Getenv("FANOUT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 4
}

// DispatchProductSync fans product changes out to tenant catalogs in the
// background. Called after the triggering transaction commits; failures are
// logged with the correlation id and never affect the committed bill.
func DispatchProductSync(ctx context.Context, db *gorm.DB, logger *logrus.Logger, productIds []int) {
	if len(productIds) == 0 || config.SyncFanoutDisabled() {
		return
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	go func() {
		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < fanoutWorkerCount(); w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for productId := range jobs {
					summary, err := OnProductChanged(db, logger, productId)
					if err != nil {
						logger.WithFields(logrus.Fields{
							"product_id":     productId,
							"correlation_id": correlationId,
						}).WithError(err).Error("product sync fan-out failed")
						continue
					}
					logger.WithFields(logrus.Fields{
						"product_id":     productId,
						"correlation_id": correlationId,
						"created":        summary.Created,
						"updated":        summary.Updated,
						"skipped":        summary.Skipped,
						"failed":         summary.Failed,
					}).Info("product sync fan-out done")
				}
			}()
		}
		for _, id := range utils.UniqueSlice(productIds) {
			jobs <- id
		}
		close(jobs)
		wg.Wait()
	}()
}
