package models

import (
	"log"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{},
		&PurchaseBill{}, &PurchaseBillItem{},
		&TenantCatalogEntry{}, &AutoImportSetting{},
		&MarkupPolicy{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
