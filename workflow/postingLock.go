package workflow

import (
	"fmt"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
)

// AcquireProductPostingLock serializes cost/stock posting per product across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that will do the posting transaction.
func AcquireProductPostingLock(tx *gorm.DB, productId int) error {
	lockName := fmt.Sprintf("product:%d", productId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("posting lock for product_id=%d: %w", productId, utils.ErrorLockNotObtained)
	}
	return nil
}

func ReleaseProductPostingLock(tx *gorm.DB, productId int) {
	lockName := fmt.Sprintf("product:%d", productId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
