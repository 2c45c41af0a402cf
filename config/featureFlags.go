package config

import (
	"os"
	"strings"
)

// SyncFanoutDisabled turns off background catalog fan-out after bill and
// product writes. Tenant catalogs then only move via the batch sync
// endpoint, which is useful during bulk imports.
//
// Set via env:
// - SYNC_FANOUT_DISABLED=true
func SyncFanoutDisabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SYNC_FANOUT_DISABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
