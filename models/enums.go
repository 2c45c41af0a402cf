package models

import (
	"errors"
)

type Availability string

const (
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityOutOfStock Availability = "out_of_stock"
)

// AvailabilityForQty derives availability from a stock quantity.
// Availability is never set directly; it always follows the quantity.
func AvailabilityForQty(qty int) Availability {
	if qty > 0 {
		return AvailabilityInStock
	}
	return AvailabilityOutOfStock
}

type TenantKind string

const (
	TenantKindWholesaler TenantKind = "wholesaler"
	TenantKindReseller   TenantKind = "reseller"
	TenantKindRetailer   TenantKind = "retailer"
)

var AllTenantKinds = []TenantKind{
	TenantKindWholesaler,
	TenantKindReseller,
	TenantKindRetailer,
}

func ParseTenantKind(s string) (TenantKind, error) {
	switch s {
	case "wholesaler":
		return TenantKindWholesaler, nil
	case "reseller":
		return TenantKindReseller, nil
	case "retailer":
		return TenantKindRetailer, nil
	default:
		return "", errors.New("invalid tenant kind")
	}
}

type MarkupType string

const (
	MarkupTypePercentage MarkupType = "percentage"
	MarkupTypeFixed      MarkupType = "fixed"
)

func ParseMarkupType(s string) (MarkupType, error) {
	switch s {
	case "percentage":
		return MarkupTypePercentage, nil
	case "fixed":
		return MarkupTypeFixed, nil
	default:
		return "", errors.New("invalid markup type")
	}
}
