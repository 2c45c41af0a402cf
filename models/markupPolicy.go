package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"github.com/shopspring/decimal"
)

// MarkupPolicy is the singleton set of markup rules that derive the three
// tier prices from cost. A zero markup value means the tier is unset and
// derivation leaves the stored price alone.
type MarkupPolicy struct {
	ID                   int             `gorm:"primary_key" json:"id"`
	WholesaleMarkupType  MarkupType      `gorm:"type:enum('percentage','fixed');default:percentage" json:"wholesale_markup_type"`
	WholesaleMarkupValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"wholesale_markup_value"`
	ResellerMarkupType   MarkupType      `gorm:"type:enum('percentage','fixed');default:percentage" json:"reseller_markup_type"`
	ResellerMarkupValue  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"reseller_markup_value"`
	RetailMarkupType     MarkupType      `gorm:"type:enum('percentage','fixed');default:percentage" json:"retail_markup_type"`
	RetailMarkupValue    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"retail_markup_value"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMarkupPolicy struct {
	WholesaleMarkupType  string          `json:"wholesale_markup_type"`
	WholesaleMarkupValue decimal.Decimal `json:"wholesale_markup_value"`
	ResellerMarkupType   string          `json:"reseller_markup_type"`
	ResellerMarkupValue  decimal.Decimal `json:"reseller_markup_value"`
	RetailMarkupType     string          `json:"retail_markup_type"`
	RetailMarkupValue    decimal.Decimal `json:"retail_markup_value"`
}

func (input *NewMarkupPolicy) Validate() (*MarkupPolicy, error) {
	policy := MarkupPolicy{
		WholesaleMarkupType:  MarkupTypePercentage,
		WholesaleMarkupValue: input.WholesaleMarkupValue,
		ResellerMarkupType:   MarkupTypePercentage,
		ResellerMarkupValue:  input.ResellerMarkupValue,
		RetailMarkupType:     MarkupTypePercentage,
		RetailMarkupValue:    input.RetailMarkupValue,
	}
	var err error
	if input.WholesaleMarkupType != "" {
		if policy.WholesaleMarkupType, err = ParseMarkupType(input.WholesaleMarkupType); err != nil {
			return nil, err
		}
	}
	if input.ResellerMarkupType != "" {
		if policy.ResellerMarkupType, err = ParseMarkupType(input.ResellerMarkupType); err != nil {
			return nil, err
		}
	}
	if input.RetailMarkupType != "" {
		if policy.RetailMarkupType, err = ParseMarkupType(input.RetailMarkupType); err != nil {
			return nil, err
		}
	}
	if input.WholesaleMarkupValue.IsNegative() ||
		input.ResellerMarkupValue.IsNegative() ||
		input.RetailMarkupValue.IsNegative() {
		return nil, errors.New("markup value cannot be negative")
	}
	return &policy, nil
}

// GetMarkupPolicy returns the singleton policy, creating an all-zero one
// on first access.
func GetMarkupPolicy(ctx context.Context) (*MarkupPolicy, error) {
	db := config.GetDB()
	var policy MarkupPolicy
	err := db.WithContext(ctx).Order("id").First(&policy).Error
	if err != nil {
		policy = MarkupPolicy{}
		if err := db.WithContext(ctx).Create(&policy).Error; err != nil {
			return nil, err
		}
	}
	return &policy, nil
}

// SaveMarkupPolicy overwrites the singleton policy.
func SaveMarkupPolicy(ctx context.Context, input *NewMarkupPolicy) (*MarkupPolicy, error) {
	policy, err := input.Validate()
	if err != nil {
		return nil, err
	}
	existing, err := GetMarkupPolicy(ctx)
	if err != nil {
		return nil, err
	}
	policy.ID = existing.ID
	if err := config.GetDB().WithContext(ctx).Save(policy).Error; err != nil {
		return nil, err
	}
	return policy, nil
}

// TierMarkup returns the markup rule for one tenant kind.
func (p *MarkupPolicy) TierMarkup(kind TenantKind) (MarkupType, decimal.Decimal) {
	switch kind {
	case TenantKindWholesaler:
		return p.WholesaleMarkupType, p.WholesaleMarkupValue
	case TenantKindReseller:
		return p.ResellerMarkupType, p.ResellerMarkupValue
	default:
		return p.RetailMarkupType, p.RetailMarkupValue
	}
}
