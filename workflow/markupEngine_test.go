package workflow

import (
	"testing"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/marketplace_backend/models"
)

func TestDerivePrice_Percentage(t *testing.T) {
	cost := decimal.RequireFromString("100")
	got := DerivePrice(cost, models.MarkupTypePercentage, decimal.RequireFromString("15"))
	if !got.Equal(decimal.RequireFromString("115")) {
		t.Fatalf("expected 115, got %s", got)
	}
}

func TestDerivePrice_PercentageRoundsToTwoPlaces(t *testing.T) {
	// 33.33 * 1.10 = 36.663 -> 36.66
	cost := decimal.RequireFromString("33.33")
	got := DerivePrice(cost, models.MarkupTypePercentage, decimal.RequireFromString("10"))
	if !got.Equal(decimal.RequireFromString("36.66")) {
		t.Fatalf("expected 36.66, got %s", got)
	}
}

func TestDerivePrice_Fixed(t *testing.T) {
	cost := decimal.RequireFromString("80.50")
	got := DerivePrice(cost, models.MarkupTypeFixed, decimal.RequireFromString("19.50"))
	if !got.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected 100, got %s", got)
	}
}

func TestDerivePrice_UnsetMarkupDerivesNothing(t *testing.T) {
	cost := decimal.RequireFromString("100")
	got := DerivePrice(cost, models.MarkupTypePercentage, decimal.Zero)
	if !got.IsZero() {
		t.Fatalf("expected zero for unset markup, got %s", got)
	}
}

func TestDerivePrice_NegativeMarkupDerivesNothing(t *testing.T) {
	cost := decimal.RequireFromString("100")
	for _, markupType := range []models.MarkupType{models.MarkupTypePercentage, models.MarkupTypeFixed} {
		got := DerivePrice(cost, markupType, decimal.RequireFromString("-5"))
		if !got.IsZero() {
			t.Fatalf("expected zero for negative %s markup, got %s", markupType, got)
		}
	}
}

func TestDerivePrice_ZeroCostDerivesNothing(t *testing.T) {
	got := DerivePrice(decimal.Zero, models.MarkupTypeFixed, decimal.RequireFromString("10"))
	if !got.IsZero() {
		t.Fatalf("expected zero for zero cost, got %s", got)
	}
}
