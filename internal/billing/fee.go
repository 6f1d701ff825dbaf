// Package billing holds the pricing and refund rules for consultations.
package billing

import (
	"errors"

	"github.com/shopspring/decimal"
)

const (
	// SlotMinutes is the pricing unit: the expert fee is quoted per 30 minutes.
	SlotMinutes = 30
	// DefaultCurrency matches the currency experts quote their fees in.
	DefaultCurrency = "INR"
)

var (
	PlatformFeeRate = decimal.RequireFromString("0.10")
	TaxRate         = decimal.RequireFromString("0.18")
)

var ErrInvalidDuration = errors.New("duration must be positive")

type Breakdown struct {
	ExpertEarnings   decimal.Decimal `json:"expert_earnings"`
	PlatformEarnings decimal.Decimal `json:"platform_earnings"`
}

type Fee struct {
	Slots       int             `json:"slots"`
	Base        decimal.Decimal `json:"base"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	Breakdown   Breakdown       `json:"breakdown"`
}

// SlotsFor returns ceil(durationMinutes / 30).
func SlotsFor(durationMinutes int) int {
	return (durationMinutes + SlotMinutes - 1) / SlotMinutes
}

// ComputeFee prices a consultation from the expert's per-slot fee.
// Every intermediate amount is rounded to two decimals before it is reused.
func ComputeFee(perSlotFee decimal.Decimal, durationMinutes int, currency string) (Fee, error) {
	if durationMinutes <= 0 {
		return Fee{}, ErrInvalidDuration
	}
	if currency == "" {
		currency = DefaultCurrency
	}

	slots := SlotsFor(durationMinutes)
	base := perSlotFee.Mul(decimal.NewFromInt(int64(slots))).Round(2)
	platformFee := base.Mul(PlatformFeeRate).Round(2)
	tax := platformFee.Mul(TaxRate).Round(2)

	return Fee{
		Slots:       slots,
		Base:        base,
		PlatformFee: platformFee,
		Tax:         tax,
		Total:       base.Add(platformFee).Add(tax),
		Currency:    currency,
		Breakdown: Breakdown{
			ExpertEarnings:   base.Sub(platformFee),
			PlatformEarnings: platformFee.Add(tax),
		},
	}, nil
}
