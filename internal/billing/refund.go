package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	FreeCancellationHours = 24
	PartialRefundHours    = 12
	PartialRefundPercent  = 50
)

type Refund struct {
	Amount  decimal.Decimal `json:"refund_amount"`
	Percent int             `json:"refund_percent"`
	Reason  string          `json:"reason"`
}

// IsFull reports whether the whole paid amount goes back to the payer.
func (r Refund) IsFull() bool { return r.Percent == 100 }

// CalculateRefund applies the time-to-schedule tiers to the amount paid.
func CalculateRefund(scheduledAt time.Time, amountPaid decimal.Decimal, now time.Time) Refund {
	hoursUntil := scheduledAt.Sub(now).Hours()

	switch {
	case hoursUntil >= FreeCancellationHours:
		return Refund{
			Amount:  amountPaid,
			Percent: 100,
			Reason:  "Full refund - cancelled more than 24 hours before scheduled time",
		}
	case hoursUntil >= PartialRefundHours:
		return Refund{
			Amount:  amountPaid.Mul(decimal.NewFromInt(PartialRefundPercent)).Div(decimal.NewFromInt(100)).Round(2),
			Percent: PartialRefundPercent,
			Reason:  "Partial refund - cancelled between 12-24 hours before scheduled time",
		}
	default:
		return Refund{
			Amount:  decimal.Zero,
			Percent: 0,
			Reason:  "No refund - cancelled less than 12 hours before scheduled time",
		}
	}
}

// FullRefund is used when the expert rejects a paid request: the farmer never got the service.
func FullRefund(amountPaid decimal.Decimal) Refund {
	return Refund{
		Amount:  amountPaid,
		Percent: 100,
		Reason:  "Full refund - consultation rejected by expert",
	}
}
