// Package payment adapts the payment gateway used for consultation orders and refunds.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrTimeout = errors.New("payment gateway timeout")

type Order struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
}

type ChargeOutcome string

const (
	ChargeSucceeded ChargeOutcome = "succeeded"
	ChargeFailed    ChargeOutcome = "failed"
	ChargeIgnored   ChargeOutcome = "ignored"
)

// ChargeEvent is a gateway notification reduced to what the consultation engine needs.
type ChargeEvent struct {
	EventID          string
	Outcome          ChargeOutcome
	OrderID          string
	PaymentReference string
	FailureCode      string
	OccurredAt       time.Time
}

// Gateway is the payment collaborator. Every call must honour ctx deadlines.
type Gateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, reference string) (Order, error)
	VerifySignature(payload []byte, signature, timestamp string) bool
	Refund(ctx context.Context, paymentReference string, amount decimal.Decimal) (string, error)
}

// ToSubunits converts 123.45 into 12345.
func ToSubunits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromSubunits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
