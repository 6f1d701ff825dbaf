package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/shopspring/decimal"
)

const (
	defaultSourceType      = "promptpay"
	signatureTolerance     = 5 * time.Minute
	metadataReferenceField = "consultation_id"
)

type OmiseConfig struct {
	PublicKey     string
	SecretKey     string
	WebhookSecret string
	SourceType    string
	ReturnURI     string
	Timeout       time.Duration
}

type OmiseGateway struct {
	client        *omise.Client
	webhookSecret []byte
	sourceType    string
	returnURI     string
	timeout       time.Duration
	now           func() time.Time
}

func NewOmiseGateway(cfg OmiseConfig) (*OmiseGateway, error) {
	c, err := omise.NewClient(cfg.PublicKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	c.SetDebug(false)

	secret := []byte(cfg.WebhookSecret)
	// Omise выдаёт секрет в base64.
	if decoded, err := base64.StdEncoding.DecodeString(cfg.WebhookSecret); err == nil && len(decoded) > 0 {
		secret = decoded
	}

	sourceType := cfg.SourceType
	if sourceType == "" {
		sourceType = defaultSourceType
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &OmiseGateway{
		client:        c,
		webhookSecret: secret,
		sourceType:    sourceType,
		returnURI:     cfg.ReturnURI,
		timeout:       timeout,
		now:           time.Now,
	}, nil
}

// CreateOrder opens an offsite source and a pending charge for it. The charge id is the order id.
func (g *OmiseGateway) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, reference string) (Order, error) {
	subunits := ToSubunits(amount)
	cur := strings.ToLower(currency)

	src := &omise.Source{}
	if err := g.do(ctx, func() error {
		return g.client.Do(src, &operations.CreateSource{
			Type:     g.sourceType,
			Amount:   subunits,
			Currency: cur,
		})
	}); err != nil {
		return Order{}, fmt.Errorf("create source: %w", err)
	}

	ch := &omise.Charge{}
	if err := g.do(ctx, func() error {
		return g.client.Do(ch, &operations.CreateCharge{
			Amount:    subunits,
			Currency:  cur,
			Source:    src.ID,
			ReturnURI: g.returnURI,
			Metadata:  map[string]interface{}{metadataReferenceField: reference},
		})
	}); err != nil {
		return Order{}, fmt.Errorf("create charge: %w", err)
	}

	return Order{ID: ch.ID, Amount: amount, Currency: currency}, nil
}

func (g *OmiseGateway) Refund(ctx context.Context, paymentReference string, amount decimal.Decimal) (string, error) {
	refund := &omise.Refund{}
	if err := g.do(ctx, func() error {
		return g.client.Do(refund, &operations.CreateRefund{
			ChargeID: paymentReference,
			Amount:   ToSubunits(amount),
		})
	}); err != nil {
		return "", fmt.Errorf("create refund: %w", err)
	}
	return refund.ID, nil
}

// VerifySignature checks the HMAC-SHA256 of "<timestamp>.<payload>". The header may
// carry several comma separated signatures while the secret is being rotated.
func (g *OmiseGateway) VerifySignature(payload []byte, signature, timestamp string) bool {
	return verifyHMAC(g.webhookSecret, payload, signature, timestamp, g.now())
}

func verifyHMAC(secret, payload []byte, signature, timestamp string, now time.Time) bool {
	if len(secret) == 0 || signature == "" || timestamp == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if d := now.Sub(time.Unix(ts, 0)); d > signatureTolerance || d < -signatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range strings.Split(signature, ",") {
		got, err := hex.DecodeString(strings.TrimSpace(candidate))
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return true
		}
	}
	return false
}

type incomingEvent struct {
	ID string `json:"id"`
}

// ResolveEvent re-reads the event from the gateway by id so the payload body is never trusted as is.
func (g *OmiseGateway) ResolveEvent(ctx context.Context, payload []byte) (ChargeEvent, error) {
	var inc incomingEvent
	if err := json.Unmarshal(payload, &inc); err != nil || inc.ID == "" {
		return ChargeEvent{}, fmt.Errorf("decode webhook: invalid payload")
	}

	ev := &omise.Event{}
	if err := g.do(ctx, func() error {
		return g.client.Do(ev, &operations.RetrieveEvent{EventID: inc.ID})
	}); err != nil {
		return ChargeEvent{}, fmt.Errorf("retrieve event: %w", err)
	}

	out := ChargeEvent{EventID: ev.ID, Outcome: ChargeIgnored, OccurredAt: g.now().UTC()}
	if ev.Key != "charge.complete" {
		return out, nil
	}

	// ev.Data приходит как interface{}.
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return ChargeEvent{}, fmt.Errorf("marshal event data: %w", err)
	}
	var ch omise.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return ChargeEvent{}, fmt.Errorf("unmarshal charge: %w", err)
	}

	out.OrderID = ch.ID
	out.PaymentReference = ch.ID
	if ch.Status == "successful" {
		out.Outcome = ChargeSucceeded
	} else {
		out.Outcome = ChargeFailed
		if ch.FailureCode != nil {
			out.FailureCode = *ch.FailureCode
		}
	}
	return out, nil
}

// do runs a blocking SDK call under the gateway timeout. The SDK has no context
// support, so an abandoned call finishes in the background.
func (g *OmiseGateway) do(ctx context.Context, call func() error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- call()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}
