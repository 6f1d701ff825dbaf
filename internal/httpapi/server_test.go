package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
	"github.com/automotiv/khetisahayak-sub001/internal/payment"
	"github.com/automotiv/khetisahayak-sub001/internal/service"
)

type fakeWebhooks struct {
	validSig   string
	event      payment.ChargeEvent
	resolveErr error
}

func (f *fakeWebhooks) VerifySignature(_ []byte, signature, _ string) bool {
	return signature == f.validSig
}

func (f *fakeWebhooks) ResolveEvent(context.Context, []byte) (payment.ChargeEvent, error) {
	return f.event, f.resolveErr
}

type fakePayments struct {
	got []payment.ChargeEvent
	out *model.Consultation
	err error
}

func (f *fakePayments) HandlePaymentEvent(_ context.Context, ev payment.ChargeEvent) (*model.Consultation, error) {
	f.got = append(f.got, ev)
	return f.out, f.err
}

type fakeDB struct{ err error }

func (f fakeDB) PingContext(context.Context) error { return f.err }

func decode(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func webhookRequest(sig string) *http.Request {
	req := httptest.NewRequest("POST", "/webhooks/payments", strings.NewReader(`{"id":"evnt_1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderSignatureTimestamp, "1717286400")
	return req
}

func TestHealth(t *testing.T) {
	app := New(Deps{ServiceName: "consultation-core", DB: fakeDB{}})
	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body := decode(t, resp.Body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])

	app = New(Deps{DB: fakeDB{err: errors.New("connection refused")}})
	resp, err = app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, "degraded", decode(t, resp.Body)["status"])
}

func TestMetricsExposed(t *testing.T) {
	app := New(Deps{})
	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "go_goroutines")
}

func TestPaymentWebhook(t *testing.T) {
	consultationID := uuid.New()
	succeeded := payment.ChargeEvent{EventID: "evnt_1", Outcome: payment.ChargeSucceeded, OrderID: "chrg_1", PaymentReference: "chrg_1"}

	t.Run("bad signature", func(t *testing.T) {
		payments := &fakePayments{}
		app := New(Deps{Webhooks: &fakeWebhooks{validSig: "good", event: succeeded}, Payments: payments})
		resp, err := app.Test(webhookRequest("forged"))
		require.NoError(t, err)
		assert.Equal(t, 401, resp.StatusCode)
		assert.Empty(t, payments.got)
	})

	t.Run("applied", func(t *testing.T) {
		payments := &fakePayments{out: &model.Consultation{ID: consultationID, PaymentStatus: model.PaymentStatusPaid}}
		app := New(Deps{Webhooks: &fakeWebhooks{validSig: "good", event: succeeded}, Payments: payments})
		resp, err := app.Test(webhookRequest("good"))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		body := decode(t, resp.Body)
		assert.Equal(t, "processed", body["status"])
		assert.Equal(t, consultationID.String(), body["consultation_id"])
		assert.Equal(t, "paid", body["payment_status"])
		require.Len(t, payments.got, 1)
		assert.Equal(t, "chrg_1", payments.got[0].OrderID)
	})

	t.Run("unknown order is acknowledged", func(t *testing.T) {
		payments := &fakePayments{err: &service.Error{Kind: service.ErrConsultationNotFound}}
		app := New(Deps{Webhooks: &fakeWebhooks{validSig: "good", event: succeeded}, Payments: payments})
		resp, err := app.Test(webhookRequest("good"))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "ignored", decode(t, resp.Body)["status"])
	})

	t.Run("gateway lookup fails", func(t *testing.T) {
		app := New(Deps{
			Webhooks: &fakeWebhooks{validSig: "good", resolveErr: errors.New("timeout")},
			Payments: &fakePayments{},
		})
		resp, err := app.Test(webhookRequest("good"))
		require.NoError(t, err)
		assert.Equal(t, 502, resp.StatusCode)
	})

	t.Run("storage failure asks for redelivery", func(t *testing.T) {
		payments := &fakePayments{err: errors.New("database is locked")}
		app := New(Deps{Webhooks: &fakeWebhooks{validSig: "good", event: succeeded}, Payments: payments})
		resp, err := app.Test(webhookRequest("good"))
		require.NoError(t, err)
		assert.Equal(t, 500, resp.StatusCode)
		assert.Equal(t, "internal error", decode(t, resp.Body)["error"])
	})
}
