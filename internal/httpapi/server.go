// Package httpapi serves the plain HTTP surface next to gRPC: health,
// Prometheus metrics and the payment gateway webhook.
package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
	"github.com/automotiv/khetisahayak-sub001/internal/observability"
	"github.com/automotiv/khetisahayak-sub001/internal/payment"
	"github.com/automotiv/khetisahayak-sub001/internal/service"
)

const (
	HeaderSignature          = "Omise-Signature"
	HeaderSignatureTimestamp = "Omise-Signature-Timestamp"

	healthTimeout = 2 * time.Second
)

// WebhookSource verifies and decodes gateway notifications.
type WebhookSource interface {
	VerifySignature(payload []byte, signature, timestamp string) bool
	ResolveEvent(ctx context.Context, payload []byte) (payment.ChargeEvent, error)
}

type PaymentEventHandler interface {
	HandlePaymentEvent(ctx context.Context, ev payment.ChargeEvent) (*model.Consultation, error)
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	ServiceName string
	DB          Pinger
	Webhooks    WebhookSource
	Payments    PaymentEventHandler
	Logger      *zap.Logger
}

type handler struct {
	deps   Deps
	tracer trace.Tracer
}

func New(deps Deps) *fiber.App {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handler{deps: deps, tracer: otel.Tracer("consultation/httpapi")}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
		ErrorHandler:          h.errorHandler,
	})
	app.Use(recover.New())
	app.Use(h.instrument)

	app.Get("/health", h.health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Post("/webhooks/payments", h.paymentWebhook)
	return app
}

func (h *handler) instrument(c *fiber.Ctx) error {
	started := time.Now()
	ctx, span := h.tracer.Start(c.UserContext(), "http "+c.Method(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.target", c.Path())))
	defer span.End()
	c.SetUserContext(ctx)

	err := c.Next()
	if err != nil {
		// ErrorHandler ещё не вызван, статус ответа выставит он.
		if ferr := c.App().ErrorHandler(c, err); ferr != nil {
			return ferr
		}
	}
	route := c.Route().Path
	status := c.Response().StatusCode()
	span.SetAttributes(attribute.Int("http.status_code", status))
	observability.ObserveHTTP(c.Method(), route, status, started)
	observability.WithTrace(ctx, h.deps.Logger).Debug("http",
		zap.String("method", c.Method()),
		zap.String("path", route),
		zap.Int("status", status),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

func (h *handler) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		h.deps.Logger.Error("http handler failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(code).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (h *handler) health(c *fiber.Ctx) error {
	body := fiber.Map{"status": "ok", "service": h.deps.ServiceName}
	if h.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
		defer cancel()
		if err := h.deps.DB.PingContext(ctx); err != nil {
			h.deps.Logger.Warn("health: database ping failed", zap.Error(err))
			body["status"] = "degraded"
			body["database"] = "unreachable"
			return c.Status(fiber.StatusServiceUnavailable).JSON(body)
		}
		body["database"] = "ok"
	}
	return c.JSON(body)
}

// paymentWebhook подтверждает или отклоняет оплату по событию шлюза.
// Ответ не 2xx заставляет шлюз повторить доставку, поэтому ошибки,
// которые повтор не исправит, отвечают 200.
func (h *handler) paymentWebhook(c *fiber.Ctx) error {
	if h.deps.Webhooks == nil || h.deps.Payments == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "payments are not configured")
	}
	payload := append([]byte(nil), c.Body()...)
	if !h.deps.Webhooks.VerifySignature(payload, c.Get(HeaderSignature), c.Get(HeaderSignatureTimestamp)) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid signature")
	}

	ctx := c.UserContext()
	ev, err := h.deps.Webhooks.ResolveEvent(ctx, payload)
	if err != nil {
		h.deps.Logger.Warn("webhook: resolve event", zap.Error(err))
		return fiber.NewError(fiber.StatusBadGateway, "could not resolve event")
	}
	log := observability.WithTrace(ctx, h.deps.Logger).With(
		zap.String("event_id", ev.EventID),
		zap.String("order_id", ev.OrderID),
		zap.String("outcome", string(ev.Outcome)),
	)

	updated, err := h.deps.Payments.HandlePaymentEvent(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrConsultationNotFound), errors.Is(err, service.ErrInvalidState):
		log.Warn("webhook: event not applicable", zap.Error(err))
		return c.JSON(fiber.Map{"status": "ignored"})
	default:
		log.Error("webhook: handle payment event", zap.Error(err))
		return err
	}

	body := fiber.Map{"status": "processed"}
	if updated != nil {
		body["consultation_id"] = updated.ID.String()
		body["payment_status"] = string(updated.PaymentStatus)
		log.Info("webhook: payment event applied", zap.String("consultation_id", updated.ID.String()))
	}
	return c.JSON(body)
}
