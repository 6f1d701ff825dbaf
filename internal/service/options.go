package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Policy constants of the consultation engine.
const (
	MinAdvance             = 24 * time.Hour
	PaymentWindow          = 30 * time.Minute
	JoinWindow             = 15 * time.Minute
	NoShowGrace            = 10 * time.Minute
	MaxConsultationMinutes = 240
)

const tracerName = "github.com/automotiv/khetisahayak-sub001/internal/service"

// Cache is a byte cache for derived read models (generated slot lists).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

type Options struct {
	// Location is the time zone experts' weekly hours are expressed in.
	Location *time.Location
	Now      func() time.Time
	Logger   *zap.Logger

	// Cache is optional; nil disables slot caching.
	Cache        Cache
	SlotCacheTTL time.Duration

	// ExternalTimeout bounds every payment and session provider call.
	ExternalTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.SlotCacheTTL <= 0 {
		o.SlotCacheTTL = time.Minute
	}
	if o.ExternalTimeout <= 0 {
		o.ExternalTimeout = 10 * time.Second
	}
	return o
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
