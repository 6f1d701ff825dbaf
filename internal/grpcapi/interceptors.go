package grpcapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/automotiv/khetisahayak-sub001/internal/observability"
)

const (
	MetadataUserID         = "x-user-id"
	MetadataInternalSecret = "x-internal-secret"
)

type actorKey struct{}

func first(ss []string) string {
	if len(ss) > 0 {
		return ss[0]
	}
	return ""
}

// ActorFrom returns the caller set by the actor interceptor, or uuid.Nil.
func ActorFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(actorKey{}).(uuid.UUID)
	return id
}

func requireActor(ctx context.Context) (uuid.UUID, error) {
	id := ActorFrom(ctx)
	if id == uuid.Nil {
		return uuid.Nil, status.Error(codes.Unauthenticated, MetadataUserID+" metadata is required")
	}
	return id, nil
}

// Служебные сервисы (health, reflection) не требуют секрета gateway.
func isInfraMethod(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/grpc.health.") || strings.HasPrefix(fullMethod, "/grpc.reflection.")
}

func recoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("panic in handler",
					zap.String("method", info.FullMethod),
					zap.Any("panic", p),
					zap.Stack("stack"),
				)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		observability.ObserveRPC(info.FullMethod, code.String(), started)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("took", time.Since(started)),
		}
		log := observability.WithTrace(ctx, logger)
		switch code {
		case codes.OK:
			log.Debug("rpc", fields...)
		case codes.Internal, codes.Unknown, codes.Unavailable:
			log.Error("rpc", append(fields, zap.Error(err))...)
		default:
			log.Info("rpc", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

// authInterceptor checks the shared gateway secret when one is configured.
func authInterceptor(secret string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if secret == "" || isInfraMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		got := first(md.Get(MetadataInternalSecret))
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid internal secret")
		}
		return handler(ctx, req)
	}
}

// actorInterceptor parses x-user-id. An absent header leaves the call
// anonymous; a malformed one is rejected.
func actorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		raw := strings.TrimSpace(first(md.Get(MetadataUserID)))
		if raw == "" {
			return handler(ctx, req)
		}
		id, err := uuid.Parse(raw)
		if err != nil || id == uuid.Nil {
			return nil, status.Error(codes.Unauthenticated, "malformed "+MetadataUserID)
		}
		return handler(context.WithValue(ctx, actorKey{}, id), req)
	}
}

func validationInterceptor(v *validator.Validate) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := req.(proto.Message); ok {
			return handler(ctx, req)
		}
		if err := v.StructCtx(ctx, req); err != nil {
			var invalid *validator.InvalidValidationError
			if errors.As(err, &invalid) {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.InvalidArgument, validationMessage(err))
		}
		return handler(ctx, req)
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fe.Field()+": must satisfy "+fe.Tag()+"="+fe.Param())
		} else {
			parts = append(parts, fe.Field()+": "+fe.Tag())
		}
	}
	return strings.Join(parts, "; ")
}
