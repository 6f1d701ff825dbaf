package grpcapi

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/automotiv/khetisahayak-sub001/internal/service"
)

// Trailer keys that carry the machine-readable failure kind to the gateway.
const (
	TrailerErrorKind        = "x-error-kind"
	TrailerMinutesRemaining = "x-minutes-remaining"
)

type kindMapping struct {
	kind error
	code codes.Code
	name string
}

var kindMappings = []kindMapping{
	{service.ErrInvalidArgument, codes.InvalidArgument, "invalid_argument"},
	{service.ErrExpertNotFound, codes.NotFound, "expert_not_found"},
	{service.ErrConsultationNotFound, codes.NotFound, "consultation_not_found"},
	{service.ErrInvalidState, codes.FailedPrecondition, "invalid_state"},
	{service.ErrSlotUnavailable, codes.Aborted, "slot_unavailable"},
	{service.ErrTooEarly, codes.FailedPrecondition, "too_early"},
	{service.ErrTooLate, codes.FailedPrecondition, "too_late"},
	{service.ErrAlreadyReviewed, codes.AlreadyExists, "already_reviewed"},
	{service.ErrUnauthorized, codes.PermissionDenied, "unauthorized"},
	{service.ErrExternalServiceFailed, codes.Unavailable, "external_service_failure"},
}

// toStatus переводит ошибку сервиса в gRPC status. Неизвестные ошибки
// становятся Internal без подробностей: они уже залогированы.
func toStatus(ctx context.Context, err error, logger *zap.Logger) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	for _, m := range kindMappings {
		if !errors.Is(err, m.kind) {
			continue
		}
		msg := m.kind.Error()
		trailer := metadata.Pairs(TrailerErrorKind, m.name)

		var se *service.Error
		if errors.As(err, &se) {
			msg = se.Reason()
			if errors.Is(err, service.ErrTooEarly) {
				trailer.Set(TrailerMinutesRemaining, strconv.Itoa(se.MinutesRemaining))
			}
		}
		_ = grpc.SetTrailer(ctx, trailer)
		return status.Error(m.code, msg)
	}

	logger.Error("unhandled error", zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}
