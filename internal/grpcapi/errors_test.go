package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/automotiv/khetisahayak-sub001/internal/service"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
		msg  string
	}{
		{"nil", nil, codes.OK, ""},
		{"bare kind", service.ErrConsultationNotFound, codes.NotFound, "consultation not found"},
		{"wrapped kind", fmt.Errorf("cancel: %w", service.ErrInvalidState), codes.FailedPrecondition, "invalid state"},
		{"service error keeps reason", &service.Error{Kind: service.ErrSlotUnavailable, Op: "Book", Message: service.ReasonSlotBooked}, codes.Aborted, service.ReasonSlotBooked},
		{"already reviewed", &service.Error{Kind: service.ErrAlreadyReviewed}, codes.AlreadyExists, "already reviewed"},
		{"unauthorized", &service.Error{Kind: service.ErrUnauthorized, Message: "only the expert"}, codes.PermissionDenied, "only the expert"},
		{"too late", service.ErrTooLate, codes.FailedPrecondition, "too late"},
		{"external", &service.Error{Kind: service.ErrExternalServiceFailed, Message: "payment gateway call failed", Err: errors.New("dial tcp")}, codes.Unavailable, "payment gateway call failed"},
		{"status passes through", status.Error(codes.InvalidArgument, "expert_id: uuid"), codes.InvalidArgument, "expert_id: uuid"},
		{"unknown hides details", errors.New("pq: connection reset"), codes.Internal, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := toStatus(context.Background(), tt.err, zap.NewNop())
			st := status.Convert(err)
			assert.Equal(t, tt.code, st.Code())
			assert.Equal(t, tt.msg, st.Message())
		})
	}
}
