package consultationv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "khetisahayak.consultation.v1.ConsultationService"

// FullMethod returns the gRPC path of method, e.g. /khetisahayak.consultation.v1.ConsultationService/BookConsultation.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

type ConsultationServiceServer interface {
	UpsertExpertProfile(context.Context, *UpsertExpertProfileRequest) (*ExpertResponse, error)
	GetExpert(context.Context, *GetExpertRequest) (*ExpertResponse, error)
	SetWeeklyAvailability(context.Context, *SetWeeklyAvailabilityRequest) (*WeeklyAvailabilityResponse, error)
	ListWeeklyAvailability(context.Context, *ListWeeklyAvailabilityRequest) (*WeeklyAvailabilityResponse, error)
	SetDateOverride(context.Context, *SetDateOverrideRequest) (*DateOverrideResponse, error)
	DeleteDateOverride(context.Context, *DeleteDateOverrideRequest) (*DeleteDateOverrideResponse, error)
	ListDateOverrides(context.Context, *ListDateOverridesRequest) (*ListDateOverridesResponse, error)
	ListAvailableSlots(context.Context, *ListAvailableSlotsRequest) (*ListAvailableSlotsResponse, error)
	CheckSlot(context.Context, *CheckSlotRequest) (*CheckSlotResponse, error)
	QuoteFee(context.Context, *QuoteFeeRequest) (*QuoteFeeResponse, error)

	BookConsultation(context.Context, *BookConsultationRequest) (*BookConsultationResponse, error)
	ConfirmConsultation(context.Context, *ConsultationRequest) (*ConsultationResponse, error)
	RejectConsultation(context.Context, *CancelConsultationRequest) (*CancelConsultationResponse, error)
	CancelConsultation(context.Context, *CancelConsultationRequest) (*CancelConsultationResponse, error)
	PreviewRefund(context.Context, *ConsultationRequest) (*PreviewRefundResponse, error)
	StartConsultation(context.Context, *ConsultationRequest) (*ConsultationResponse, error)
	CompleteConsultation(context.Context, *CompleteConsultationRequest) (*ConsultationResponse, error)
	MarkNoShow(context.Context, *ConsultationRequest) (*ConsultationResponse, error)
	RescheduleConsultation(context.Context, *RescheduleConsultationRequest) (*ConsultationResponse, error)
	GetSessionCredentials(context.Context, *ConsultationRequest) (*GetSessionCredentialsResponse, error)
	SubmitReview(context.Context, *SubmitReviewRequest) (*SubmitReviewResponse, error)
	ListExpertReviews(context.Context, *ListExpertReviewsRequest) (*ListExpertReviewsResponse, error)
	GetConsultation(context.Context, *ConsultationRequest) (*ConsultationResponse, error)
	GetConsultationHistory(context.Context, *ConsultationRequest) (*ConsultationHistoryResponse, error)
	ListConsultations(context.Context, *ListConsultationsRequest) (*ListConsultationsResponse, error)
	ListPendingRequests(context.Context, *ListPendingRequestsRequest) (*ListConsultationsResponse, error)

	RegisterDevice(context.Context, *RegisterDeviceRequest) (*RegisterDeviceResponse, error)
	UnregisterDevice(context.Context, *UnregisterDeviceRequest) (*Empty, error)
}

// UnimplementedConsultationServiceServer can be embedded to keep servers
// compiling when methods are added.
type UnimplementedConsultationServiceServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedConsultationServiceServer) UpsertExpertProfile(context.Context, *UpsertExpertProfileRequest) (*ExpertResponse, error) {
	return nil, unimplemented("UpsertExpertProfile")
}
func (UnimplementedConsultationServiceServer) GetExpert(context.Context, *GetExpertRequest) (*ExpertResponse, error) {
	return nil, unimplemented("GetExpert")
}
func (UnimplementedConsultationServiceServer) SetWeeklyAvailability(context.Context, *SetWeeklyAvailabilityRequest) (*WeeklyAvailabilityResponse, error) {
	return nil, unimplemented("SetWeeklyAvailability")
}
func (UnimplementedConsultationServiceServer) ListWeeklyAvailability(context.Context, *ListWeeklyAvailabilityRequest) (*WeeklyAvailabilityResponse, error) {
	return nil, unimplemented("ListWeeklyAvailability")
}
func (UnimplementedConsultationServiceServer) SetDateOverride(context.Context, *SetDateOverrideRequest) (*DateOverrideResponse, error) {
	return nil, unimplemented("SetDateOverride")
}
func (UnimplementedConsultationServiceServer) DeleteDateOverride(context.Context, *DeleteDateOverrideRequest) (*DeleteDateOverrideResponse, error) {
	return nil, unimplemented("DeleteDateOverride")
}
func (UnimplementedConsultationServiceServer) ListDateOverrides(context.Context, *ListDateOverridesRequest) (*ListDateOverridesResponse, error) {
	return nil, unimplemented("ListDateOverrides")
}
func (UnimplementedConsultationServiceServer) ListAvailableSlots(context.Context, *ListAvailableSlotsRequest) (*ListAvailableSlotsResponse, error) {
	return nil, unimplemented("ListAvailableSlots")
}
func (UnimplementedConsultationServiceServer) CheckSlot(context.Context, *CheckSlotRequest) (*CheckSlotResponse, error) {
	return nil, unimplemented("CheckSlot")
}
func (UnimplementedConsultationServiceServer) QuoteFee(context.Context, *QuoteFeeRequest) (*QuoteFeeResponse, error) {
	return nil, unimplemented("QuoteFee")
}
func (UnimplementedConsultationServiceServer) BookConsultation(context.Context, *BookConsultationRequest) (*BookConsultationResponse, error) {
	return nil, unimplemented("BookConsultation")
}
func (UnimplementedConsultationServiceServer) ConfirmConsultation(context.Context, *ConsultationRequest) (*ConsultationResponse, error) {
	return nil, unimplemented("ConfirmConsultation")
}
func (UnimplementedConsultationServiceServer) RejectConsultation(context.Context, *CancelConsultationRequest) (*CancelConsultationResponse, error) {
	return nil, unimplemented("RejectConsultation")
}
func (UnimplementedConsultationServiceServer) CancelConsultation(context.Context, *CancelConsultationRequest) (*CancelConsultationResponse, error) {
	return nil, unimplemented("CancelConsultation")
}
func (UnimplementedConsultationServiceServer) PreviewRefund(context.Context, *ConsultationRequest) (*PreviewRefundResponse, error) {
	return nil, unimplemented("PreviewRefund")
}
func (UnimplementedConsultationServiceServer) StartConsultation(context.Context, *ConsultationRequest) (*ConsultationResponse, error) {
	return nil, unimplemented("StartConsultation")
}
func (UnimplementedConsultationServiceServer) CompleteConsultation(context.Context, *CompleteConsultationRequest) (*ConsultationResponse, error) {
	return nil, unimplemented("CompleteConsultation")
}
func (UnimplementedConsultationServiceServer) MarkNoShow(context.Context, *ConsultationRequest) (*ConsultationResponse, error) {
	return nil, unimplemented("MarkNoShow")
}
func (UnimplementedConsultationServiceServer) RescheduleConsultation(context.Context, *RescheduleConsultationRequest) (*ConsultationResponse, error) {
	return nil, unimplemented("RescheduleConsultation")
}
func (UnimplementedConsultationServiceServer) GetSessionCredentials(context.Context, *ConsultationRequest) (*GetSessionCredentialsResponse, error) {
	return nil, unimplemented("GetSessionCredentials")
}
func (UnimplementedConsultationServiceServer) SubmitReview(context.Context, *SubmitReviewRequest) (*SubmitReviewResponse, error) {
	return nil, unimplemented("SubmitReview")
}
func (UnimplementedConsultationServiceServer) ListExpertReviews(context.Context, *ListExpertReviewsRequest) (*ListExpertReviewsResponse, error) {
	return nil, unimplemented("ListExpertReviews")
}
func (UnimplementedConsultationServiceServer) GetConsultation(context.Context, *ConsultationRequest) (*ConsultationResponse, error) {
	return nil, unimplemented("GetConsultation")
}
func (UnimplementedConsultationServiceServer) GetConsultationHistory(context.Context, *ConsultationRequest) (*ConsultationHistoryResponse, error) {
	return nil, unimplemented("GetConsultationHistory")
}
func (UnimplementedConsultationServiceServer) ListConsultations(context.Context, *ListConsultationsRequest) (*ListConsultationsResponse, error) {
	return nil, unimplemented("ListConsultations")
}
func (UnimplementedConsultationServiceServer) ListPendingRequests(context.Context, *ListPendingRequestsRequest) (*ListConsultationsResponse, error) {
	return nil, unimplemented("ListPendingRequests")
}
func (UnimplementedConsultationServiceServer) RegisterDevice(context.Context, *RegisterDeviceRequest) (*RegisterDeviceResponse, error) {
	return nil, unimplemented("RegisterDevice")
}
func (UnimplementedConsultationServiceServer) UnregisterDevice(context.Context, *UnregisterDeviceRequest) (*Empty, error) {
	return nil, unimplemented("UnregisterDevice")
}

// unary builds the method descriptor for one RPC. Decoding goes through the
// server codec, so the same descriptor serves JSON and proto-encoded callers.
func unary[Req, Resp any](name string, call func(ConsultationServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ConsultationServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ConsultationServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ConsultationService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConsultationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("UpsertExpertProfile", ConsultationServiceServer.UpsertExpertProfile),
		unary("GetExpert", ConsultationServiceServer.GetExpert),
		unary("SetWeeklyAvailability", ConsultationServiceServer.SetWeeklyAvailability),
		unary("ListWeeklyAvailability", ConsultationServiceServer.ListWeeklyAvailability),
		unary("SetDateOverride", ConsultationServiceServer.SetDateOverride),
		unary("DeleteDateOverride", ConsultationServiceServer.DeleteDateOverride),
		unary("ListDateOverrides", ConsultationServiceServer.ListDateOverrides),
		unary("ListAvailableSlots", ConsultationServiceServer.ListAvailableSlots),
		unary("CheckSlot", ConsultationServiceServer.CheckSlot),
		unary("QuoteFee", ConsultationServiceServer.QuoteFee),
		unary("BookConsultation", ConsultationServiceServer.BookConsultation),
		unary("ConfirmConsultation", ConsultationServiceServer.ConfirmConsultation),
		unary("RejectConsultation", ConsultationServiceServer.RejectConsultation),
		unary("CancelConsultation", ConsultationServiceServer.CancelConsultation),
		unary("PreviewRefund", ConsultationServiceServer.PreviewRefund),
		unary("StartConsultation", ConsultationServiceServer.StartConsultation),
		unary("CompleteConsultation", ConsultationServiceServer.CompleteConsultation),
		unary("MarkNoShow", ConsultationServiceServer.MarkNoShow),
		unary("RescheduleConsultation", ConsultationServiceServer.RescheduleConsultation),
		unary("GetSessionCredentials", ConsultationServiceServer.GetSessionCredentials),
		unary("SubmitReview", ConsultationServiceServer.SubmitReview),
		unary("ListExpertReviews", ConsultationServiceServer.ListExpertReviews),
		unary("GetConsultation", ConsultationServiceServer.GetConsultation),
		unary("GetConsultationHistory", ConsultationServiceServer.GetConsultationHistory),
		unary("ListConsultations", ConsultationServiceServer.ListConsultations),
		unary("ListPendingRequests", ConsultationServiceServer.ListPendingRequests),
		unary("RegisterDevice", ConsultationServiceServer.RegisterDevice),
		unary("UnregisterDevice", ConsultationServiceServer.UnregisterDevice),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "consultation/v1/consultation.json",
}

func RegisterConsultationServiceServer(s grpc.ServiceRegistrar, srv ConsultationServiceServer) {
	s.RegisterService(&ConsultationService_ServiceDesc, srv)
}

// Client is a thin caller used by the gateway and by tests. The connection
// must be created with grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})).
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// Call invokes method with in and decodes the reply into out.
func (c *Client) Call(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, FullMethod(method), in, out, opts...)
}
