package fulfillment_service_api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Domenick1991/bookingcore/internal/domain"
	"github.com/Domenick1991/bookingcore/internal/orders"
	"github.com/Domenick1991/bookingcore/internal/recordstore"
	"github.com/Domenick1991/bookingcore/internal/repository"
	"github.com/Domenick1991/bookingcore/internal/service/booking"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName                 = "bookingcore.fulfillment.v1.FulfillmentService"
	ProcessBookingRequestMethod = "/" + ServiceName + "/ProcessBookingRequest"
	GetBookingRequestMethod     = "/" + ServiceName + "/GetBookingRequest"
)

// FulfillmentServiceServer takes a booking request id and answers with the
// request as a JSON-shaped struct.
type FulfillmentServiceServer interface {
	ProcessBookingRequest(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	GetBookingRequest(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
}

// Server implements the fulfillment gRPC service on top of the matcher.
type Server struct {
	matcher booking.MatcherUseCase
}

func NewServer(matcher booking.MatcherUseCase) *Server {
	return &Server{matcher: matcher}
}

func Register(s grpc.ServiceRegistrar, srv FulfillmentServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func (s *Server) ProcessBookingRequest(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := strings.TrimSpace(req.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "booking request id is required")
	}
	br, err := s.matcher.ProcessBookingRequest(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(br)
}

func (s *Server) GetBookingRequest(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := strings.TrimSpace(req.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "booking request id is required")
	}
	br, err := s.matcher.GetBookingRequest(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(br)
}

func toStruct(br *domain.BookingRequest) (*structpb.Struct, error) {
	raw, err := json.Marshal(br)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode booking request: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "encode booking request: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode booking request: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, booking.ErrNotEligible):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case orders.IsRetryable(err), recordstore.IsRetryable(err):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func processHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FulfillmentServiceServer).ProcessBookingRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProcessBookingRequestMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FulfillmentServiceServer).ProcessBookingRequest(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FulfillmentServiceServer).GetBookingRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetBookingRequestMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FulfillmentServiceServer).GetBookingRequest(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FulfillmentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ProcessBookingRequest", Handler: processHandler},
		{MethodName: "GetBookingRequest", Handler: getHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fulfillment.proto",
}

var _ FulfillmentServiceServer = (*Server)(nil)
