// internal/handler/service.go
package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Screening service names. Messages are the well-known wrapper types, so
// no generated code is needed on either side.
const (
	ScreeningServiceName   = "neurotone.v1.Screening"
	ScreeningPredictMethod = "/" + ScreeningServiceName + "/Predict"
)

// ScreeningServer is the server API for the Screening service
type ScreeningServer interface {
	Predict(context.Context, *wrapperspb.BytesValue) (*wrapperspb.DoubleValue, error)
}

// ScreeningServiceDesc is the grpc.ServiceDesc for the Screening service
var ScreeningServiceDesc = grpc.ServiceDesc{
	ServiceName: ScreeningServiceName,
	HandlerType: (*ScreeningServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Predict",
			Handler:    screeningPredictHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "neurotone/v1/screening.proto",
}

// RegisterScreeningServer registers srv on s
func RegisterScreeningServer(s grpc.ServiceRegistrar, srv ScreeningServer) {
	s.RegisterService(&ScreeningServiceDesc, srv)
}

func screeningPredictHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScreeningServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ScreeningPredictMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ScreeningServer).Predict(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ScreeningClient is the client API for the Screening service
type ScreeningClient struct {
	cc grpc.ClientConnInterface
}

// NewScreeningClient wraps cc
func NewScreeningClient(cc grpc.ClientConnInterface) *ScreeningClient {
	return &ScreeningClient{cc: cc}
}

// Predict sends raw audio and returns the probability
func (c *ScreeningClient) Predict(ctx context.Context, raw []byte, opts ...grpc.CallOption) (float64, error) {
	out := new(wrapperspb.DoubleValue)
	if err := c.cc.Invoke(ctx, ScreeningPredictMethod, wrapperspb.Bytes(raw), out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}
