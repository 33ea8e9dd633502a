package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "sensorsim.v1.SensorControl"

// Full method names.
const (
	MethodLoadSensor    = "/" + ServiceName + "/LoadSensor"
	MethodRemoveSensor  = "/" + ServiceName + "/RemoveSensor"
	MethodLookupSensor  = "/" + ServiceName + "/LookupSensor"
	MethodListSensors   = "/" + ServiceName + "/ListSensors"
	MethodRunOnce       = "/" + ServiceName + "/RunOnce"
	MethodSetEnabled    = "/" + ServiceName + "/SetEnabled"
	MethodLatestReading = "/" + ServiceName + "/LatestReading"
)

// SensorControlServer is the server side of sensorsim.v1.SensorControl.
type SensorControlServer interface {
	LoadSensor(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveSensor(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LookupSensor(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSensors(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunOnce(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetEnabled(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LatestReading(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(SensorControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// handler adapts a unary method to grpc.MethodDesc, routing through the
// server's interceptor chain.
func handler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SensorControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(SensorControlServer), ctx, req.(*structpb.Struct))
		})
	}
}

// ServiceDesc describes sensorsim.v1.SensorControl for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SensorControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LoadSensor", Handler: handler(MethodLoadSensor, SensorControlServer.LoadSensor)},
		{MethodName: "RemoveSensor", Handler: handler(MethodRemoveSensor, SensorControlServer.RemoveSensor)},
		{MethodName: "LookupSensor", Handler: handler(MethodLookupSensor, SensorControlServer.LookupSensor)},
		{MethodName: "ListSensors", Handler: handler(MethodListSensors, SensorControlServer.ListSensors)},
		{MethodName: "RunOnce", Handler: handler(MethodRunOnce, SensorControlServer.RunOnce)},
		{MethodName: "SetEnabled", Handler: handler(MethodSetEnabled, SensorControlServer.SetEnabled)},
		{MethodName: "LatestReading", Handler: handler(MethodLatestReading, SensorControlServer.LatestReading)},
	},
	Metadata: "sensorsim/v1/control.proto",
}

func RegisterSensorControlServer(s grpc.ServiceRegistrar, srv SensorControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls sensorsim.v1.SensorControl over conn.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LoadSensor(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodLoadSensor, req, opts...)
}

func (c *Client) RemoveSensor(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRemoveSensor, req, opts...)
}

func (c *Client) LookupSensor(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodLookupSensor, req, opts...)
}

func (c *Client) ListSensors(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListSensors, req, opts...)
}

func (c *Client) RunOnce(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRunOnce, req, opts...)
}

func (c *Client) SetEnabled(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSetEnabled, req, opts...)
}

func (c *Client) LatestReading(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodLatestReading, req, opts...)
}
