package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-flair/internal/model"
	"github.com/joshp123/gohome-flair/internal/rate"
	"github.com/joshp123/gohome-flair/internal/thermostat"
)

const (
	thermostatProtoFile = "gohome/flair/v1/thermostat.proto"
	// ThermostatServiceName is the fully qualified gRPC service name.
	ThermostatServiceName = "gohome.flair.v1.ThermostatService"
)

// Method names served by ThermostatService.
const (
	MethodListThermostats      = "ListThermostats"
	MethodGetThermostat        = "GetThermostat"
	MethodSetTargetMode        = "SetTargetMode"
	MethodSetTargetTemperature = "SetTargetTemperature"
	MethodGetTargetTemperature = "GetTargetTemperature"
	MethodDiscover             = "Discover"
)

// FullMethod returns the invoke path for a ThermostatService method.
func FullMethod(method string) string {
	return "/" + ThermostatServiceName + "/" + method
}

const (
	emptyType  = ".google.protobuf.Empty"
	structType = ".google.protobuf.Struct"
)

var thermostatMethods = []struct {
	name, in, out string
}{
	{MethodListThermostats, emptyType, structType},
	{MethodGetThermostat, structType, structType},
	{MethodSetTargetMode, structType, structType},
	{MethodSetTargetTemperature, structType, structType},
	{MethodGetTargetTemperature, structType, structType},
	{MethodDiscover, emptyType, structType},
}

// registerDescriptor publishes the service schema in the global registry so
// server reflection can describe it.
var registerDescriptor = sync.OnceValue(func() error {
	if _, err := protoregistry.GlobalFiles.FindFileByPath(thermostatProtoFile); err == nil {
		return nil
	}
	methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(thermostatMethods))
	for _, m := range thermostatMethods {
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.name),
			InputType:  proto.String(m.in),
			OutputType: proto.String(m.out),
		})
	}
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(thermostatProtoFile),
		Package: proto.String("gohome.flair.v1"),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			"google/protobuf/empty.proto",
			"google/protobuf/struct.proto",
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String("ThermostatService"),
			Method: methods,
		}},
	}
	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("build thermostat descriptor: %w", err)
	}
	return protoregistry.GlobalFiles.RegisterFile(fd)
})

type thermostatServer interface {
	ListThermostats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetThermostat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetTargetMode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetTargetTemperature(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTargetTemperature(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Discover(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var thermostatServiceDesc = grpc.ServiceDesc{
	ServiceName: ThermostatServiceName,
	HandlerType: (*thermostatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodListThermostats, newEmpty, thermostatServer.ListThermostats),
		unary(MethodGetThermostat, newStruct, thermostatServer.GetThermostat),
		unary(MethodSetTargetMode, newStruct, thermostatServer.SetTargetMode),
		unary(MethodSetTargetTemperature, newStruct, thermostatServer.SetTargetTemperature),
		unary(MethodGetTargetTemperature, newStruct, thermostatServer.GetTargetTemperature),
		unary(MethodDiscover, newEmpty, thermostatServer.Discover),
	},
	Metadata: thermostatProtoFile,
}

func newEmpty() *emptypb.Empty    { return &emptypb.Empty{} }
func newStruct() *structpb.Struct { return &structpb.Struct{} }

func unary[Req proto.Message](
	name string,
	newReq func() Req,
	call func(thermostatServer, context.Context, Req) (*structpb.Struct, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			impl := srv.(thermostatServer)
			if interceptor == nil {
				return call(impl, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(impl, ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// RegisterThermostatService registers svc on s.
func RegisterThermostatService(s grpc.ServiceRegistrar, svc *ThermostatService) error {
	if err := registerDescriptor(); err != nil {
		return err
	}
	s.RegisterService(&thermostatServiceDesc, svc)
	return nil
}

// ThermostatService serves the platform over gRPC using well-known types.
type ThermostatService struct {
	platform Platform
}

func NewThermostatService(platform Platform) *ThermostatService {
	return &ThermostatService{platform: platform}
}

func (s *ThermostatService) ListThermostats(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	states := s.platform.States()
	list := make([]any, 0, len(states))
	for _, st := range states {
		list = append(list, stateFields(st))
	}
	return newResponse(map[string]any{"thermostats": list})
}

func (s *ThermostatService) GetThermostat(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(req)
	if err != nil {
		return nil, err
	}
	st, ok := s.platform.State(id)
	if !ok {
		return nil, grpcError(thermostat.ErrUnknownDevice)
	}
	return newResponse(stateFields(st))
}

func (s *ThermostatService) SetTargetMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(req)
	if err != nil {
		return nil, err
	}
	desired, err := model.ParseTargetState(req.GetFields()["mode"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	got, err := s.platform.SetTargetMode(ctx, id, desired)
	if err != nil {
		return nil, grpcError(err)
	}
	return newResponse(map[string]any{"mode": string(got)})
}

func (s *ThermostatService) SetTargetTemperature(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(req)
	if err != nil {
		return nil, err
	}
	v, ok := req.GetFields()["celsius"]
	if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !ok || !isNumber {
		return nil, status.Error(codes.InvalidArgument, "celsius must be a number")
	}
	ack, err := s.platform.SetTargetTemperature(ctx, id, v.GetNumberValue())
	if err != nil {
		return nil, grpcError(err)
	}
	st, _ := s.platform.State(id)
	return newResponse(map[string]any{"value": ack, "scale": string(st.TemperatureScale)})
}

func (s *ThermostatService) GetTargetTemperature(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(req)
	if err != nil {
		return nil, err
	}
	celsius, err := s.platform.TargetTemperature(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return newResponse(map[string]any{"celsius": celsius})
}

func (s *ThermostatService) Discover(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.platform.Discover(ctx); err != nil {
		return nil, grpcError(err)
	}
	return newResponse(map[string]any{"devices": len(s.platform.States())})
}

func requireID(req *structpb.Struct) (string, error) {
	id := req.GetFields()["id"].GetStringValue()
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "id is required")
	}
	return id, nil
}

func newResponse(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// stateFields flattens a state update into structpb-compatible values.
func stateFields(st thermostat.StateUpdate) map[string]any {
	fields := map[string]any{
		"device_id":             st.DeviceID,
		"name":                  st.Name,
		"current_temperature_c": st.CurrentTemperatureC,
		"current_humidity":      st.CurrentHumidity,
		"target_state":          string(st.TargetState),
		"current_state":         string(st.CurrentState),
		"set_point_c":           st.SetPointC,
		"temperature_scale":     string(st.TemperatureScale),
	}
	if st.StructureMode != "" {
		fields["structure_mode"] = string(st.StructureMode)
	}
	if !st.UpdatedAt.IsZero() {
		fields["updated_at"] = st.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return fields
}

func grpcError(err error) error {
	var limitErr rate.LimitError
	switch {
	case errors.Is(err, thermostat.ErrUnknownDevice):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, thermostat.ErrInvalidTargetState):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, thermostat.ErrStructureUnavailable), errors.Is(err, thermostat.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.As(err, &limitErr):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
