// Package rpcapi implements the binary RPC transport: one unary Predict
// method plus the standard grpc health service.
package rpcapi

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/oriys/infer/internal/apierrors"
	"github.com/oriys/infer/internal/codec"
	"github.com/oriys/infer/internal/domain"
	"github.com/oriys/infer/internal/orchestrator"
)

// ServiceName is the fully-qualified gRPC service name used both in the
// ServiceDesc and as a health-check service key.
const ServiceName = "infer.v1.InferenceService"

type predictor interface {
	Predict(ctx context.Context, name string, in orchestrator.PredictInput) (domain.Tensor, error)
}

// Server implements the hand-rolled InferenceService.
type Server struct {
	Orchestrator predictor
	Health       *health.Server
}

// ServiceDesc is the hand-built registration table grpc-go needs: plain
// data, no generated descriptor bytes required since the codec in
// codec.go dispatches by Go type rather than by descriptor lookup.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Predict",
			Handler:    predictHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "infer/v1/infer.proto",
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PredictRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)

	if interceptor == nil {
		return s.predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + ServiceName + "/Predict"}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.predict(ctx, req.(*PredictRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// predict translates the wire request into an orchestrator call and maps
// the result back to wire messages and status codes.
func (s *Server) predict(ctx context.Context, req *PredictRequest) (*PredictReply, error) {
	if req.ModelName == "" {
		return nil, status.Error(codes.InvalidArgument, "model_name is required")
	}
	if req.Input == nil || len(req.Input.Dims) == 0 {
		return nil, status.Error(codes.InvalidArgument, "dims must be non-empty")
	}
	if req.Input.DataType == DataTypeString {
		return nil, status.Error(codes.InvalidArgument, "data_type STRING is not supported")
	}

	in := orchestrator.PredictInput{
		Dims:         req.Input.Dims,
		Content:      req.Input.TensorContent,
		DeclaredName: req.Input.Name,
		RequestID:    uuid.NewString(),
		Transport:    "rpc",
	}
	if dt, ok, invalid := fromWireDataType(req.Input.DataType); invalid {
		in.DeclaredDTypeInvalid = true
	} else if ok {
		in.DeclaredDType = dt
		in.DeclaredDTypeOK = true
	}

	out, err := s.Orchestrator.Predict(ctx, req.ModelName, in)
	if err != nil {
		return nil, translateError(err)
	}

	dims, content, dtype, err := codec.Encode(out)
	if err != nil {
		return nil, translateError(err)
	}

	return &PredictReply{Outputs: []*ResponseTensor{
		{
			Name:          "output",
			Dims:          dims,
			TensorContent: content,
			DataType:      toWireDataType(dtype),
		},
	}}, nil
}

func translateError(err error) error {
	switch apierrors.KindOf(err) {
	case apierrors.ModelNotFound:
		return status.Error(codes.NotFound, err.Error())
	case apierrors.ModelNotDeployed:
		return status.Error(codes.FailedPrecondition, err.Error())
	case apierrors.InvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case apierrors.Cancelled:
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, "internal inference error")
	}
}

func fromWireDataType(dt DataType) (domain.ElementType, bool, bool) {
	switch dt {
	case DataTypeUnspecified:
		return domain.Unsupported, false, false
	case DataTypeFloat32:
		return domain.F32, true, false
	case DataTypeFloat64:
		return domain.F64, true, false
	case DataTypeInt32:
		return domain.I32, true, false
	case DataTypeInt64:
		return domain.I64, true, false
	case DataTypeBool:
		return domain.Bool, true, false
	default:
		return domain.Unsupported, false, true
	}
}

func toWireDataType(t domain.ElementType) DataType {
	switch t {
	case domain.F32:
		return DataTypeFloat32
	case domain.F64:
		return DataTypeFloat64
	case domain.I32:
		return DataTypeInt32
	case domain.I64:
		return DataTypeInt64
	case domain.Bool:
		return DataTypeBool
	default:
		return DataTypeUnspecified
	}
}

// ReadinessDriver is what the readiness monitor flips on every ping.
type ReadinessDriver interface {
	SetServing(serving bool)
}

// readinessAdapter adapts health.Server to ReadinessDriver, flipping both
// the empty-string overall status and this service's named status as one.
type readinessAdapter struct {
	health *health.Server
}

// NewReadinessAdapter wraps h so the readiness monitor can drive both
// status keys with one call.
func NewReadinessAdapter(h *health.Server) ReadinessDriver {
	return &readinessAdapter{health: h}
}

func (a *readinessAdapter) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	a.health.SetServingStatus("", st)
	a.health.SetServingStatus(ServiceName, st)
}
