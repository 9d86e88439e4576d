// Package grpcserver implements the PolicyService gRPC server.
//
// Messages are google.protobuf.Struct values carrying the same JSON shapes as
// the REST API, so no generated stubs are required. The server delegates all
// business logic to policy.Service and handles only transport concerns:
// request decoding, error mapping and response conversion.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"yuno/policy-service/internal/model"
	"yuno/policy-service/internal/policy"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "yuno.policy.v1.PolicyService"

// Full method names, usable with grpc.ClientConn.Invoke.
const (
	MethodGetPolicies     = "/" + ServiceName + "/GetPolicies"
	MethodGetPolicyDetail = "/" + ServiceName + "/GetPolicyDetail"
	MethodSyncAll         = "/" + ServiceName + "/SyncAll"
)

// PolicyServer is the server API for PolicyService.
type PolicyServer interface {
	GetPolicies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPolicyDetail(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SyncAll(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// PolicyService is implemented by *policy.Service.
type PolicyService interface {
	GetPolicies(ctx context.Context, f model.Filters, page, pageSize int, age model.AgeBounds) (model.PolicyPage, error)
	GetPolicyDetail(ctx context.Context, id string) (*model.Policy, error)
	SyncAll(ctx context.Context) (int, error)
}

// Server implements PolicyServer.
type Server struct {
	svc PolicyService
}

// NewServer constructs a gRPC Server backed by the given service.
func NewServer(svc PolicyService) *Server {
	return &Server{svc: svc}
}

// New returns a grpc.Server with PolicyService and the standard health
// service registered. Spans are recorded through otelgrpc.
func New(svc PolicyService, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	gs := grpc.NewServer(opts...)
	Register(gs, NewServer(svc))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs
}

// Shutdown stops gs gracefully, or forcibly once ctx is done. In-flight RPCs
// are cancelled on the forced path. It returns ctx.Err() when forced.
func Shutdown(ctx context.Context, gs *grpc.Server) error {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		gs.Stop()
		return ctx.Err()
	}
}

// Register adds srv to the registrar.
func Register(r grpc.ServiceRegistrar, srv PolicyServer) {
	r.RegisterService(&ServiceDesc, srv)
}

// ─── RPC implementations ──────────────────────────────────────────────────────

// GetPolicies accepts {category, region, search, page, limit, ageMin, ageMax}
// and returns a policy page.
func (s *Server) GetPolicies(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := model.Filters{
		Category: stringField(req, "category"),
		Region:   stringField(req, "region"),
		Search:   stringField(req, "search"),
	}
	page, err := intField(req, "page")
	if err != nil {
		return nil, err
	}
	limit, err := intField(req, "limit")
	if err != nil {
		return nil, err
	}
	var age model.AgeBounds
	if age.Min, err = optIntField(req, "ageMin"); err != nil {
		return nil, err
	}
	if age.Max, err = optIntField(req, "ageMax"); err != nil {
		return nil, err
	}

	out, err := s.svc.GetPolicies(ctx, f, page, limit, age)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(out)
}

// GetPolicyDetail accepts {id} and returns the policy or NotFound.
func (s *Server) GetPolicyDetail(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	p, err := s.svc.GetPolicyDetail(ctx, id)
	if err != nil {
		return nil, toGRPCError(err)
	}
	if p == nil {
		return nil, status.Errorf(codes.NotFound, "policy %q not found", id)
	}
	return toStruct(p)
}

// SyncAll runs a full sync and returns {synced}.
func (s *Server) SyncAll(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.svc.SyncAll(ctx)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return structpb.NewStruct(map[string]any{"synced": n})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func stringField(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func optIntField(req *structpb.Struct, key string) (*int, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil, nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, nil
	}
	num, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum || num.NumberValue != math.Trunc(num.NumberValue) ||
		math.Abs(num.NumberValue) > math.MaxInt32 {
		return nil, status.Errorf(codes.InvalidArgument, "%s must be an integer", key)
	}
	n := int(num.NumberValue)
	return &n, nil
}

func intField(req *structpb.Struct, key string) (int, error) {
	n, err := optIntField(req, key)
	if err != nil || n == nil {
		return 0, err
	}
	return *n, nil
}

// toStruct converts v through its JSON form so field names match REST.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	switch {
	case errors.Is(err, policy.ErrSyncInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}

// ─── Service descriptor ──────────────────────────────────────────────────────

// ServiceDesc describes PolicyService for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PolicyServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetPolicies", Handler: getPoliciesHandler},
		{MethodName: "GetPolicyDetail", Handler: getPolicyDetailHandler},
		{MethodName: "SyncAll", Handler: syncAllHandler},
	},
	Streams: []grpc.StreamDesc{},
}

type unaryMethod func(PolicyServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PolicyServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PolicyServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	getPoliciesHandler = unaryHandler(MethodGetPolicies, func(s PolicyServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		return s.GetPolicies(ctx, in)
	})
	getPolicyDetailHandler = unaryHandler(MethodGetPolicyDetail, func(s PolicyServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		return s.GetPolicyDetail(ctx, in)
	})
	syncAllHandler = unaryHandler(MethodSyncAll, func(s PolicyServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		return s.SyncAll(ctx, in)
	})
)
