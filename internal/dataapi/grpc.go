package dataapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rafaeljc/bifrost/internal/decision"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// gRPC names of the decision service.
const (
	ServiceName      = "bifrost.v1.DecisionService"
	DecideFullMethod = "/" + ServiceName + "/Decide"
)

// DecisionServiceServer is the server side of bifrost.v1.DecisionService.
// Requests and responses are google.protobuf.Struct values carrying the
// same fields as the JSON API.
type DecisionServiceServer interface {
	Decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// DecisionServiceDesc describes the service for grpc.Server.RegisterService.
var DecisionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DecisionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: decideHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bifrost/v1/decision.proto",
}

func decideHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DecisionServiceServer).Decide(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DecideFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DecisionServiceServer).Decide(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// DecisionClient calls bifrost.v1.DecisionService.
type DecisionClient struct {
	cc grpc.ClientConnInterface
}

// NewDecisionClient wraps an established connection.
func NewDecisionClient(cc grpc.ClientConnInterface) *DecisionClient {
	return &DecisionClient{cc: cc}
}

// Decide invokes the Decide RPC.
func (c *DecisionClient) Decide(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DecideFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GRPCAPI implements DecisionServiceServer on top of a Decider.
type GRPCAPI struct {
	decider        Decider
	requestTimeout time.Duration
}

// NewGRPCAPI returns the gRPC decision service. decider is mandatory.
func NewGRPCAPI(decider Decider, requestTimeout time.Duration) *GRPCAPI {
	validation.AssertNotNilInterface(decider, "decider")
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &GRPCAPI{decider: decider, requestTimeout: requestTimeout}
}

// Register connects the service to srv.
func (a *GRPCAPI) Register(srv grpc.ServiceRegistrar) {
	srv.RegisterService(&DecisionServiceDesc, a)
}

// Decide evaluates the request struct. It returns:
//   - INVALID_ARGUMENT if a field has the wrong type.
//   - UNAVAILABLE if the rule store cannot be read.
//   - DEADLINE_EXCEEDED if the decision did not finish in time.
func (a *GRPCAPI) Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log := logger.FromContext(ctx)

	req, err := requestFromStruct(in)
	if err != nil {
		log.Warn("bad request", slog.String("error", err.Error()))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	d, err := a.decider.Decide(ctx, req)
	if err != nil {
		log.Error("decision failed", slog.String("error", err.Error()))
		return nil, grpcError(err)
	}

	return decisionToStruct(d), nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, decision.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, "decision timed out")
	case errors.Is(err, decision.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, "rule store unavailable")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	default:
		return status.Error(codes.Internal, "decision failed")
	}
}

// requestFromStruct reads user_id, ip, path (strings) and headers,
// cookies (string maps). Absent and null fields are empty.
func requestFromStruct(in *structpb.Struct) (ruleengine.RequestContext, error) {
	fields := in.GetFields()

	str := func(name string) (string, error) {
		v, ok := fields[name]
		if !ok {
			return "", nil
		}
		switch k := v.GetKind().(type) {
		case *structpb.Value_NullValue:
			return "", nil
		case *structpb.Value_StringValue:
			return k.StringValue, nil
		default:
			return "", fmt.Errorf("field %q must be a string", name)
		}
	}

	strMap := func(name string) (map[string]string, error) {
		v, ok := fields[name]
		if !ok {
			return nil, nil
		}
		switch k := v.GetKind().(type) {
		case *structpb.Value_NullValue:
			return nil, nil
		case *structpb.Value_StructValue:
			out := make(map[string]string, len(k.StructValue.GetFields()))
			for key, item := range k.StructValue.GetFields() {
				s, ok := item.GetKind().(*structpb.Value_StringValue)
				if !ok {
					return nil, fmt.Errorf("field %q: value of %q must be a string", name, key)
				}
				out[key] = s.StringValue
			}
			return out, nil
		default:
			return nil, fmt.Errorf("field %q must be an object", name)
		}
	}

	var req DecideRequest
	var err error
	if req.UserID, err = str("user_id"); err != nil {
		return ruleengine.RequestContext{}, err
	}
	if req.IP, err = str("ip"); err != nil {
		return ruleengine.RequestContext{}, err
	}
	if req.Path, err = str("path"); err != nil {
		return ruleengine.RequestContext{}, err
	}
	if req.Headers, err = strMap("headers"); err != nil {
		return ruleengine.RequestContext{}, err
	}
	if req.Cookies, err = strMap("cookies"); err != nil {
		return ruleengine.RequestContext{}, err
	}
	return req.RequestContext(), nil
}

func decisionToStruct(d decision.Decision) *structpb.Struct {
	optional := func(s *string) *structpb.Value {
		if s == nil {
			return structpb.NewNullValue()
		}
		return structpb.NewStringValue(*s)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"should_gray":     structpb.NewBoolValue(d.ShouldGray),
		"target_version":  structpb.NewStringValue(d.TargetVersion),
		"target_upstream": optional(d.TargetUpstream),
		"matched_rule":    optional(d.MatchedRule),
		"reason":          structpb.NewStringValue(d.Reason),
	}}
}
