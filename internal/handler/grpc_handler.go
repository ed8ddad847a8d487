package handler

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-expense-approvals/internal/common/auth"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

// ApprovalServiceName is the fully qualified gRPC service name.
const ApprovalServiceName = "expense.v1.ApprovalService"

// ApprovalServiceServer is the server API of expense.v1.ApprovalService.
// Messages are google.protobuf.Struct values whose fields mirror the JSON
// bodies of the HTTP API.
type ApprovalServiceServer interface {
	SubmitClaim(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DecideClaim(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetClaim(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPendingApprovals(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterApprovalServiceServer registers srv with s.
func RegisterApprovalServiceServer(s grpc.ServiceRegistrar, srv ApprovalServiceServer) {
	s.RegisterService(&approvalServiceDesc, srv)
}

const approvalProtoPath = "expense/v1/approval.proto"

var approvalMethods = []string{"SubmitClaim", "DecideClaim", "GetClaim", "ListPendingApprovals"}

// approvalFileDescriptor describes approvalProtoPath. Every method takes and
// returns a google.protobuf.Struct.
func approvalFileDescriptor() *descriptorpb.FileDescriptorProto {
	svc := &descriptorpb.ServiceDescriptorProto{Name: proto.String("ApprovalService")}
	for _, m := range approvalMethods {
		svc.Method = append(svc.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m),
			InputType:  proto.String(".google.protobuf.Struct"),
			OutputType: proto.String(".google.protobuf.Struct"),
		})
	}
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(approvalProtoPath),
		Package:    proto.String("expense.v1"),
		Dependency: []string{"google/protobuf/struct.proto"},
		Service:    []*descriptorpb.ServiceDescriptorProto{svc},
		Syntax:     proto.String("proto3"),
	}
}

// Registered with the global registry, as generated code does, so server
// reflection can describe the service.
func init() {
	fd, err := protodesc.NewFile(approvalFileDescriptor(), protoregistry.GlobalFiles)
	if err != nil {
		panic(err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(err)
	}
}

var approvalServiceDesc = grpc.ServiceDesc{
	ServiceName: ApprovalServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitClaim", Handler: unaryHandler("SubmitClaim", ApprovalServiceServer.SubmitClaim)},
		{MethodName: "DecideClaim", Handler: unaryHandler("DecideClaim", ApprovalServiceServer.DecideClaim)},
		{MethodName: "GetClaim", Handler: unaryHandler("GetClaim", ApprovalServiceServer.GetClaim)},
		{MethodName: "ListPendingApprovals", Handler: unaryHandler("ListPendingApprovals", ApprovalServiceServer.ListPendingApprovals)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: approvalProtoPath,
}

type unaryMethod func(ApprovalServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryHandler adapts method to a grpc.MethodDesc handler, the same shape
// protoc-gen-go-grpc generates.
func unaryHandler(name string, method unaryMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + ApprovalServiceName + "/" + name
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(ApprovalServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return method(srv.(ApprovalServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCHandler implements the ApprovalService gRPC interface
type GRPCHandler struct {
	claims  *service.ClaimService
	routing *service.ApprovalRoutingService
	logger  zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(claims *service.ClaimService, routing *service.ApprovalRoutingService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		claims:  claims,
		routing: routing,
		logger:  logger.With().Str("handler", "grpc").Logger(),
	}
}

// userID extracts the authenticated user ID from context, or returns empty string.
func userID(ctx context.Context) string {
	if p, err := auth.GetPrincipal(ctx); err == nil {
		return p.UserID
	}
	return ""
}

// SubmitClaim submits a draft claim for approval
func (h *GRPCHandler) SubmitClaim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	claimID := field(req, "claim_id")
	h.logger.Info().Str("claim_id", claimID).Msg("gRPC SubmitClaim called")
	if claimID == "" {
		return nil, status.Error(codes.InvalidArgument, "claim_id is required")
	}

	claim, err := h.routing.SubmitClaim(ctx, claimID, userID(ctx))
	if err != nil {
		h.logger.Warn().Err(err).Str("claim_id", claimID).Msg("Failed to submit claim")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(claim)
}

// DecideClaim approves or rejects a claim
func (h *GRPCHandler) DecideClaim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	decide := &service.DecideRequest{
		ClaimID: field(req, "claim_id"),
		ActorID: userID(ctx),
		Action:  field(req, "action"),
		Comment: field(req, "comment"),
	}
	h.logger.Info().
		Str("claim_id", decide.ClaimID).
		Str("action", decide.Action).
		Msg("gRPC DecideClaim called")
	if decide.ClaimID == "" {
		return nil, status.Error(codes.InvalidArgument, "claim_id is required")
	}

	result, err := h.routing.DecideClaim(ctx, decide)
	if err != nil {
		h.logger.Warn().Err(err).Str("claim_id", decide.ClaimID).Msg("Failed to decide claim")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(result)
}

// GetClaim retrieves a claim by ID
func (h *GRPCHandler) GetClaim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	claimID := field(req, "claim_id")
	if claimID == "" {
		return nil, status.Error(codes.InvalidArgument, "claim_id is required")
	}

	claim, err := h.claims.GetClaim(ctx, userID(ctx), claimID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(claim)
}

// ListPendingApprovals lists the claims the caller can act on
func (h *GRPCHandler) ListPendingApprovals(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	claims, err := h.routing.ListPendingApprovals(ctx, userID(ctx))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]interface{}{"claims": claims})
}

func field(s *structpb.Struct, name string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[name].GetStringValue()
}

// toStruct converts v through its JSON form.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	msg := errors.PublicMessage(err)
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, msg)
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeFailedPrecondition:
		return status.Error(codes.FailedPrecondition, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
