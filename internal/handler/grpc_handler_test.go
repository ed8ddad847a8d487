package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-expense-approvals/internal/common/auth"
	"github.com/pesio-ai/be-expense-approvals/internal/common/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

const testSecret = "grpc-test-secret"

type grpcFixture struct {
	*testServer
	conn      *grpc.ClientConn
	validator *auth.JWTValidator
}

func newGRPCFixture(t *testing.T) *grpcFixture {
	t.Helper()
	s := newTestServer(t)
	v := auth.NewJWTValidator(testSecret, "")

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoveryInterceptor(zerolog.Nop()),
		LoggingInterceptor(zerolog.Nop()),
		AuthInterceptor(v),
	))
	RegisterApprovalServiceServer(srv, NewGRPCHandler(s.claims, s.routing, zerolog.Nop()))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	reflection.Register(srv)

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &grpcFixture{testServer: s, conn: conn, validator: v}
}

func (f *grpcFixture) as(t *testing.T, userID string) context.Context {
	t.Helper()
	token, err := f.validator.Sign(auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		CompanyID: f.company,
	})
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func (f *grpcFixture) call(ctx context.Context, method string, in map[string]interface{}) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = f.conn.Invoke(ctx, "/"+ApprovalServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPC_SubmitAndDecide(t *testing.T) {
	f := newGRPCFixture(t)
	approver := f.addUser(t, "alice", "manager")
	emp := f.addUser(t, "eve", "employee")
	_, err := f.policies.CreatePolicy(context.Background(), f.admin.ID, &service.PolicyRequest{
		Name: "Default", RequiredApprovers: []string{approver.ID},
	})
	require.NoError(t, err)

	claim, err := f.claims.CreateClaim(context.Background(), emp.ID, &service.CreateClaimRequest{
		Description: "Train", Category: "Travel", Amount: "89.90", Currency: "USD", ExpenseDate: "2025-06-01",
	})
	require.NoError(t, err)

	out, err := f.call(f.as(t, emp.ID), "SubmitClaim", map[string]interface{}{"claim_id": claim.ID})
	require.NoError(t, err)
	assert.Equal(t, "awaiting_approval", out.GetFields()["status"].GetStringValue())

	out, err = f.call(f.as(t, approver.ID), "ListPendingApprovals", map[string]interface{}{})
	require.NoError(t, err)
	assert.Len(t, out.GetFields()["claims"].GetListValue().GetValues(), 1)

	out, err = f.call(f.as(t, approver.ID), "DecideClaim", map[string]interface{}{
		"claim_id": claim.ID, "action": "reject", "comment": "no ticket",
	})
	require.NoError(t, err)
	assert.Equal(t, "rejected", out.GetFields()["transition"].GetStringValue())

	out, err = f.call(f.as(t, emp.ID), "GetClaim", map[string]interface{}{"claim_id": claim.ID})
	require.NoError(t, err)
	assert.Equal(t, "rejected", out.GetFields()["status"].GetStringValue())
	assert.Equal(t, "no ticket", out.GetFields()["final_comment"].GetStringValue())
}

func TestGRPC_Errors(t *testing.T) {
	f := newGRPCFixture(t)
	emp := f.addUser(t, "eve", "employee")
	outsider := f.addUser(t, "oscar", "employee")
	claim, err := f.claims.CreateClaim(context.Background(), emp.ID, &service.CreateClaimRequest{
		Description: "Train", Category: "Travel", Amount: "10", Currency: "USD", ExpenseDate: "2025-06-01",
	})
	require.NoError(t, err)

	_, err = f.call(context.Background(), "GetClaim", map[string]interface{}{"claim_id": claim.ID})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = f.call(f.as(t, emp.ID), "GetClaim", map[string]interface{}{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.call(f.as(t, outsider.ID), "GetClaim", map[string]interface{}{"claim_id": claim.ID})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = f.call(f.as(t, emp.ID), "SubmitClaim", map[string]interface{}{"claim_id": claim.ID})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, "cannot submit, ask an admin to configure approval rules", status.Convert(err).Message())
}

func TestGRPC_HealthIsPublic(t *testing.T) {
	f := newGRPCFixture(t)
	resp, err := healthpb.NewHealthClient(f.conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestGRPC_ReflectionDescribesService(t *testing.T) {
	f := newGRPCFixture(t)
	stream, err := reflectionpb.NewServerReflectionClient(f.conn).ServerReflectionInfo(context.Background())
	require.NoError(t, err)

	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{
			FileContainingSymbol: ApprovalServiceName,
		},
	}))
	resp, err := stream.Recv()
	require.NoError(t, err)
	require.NoError(t, stream.CloseSend())

	var file *descriptorpb.FileDescriptorProto
	for _, raw := range resp.GetFileDescriptorResponse().GetFileDescriptorProto() {
		fd := new(descriptorpb.FileDescriptorProto)
		require.NoError(t, proto.Unmarshal(raw, fd))
		if fd.GetName() == approvalServiceDesc.Metadata {
			file = fd
		}
	}
	require.NotNil(t, file, "service file not returned")
	require.Len(t, file.GetService(), 1)

	var methods []string
	for _, m := range file.GetService()[0].GetMethod() {
		methods = append(methods, m.GetName())
		assert.Equal(t, ".google.protobuf.Struct", m.GetInputType())
		assert.Equal(t, ".google.protobuf.Struct", m.GetOutputType())
	}
	assert.Equal(t, []string{"SubmitClaim", "DecideClaim", "GetClaim", "ListPendingApprovals"}, methods)
}

func TestMapErrorToGRPC(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{errors.NotFound("claim", "1"), codes.NotFound},
		{errors.New(errors.ErrCodeConflict, "retry"), codes.Aborted},
		{errors.InvalidInput("amount", "bad"), codes.InvalidArgument},
		{errors.New(errors.ErrCodeUnauthorized, "who"), codes.Unauthenticated},
		{errors.New(errors.ErrCodeForbidden, "no"), codes.PermissionDenied},
		{errors.New(errors.ErrCodeFailedPrecondition, "not now"), codes.FailedPrecondition},
		{context.DeadlineExceeded, codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(mapErrorToGRPC(tt.err)))
	}
	assert.Equal(t, "internal server error", status.Convert(mapErrorToGRPC(context.Canceled)).Message())
}
