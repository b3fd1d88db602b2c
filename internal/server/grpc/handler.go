package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/dmitrijs2005/turbocore/internal/server/auth"
)

// Introspect verifies the signature of any token type. An expired token is
// still described, with active=false.
func (s *GRPCServer) Introspect(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	token := strings.TrimSpace(req.GetValue())
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}

	claims, err := s.codec.Decode(token)
	if err != nil {
		s.logger.Debug(ctx, "introspect rejected token", "error", err)
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return describe(claims, !auth.Expired(claims, s.now()))
}

func (s *GRPCServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	uid, ok := userIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "not authenticated")
	}
	return structpb.NewStruct(map[string]any{"uid": uid})
}

func describe(c auth.TypedClaims, active bool) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(map[string]any{
		"uid":    c.Subject(),
		"type":   string(c.TokenType()),
		"exp":    c.Expiry().Unix(),
		"active": active,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}
