package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/turbocore/internal/common"
)

type ctxKey string

const userIDKey ctxKey = "userID"

// protectedMethods require a valid access token in the authorization metadata.
var protectedMethods = map[string]bool{
	WhoAmIFullMethod: true,
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !protectedMethods[info.FullMethod] {
		return handler(ctx, req)
	}

	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.AuthorizationHeaderName); len(values) > 0 {
			header = values[0]
		}
	}

	userID, err := s.codec.VerifyBearer(header, s.now())
	if err != nil {
		switch {
		case errors.Is(err, common.ErrMissingAuthHeader):
			return nil, status.Error(codes.Unauthenticated, "missing token")
		case errors.Is(err, common.ErrBadAuthHeader):
			return nil, status.Error(codes.Unauthenticated, "malformed authorization")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	return handler(context.WithValue(ctx, userIDKey, userID), req)
}

func userIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(userIDKey).(string)
	return uid, ok && uid != ""
}
