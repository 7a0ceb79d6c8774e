package middleware

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"doctor-booking-api/internal/auth"
	"doctor-booking-api/internal/model"
	"doctor-booking-api/internal/rpc"
)

type ctxKey string

const (
	UserIDKey ctxKey = "uid"
	RoleKey   ctxKey = "role"
)

// skip auth for these
var open = map[string]bool{
	rpc.FullMethod("Register"): true,
	rpc.FullMethod("Login"):    true,
	rpc.FullMethod("Refresh"):  true,
}

// UserID returns the authenticated caller, or "" on open methods.
func UserID(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func Role(ctx context.Context) model.Role {
	r, _ := ctx.Value(RoleKey).(model.Role)
	return r
}

// WithIdentity stores an authenticated caller in ctx.
func WithIdentity(ctx context.Context, uid string, role model.Role) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, uid)
	return context.WithValue(ctx, RoleKey, role)
}

func authenticate(ctx context.Context, secret string) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	// token from Authorization: Bearer <jwt>
	raw := ""
	if vals := md.Get("authorization"); len(vals) > 0 {
		raw = strings.TrimPrefix(vals[0], "Bearer ")
	}
	if raw == "" {
		return nil, status.Error(codes.Unauthenticated, "no token")
	}

	claims, err := auth.ParseToken(raw, secret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "bad token")
	}
	return WithIdentity(ctx, claims.UserID, claims.Role), nil
}

func Auth(secret string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if open[info.FullMethod] {
			return next(ctx, req)
		}
		ctx, err := authenticate(ctx, secret)
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

// AuthStream does for streaming calls what Auth does for unary ones.
func AuthStream(secret string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if open[info.FullMethod] {
			return next(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), secret)
		if err != nil {
			return err
		}
		return next(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }
