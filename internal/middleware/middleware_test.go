package middleware

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"doctor-booking-api/internal/auth"
	"doctor-booking-api/internal/model"
	"doctor-booking-api/internal/rpc"
)

const secret = "test-secret"

func unaryInfo(method string) *grpc.UnaryServerInfo {
	return &grpc.UnaryServerInfo{FullMethod: rpc.FullMethod(method)}
}

func withBearer(ctx context.Context, tok string) context.Context {
	return metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", "Bearer "+tok))
}

func TestAuthSetsIdentity(t *testing.T) {
	tok, err := auth.MakeToken("d1", model.RoleDoctor, secret)
	require.NoError(t, err)

	var gotUID string
	var gotRole model.Role
	_, err = Auth(secret)(withBearer(context.Background(), tok), nil, unaryInfo("ListAppointments"),
		func(ctx context.Context, req any) (any, error) {
			gotUID, gotRole = UserID(ctx), Role(ctx)
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "d1", gotUID)
	assert.Equal(t, model.RoleDoctor, gotRole)
}

func TestAuthRejects(t *testing.T) {
	next := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	tests := []struct {
		name string
		ctx  context.Context
	}{
		{"no metadata", context.Background()},
		{"no token", metadata.NewIncomingContext(context.Background(), metadata.Pairs())},
		{"bad token", withBearer(context.Background(), "garbage")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Auth(secret)(tt.ctx, nil, unaryInfo("GetProfile"), next)
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
		})
	}
}

func TestAuthSkipsOpenMethods(t *testing.T) {
	for _, m := range []string{"Register", "Login", "Refresh"} {
		resp, err := Auth(secret)(context.Background(), nil, unaryInfo(m),
			func(ctx context.Context, req any) (any, error) { return "ok", nil })
		require.NoError(t, err, m)
		assert.Equal(t, "ok", resp)
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func TestAuthStream(t *testing.T) {
	tok, err := auth.MakeToken("p1", model.RolePatient, secret)
	require.NoError(t, err)
	info := &grpc.StreamServerInfo{FullMethod: rpc.FullMethod("WatchAppointments"), IsServerStream: true}

	var gotUID string
	err = AuthStream(secret)(nil, &fakeStream{ctx: withBearer(context.Background(), tok)}, info,
		func(srv any, ss grpc.ServerStream) error {
			gotUID = UserID(ss.Context())
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "p1", gotUID)

	err = AuthStream(secret)(nil, &fakeStream{ctx: context.Background()}, info,
		func(srv any, ss grpc.ServerStream) error { return nil })
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestRateLimitPerPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 0.001, 2)
	interceptor := RateLimit(rl)
	next := func(ctx context.Context, req any) (any, error) { return nil, nil }

	peerCtx := func(addr string) context.Context {
		return peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP(addr), Port: 1}})
	}

	a := peerCtx("10.0.0.1")
	for i := 0; i < 2; i++ {
		_, err := interceptor(a, nil, unaryInfo("Login"), next)
		require.NoError(t, err)
	}
	_, err := interceptor(a, nil, unaryInfo("Login"), next)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// other peers and unlimited methods are unaffected
	_, err = interceptor(peerCtx("10.0.0.2"), nil, unaryInfo("Login"), next)
	assert.NoError(t, err)
	_, err = interceptor(a, nil, unaryInfo("ListDoctors"), next)
	assert.NoError(t, err)
}

func TestClientIPTrustsForwardedOnlyFromLoopback(t *testing.T) {
	at := func(addr string, forwarded string) context.Context {
		ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP(addr), Port: 4242}})
		return metadata.NewIncomingContext(ctx, metadata.Pairs(ForwardedForKey, forwarded))
	}
	assert.Equal(t, "203.0.113.9", clientIP(at("127.0.0.1", "203.0.113.9")))
	assert.Equal(t, "10.0.0.1", clientIP(at("10.0.0.1", "203.0.113.9")))
	assert.Equal(t, "unknown", clientIP(context.Background()))
}

func TestRateLimiterSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 1, 1)
	rl.get("a")
	rl.clients["a"].seen = time.Now().Add(-time.Hour)
	rl.get("b")

	rl.sweep(time.Minute)
	assert.NotContains(t, rl.clients, "a")
	assert.Contains(t, rl.clients, "b")
}

type recordingObserver struct {
	method, code string
}

func (r *recordingObserver) ObserveRPC(method, code string, _ time.Duration) {
	r.method, r.code = method, code
}

func TestLoggingRecordsOutcome(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	obs := &recordingObserver{}

	_, err := Logging(zap.New(core), obs)(context.Background(), nil, unaryInfo("GetDoctor"),
		func(ctx context.Context, req any) (any, error) {
			return nil, status.Error(codes.NotFound, "doctor not found")
		})
	assert.Error(t, err)
	assert.Equal(t, "GetDoctor", obs.method)
	assert.Equal(t, "NotFound", obs.code)

	entries := logs.FilterMessage("rpc call failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "GetDoctor", entries[0].ContextMap()["method"])
}
