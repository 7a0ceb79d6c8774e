package middleware

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"doctor-booking-api/internal/rpc"
)

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	r       rate.Limit
	burst   int
}

// NewRateLimiter starts a janitor that drops idle peers until ctx is done.
func NewRateLimiter(ctx context.Context, rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*client),
		r:       rate.Limit(rps),
		burst:   burst,
	}
	go rl.janitor(ctx, time.Minute, 3*time.Minute)
	return rl
}

func (rl *RateLimiter) janitor(ctx context.Context, every, idle time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.sweep(idle)
		}
	}
}

func (rl *RateLimiter) sweep(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, c := range rl.clients {
		if time.Since(c.seen) > idle {
			delete(rl.clients, ip)
		}
	}
}

func (rl *RateLimiter) get(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if c, ok := rl.clients[ip]; ok {
		c.seen = time.Now()
		return c.lim
	}
	l := rate.NewLimiter(rl.r, rl.burst)
	rl.clients[ip] = &client{lim: l, seen: time.Now()}
	return l
}

// methods that should be rate limited
var limited = map[string]bool{
	rpc.FullMethod("Register"):          true,
	rpc.FullMethod("Login"):             true,
	rpc.FullMethod("Refresh"):           true,
	rpc.FullMethod("CreateAppointment"): true,
}

func RateLimit(rl *RateLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if !limited[info.FullMethod] {
			return next(ctx, req)
		}
		if !rl.get(clientIP(ctx)).Allow() {
			return nil, status.Error(codes.ResourceExhausted, "too many requests")
		}
		return next(ctx, req)
	}
}

// ForwardedForKey carries the browser's address on calls relayed by the
// HTTP bridge.
const ForwardedForKey = "x-forwarded-for"

// clientIP is the peer host, or the forwarded address when the peer is a
// loopback bridge.
func clientIP(ctx context.Context) string {
	host := "unknown"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		host = p.Addr.String()
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		return host
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(ForwardedForKey); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return host
}
