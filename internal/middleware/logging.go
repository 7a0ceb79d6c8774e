package middleware

import (
	"context"
	"path"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// RPCObserver records call outcomes, e.g. *metrics.Metrics.
type RPCObserver interface {
	ObserveRPC(method, code string, took time.Duration)
}

func Logging(log *zap.Logger, obs RPCObserver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		record(log, obs, info.FullMethod, err, time.Since(start))
		return resp, err
	}
}

func LoggingStream(log *zap.Logger, obs RPCObserver) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		start := time.Now()
		err := next(srv, ss)
		record(log, obs, info.FullMethod, err, time.Since(start))
		return err
	}
}

func record(log *zap.Logger, obs RPCObserver, fullMethod string, err error, took time.Duration) {
	method := path.Base(fullMethod)
	code := status.Code(err)
	if obs != nil {
		obs.ObserveRPC(method, code.String(), took)
	}
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("code", code.String()),
		zap.Duration("took", took),
	}
	if err != nil {
		log.Warn("rpc call failed", append(fields, zap.Error(err))...)
		return
	}
	log.Info("rpc call", fields...)
}
