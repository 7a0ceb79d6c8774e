package handler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"doctor-booking-api/internal/gateway"
	"doctor-booking-api/internal/rpc"
)

// serveWatch pushes every snapshot produced by subscribe to the stream
// until the client goes away or a send fails. subscribe must deliver the
// initial snapshot itself.
func serveWatch[T any](h *Handler, name string, stream rpc.Sender[T],
	subscribe func(ctx context.Context, push func(*T)) (gateway.Subscription, error),
) error {
	ctx := stream.Context()
	done := h.startWatch(name)
	defer done()

	var (
		mu     sync.Mutex
		closed bool
		errCh  = make(chan error, 1)
	)
	push := func(msg *T) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		if err := stream.Send(msg); err != nil {
			closed = true
			errCh <- err
			return
		}
		h.sent(name)
	}

	sub, err := subscribe(ctx, push)
	if err != nil {
		return toStatus(err)
	}
	defer func() {
		sub.Unsubscribe()
		mu.Lock()
		closed = true
		mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		h.log.Debug("handler watch send failed", zap.String("stream", name), zap.Error(err))
		return err
	}
}

func (h *Handler) startWatch(name string) func() {
	if h.metrics == nil {
		return func() {}
	}
	return h.metrics.WatchStarted(name)
}

func (h *Handler) sent(name string) {
	if h.metrics != nil {
		h.metrics.SnapshotSent(name)
	}
}
