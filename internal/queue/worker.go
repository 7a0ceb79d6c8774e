package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Linker makes the chat contact link a job asks for.
type Linker interface {
	AddFriends(ctx context.Context, uid string, friendIDs ...string) error
}

// Metrics observes job results. A nil Metrics is allowed.
type Metrics interface {
	FriendLinkJob(result string)
}

type Worker struct {
	q           *Queue
	linker      Linker
	maxAttempts int
	backoff     func(attempt int) time.Duration
	metrics     Metrics
	log         *zap.Logger
}

func NewWorker(q *Queue, linker Linker, maxAttempts int, metrics Metrics, log *zap.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		q:           q,
		linker:      linker,
		maxAttempts: maxAttempts,
		backoff:     func(attempt int) time.Duration { return time.Duration(attempt) * time.Second },
		metrics:     metrics,
		log:         log,
	}
}

// Run consumes jobs until ctx is done or the delivery channel closes.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.q.ch.Consume(w.q.name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue: consume %s: %w", w.q.name, err)
	}
	w.log.Info("queue.Worker.Run consuming", zap.String("queue", w.q.name))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var job FriendLinkJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		w.log.Error("queue.Worker dropping undecodable job", zap.Error(err))
		_ = d.Reject(false)
		w.observe("malformed")
		return
	}

	err := w.linker.AddFriends(ctx, job.UID, job.FriendID)
	if err == nil {
		_ = d.Ack(false)
		w.observe("linked")
		w.log.Info("queue.Worker linked", zap.String("jobId", job.ID), zap.Int("failedCount", job.FailedCount))
		return
	}

	job.FailedCount++
	job.LastError = err.Error()
	target, result := w.q.name, "retried"
	if job.FailedCount >= w.maxAttempts {
		target, result = w.q.dlq, "dead"
	} else if wait := w.backoff(job.FailedCount); wait > 0 {
		select {
		case <-ctx.Done():
			_ = d.Nack(false, true)
			return
		case <-time.After(wait):
		}
	}

	if perr := w.q.publish(ctx, target, job); perr != nil {
		w.log.Error("queue.Worker requeue failed", zap.String("jobId", job.ID), zap.Error(perr))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
	w.observe(result)
	w.log.Warn("queue.Worker link failed",
		zap.String("jobId", job.ID),
		zap.Int("failedCount", job.FailedCount),
		zap.String("movedTo", target),
		zap.Error(err),
	)
}

func (w *Worker) observe(result string) {
	if w.metrics != nil {
		w.metrics.FriendLinkJob(result)
	}
}
