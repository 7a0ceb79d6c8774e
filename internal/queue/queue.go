// Package queue carries deferred chat contact links over RabbitMQ. Jobs that
// keep failing move to a dead-letter queue.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const DefaultQueue = "friend_link_jobs"

// FriendLinkJob asks for UID and FriendID to become chat contacts.
type FriendLinkJob struct {
	ID          string    `json:"id"`
	UID         string    `json:"uid"`
	FriendID    string    `json:"friendId"`
	FailedCount int       `json:"failedCount"`
	LastError   string    `json:"lastError,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// Channel is the part of *amqp.Channel the queue uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type Queue struct {
	ch   Channel
	name string
	dlq  string
	log  *zap.Logger
}

// New declares the job queue and its dead-letter queue, both durable.
func New(ch Channel, name string, log *zap.Logger) (*Queue, error) {
	if name == "" {
		name = DefaultQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &Queue{ch: ch, name: name, dlq: name + "_dlq", log: log}
	for _, n := range []string{q.name, q.dlq} {
		if _, err := ch.QueueDeclare(n, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("queue: declare %s: %w", n, err)
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("queue: qos: %w", err)
	}
	return q, nil
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) DeadLetterName() string { return q.dlq }

// EnqueueFriendLink publishes a fresh job.
func (q *Queue) EnqueueFriendLink(ctx context.Context, uid, friendID string) error {
	job := FriendLinkJob{
		ID:         uuid.NewString(),
		UID:        uid,
		FriendID:   friendID,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.publish(ctx, q.name, job); err != nil {
		return err
	}
	q.log.Info("queue.EnqueueFriendLink published",
		zap.String("jobId", job.ID),
		zap.String("uid", uid),
		zap.String("friendId", friendID),
	)
	return nil
}

func (q *Queue) publish(ctx context.Context, queue string, job FriendLinkJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: encode job: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
	}
	if err := q.ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return fmt.Errorf("queue: publish to %s: %w", queue, err)
	}
	return nil
}

func (q *Queue) Close() error { return q.ch.Close() }
