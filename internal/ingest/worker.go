package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Worker consumes task messages from the stage queue, runs one pipeline
// stage per message, and re-enqueues the task until it reaches a terminal
// state. Up to `workers` messages are processed concurrently.
type Worker struct {
	conn      *amqp.Connection
	queueName string
	pipeline  *Pipeline
	publisher *TaskPublisher
	workers   int
	logger    *zap.Logger
}

func NewWorker(
	conn *amqp.Connection,
	queueName string,
	pipeline *Pipeline,
	publisher *TaskPublisher,
	workers int,
	logger *zap.Logger,
) *Worker {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		conn:      conn,
		queueName: queueName,
		pipeline:  pipeline,
		publisher: publisher,
		workers:   workers,
		logger:    logger,
	}
}

// Start consumes until ctx is cancelled or the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	ch, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare task queue failed: %w", err)
	}
	if err := ch.Qos(w.workers, 0, false); err != nil {
		return fmt.Errorf("set channel qos failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming failed: %w", err)
	}
	w.logger.Info("ingest worker started",
		zap.String("queue", w.queueName), zap.Int("workers", w.workers))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(w.workers)

	for {
		select {
		case <-ctx.Done():
			_ = group.Wait()
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				_ = group.Wait()
				return fmt.Errorf("delivery channel closed")
			}
			group.Go(func() error {
				w.handle(ctx, delivery)
				return nil
			})
		}
	}
}

func (w *Worker) handle(ctx context.Context, delivery amqp.Delivery) {
	var task Task
	if err := json.Unmarshal(delivery.Body, &task); err != nil {
		w.logger.Error("unmarshal task message failed", zap.Error(err))
		// malformed payload, redelivery cannot help
		_ = delivery.Nack(false, false)
		return
	}

	terminal := w.pipeline.Advance(ctx, &task)
	if !terminal {
		if err := w.publisher.Publish(ctx, &task); err != nil {
			w.logger.Error("re-enqueue task failed",
				zap.String("task_id", task.ID),
				zap.String("state", string(task.State)),
				zap.Error(err))
			_ = delivery.Nack(false, true)
			return
		}
	} else {
		w.logger.Info("ingest task finished",
			zap.String("task_id", task.ID),
			zap.String("state", string(task.State)),
			zap.Int("progress", task.Progress))
	}
	_ = delivery.Ack(false)
}
