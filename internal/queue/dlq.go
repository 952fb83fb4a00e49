package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DeadLetterQueueName    = "export_jobs_dlq"
	DeadLetterExchangeName = "cutroom_dlq"
	RetryQueueName         = "export_jobs_retry"
	MaxRetries             = 8
)

type disposition int

const (
	ack disposition = iota
	retry
	deadLetter
)

// dispositionFor decides what happens to a handled message. Failed exports are already
// recorded on the job and never go back to queued, so only explicit retries are redelivered.
func dispositionFor(err error, retries int) disposition {
	switch {
	case err == nil:
		return ack
	case errors.Is(err, ErrRetryLater) && retries < MaxRetries:
		return retry
	case errors.Is(err, ErrRetryLater):
		return deadLetter
	default:
		return ack
	}
}

// setupRetryQueues sets up the retry and dead letter queue infrastructure
func (q *Queue) setupRetryQueues() error {
	// Declare dead letter exchange
	err := q.channel.ExchangeDeclare(
		DeadLetterExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	// Declare dead letter queue
	_, err = q.channel.QueueDeclare(
		DeadLetterQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	// Bind DLQ to exchange
	err = q.channel.QueueBind(
		DeadLetterQueueName,
		DeadLetterQueueName,
		DeadLetterExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	// Expired retry messages flow back into the export queue
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": ExportQueueName,
	}

	_, err = q.channel.QueueDeclare(
		RetryQueueName,
		true,
		false,
		false,
		false,
		retryArgs,
	)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	return nil
}

// PublishToRetryQueue schedules an export for redelivery after a backoff
func (q *Queue) PublishToRetryQueue(ctx context.Context, msg ExportMessage, retries int) error {
	if retries >= MaxRetries {
		return q.PublishToDeadLetterQueue(ctx, msg, "max retries exceeded")
	}

	delay := calculateBackoffDelay(retries)
	headers := amqp.Table{
		"x-retry-count": int32(retries + 1),
	}

	if err := q.publish(ctx, "", RetryQueueName, msg, headers, fmt.Sprintf("%d", delay.Milliseconds())); err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	q.logger.WithExportID(msg.ExportID).Infof("Export queued for retry #%d in %v", retries+1, delay)
	return nil
}

// PublishToDeadLetterQueue parks an export message for manual inspection
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, msg ExportMessage, reason string) error {
	headers := amqp.Table{
		"x-failure-reason": reason,
		"x-failed-at":      time.Now().Format(time.RFC3339),
	}

	if err := q.publish(ctx, DeadLetterExchangeName, DeadLetterQueueName, msg, headers, ""); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	q.logger.WithExportID(msg.ExportID).Warnf("Export moved to dead letter queue: %s", reason)
	return nil
}

// GetDLQDepth returns the number of messages in the dead letter queue
func (q *Queue) GetDLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, nil
}

// retryCount reads the redelivery counter set by PublishToRetryQueue
func retryCount(headers amqp.Table) int {
	switch v := headers["x-retry-count"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// calculateBackoffDelay calculates exponential backoff delay
func calculateBackoffDelay(retryCount int) time.Duration {
	// Exponential backoff: 15s, 30s, 1min, 2min, 4min
	baseDelay := 15 * time.Second
	delay := baseDelay * (1 << retryCount) // 2^retryCount

	// Cap at 5 minutes
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}

	return delay
}
