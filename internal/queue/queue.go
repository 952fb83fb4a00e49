package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cutroom/cutroom/internal/config"
	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/pkg/models"
)

const (
	ExportQueueName = "export_jobs"
	ExchangeName    = "cutroom"
)

// ErrRetryLater asks the consumer to redeliver the message after a backoff
var ErrRetryLater = errors.New("retry later")

// ExportMessage is the body of an export job message
type ExportMessage struct {
	ExportID      string    `json:"export_id"`
	JobID         string    `json:"job_id"`
	CompositionID string    `json:"composition_id"`
	QueuedAt      time.Time `json:"queued_at"`
}

// NewExportMessage describes a queued export
func NewExportMessage(job *models.ExportJob) ExportMessage {
	return ExportMessage{
		ExportID:      job.ID,
		JobID:         job.JobID,
		CompositionID: job.CompositionID,
		QueuedAt:      job.CreatedAt,
	}
}

// Handler processes one export message
type Handler func(ctx context.Context, msg ExportMessage) error

// Queue provides message queue operations
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *logging.Logger
}

// New creates a new queue client
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if logger == nil {
		logger = logging.Nop()
	}
	q := &Queue{
		conn:    conn,
		channel: channel,
		logger:  logger,
	}

	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}

	return q, nil
}

func (q *Queue) declare() error {
	// Declare exchange
	err := q.channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	_, err = q.channel.QueueDeclare(
		ExportQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	err = q.channel.QueueBind(
		ExportQueueName,
		ExportQueueName,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return q.setupRetryQueues()
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishExport publishes an export job to the queue
func (q *Queue) PublishExport(ctx context.Context, job *models.ExportJob) error {
	return q.publish(ctx, ExchangeName, ExportQueueName, NewExportMessage(job), nil, "")
}

func (q *Queue) publish(ctx context.Context, exchange, key string, msg ExportMessage, headers amqp.Table, expiration string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal export message: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			Headers:      headers,
			Expiration:   expiration,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish export: %w", err)
	}

	return nil
}

// ConsumeExports starts consuming export jobs. Each worker handles one export at a time.
func (q *Queue) ConsumeExports(ctx context.Context, handler Handler) error {
	// Set QoS to limit concurrent processing
	err := q.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		ExportQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				q.handle(ctx, msg, handler)
			}
		}
	}()

	return nil
}

func (q *Queue) handle(ctx context.Context, msg amqp.Delivery, handler Handler) {
	var export ExportMessage
	if err := json.Unmarshal(msg.Body, &export); err != nil || export.ExportID == "" {
		q.logger.Warn("Dropping malformed export message")
		msg.Nack(false, false)
		return
	}

	err := handler(ctx, export)
	retries := retryCount(msg.Headers)

	switch dispositionFor(err, retries) {
	case ack:
		msg.Ack(false)
	case retry:
		if pubErr := q.PublishToRetryQueue(ctx, export, retries); pubErr != nil {
			q.logger.ErrorWithErr("Failed to schedule export retry", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
	case deadLetter:
		if pubErr := q.PublishToDeadLetterQueue(ctx, export, err.Error()); pubErr != nil {
			q.logger.ErrorWithErr("Failed to dead-letter export", pubErr)
		}
		msg.Ack(false)
	}
}

// GetQueueDepth returns the number of messages in the queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(ExportQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}
