package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/verifai/verifai/internal/common"

	"github.com/verifai/verifai/internal/logging"
	"github.com/verifai/verifai/internal/server/blob"
	"github.com/verifai/verifai/internal/server/models"
	"github.com/verifai/verifai/internal/server/repositories/repomanager"
)

// attemptsHeader tracks how many times a message has been tried. Failed
// attempts are re-published with an incremented header rather than nacked,
// so the cap holds without a dead-letter topology.
const attemptsHeader = "x-attempts"

// Consumer drains the dispatch queue: it fetches the job's blob, starts
// analysis, and acknowledges. A message that keeps failing past the attempt
// cap resolves its job to failed instead of cycling forever.
type Consumer struct {
	channel     *amqp.Channel
	exchange    string
	routingKey  string
	queue       string
	db          *sql.DB
	manager     repomanager.RepositoryManager
	blobs       blob.Store
	client      AnalysisClient
	logger      logging.Logger
	maxAttempts int64

	publish func(ctx context.Context, body []byte, attempt int64) error
}

// NewConsumer declares the queue, binds it to the exchange, and sets QoS to
// one in-flight message.
func NewConsumer(conn *amqp.Connection, exchange, routingKey, queue string,
	db *sql.DB, manager repomanager.RepositoryManager, blobs blob.Store,
	client AnalysisClient, logger logging.Logger, maxAttempts int) (*Consumer, error) {

	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, err
	}
	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, err
	}

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	c := &Consumer{
		channel:     ch,
		exchange:    exchange,
		routingKey:  routingKey,
		queue:       queue,
		db:          db,
		manager:     manager,
		blobs:       blobs,
		client:      client,
		logger:      logger,
		maxAttempts: int64(maxAttempts),
	}
	c.publish = c.republish
	return c, nil
}

// Start consumes until the context is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info(ctx, "dispatch consumer shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn(ctx, "dispatch channel closed")
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	var m dispatchMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		c.logger.Error(ctx, "failed to unmarshal dispatch message", "error", err.Error())
		_ = msg.Nack(false, false) // malformed, do not requeue
		return
	}

	attempt := deliveryAttempt(msg)

	image, err := c.blobs.Get(ctx, m.ObjectKey)
	if errors.Is(err, common.ErrorNotFound) {
		// Nothing to analyze; retrying will not bring the blob back.
		c.failJob(ctx, m.JobID, m.ObjectKey, "image not found in storage")
		_ = msg.Ack(false)
		return
	}
	if err != nil {
		// The store itself misbehaved; the blob may well still be there.
		c.retryOrFail(ctx, msg, &m, attempt, fmt.Errorf("blob store: %w", err))
		return
	}

	if err := c.client.Analyze(ctx, m.JobID, m.ObjectKey, image); err != nil {
		c.retryOrFail(ctx, msg, &m, attempt, err)
		return
	}
	_ = msg.Ack(false)
}

// retryOrFail re-publishes the message with an incremented attempt header, or
// resolves the job to failed once the attempt cap is reached. Either way the
// original delivery is settled.
func (c *Consumer) retryOrFail(ctx context.Context, msg amqp.Delivery, m *dispatchMessage, attempt int64, cause error) {
	if attempt+1 >= c.maxAttempts {
		c.logger.Error(ctx, "dispatch attempts exhausted", "job_id", m.JobID, "attempts", attempt+1, "error", cause.Error())
		c.failJob(ctx, m.JobID, m.ObjectKey, fmt.Sprintf("failed to reach inference service: %v", cause))
		_ = msg.Ack(false)
		return
	}

	c.logger.Warn(ctx, "dispatch attempt failed, requeueing", "job_id", m.JobID, "attempt", attempt+1, "error", cause.Error())
	if err := c.publish(ctx, msg.Body, attempt+1); err != nil {
		c.logger.Error(ctx, "failed to republish dispatch message", "job_id", m.JobID, "error", err.Error())
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

func (c *Consumer) republish(ctx context.Context, body []byte, attempt int64) error {
	return c.channel.PublishWithContext(ctx,
		c.exchange,
		c.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{attemptsHeader: attempt},
			Body:         body,
		},
	)
}

func (c *Consumer) failJob(ctx context.Context, jobID, objectKey, reason string) {
	jobRepo := c.manager.Jobs(c.db)
	if _, err := jobRepo.MarkTerminal(ctx, jobID, models.StatusFailed, reason); err != nil {
		c.logger.Error(ctx, "failed to mark job failed", "job_id", jobID, "error", err.Error())
		return
	}
	if err := c.blobs.Delete(ctx, objectKey); err != nil {
		c.logger.Warn(ctx, "failed to delete blob for failed job", "job_id", jobID, "error", err.Error())
	}
}

func deliveryAttempt(msg amqp.Delivery) int64 {
	v, ok := msg.Headers[attemptsHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}
