package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueuePublisher is the queue-mode Dispatcher: it publishes the hand-off to
// a durable topic exchange and leaves delivery guarantees to the broker.
type QueuePublisher struct {
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewQueuePublisher declares the exchange and returns a publisher on its own
// channel.
func NewQueuePublisher(conn *amqp.Connection, exchange, routingKey string) (*QueuePublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true, // durable
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	return &QueuePublisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

// Dispatch publishes a persistent message for the consumer to pick up.
func (p *QueuePublisher) Dispatch(ctx context.Context, jobID, objectKey string) error {
	body, err := json.Marshal(dispatchMessage{JobID: jobID, ObjectKey: objectKey})
	if err != nil {
		return fmt.Errorf("marshal dispatch message: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish dispatch message: %w", err)
	}
	return nil
}
