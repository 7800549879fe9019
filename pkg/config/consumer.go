package config

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type Consumer struct {
	channel *amqp.Channel
	queue   string
}

func NewConsumer(queueName string, prefetch int) (*Consumer, error) {
	ch, err := RabbitMQ.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}
	q, err := declareQueue(ch, queueName)
	if err != nil {
		return nil, err
	}
	return &Consumer{channel: ch, queue: q.Name}, nil
}

// Consume runs handler for each delivery until ctx is done. A failed message
// is requeued when retryable says so and dead-lettered otherwise.
func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, []byte) error, retryable func(error) bool) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return err
	}

	logrus.Infof("> consumer is running on %s", c.queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := handler(ctx, msg.Body); err != nil {
				requeue := retryable(err) && !msg.Redelivered
				logrus.WithError(err).Warnf("> handle message failed (requeue=%t)", requeue)
				_ = msg.Nack(false, requeue)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

func (c *Consumer) Close() error {
	return c.channel.Close()
}
