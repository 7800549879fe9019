package config

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

var RabbitMQ *amqp.Connection

// InitRabbitMQ dials RabbitMQ, retrying while the broker comes up.
func InitRabbitMQ(s Settings) {
	maxRetries := 10
	retryDelay := 3 * time.Second

	var conn *amqp.Connection
	var err error
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(s.RabbitMQURL())
		if err == nil {
			RabbitMQ = conn
			logrus.Infof("> connected to RabbitMQ at %s", s.RabbitMQHost)
			return
		}
		if i < maxRetries-1 {
			logrus.Warnf("> failed to connect to RabbitMQ (attempt %d/%d): %v, retrying in %v", i+1, maxRetries, err, retryDelay)
			time.Sleep(retryDelay)
		}
	}
	logrus.Fatalf("> failed to connect to RabbitMQ after %d attempts: %v", maxRetries, err)
}

// declareQueue declares a durable queue whose rejected messages go to
// queueName + ".dead".
func declareQueue(ch *amqp.Channel, queueName string) (amqp.Queue, error) {
	dead := queueName + ".dead"
	if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return amqp.Queue{}, fmt.Errorf("declare %s: %w", dead, err)
	}
	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dead,
		},
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("declare %s: %w", queueName, err)
	}
	return q, nil
}

// PurgeQueue removes all messages from a queue without deleting the queue itself
func PurgeQueue(queueName string) error {
	if RabbitMQ == nil {
		return fmt.Errorf("RabbitMQ connection not initialized")
	}
	ch, err := RabbitMQ.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	n, err := ch.QueuePurge(queueName, false)
	if err != nil {
		return fmt.Errorf("failed to purge queue %s: %w", queueName, err)
	}
	logrus.Infof("> purged %d messages from %s", n, queueName)
	return nil
}
