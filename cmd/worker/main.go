package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"estatesettle/internal/app"
	"estatesettle/internal/relay"
	"estatesettle/pkg/config"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		logrus.Fatalf("> invalid configuration: %v", err)
	}
	config.SetupLogging(settings, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	config.InitDB(settings)
	a, err := app.New(settings, config.DB, config.InitRedis(settings.RedisURL))
	if err != nil {
		logrus.Fatalf("> failed to build services: %v", err)
	}
	defer a.Close()

	// Initialize RabbitMQ
	config.InitRabbitMQ(settings)
	defer config.RabbitMQ.Close()

	msgConsumer, err := config.NewConsumer(settings.OutboxQueue, 8)
	if err != nil {
		logrus.Fatalf("> failed to create consumer: %v", err)
	}
	defer msgConsumer.Close()

	router := a.OutboxRouter(a.Broadcaster())
	logrus.Infof("> outbox worker started on %s, waiting for messages...", settings.OutboxQueue)

	retryable := func(err error) bool { return !relay.IsPermanent(err) }
	if err := msgConsumer.Consume(ctx, router.HandleDelivery, retryable); err != nil && !errors.Is(err, context.Canceled) {
		logrus.Fatalf("> consumer stopped: %v", err)
	}
}
