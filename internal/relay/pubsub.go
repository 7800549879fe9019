package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"estatesettle/internal/models"
)

// NotificationChannel is the redis channel stored notifications are announced on.
const NotificationChannel = "estatesettle:notifications"

// RedisBroadcaster announces notifications to other processes, so the API's
// websocket hub sees notifications delivered by the scheduler or worker.
type RedisBroadcaster struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
}

func NewRedisBroadcaster(rdb *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb, channel: NotificationChannel, timeout: 2 * time.Second}
}

// Broadcast is best effort; the notification is already stored.
func (b *RedisBroadcaster) Broadcast(n models.Notification) {
	body, err := json.Marshal(n)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.rdb.Publish(ctx, b.channel, body).Err(); err != nil {
		logrus.WithError(err).Warnf("> publish notification %d failed", n.ID)
	}
}

// Subscribe forwards announced notifications to push until ctx is done.
func Subscribe(ctx context.Context, rdb *redis.Client, push Broadcaster) error {
	sub := rdb.Subscribe(ctx, NotificationChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var n models.Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				logrus.WithError(err).Warn("> bad notification announcement")
				continue
			}
			push.Broadcast(n)
		}
	}
}
