package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "navimed:appointments:changes:"

// RedisNotifier publishes changes on one pub/sub channel per log key.
// Messages stamped with this notifier's own origin are dropped, since the
// in-process Bus already delivered them.
type RedisNotifier struct {
	listeners
	client *redis.Client
	origin string
	pubsub *redis.PubSub
	done   chan struct{}
	logger zerolog.Logger
}

// NewRedisNotifier subscribes to every appointment channel and starts the
// receive loop. Call Close to stop it.
func NewRedisNotifier(ctx context.Context, client *redis.Client, origin string, logger zerolog.Logger) (*RedisNotifier, error) {
	ps := client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to appointment changes: %w", err)
	}

	n := &RedisNotifier{
		client: client,
		origin: origin,
		pubsub: ps,
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "redis_notifier").Logger(),
	}
	go n.run(ps.Channel())
	return n, nil
}

func (n *RedisNotifier) run(ch <-chan *redis.Message) {
	defer close(n.done)
	for msg := range ch {
		var c Change
		if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
			n.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed change")
			continue
		}
		if c.Origin == n.origin {
			continue
		}
		if c.Key == "" {
			c.Key = strings.TrimPrefix(msg.Channel, channelPrefix)
		}
		n.dispatch(c)
	}
}

func (n *RedisNotifier) Publish(ctx context.Context, c Change) error {
	if c.Origin == "" {
		c.Origin = n.origin
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := n.client.Publish(ctx, channelPrefix+c.Key, data).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(fn func(Change)) func() {
	return n.add(fn)
}

// Close stops the receive loop and waits for it to exit.
func (n *RedisNotifier) Close() error {
	err := n.pubsub.Close()
	<-n.done
	return err
}
