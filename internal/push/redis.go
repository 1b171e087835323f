package push

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
)

// RedisTransport subscribes to job channels "experience:{key}" via Redis Pub/Sub.
type RedisTransport struct {
	opts      *redis.Options
	debugFunc func(format string, args ...any)
}

// NewRedisTransport parses a redis:// or rediss:// URL into a transport.
func NewRedisTransport(cfg TransportConfig) (*RedisTransport, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, experience.Configuration("push", "failed to parse Redis URL: %v", err)
	}

	if cfg.Passcode != "" {
		opts.Password = cfg.Passcode
	}
	if cfg.Login != "" {
		opts.Username = cfg.Login
	}

	return &RedisTransport{opts: opts, debugFunc: cfg.DebugFunc}, nil
}

// debug logs a message if debug function is configured
func (t *RedisTransport) debug(format string, args ...any) {
	if t.debugFunc != nil {
		t.debugFunc(format, args...)
	}
}

// Name returns the transport identifier.
func (t *RedisTransport) Name() string {
	return "redis"
}

// Topic returns the Pub/Sub channel name for a job key.
func (t *RedisTransport) Topic(key string) string {
	return "experience:" + key
}

// Dial creates a client and verifies the connection.
func (t *RedisTransport) Dial(ctx context.Context) (Conn, error) {
	client := redis.NewClient(t.opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	t.debug("redis: connected to %s", t.opts.Addr)
	return &redisConn{client: client}, nil
}

type redisConn struct {
	client *redis.Client
}

func (c *redisConn) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := c.client.Subscribe(ctx, topic)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	return &redisSubscription{pubsub: pubsub, channel: topic}, nil
}

func (c *redisConn) Close() error {
	return c.client.Close()
}

type redisSubscription struct {
	pubsub  *redis.PubSub
	channel string
}

func (s *redisSubscription) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSubscription) Unsubscribe() error {
	err := s.pubsub.Unsubscribe(context.Background(), s.channel)
	if closeErr := s.pubsub.Close(); err == nil {
		err = closeErr
	}
	return err
}
