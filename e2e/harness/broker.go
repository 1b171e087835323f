package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/server"
	"github.com/redis/go-redis/v9"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
	"github.com/aceteam-ai/imposium-cli/internal/push"
)

// Publisher sends frames to a push topic the way the job service does.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

// StartStompBroker runs an in-process STOMP broker and returns its tcp:// URL.
func StartStompBroker(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	go server.Serve(l)
	return "tcp://" + l.Addr().String()
}

// StompPublisher publishes over its own STOMP connection.
type StompPublisher struct {
	conn *stomp.Conn
}

// NewStompPublisher connects to the broker at a tcp:// URL.
func NewStompPublisher(t *testing.T, brokerURL string) *StompPublisher {
	t.Helper()

	addr := brokerURL[len("tcp://"):]
	conn, err := stomp.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("publisher dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Disconnect() })
	return &StompPublisher{conn: conn}
}

func (p *StompPublisher) Publish(_ context.Context, topic string, body []byte) error {
	return p.conn.Send(topic, "application/json", body)
}

// StartRedis runs miniredis and returns a publisher plus the redis:// URL for the consumer.
func StartRedis(t *testing.T) (*RedisPublisher, string) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return &RedisPublisher{client: client}, "redis://" + mr.Addr()
}

// RedisPublisher publishes with PUBLISH.
type RedisPublisher struct {
	client *redis.Client
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, body []byte) error {
	return p.client.Publish(ctx, topic, body).Err()
}

// RenderFrames returns the frames published for a finished job: a status
// message, the scene carrying the result, then completion.
func RenderFrames(exp *experience.Experience) [][]byte {
	frames := []push.Frame{
		{Event: push.EventMessage, Status: "rendering"},
		{Event: push.EventScene, Experience: exp},
		{Event: push.EventCompletion},
	}
	out := make([][]byte, 0, len(frames))
	for _, f := range frames {
		b, _ := json.Marshal(f)
		out = append(out, b)
	}
	return out
}

// PublishUntil resends frames until done is closed. Topics do not retain
// frames, so the first round can race the subscription on the broker.
func PublishUntil(ctx context.Context, pub Publisher, topic string, frames [][]byte, done <-chan struct{}, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	for {
		for _, body := range frames {
			if err := pub.Publish(ctx, topic, body); err != nil {
				return fmt.Errorf("publish to %s: %w", topic, err)
			}
		}
		select {
		case <-done:
			return nil
		case <-deadline.C:
			return fmt.Errorf("no delivery on %s after %s", topic, timeout)
		case <-tick.C:
		}
	}
}
