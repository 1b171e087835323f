// Package push consumes per-job topics from the message broker.
//
// A Session owns one subscription for one job key at a time: it connects, subscribes,
// decodes frames into events and reconnects on transport failure until its budget
// is spent, at which point it reports the failure once and stops.
package push

import (
	"context"
	"net/url"
	"time"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
)

// Transport opens connections to the broker.
type Transport interface {
	// Name identifies the transport in logs
	Name() string

	// Topic returns the destination the job service publishes to for key
	Topic(key string) string

	// Dial opens a new connection
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one live broker connection.
type Conn interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription yields frame bodies for one topic.
type Subscription interface {
	// Next blocks until a frame arrives. Any error means the subscription is dead.
	Next(ctx context.Context) ([]byte, error)
	Unsubscribe() error
}

// TransportConfig holds the broker settings shared by all transports.
type TransportConfig struct {
	// URL selects the transport: ws://, wss://, tcp:// and stomp:// use STOMP,
	// redis:// and rediss:// use Redis Pub/Sub
	URL string

	// Login and Passcode are the broker credentials (Passcode doubles as the Redis password)
	Login    string
	Passcode string

	// Host is the STOMP virtual host (default: URL host)
	Host string

	// HeartBeat enables STOMP heart-beating in both directions when non-zero
	HeartBeat time.Duration

	// HandshakeTimeout bounds the STOMP CONNECT exchange (default: 10s)
	HandshakeTimeout time.Duration

	// DebugFunc is an optional callback for debug logging
	DebugFunc func(format string, args ...any)
}

// NewTransport builds the transport matching cfg.URL.
func NewTransport(cfg TransportConfig) (Transport, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, experience.Configuration("push", "invalid push URL %q", cfg.URL)
	}

	switch u.Scheme {
	case "ws", "wss", "tcp", "stomp":
		return NewStompTransport(cfg), nil
	case "redis", "rediss":
		return NewRedisTransport(cfg)
	default:
		return nil, experience.Configuration("push", "unsupported push scheme %q", u.Scheme)
	}
}

func channelErr(op, key string, err error) error {
	return &experience.Error{Kind: experience.KindChannel, Op: op, Key: key, Err: err}
}
