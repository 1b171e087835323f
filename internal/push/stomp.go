package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
)

// stompSubprotocols are offered during the WebSocket handshake.
var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

const defaultHandshakeTimeout = 10 * time.Second

// StompTransport connects to a STOMP broker over WebSocket (ws://, wss://) or raw TCP
// (tcp://, stomp://). Jobs publish to /topic/experience.{key}.
type StompTransport struct {
	url       *url.URL
	login     string
	passcode  string
	host      string
	heartBeat time.Duration
	handshake time.Duration

	debugFunc func(format string, args ...any)
}

// NewStompTransport creates a STOMP transport. cfg.URL must already be valid.
func NewStompTransport(cfg TransportConfig) *StompTransport {
	u, _ := url.Parse(cfg.URL)
	host := cfg.Host
	if host == "" && u != nil {
		host = u.Hostname()
	}

	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}

	return &StompTransport{
		url:       u,
		login:     cfg.Login,
		passcode:  cfg.Passcode,
		host:      host,
		heartBeat: cfg.HeartBeat,
		handshake: handshake,
		debugFunc: cfg.DebugFunc,
	}
}

// debug logs a message if debug function is configured
func (t *StompTransport) debug(format string, args ...any) {
	if t.debugFunc != nil {
		t.debugFunc(format, args...)
	}
}

// Name returns the transport identifier.
func (t *StompTransport) Name() string {
	return "stomp"
}

// Topic returns the STOMP destination for a job key.
func (t *StompTransport) Topic(key string) string {
	return "/topic/experience." + key
}

// Dial opens the network stream and performs the STOMP CONNECT handshake.
func (t *StompTransport) Dial(ctx context.Context) (Conn, error) {
	if t.url == nil {
		return nil, errors.New("push URL not configured")
	}

	var stream deadlineStream
	switch t.url.Scheme {
	case "ws", "wss":
		ws, err := t.dialWebSocket(ctx)
		if err != nil {
			return nil, err
		}
		stream = ws
	default:
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", t.url.Host)
		if err != nil {
			return nil, fmt.Errorf("TCP connection failed: %w", err)
		}
		stream = c
	}

	var opts []func(*stomp.Conn) error
	if t.host != "" {
		opts = append(opts, stomp.ConnOpt.Host(t.host))
	}
	if t.login != "" {
		opts = append(opts, stomp.ConnOpt.Login(t.login, t.passcode))
	}
	if t.heartBeat > 0 {
		opts = append(opts, stomp.ConnOpt.HeartBeat(t.heartBeat, t.heartBeat))
	}

	// A broker that accepts the stream but never answers CONNECT must not hang Dial.
	deadline := time.Now().Add(t.handshake)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	stream.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { stream.SetDeadline(time.Now()) })

	conn, err := stomp.Connect(stream, opts...)
	stop()
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("STOMP connect failed: %w", err)
	}
	stream.SetDeadline(time.Time{})

	t.debug("stomp: connected to %s", t.url.Redacted())
	return &stompConn{conn: conn, debug: t.debug}, nil
}

// dialWebSocket opens a WebSocket carrying STOMP frames as text messages.
func (t *StompTransport) dialWebSocket(ctx context.Context) (*wsStream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     stompSubprotocols,
	}

	t.debug("ws: connecting to %s", t.url.Redacted())
	conn, resp, err := dialer.DialContext(ctx, t.url.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &wsStream{conn: conn}, nil
}

// stompConn adapts a stomp.Conn to Conn.
type stompConn struct {
	conn  *stomp.Conn
	debug func(format string, args ...any)
}

func (c *stompConn) Subscribe(_ context.Context, topic string) (Subscription, error) {
	sub, err := c.conn.Subscribe(topic, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	c.debug("stomp: subscribed to %s", topic)
	return &stompSubscription{sub: sub}, nil
}

func (c *stompConn) Close() error {
	if err := c.conn.Disconnect(); err != nil {
		return c.conn.MustDisconnect()
	}
	return nil
}

// stompSubscription adapts a stomp.Subscription to Subscription.
type stompSubscription struct {
	sub *stomp.Subscription
}

func (s *stompSubscription) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.sub.C:
		if !ok {
			return nil, errors.New("subscription closed")
		}
		if msg.Err != nil {
			return nil, msg.Err
		}
		return msg.Body, nil
	}
}

func (s *stompSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// deadlineStream is a byte stream whose blocking reads and writes can be bounded.
type deadlineStream interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
}

// wsStream exposes a WebSocket as a byte stream for the STOMP codec. Each write
// becomes one text message; reads span message boundaries.
type wsStream struct {
	conn    *websocket.Conn
	reader  io.Reader
	writeMu sync.Mutex
}

func (w *wsStream) Read(p []byte) (int, error) {
	for {
		if w.reader == nil {
			_, r, err := w.conn.NextReader()
			if err != nil {
				return 0, err
			}
			w.reader = r
		}

		n, err := w.reader.Read(p)
		if errors.Is(err, io.EOF) {
			w.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (w *wsStream) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsStream) SetDeadline(t time.Time) error {
	if err := w.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.conn.SetWriteDeadline(t)
}

func (w *wsStream) Close() error {
	w.writeMu.Lock()
	w.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	w.writeMu.Unlock()
	return w.conn.Close()
}
