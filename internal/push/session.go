package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
	"github.com/aceteam-ai/imposium-cli/internal/retry"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateSubscribed
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultMaxReconnects is the number of reconnects attempted before a session fails.
const DefaultMaxReconnects = 5

// DefaultBackoff spaces reconnect attempts.
var DefaultBackoff = retry.Policy{
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     4 * time.Second,
	Multiplier:   2,
}

var errSessionClosed = errors.New("session closed")

// Handler receives session events. Calls are made from the session goroutine, in
// the order frames arrive.
type Handler interface {
	// OnSubscribed fires after every successful subscribe, including reconnects
	OnSubscribed(key string)

	// OnStatus delivers a non-error status message
	OnStatus(key, status string)

	// OnResult delivers a finished, non-rejected job
	OnResult(key string, exp *experience.Experience)

	// OnError delivers data errors: worker failures, rejections and parse errors
	OnError(key string, err error)

	// OnFailure fires exactly once when the reconnect budget is exhausted
	OnFailure(key string, err error)
}

// SessionConfig holds configuration for a Session.
type SessionConfig struct {
	// Key is the job id or client id the session is bound to
	Key string

	Transport Transport
	Handler   Handler

	// MaxReconnects is how many reconnects follow the first failure (default: 5)
	MaxReconnects int

	// Backoff spaces reconnect attempts (default: DefaultBackoff)
	Backoff retry.Policy

	// LogFn is an optional callback for logging
	LogFn func(level, msg string)
}

// Session binds one push subscription to one job key.
type Session struct {
	key           string
	topic         string
	transport     Transport
	handler       Handler
	maxReconnects int
	backoff       retry.Policy
	logFn         func(level, msg string)

	mu       sync.Mutex
	state    State
	conn     Conn
	sub      Subscription
	failures int
	started  bool
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSession creates an idle session. Call Start to connect.
func NewSession(cfg SessionConfig) *Session {
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = DefaultMaxReconnects
	}
	if cfg.MaxReconnects < 0 {
		cfg.MaxReconnects = 0
	}

	return &Session{
		key:           cfg.Key,
		topic:         cfg.Transport.Topic(cfg.Key),
		transport:     cfg.Transport,
		handler:       cfg.Handler,
		maxReconnects: cfg.MaxReconnects,
		backoff:       cfg.Backoff.WithDefaults(DefaultBackoff),
		logFn:         cfg.LogFn,
		state:         StateIdle,
		done:          make(chan struct{}),
	}
}

func (s *Session) log(level, format string, args ...any) {
	if s.logFn != nil {
		s.logFn(level, fmt.Sprintf(format, args...))
	}
}

// Key returns the job key the session is bound to.
func (s *Session) Key() string {
	return s.key
}

// Topic returns the subscribed destination.
func (s *Session) Topic() string {
	return s.topic
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session goroutine exits, or immediately if the
// session was destroyed before it started.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start connects and subscribes in the background. It is a no-op on a session
// that was already started or destroyed.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx)
}

// Destroy unsubscribes and disconnects. It is safe to call any number of times,
// on a session in any state, and from within Handler callbacks.
func (s *Session) Destroy() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		close(s.done)
	}
	s.teardown()
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	for {
		err := s.connect(ctx)
		if err == nil {
			err = s.consume(ctx)
		}
		if err == nil || errors.Is(err, errSessionClosed) || ctx.Err() != nil {
			return
		}

		s.releaseBroken()

		s.mu.Lock()
		s.failures++
		failures := s.failures
		s.mu.Unlock()

		if failures > s.maxReconnects {
			s.fail(err)
			return
		}

		s.log("warning", "push %s: %v (reconnect %d/%d)", s.key, err, failures, s.maxReconnects)
		if s.backoff.Sleep(ctx, failures) != nil {
			return
		}
	}
}

// connect dials and subscribes, moving the session to Subscribed.
func (s *Session) connect(ctx context.Context) error {
	if !s.setState(StateConnecting) {
		return errSessionClosed
	}

	conn, err := s.transport.Dial(ctx)
	if err != nil {
		return channelErr("connect", s.key, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return errSessionClosed
	}
	s.conn = conn
	s.mu.Unlock()

	sub, err := conn.Subscribe(ctx, s.topic)
	if err != nil {
		return channelErr("subscribe", s.key, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return errSessionClosed
	}
	s.sub = sub
	s.state = StateSubscribed
	s.mu.Unlock()

	s.log("info", "push %s: subscribed to %s via %s", s.key, s.topic, s.transport.Name())
	s.handler.OnSubscribed(s.key)
	return nil
}

// consume reads frames until completion, teardown or a transport error.
func (s *Session) consume(ctx context.Context) error {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return errSessionClosed
	}

	for {
		body, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return errSessionClosed
			}
			return channelErr("receive", s.key, err)
		}
		if s.isClosed() {
			return errSessionClosed
		}

		// A delivered frame proves the channel works; only consecutive failures count.
		s.mu.Lock()
		s.failures = 0
		s.mu.Unlock()

		if s.dispatch(Decode(s.key, body)) {
			s.teardown()
			return nil
		}
	}
}

// dispatch routes an event to the handler and reports whether the session is complete.
func (s *Session) dispatch(ev Event) bool {
	switch e := ev.(type) {
	case Completion:
		s.log("info", "push %s: completion received", s.key)
		return true
	case StatusMessage:
		if e.IsError() {
			detail := e.Detail
			if detail == "" {
				detail = "render failed"
			}
			// The worker gave up on the job; nothing further will be published
			s.handler.OnError(s.key, &experience.Error{
				Kind: experience.KindChannel,
				Op:   OpRender,
				Key:  s.key,
				Err:  errors.New(detail),
			})
			return true
		}
		s.handler.OnStatus(s.key, e.Status)
	case ResultReady:
		if e.Experience.Rejected() {
			s.handler.OnError(s.key, &experience.Error{
				Kind: experience.KindModeration,
				Op:   "scene",
				Key:  e.Experience.ID,
				Err:  errors.New("experience rejected by moderation"),
			})
			return false
		}
		s.handler.OnResult(s.key, e.Experience)
	case ParseError:
		s.handler.OnError(s.key, &experience.Error{
			Kind: experience.KindParse,
			Op:   "decode",
			Key:  s.key,
			Err:  e.Err,
		})
	}
	return false
}

// fail moves the session to Failed and reports err to the handler.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.mu.Unlock()

	s.log("error", "push %s: giving up after %d reconnects: %v", s.key, s.maxReconnects, err)
	s.handler.OnFailure(s.key, err)
}

// releaseBroken drops the resources of a failed connection attempt.
func (s *Session) releaseBroken() {
	s.mu.Lock()
	sub, conn := s.sub, s.conn
	s.sub, s.conn = nil, nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if conn != nil {
		conn.Close()
	}
}

// teardown unsubscribes before disconnecting, once per live subscription.
func (s *Session) teardown() {
	s.mu.Lock()
	sub, conn := s.sub, s.conn
	s.sub, s.conn = nil, nil
	if s.state != StateFailed {
		s.state = StateClosing
	}
	s.mu.Unlock()

	var errs []error
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect: %w", err))
		}
	}

	s.mu.Lock()
	if s.state == StateClosing {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if len(errs) > 0 {
		s.log("warning", "push %s: teardown: %v", s.key, errors.Join(errs...))
	}
}

func (s *Session) setState(state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.state = state
	return true
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
