// Package delivery coordinates job creation and completion delivery.
//
// The Coordinator submits jobs through the HTTP job client and learns about their
// completion over a push subscription or, when push is unavailable, by polling. A
// push channel that exhausts its reconnect budget demotes the coordinator to poll
// mode for the rest of the process, and any job that channel was carrying is moved
// to polling so it still completes.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"

	"github.com/aceteam-ai/imposium-cli/internal/api"
	"github.com/aceteam-ai/imposium-cli/internal/experience"
	"github.com/aceteam-ai/imposium-cli/internal/push"
	"github.com/aceteam-ai/imposium-cli/internal/retry"
)

// Mode is the delivery channel in use.
type Mode int

const (
	ModePush Mode = iota
	ModePoll
)

func (m Mode) String() string {
	if m == ModePoll {
		return "poll"
	}
	return "push"
}

// Defaults for Config.
const (
	DefaultPollInterval        = time.Second
	DefaultMaxCollisionRetries = 3
)

// maxFinished is how many terminal job ids are remembered to suppress late duplicate deliveries.
const maxFinished = 1024

// JobClient is the subset of *api.Client the coordinator needs.
type JobClient interface {
	Create(ctx context.Context, req api.CreateRequest, onProgress api.ProgressFunc) (*experience.Experience, error)
	Get(ctx context.Context, jobID string) (*experience.Experience, error)
	TriggerRender(ctx context.Context, jobID string) (string, error)
}

// Config holds coordinator settings.
type Config struct {
	// PollInterval is the fixed delay between polls of one job (default: 1s)
	PollInterval time.Duration

	// MaxCollisionRetries is how many identical resubmissions follow a duplicate-submission response (default: 3)
	MaxCollisionRetries int

	// MaxReconnects is passed to every push session (default: push.DefaultMaxReconnects)
	MaxReconnects int

	// ReconnectBackoff spaces push reconnects (default: push.DefaultBackoff)
	ReconnectBackoff retry.Policy

	// MaxPollDuration stops a poll timer with ErrPollTimeout; zero polls until output appears
	MaxPollDuration time.Duration

	// NewClientID generates idempotency keys (default: uuid.NewString)
	NewClientID func() string

	// LogFn is an optional callback for logging
	LogFn func(level, msg string)
}

// CreateParams describes a job to submit.
type CreateParams struct {
	StoryID   string
	Inventory map[string]any

	// Render submits to the render endpoint and waits for completion
	Render bool

	// OnProgress receives upload progress for the create request
	OnProgress api.ProgressFunc
}

// pendingCreation is the replay source for a create that the server has not confirmed.
type pendingCreation struct {
	clientID string
	params   CreateParams

	// issued is set once the HTTP create has been started; it is never started twice
	issued bool

	// pollOnSuccess moves the job to polling once the in-flight create confirms
	pollOnSuccess bool
}

// Coordinator owns the delivery mode, the pending creations, the push session and
// the poll timers.
type Coordinator struct {
	cfg       Config
	client    JobClient
	transport push.Transport
	handler   Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	mode       Mode
	closed     bool
	pending    map[string]*pendingCreation
	session    *sessionEntry
	timers     map[string]*pollTimer
	lastStatus map[string]string
	aliases    map[string]string // job id to the client id its creation reported under
	finished   *lru.Cache
}

// New creates a coordinator. A nil transport starts it in poll mode.
func New(cfg Config, client JobClient, transport push.Transport, handler Handler) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxCollisionRetries == 0 {
		cfg.MaxCollisionRetries = DefaultMaxCollisionRetries
	}
	if cfg.MaxCollisionRetries < 0 {
		cfg.MaxCollisionRetries = 0
	}
	if cfg.NewClientID == nil {
		cfg.NewClientID = uuid.NewString
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:        cfg,
		client:     client,
		transport:  transport,
		handler:    handler,
		ctx:        ctx,
		cancel:     cancel,
		mode:       ModePush,
		pending:    make(map[string]*pendingCreation),
		timers:     make(map[string]*pollTimer),
		lastStatus: make(map[string]string),
		aliases:    make(map[string]string),
		finished:   lru.New(maxFinished),
	}
	if transport == nil {
		c.mode = ModePoll
	}
	return c
}

func (c *Coordinator) log(level, format string, args ...any) {
	if c.cfg.LogFn != nil {
		c.cfg.LogFn(level, fmt.Sprintf(format, args...))
	}
}

// Mode returns the current delivery mode. It only ever moves from push to poll.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// CreateJob validates params and submits the job in the background. The returned
// client id keys status messages and errors until the job id is known.
func (c *Coordinator) CreateJob(params CreateParams) (string, error) {
	if _, err := json.Marshal(params.Inventory); err != nil {
		return "", experience.Configuration("create", "inventory is not serializable: %v", err)
	}

	clientID := c.cfg.NewClientID()
	if clientID == "" {
		return "", experience.Configuration("create", "empty client id")
	}
	pc := &pendingCreation{clientID: clientID, params: params}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", experience.Configuration("create", "coordinator is closed")
	}
	c.pending[clientID] = pc

	if !params.Render || c.mode == ModePoll {
		pc.issued = true
		c.mu.Unlock()

		c.log("info", "create %s: submitting over HTTP (%s mode)", clientID, c.Mode())
		c.spawn(func() { c.submit(pc, params.Render) })
		return clientID, nil
	}
	c.mu.Unlock()

	// Subscribe before creating so no frame published right after creation is missed.
	// The create is issued from the session's first OnSubscribed.
	c.log("info", "create %s: opening push session before submit", clientID)
	c.openSession(clientID, "", false)
	return clientID, nil
}

// GetJob fetches a job in the background and continues according to its state:
// finished jobs are delivered, untriggered jobs are triggered and attached, and
// rendering jobs are attached to a push session or a poll timer.
func (c *Coordinator) GetJob(jobID string) error {
	if jobID == "" {
		return experience.Configuration("get", "job id is required")
	}
	if !c.spawn(func() { c.fetch(jobID) }) {
		return experience.Configuration("get", "coordinator is closed")
	}
	return nil
}

// Close tears down the push session and every poll timer, then waits for all
// background work to finish. Jobs still in progress are abandoned.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	entry := c.session
	c.session = nil
	timers := c.timers
	c.timers = make(map[string]*pollTimer)
	c.mu.Unlock()

	c.cancel()
	if entry != nil {
		entry.session.Destroy()
	}
	for _, t := range timers {
		t.stop()
	}

	c.wg.Wait()
	return nil
}

// spawn runs fn in a tracked goroutine unless the coordinator is closed.
func (c *Coordinator) spawn(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

// submit issues the create call for pc, retrying duplicate-submission responses, and
// continues with polling when poll is set or the job was handed to polling meanwhile.
func (c *Coordinator) submit(pc *pendingCreation, poll bool) {
	c.emitStatus(pc.clientID, experience.StatusQueued)

	exp, err := c.createWithRetry(pc)

	c.mu.Lock()
	delete(c.pending, pc.clientID)
	poll = poll || pc.pollOnSuccess || c.mode == ModePoll
	entry := c.session
	if err == nil && pc.params.Render {
		c.aliases[exp.ID] = pc.clientID
	}
	if entry != nil && entry.key == pc.clientID {
		if err == nil {
			entry.jobID = exp.ID
		} else {
			c.session = nil
		}
	} else {
		entry = nil
	}
	c.mu.Unlock()

	if err != nil {
		if entry != nil {
			entry.session.Destroy()
		}
		c.forgetStatus(pc.clientID)
		if c.ctx.Err() != nil {
			return
		}
		c.log("error", "create %s: %v", pc.clientID, err)
		c.handler.OnError(pc.clientID, ended(err))
		return
	}

	c.log("info", "create %s: job %s created", pc.clientID, exp.ID)
	c.handler.OnJobCreated(exp, pc.params.Render)
	c.emitStatus(pc.clientID, experience.StatusAdded)
	if !pc.params.Render {
		c.forgetStatus(pc.clientID)
	}

	switch {
	case exp.Rejected():
		c.reject(exp.ID, moderationErr(exp.ID))
	case exp.Done():
		c.deliver(exp.ID, exp)
	case pc.params.Render && poll:
		c.startPoll(exp.ID)
	}
}

// createWithRetry resubmits the identical request while the server reports an
// idempotency collision, up to MaxCollisionRetries extra attempts.
func (c *Coordinator) createWithRetry(pc *pendingCreation) (*experience.Experience, error) {
	req := api.CreateRequest{
		ClientID:  pc.clientID,
		StoryID:   pc.params.StoryID,
		Inventory: pc.params.Inventory,
		Render:    pc.params.Render,
	}

	for attempt := 0; ; attempt++ {
		exp, err := c.client.Create(c.ctx, req, pc.params.OnProgress)
		if err == nil {
			return exp, nil
		}
		if !experience.IsDuplicateSubmission(err) || attempt >= c.cfg.MaxCollisionRetries {
			return nil, err
		}
		c.log("warning", "create %s: duplicate submission, resubmitting (%d/%d)",
			pc.clientID, attempt+1, c.cfg.MaxCollisionRetries)
	}
}

// fetch implements GetJob.
func (c *Coordinator) fetch(jobID string) {
	exp, err := c.client.Get(c.ctx, jobID)
	if err != nil {
		if c.ctx.Err() == nil {
			c.handler.OnError(jobID, ended(err))
		}
		return
	}

	switch {
	case exp.Rejected():
		c.reject(jobID, moderationErr(jobID))
	case exp.Done():
		c.deliver(jobID, exp)
	case !exp.Rendering && !exp.HasOutput():
		c.log("info", "get %s: render not started", jobID)
		c.attach(jobID, true)
	default:
		c.attach(jobID, false)
	}
}

// attach waits for a rendering job on the channel the current mode allows. In
// push mode the session is subscribed before a trigger is issued.
func (c *Coordinator) attach(jobID string, trigger bool) {
	if c.Mode() == ModePoll {
		if trigger {
			c.triggerAndPoll(jobID)
		} else {
			c.startPoll(jobID)
		}
		return
	}
	if !c.openSession(jobID, jobID, trigger) && trigger {
		// The job already has a live session
		c.triggerRender(jobID)
	}
}

// triggerRender starts a deferred render. A failure ends the job.
func (c *Coordinator) triggerRender(jobID string) bool {
	if _, err := c.client.TriggerRender(c.ctx, jobID); err != nil {
		if c.ctx.Err() == nil {
			c.handler.OnError(jobID, ended(err))
		}
		return false
	}
	return true
}

func (c *Coordinator) triggerAndPoll(jobID string) {
	if c.triggerRender(jobID) {
		c.startPoll(jobID)
	}
}

// deliver reports a finished job once and stops its poll timer.
func (c *Coordinator) deliver(key string, exp *experience.Experience) {
	id := exp.ID
	if id == "" {
		id = key
	}
	if !c.finish(id) {
		return
	}
	c.log("info", "job %s: complete", id)
	c.handler.OnJobComplete(exp)
}

// reject reports a moderation rejection once; the job is terminal afterwards.
func (c *Coordinator) reject(id string, err error) {
	if !c.finish(id) {
		return
	}
	c.log("warning", "job %s: rejected by moderation", id)
	c.handler.OnError(id, ended(err))
}

// finish marks id terminal, cancels its poll timer and drops its status history.
// It reports false if id was already terminal.
func (c *Coordinator) finish(id string) bool {
	c.mu.Lock()
	if _, done := c.finished.Get(id); done {
		c.mu.Unlock()
		return false
	}
	c.finished.Add(id, struct{}{})
	delete(c.lastStatus, id)
	if clientID, ok := c.aliases[id]; ok {
		delete(c.lastStatus, clientID)
		delete(c.aliases, id)
	}
	t := c.timers[id]
	delete(c.timers, id)
	c.mu.Unlock()

	if t != nil {
		t.stop()
	}
	return true
}

// emitStatus forwards message unless it repeats the last one sent for key.
func (c *Coordinator) emitStatus(key, message string) {
	c.mu.Lock()
	if c.lastStatus[key] == message {
		c.mu.Unlock()
		return
	}
	c.lastStatus[key] = message
	c.mu.Unlock()

	c.handler.OnStatus(key, message)
}

func (c *Coordinator) forgetStatus(key string) {
	c.mu.Lock()
	delete(c.lastStatus, key)
	c.mu.Unlock()
}

func moderationErr(id string) error {
	return &experience.Error{
		Kind: experience.KindModeration,
		Op:   "get",
		Key:  id,
		Err:  errors.New("experience rejected by moderation"),
	}
}
