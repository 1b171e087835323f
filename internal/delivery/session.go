package delivery

import (
	"errors"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
	"github.com/aceteam-ai/imposium-cli/internal/push"
)

// sessionEntry is the coordinator's record of the single open push session.
type sessionEntry struct {
	session *push.Session

	// key is the topic key: a client id for creations, a job id for attached jobs
	key string

	// jobID is known once the job exists server-side
	jobID string

	// existing marks a session opened by GetJob for a job that already exists
	existing bool

	// trigger asks for TriggerRender once the first subscription is live
	trigger bool

	// attached is set once the post-subscribe step for an existing job was taken
	attached bool
}

// openSession replaces the current push session with one keyed by key. jobID is
// empty while the job awaits creation. It reports false when no session was
// opened because the coordinator is closed or the job already has a live session.
func (c *Coordinator) openSession(key, jobID string, trigger bool) bool {
	entry := &sessionEntry{key: key, jobID: jobID, existing: jobID != "", trigger: trigger}
	entry.session = push.NewSession(push.SessionConfig{
		Key:           key,
		Transport:     c.transport,
		Handler:       &sessionHandler{c: c, entry: entry},
		MaxReconnects: c.cfg.MaxReconnects,
		Backoff:       c.cfg.ReconnectBackoff,
		LogFn:         c.cfg.LogFn,
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if cur := c.session; cur != nil && jobID != "" && cur.jobID == jobID && cur.session.State() != push.StateFailed {
		c.mu.Unlock()
		return false
	}
	prev := c.session
	c.session = entry
	c.wg.Add(1)
	c.mu.Unlock()

	if prev != nil {
		c.retire(prev)
	}

	entry.session.Start(c.ctx)
	go func() {
		defer c.wg.Done()
		<-entry.session.Done()
	}()
	return true
}

// retire tears down a replaced session. A creation or trigger it was waiting on
// is not dropped: it moves to HTTP with polling.
func (c *Coordinator) retire(entry *sessionEntry) {
	entry.session.Destroy()

	c.mu.Lock()
	pc := c.pending[entry.key]
	replay := pc != nil && !pc.issued
	if pc != nil {
		pc.issued = true
		pc.pollOnSuccess = true
	}
	trigger := entry.trigger && !entry.attached
	entry.attached = true
	c.mu.Unlock()

	switch {
	case replay:
		c.log("info", "create %s: session replaced before submit, submitting over HTTP", entry.key)
		c.spawn(func() { c.submit(pc, true) })
	case trigger:
		c.log("info", "get %s: session replaced before trigger, triggering over HTTP", entry.jobID)
		c.spawn(func() { c.triggerAndPoll(entry.jobID) })
	}
}

// consumerFailure demotes the coordinator to poll mode after a session spent its
// reconnect budget, and moves the session's job to polling. The handoff is decided
// in one critical section so a create confirming concurrently is either seen here
// with its job id or sees pollOnSuccess itself.
func (c *Coordinator) consumerFailure(entry *sessionEntry, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mode = ModePoll
	current := c.session == entry

	var pc *pendingCreation
	var replay, trigger bool
	var jobID string
	if current {
		c.session = nil
		pc = c.pending[entry.key]
		if pc != nil {
			// Not yet issued: replay exactly once over HTTP. In flight: poll when it confirms.
			replay = !pc.issued
			pc.issued = true
			pc.pollOnSuccess = true
		}
		jobID = entry.jobID
		trigger = entry.trigger && !entry.attached
		entry.attached = true
	}
	c.mu.Unlock()

	c.log("warning", "push channel failed for %s, switching to poll mode: %v", entry.key, err)
	c.handler.OnError(entry.key, err)
	entry.session.Destroy()

	switch {
	case !current:
	case replay:
		c.log("info", "create %s: replaying unconfirmed creation over HTTP", entry.key)
		c.spawn(func() { c.submit(pc, true) })
	case trigger:
		c.log("info", "get %s: triggering over HTTP after push failure", jobID)
		c.spawn(func() { c.triggerAndPoll(jobID) })
	case pc == nil && jobID != "":
		c.startPoll(jobID)
	}
}

// onSubscribed issues the pending creation the session was opened for.
func (c *Coordinator) onSubscribed(entry *sessionEntry) {
	c.mu.Lock()
	if c.closed || c.session != entry {
		c.mu.Unlock()
		return
	}
	if entry.existing {
		if entry.attached {
			c.mu.Unlock()
			return
		}
		entry.attached = true
		c.mu.Unlock()
		c.spawn(func() { c.afterSubscribe(entry) })
		return
	}
	pc := c.pending[entry.key]
	if pc == nil || pc.issued {
		c.mu.Unlock()
		return
	}
	pc.issued = true
	c.mu.Unlock()

	c.spawn(func() { c.submit(pc, false) })
}

// afterSubscribe runs once the session for an existing job is live. A pending
// trigger is issued now so no frame it causes can precede the subscription.
// Otherwise the job is read once more, since a render that finished before the
// subscription took effect published nothing this session will see.
func (c *Coordinator) afterSubscribe(entry *sessionEntry) {
	if entry.trigger {
		c.log("info", "get %s: subscribed, triggering render", entry.jobID)
		if !c.triggerRender(entry.jobID) {
			c.dropSession(entry)
		}
		return
	}

	exp, err := c.client.Get(c.ctx, entry.jobID)
	if err != nil {
		if c.ctx.Err() == nil {
			c.log("warning", "get %s: recheck after subscribe failed: %v", entry.jobID, err)
		}
		return
	}
	switch {
	case exp.Rejected():
		c.reject(entry.jobID, moderationErr(entry.jobID))
		c.dropSession(entry)
	case exp.Done():
		c.deliver(entry.jobID, exp)
		c.dropSession(entry)
	}
}

// renderFailed ends the session's job after its worker published a failure.
func (c *Coordinator) renderFailed(entry *sessionEntry, err error) {
	c.mu.Lock()
	id := entry.jobID
	c.mu.Unlock()
	if id == "" {
		id = entry.key
	}
	c.dropSession(entry)
	if !c.finish(id) {
		return
	}
	c.log("error", "job %s: render failed: %v", id, err)
	c.handler.OnError(id, ended(err))
}

// dropSession destroys entry and forgets it if it is still the current session.
func (c *Coordinator) dropSession(entry *sessionEntry) {
	c.mu.Lock()
	if c.session == entry {
		c.session = nil
	}
	c.mu.Unlock()
	entry.session.Destroy()
}

// sessionHandler routes push session events for one entry into the coordinator.
type sessionHandler struct {
	c     *Coordinator
	entry *sessionEntry
}

func (h *sessionHandler) OnSubscribed(key string) {
	h.c.onSubscribed(h.entry)
}

func (h *sessionHandler) OnStatus(key, status string) {
	h.c.emitStatus(key, status)
}

func (h *sessionHandler) OnResult(key string, exp *experience.Experience) {
	h.c.deliver(key, exp)
}

func (h *sessionHandler) OnError(key string, err error) {
	var e *experience.Error
	if errors.As(err, &e) && e.Kind == experience.KindModeration {
		id := e.Key
		if id == "" {
			id = key
		}
		h.c.reject(id, err)
		return
	}
	if push.IsRenderFailure(err) {
		h.c.renderFailed(h.entry, err)
		return
	}
	h.c.handler.OnError(key, err)
}

func (h *sessionHandler) OnFailure(key string, err error) {
	h.c.consumerFailure(h.entry, err)
}
