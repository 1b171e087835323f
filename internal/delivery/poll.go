package delivery

import (
	"errors"
	"sync"
	"time"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
)

// pollTimer is the cancellation handle of one job's poll loop.
type pollTimer struct {
	done chan struct{}
	once sync.Once
}

func (t *pollTimer) stop() {
	t.once.Do(func() { close(t.done) })
}

// startPoll starts polling jobID unless it is already polled or finished. Timers
// are independent per job id.
func (c *Coordinator) startPoll(jobID string) {
	c.mu.Lock()
	if _, done := c.finished.Get(jobID); c.closed || done || c.timers[jobID] != nil {
		c.mu.Unlock()
		return
	}
	t := &pollTimer{done: make(chan struct{})}
	c.timers[jobID] = t
	c.wg.Add(1)
	c.mu.Unlock()

	c.log("info", "job %s: polling every %s", jobID, c.cfg.PollInterval)
	go func() {
		defer c.wg.Done()
		c.poll(jobID, t)
	}()
}

// poll fetches jobID every PollInterval until it finishes, is rejected, the timer
// is stopped or MaxPollDuration elapses.
func (c *Coordinator) poll(jobID string, t *pollTimer) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if c.cfg.MaxPollDuration > 0 {
		timer := time.NewTimer(c.cfg.MaxPollDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.done:
			return
		case <-deadline:
			c.removeTimer(jobID, t)
			c.log("warning", "job %s: no output after %s, giving up", jobID, c.cfg.MaxPollDuration)
			c.handler.OnError(jobID, ended(&experience.Error{
				Kind: experience.KindTransport,
				Op:   "poll",
				Key:  jobID,
				Err:  experience.ErrPollTimeout,
			}))
			return
		case <-ticker.C:
		}

		exp, err := c.client.Get(c.ctx, jobID)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if isClientError(err) {
				c.removeTimer(jobID, t)
				c.log("error", "job %s: polling stopped: %v", jobID, err)
				c.handler.OnError(jobID, ended(err))
				return
			}
			c.handler.OnError(jobID, err)
			continue
		}

		switch {
		case exp.Rejected():
			c.reject(jobID, moderationErr(jobID))
			return
		case exp.Done():
			c.deliver(jobID, exp)
			return
		}
	}
}

// removeTimer drops t from the timer table if it is still the timer for jobID.
func (c *Coordinator) removeTimer(jobID string, t *pollTimer) {
	c.mu.Lock()
	if c.timers[jobID] == t {
		delete(c.timers, jobID)
	}
	c.mu.Unlock()
	t.stop()
}

// isClientError reports a 4xx response other than 429, which the HTTP client
// already retried. Polling cannot recover from those.
func isClientError(err error) bool {
	var e *experience.Error
	if !errors.As(err, &e) || e.Kind != experience.KindTransport {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 429
}
