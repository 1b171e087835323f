package delivery

import (
	"errors"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
)

// Handler is the caller-facing callback surface. Callbacks for one job arrive in the
// order the underlying transport produced them; callbacks for different jobs may run
// concurrently. Close must not be called from inside a callback.
type Handler interface {
	// OnJobCreated fires once the create call confirms the job exists
	OnJobCreated(exp *experience.Experience, willRender bool)

	// OnJobComplete fires at most once per job id, when its output is available
	OnJobComplete(exp *experience.Experience)

	// OnStatus delivers status messages keyed by client id or job id
	OnStatus(key, message string)

	// OnError reports a failure and the recovery taken, if any. It is never fatal to the coordinator.
	OnError(key string, err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	JobCreated  func(exp *experience.Experience, willRender bool)
	JobComplete func(exp *experience.Experience)
	Status      func(key, message string)
	Error       func(key string, err error)
}

func (h HandlerFuncs) OnJobCreated(exp *experience.Experience, willRender bool) {
	if h.JobCreated != nil {
		h.JobCreated(exp, willRender)
	}
}

func (h HandlerFuncs) OnJobComplete(exp *experience.Experience) {
	if h.JobComplete != nil {
		h.JobComplete(exp)
	}
}

func (h HandlerFuncs) OnStatus(key, message string) {
	if h.Status != nil {
		h.Status(key, message)
	}
}

func (h HandlerFuncs) OnError(key string, err error) {
	if h.Error != nil {
		h.Error(key, err)
	}
}

// jobEnded marks an error after which no further callbacks arrive for its key.
type jobEnded struct {
	err error
}

func ended(err error) error {
	return &jobEnded{err: err}
}

func (e *jobEnded) Error() string { return e.err.Error() }
func (e *jobEnded) Unwrap() error { return e.err }

// IsTerminal reports whether err ended its job. Errors that are not terminal are
// followed by a recovery: a resubmission, a reconnect, a poll retry or the switch
// to poll mode.
func IsTerminal(err error) bool {
	var e *jobEnded
	return errors.As(err, &e)
}
