package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
)

// Event discriminators carried in the "event" field of every frame.
const (
	EventCompletion = "completion"
	EventMessage    = "message"
	EventScene      = "scene"
)

// StatusError is the status value the job service uses to report a failed render.
const StatusError = "error"

// OpRender is the Op of the error reported for a StatusError frame.
const OpRender = "render"

// IsRenderFailure reports whether err is the failure a worker published for its job.
func IsRenderFailure(err error) bool {
	var e *experience.Error
	return errors.As(err, &e) && e.Kind == experience.KindChannel && e.Op == OpRender
}

// Frame is the JSON body published to a job topic.
type Frame struct {
	Event      string                  `json:"event"`
	Status     string                  `json:"status,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Experience *experience.Experience `json:"experience,omitempty"`
}

// Event is one decoded frame. It is one of Completion, StatusMessage, ResultReady or ParseError.
type Event interface {
	isEvent()
}

// Completion signals that no further frames will be published for the job.
type Completion struct {
	Key string
}

// StatusMessage is a progress update from the rendering worker.
type StatusMessage struct {
	Key    string
	Status string
	Detail string
}

// IsError reports whether the worker used the status to signal a failure.
func (m StatusMessage) IsError() bool {
	return m.Status == StatusError
}

// ResultReady carries the job payload once rendering is finished.
type ResultReady struct {
	Key        string
	Experience *experience.Experience
}

// ParseError is a frame that could not be decoded.
type ParseError struct {
	Key  string
	Body []byte
	Err  error
}

func (Completion) isEvent()    {}
func (StatusMessage) isEvent() {}
func (ResultReady) isEvent()   {}
func (ParseError) isEvent()    {}

// Decode classifies a frame body received on the topic for key.
func Decode(key string, body []byte) Event {
	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return ParseError{Key: key, Body: body, Err: fmt.Errorf("invalid frame: %w", err)}
	}

	switch f.Event {
	case EventCompletion:
		return Completion{Key: key}
	case EventMessage:
		return StatusMessage{Key: key, Status: f.Status, Detail: f.Error}
	case EventScene:
		if f.Experience == nil {
			return ParseError{Key: key, Body: body, Err: errors.New("scene frame without experience")}
		}
		return ResultReady{Key: key, Experience: f.Experience}
	case "":
		return ParseError{Key: key, Body: body, Err: errors.New("frame without event field")}
	default:
		return ParseError{Key: key, Body: body, Err: fmt.Errorf("unknown frame event %q", f.Event)}
	}
}
