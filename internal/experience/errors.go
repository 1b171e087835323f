package experience

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by the recovery path available for it.
type Kind string

const (
	// KindTransport is an HTTP failure; the coordinator may retry it.
	KindTransport Kind = "transport"
	// KindChannel is a push connect/subscribe failure; recoverable up to the reconnect cap.
	KindChannel Kind = "channel"
	// KindParse is a malformed inbound frame; it never affects connectivity state.
	KindParse Kind = "parse"
	// KindModeration is a policy rejection; terminal for the job.
	KindModeration Kind = "moderation"
	// KindConfiguration is invalid caller input; rejected before any network call.
	KindConfiguration Kind = "configuration"
)

// CodeDuplicateSubmission is the API error code returned when a client id was already used.
const CodeDuplicateSubmission = "duplicate_submission"

// ErrPollTimeout is reported when a poll timer exceeds its configured lifetime.
var ErrPollTimeout = errors.New("poll timeout exceeded")

// Error is the error type surfaced to callers of the delivery subsystem.
type Error struct {
	Kind Kind
	// Op names the operation that failed (e.g. "create", "get", "subscribe").
	Op string
	// Key is the job id or client id the error relates to, if any.
	Key string
	// StatusCode is the HTTP status for transport errors that got a response.
	StatusCode int
	// Code is the API error code decoded from the response body, if any.
	Code string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Key != "" {
		msg += " (" + e.Key + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsDuplicateSubmission reports whether err is a client-error response signalling an
// idempotency collision on the client id.
func IsDuplicateSubmission(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindTransport {
		return false
	}
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	return e.StatusCode == http.StatusConflict || e.Code == CodeDuplicateSubmission
}

// Configuration builds a configuration error.
func Configuration(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}
