// Package experience defines the job model shared by the API client, the push
// consumer and the delivery coordinator.
//
// An experience is the server-side unit of asynchronous rendering work. It has no
// id until the create call returns, so every client-side flow is keyed first by a
// caller-generated client id and then by the server-assigned job id.
package experience

// ModerationStatus is the moderation verdict attached to an experience.
type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationRejected ModerationStatus = "rejected"
)

// IsTerminal reports whether no further deliveries may happen for a job in this state.
func (s ModerationStatus) IsTerminal() bool {
	return s == ModerationRejected
}

// Status messages emitted by the coordinator around job creation.
const (
	StatusQueued = "queued"
	StatusAdded  = "added"
)

// Experience represents a rendering job as returned by the job API or pushed over a topic.
type Experience struct {
	ID               string           `json:"id"`
	StoryID          string           `json:"story_id,omitempty"`
	Rendering        bool             `json:"rendering"`
	Output           map[string]any   `json:"output,omitempty"`
	ModerationStatus ModerationStatus `json:"moderation_status,omitempty"`
	Inventory        map[string]any   `json:"inventory,omitempty"`
	DateCreated      string           `json:"date_created,omitempty"`
}

// HasOutput reports whether any named artifact is present.
func (e *Experience) HasOutput() bool {
	return e != nil && len(e.Output) > 0
}

// Done reports whether the render finished and its output can be delivered.
// A record that carries output while still flagged as rendering is not done.
func (e *Experience) Done() bool {
	return e.HasOutput() && !e.Rendering
}

// Rejected reports whether moderation rejected the job.
func (e *Experience) Rejected() bool {
	return e != nil && e.ModerationStatus.IsTerminal()
}
