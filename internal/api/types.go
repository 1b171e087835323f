// Package api provides the HTTP client for the Imposium job service.
//
// The client is stateless apart from its auth and version headers. Every call is a
// single logical request; transient failures (network errors, 5xx, 429) are retried
// with exponential backoff, while other 4xx responses are returned to the caller
// untouched so the delivery coordinator can decide what they mean.
package api

// CreateRequest is the request body for POST /job and POST /job/render
type CreateRequest struct {
	// ClientID is the idempotency key, stable across retries of the same creation
	ClientID  string         `json:"client_id"`
	StoryID   string         `json:"story_id,omitempty"`
	Inventory map[string]any `json:"inventory"`

	// Render selects POST /job/render, which starts processing immediately
	Render bool `json:"-"`
}

// TriggerResponse is the response from POST /job/{id}/trigger
type TriggerResponse struct {
	JobID string `json:"job_id"`
}

// APIError represents an error response from the API
type APIError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	StatusCode  int    `json:"-"`
}

func (e *APIError) Err() string {
	if e.Description != "" {
		return e.Error + ": " + e.Description
	}
	return e.Error
}

// ProgressFunc receives upload progress for a request body.
type ProgressFunc func(sent, total int64)
