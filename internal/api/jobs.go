package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
)

// Create submits a new job. Callers must not assume the job was or was not created
// when a transport error is returned; the client id makes resubmission safe.
func (c *Client) Create(ctx context.Context, req CreateRequest, onProgress ProgressFunc) (*experience.Experience, error) {
	if req.ClientID == "" {
		return nil, experience.Configuration("create", "client id is required")
	}
	if req.Inventory == nil {
		req.Inventory = map[string]any{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, experience.Configuration("create", "failed to marshal inventory: %v", err)
	}

	path := "/job"
	if req.Render {
		path = "/job/render"
	}

	var exp experience.Experience
	err = c.doRequest(ctx, call{
		op:       "create",
		key:      req.ClientID,
		method:   http.MethodPost,
		path:     path,
		body:     body,
		progress: onProgress,
	}, &exp)
	if err != nil {
		return nil, err
	}

	if exp.ID == "" {
		return nil, &experience.Error{
			Kind: experience.KindTransport,
			Op:   "create",
			Key:  req.ClientID,
			Err:  errors.New("response did not include a job id"),
		}
	}
	return &exp, nil
}

// Get fetches the current state of a job.
func (c *Client) Get(ctx context.Context, jobID string) (*experience.Experience, error) {
	if jobID == "" {
		return nil, experience.Configuration("get", "job id is required")
	}

	var exp experience.Experience
	err := c.doRequest(ctx, call{
		op:     "get",
		key:    jobID,
		method: http.MethodGet,
		path:   "/job/" + url.PathEscape(jobID),
	}, &exp)
	if err != nil {
		return nil, err
	}

	if exp.ID == "" {
		exp.ID = jobID
	}
	return &exp, nil
}

// TriggerRender starts a deferred render and returns the acknowledgement id.
func (c *Client) TriggerRender(ctx context.Context, jobID string) (string, error) {
	if jobID == "" {
		return "", experience.Configuration("trigger", "job id is required")
	}

	var resp TriggerResponse
	err := c.doRequest(ctx, call{
		op:     "trigger",
		key:    jobID,
		method: http.MethodPost,
		path:   fmt.Sprintf("/job/%s/trigger", url.PathEscape(jobID)),
	}, &resp)
	if err != nil {
		return "", err
	}

	if resp.JobID == "" {
		return jobID, nil
	}
	return resp.JobID, nil
}
