// Package harness provides an in-process job service and push brokers for end-to-end tests.
package harness

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
)

// JobService is a fake job API backed by an in-memory job table.
// Creates are idempotent on client_id.
type JobService struct {
	Server *httptest.Server

	// RenderAfterGets is the number of GETs after which a rendering job has output (default: 2)
	RenderAfterGets int

	// Reject marks every new job as rejected by moderation
	Reject bool

	mu       sync.Mutex
	jobs     map[string]*experience.Experience
	byClient map[string]string
	gets     map[string]int
	creates  int
	triggers int
}

// NewJobService starts the fake job API. It is closed when the test ends.
func NewJobService(t *testing.T) *JobService {
	t.Helper()

	s := &JobService{
		RenderAfterGets: 2,
		jobs:            make(map[string]*experience.Experience),
		byClient:        make(map[string]string),
		gets:            make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /job", s.handleCreate(false))
	mux.HandleFunc("POST /job/render", s.handleCreate(true))
	mux.HandleFunc("GET /job/{id}", s.handleGet)
	mux.HandleFunc("POST /job/{id}/trigger", s.handleTrigger)

	s.Server = httptest.NewServer(s.authorize(mux))
	t.Cleanup(s.Server.Close)
	return s
}

// URL returns the API base URL.
func (s *JobService) URL() string {
	return s.Server.URL
}

// Creates returns the number of create requests received, including idempotent repeats.
func (s *JobService) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// Gets returns the number of GETs received for a job.
func (s *JobService) Gets(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[id]
}

// Triggers returns the number of trigger requests received.
func (s *JobService) Triggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggers
}

// JobForClient returns the job created for a client id, if any.
func (s *JobService) JobForClient(clientID string) (*experience.Experience, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byClient[clientID]
	if !ok {
		return nil, false
	}
	exp := *s.jobs[id]
	return &exp, true
}

// Put stores a job as-is, for tests that start from an existing job.
func (s *JobService) Put(exp *experience.Experience) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exp
	s.jobs[exp.ID] = &cp
}

// Finish attaches output to a job and clears its rendering flag.
func (s *JobService) Finish(id string, output map[string]any) *experience.Experience {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp := s.jobs[id]
	exp.Rendering = false
	exp.Output = output
	cp := *exp
	return &cp
}

func (s *JobService) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") || r.Header.Get("X-Api-Version") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *JobService) handleCreate(render bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ClientID  string         `json:"client_id"`
			StoryID   string         `json:"story_id"`
			Inventory map[string]any `json:"inventory"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.creates++

		if id, ok := s.byClient[req.ClientID]; ok {
			writeJSON(w, http.StatusOK, s.jobs[id])
			return
		}

		exp := &experience.Experience{
			ID:               uuid.NewString(),
			StoryID:          req.StoryID,
			Rendering:        render,
			Inventory:        req.Inventory,
			ModerationStatus: experience.ModerationApproved,
		}
		if s.Reject {
			exp.ModerationStatus = experience.ModerationRejected
		}
		s.jobs[exp.ID] = exp
		s.byClient[req.ClientID] = exp.ID
		writeJSON(w, http.StatusOK, exp)
	}
}

func (s *JobService) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.jobs[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	s.gets[id]++
	if exp.Rendering && s.gets[id] >= s.RenderAfterGets {
		exp.Rendering = false
		exp.Output = map[string]any{"mp4": "https://cdn.example.com/" + id + ".mp4"}
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *JobService) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.jobs[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	s.triggers++
	exp.Rendering = true
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
