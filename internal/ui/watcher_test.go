package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"

	"github.com/aceteam-ai/imposium-cli/internal/api"
	"github.com/aceteam-ai/imposium-cli/internal/delivery"
	"github.com/aceteam-ai/imposium-cli/internal/experience"
)

func init() {
	color.NoColor = true
}

func TestPlainWatcherCompletes(t *testing.T) {
	var buf bytes.Buffer
	w := NewWatcher(WatcherConfig{Title: "Rendering story-1", Output: &buf})
	w.Start()

	w.OnStatus("client-1", experience.StatusQueued)
	w.OnJobCreated(&experience.Experience{ID: "job-1"}, true)
	w.OnStatus("client-1", experience.StatusAdded)
	w.OnError("client-1", &experience.Error{Kind: experience.KindChannel, Op: "connect"})
	w.OnJobComplete(&experience.Experience{ID: "job-1", Output: map[string]any{"mp4": "video.mp4"}})

	exp, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if exp.ID != "job-1" {
		t.Errorf("Wait() job = %q", exp.ID)
	}

	out := buf.String()
	for _, want := range []string{
		"Rendering story-1",
		"◆ queued",
		"✓ Job job-1 created",
		"⚠ channel error during connect",
		"✓ Job job-1 complete",
		"mp4: video.mp4",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPlainWatcherFinishesWithoutRender(t *testing.T) {
	var buf bytes.Buffer
	w := NewWatcher(WatcherConfig{Output: &buf})

	w.OnJobCreated(&experience.Experience{ID: "job-1"}, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	exp, err := w.Wait(ctx)
	if err != nil || exp.ID != "job-1" {
		t.Fatalf("Wait() = %v, %v", exp, err)
	}
}

func TestPlainWatcherUntilCreated(t *testing.T) {
	w := NewWatcher(WatcherConfig{Output: &bytes.Buffer{}, UntilCreated: true})

	w.OnJobCreated(&experience.Experience{ID: "job-1"}, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := w.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestPlainWatcherTerminalError(t *testing.T) {
	var buf bytes.Buffer
	w := NewWatcher(WatcherConfig{Output: &buf})

	// Only terminal errors end the wait.
	w.OnError("job-1", errors.New("connection reset"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := w.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want deadline", err)
	}

	w = NewWatcher(WatcherConfig{Output: &buf})
	rejection := terminalError(t)
	w.OnError("job-1", rejection)
	if _, err := w.Wait(context.Background()); !experience.IsKind(err, experience.KindModeration) {
		t.Fatalf("Wait() error = %v, want moderation error", err)
	}
	if !strings.Contains(buf.String(), "✗ moderation error") {
		t.Errorf("output missing failure line:\n%s", buf.String())
	}
}

// rejectingClient reports every job as rejected by moderation.
type rejectingClient struct{}

func (rejectingClient) Create(ctx context.Context, req api.CreateRequest, onProgress api.ProgressFunc) (*experience.Experience, error) {
	return nil, errors.New("not implemented")
}

func (rejectingClient) Get(ctx context.Context, id string) (*experience.Experience, error) {
	return &experience.Experience{ID: id, ModerationStatus: experience.ModerationRejected}, nil
}

func (rejectingClient) TriggerRender(ctx context.Context, id string) (string, error) {
	return id, nil
}

// terminalError obtains a terminal rejection the way the coordinator reports it.
func terminalError(t *testing.T) error {
	t.Helper()

	errs := make(chan error, 1)
	c := delivery.New(delivery.Config{PollInterval: time.Millisecond}, rejectingClient{}, nil, delivery.HandlerFuncs{
		Error: func(key string, err error) { errs <- err },
	})
	defer c.Close()

	if err := c.GetJob("job-1"); err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	select {
	case err := <-errs:
		if !delivery.IsTerminal(err) {
			t.Fatalf("rejection not terminal: %v", err)
		}
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("no rejection reported")
		return nil
	}
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar("Uploading")
	pb.SetWriter(&buf)

	pb.Update(512, 2048)
	pb.Update(2048, 2048)
	pb.Update(2048, 2048)

	out := buf.String()
	if !strings.Contains(out, "25%") || !strings.Contains(out, "100%") {
		t.Errorf("progress output = %q", out)
	}
	if strings.Count(out, "100%") != 1 {
		t.Errorf("finished bar redrawn: %q", out)
	}
	if !strings.Contains(out, "2.0KiB/2.0KiB") {
		t.Errorf("progress output missing sizes: %q", out)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0B"},
		{1023, "1023B"},
		{1024, "1.0KiB"},
		{1536, "1.5KiB"},
		{5 * 1024 * 1024, "5.0MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestSpinnerStopPrintsFinalLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner()
	s.SetWriter(&buf)

	s.Start("Triggering render")
	s.Start("ignored while running")
	s.Fail("Triggering render - failed")
	s.Stop("not printed once stopped")

	out := buf.String()
	if !strings.Contains(out, "✗ Triggering render - failed") {
		t.Errorf("output = %q, want failure line", out)
	}
	if strings.Contains(out, "not printed") {
		t.Errorf("stopped spinner printed again: %q", out)
	}
}

func TestFormatDuration(t *testing.T) {
	if got := FormatDuration(1500 * time.Millisecond); got != "1.5s" {
		t.Errorf("FormatDuration(1.5s) = %q", got)
	}
	if got := FormatDuration(65 * time.Second); got != "1m5s" {
		t.Errorf("FormatDuration(65s) = %q", got)
	}
}

func TestWatchModel(t *testing.T) {
	var m tea.Model = NewWatchModel("Rendering")

	m, _ = m.Update(progressMsg{sent: 50, total: 100})
	if wm := m.(WatchModel); wm.progress != 50 || wm.uploaded {
		t.Errorf("progress = %v uploaded = %v", wm.progress, wm.uploaded)
	}

	m, _ = m.Update(createdMsg{exp: &experience.Experience{ID: "job-1"}, willRender: true})
	m, _ = m.Update(statusMsg{key: "client-1", message: "rendering scene 2"})
	m, _ = m.Update(errorMsg{err: errors.New("connection reset")})

	wm := m.(WatchModel)
	if wm.jobID != "job-1" || wm.current != "rendering scene 2" {
		t.Errorf("jobID = %q current = %q", wm.jobID, wm.current)
	}
	if wm.failure != nil {
		t.Errorf("non-terminal error recorded as failure")
	}
	view := wm.View()
	for _, want := range []string{"Rendering", "job-1", "rendering scene 2", "warning: connection reset"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}

	m, _ = m.Update(completeMsg{exp: &experience.Experience{ID: "job-1", Output: map[string]any{"jpg": "https://cdn.example.com/a.jpg"}}})
	view = m.View()
	if !strings.Contains(view, "complete") || !strings.Contains(view, "https://cdn.example.com/a.jpg") {
		t.Errorf("View() after completion:\n%s", view)
	}

	_, cmd := m.Update(finishMsg{})
	if cmd == nil {
		t.Fatal("finishMsg did not quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("finishMsg returned %T, want tea.QuitMsg", cmd())
	}
}

func TestWatchModelHistoryIsBounded(t *testing.T) {
	m := NewWatchModel("Rendering")
	for i := 0; i < maxHistory*2; i++ {
		m.push("line")
	}
	if len(m.history) != maxHistory {
		t.Errorf("history = %d lines, want %d", len(m.history), maxHistory)
	}
}

func TestWatchModelTruncatesToWidth(t *testing.T) {
	var m tea.Model = NewWatchModel("Rendering")
	m, _ = m.Update(tea.WindowSizeMsg{Width: 30, Height: 10})
	m, _ = m.Update(statusMsg{message: strings.Repeat("x", 100)})

	if strings.Contains(m.View(), strings.Repeat("x", 30)) {
		t.Errorf("status line not truncated:\n%s", m.View())
	}
}

func TestOutputLinesSorted(t *testing.T) {
	lines := OutputLines(&experience.Experience{Output: map[string]any{"mp4": "b", "jpg": "a"}})
	if len(lines) != 2 || !strings.Contains(lines[0], "jpg") || !strings.Contains(lines[1], "mp4") {
		t.Errorf("OutputLines() = %v", lines)
	}
	if OutputLines(nil) != nil {
		t.Error("OutputLines(nil) != nil")
	}
}
