// internal/ui/watcher.go
package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aceteam-ai/imposium-cli/internal/delivery"
	"github.com/aceteam-ai/imposium-cli/internal/experience"
)

// ErrAborted is returned by Wait when the user quit the watcher.
var ErrAborted = errors.New("stopped watching")

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Title string

	// Interactive runs the bubbletea watcher; otherwise one line per event is printed
	Interactive bool

	// UntilCreated finishes as soon as the job exists instead of waiting for output
	UntilCreated bool

	// Output receives line output (default: stdout)
	Output io.Writer
}

// Watcher turns delivery callbacks into terminal output and waits for the outcome
// of one job. It implements delivery.Handler.
type Watcher struct {
	untilCreated bool

	status   *StatusLine
	progress *ProgressBar

	program  *tea.Program
	progDone chan struct{}

	once   sync.Once
	result chan watchResult
}

type watchResult struct {
	exp *experience.Experience
	err error
}

var _ delivery.Handler = (*Watcher)(nil)

// NewWatcher creates a watcher. Call Start before handing it to a coordinator.
func NewWatcher(cfg WatcherConfig) *Watcher {
	w := &Watcher{
		untilCreated: cfg.UntilCreated,
		result:       make(chan watchResult, 1),
	}

	if cfg.Interactive {
		w.program = tea.NewProgram(NewWatchModel(cfg.Title))
		w.progDone = make(chan struct{})
		return w
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	w.status = NewStatusLineTo(out)
	w.progress = NewProgressBar("Uploading")
	w.progress.SetWriter(out)
	if cfg.Title != "" {
		w.status.Info(cfg.Title)
	}
	return w
}

// Start runs the interactive program, if any, in the background.
func (w *Watcher) Start() {
	if w.program == nil {
		return
	}
	go func() {
		defer close(w.progDone)
		if _, err := w.program.Run(); err != nil {
			w.finish(nil, fmt.Errorf("watcher failed: %w", err))
			return
		}
		// Quitting with q before an outcome ends the wait.
		w.finish(nil, ErrAborted)
	}()
}

// Wait blocks until the job completes, fails terminally, the user quits or ctx is done.
func (w *Watcher) Wait(ctx context.Context) (*experience.Experience, error) {
	var res watchResult
	select {
	case res = <-w.result:
	case <-ctx.Done():
		res = watchResult{err: ctx.Err()}
	}

	if w.program != nil {
		w.program.Send(finishMsg{})
		<-w.progDone
	}
	return res.exp, res.err
}

// Progress reports upload progress. Its signature matches api.ProgressFunc.
func (w *Watcher) Progress(sent, total int64) {
	if w.program != nil {
		w.program.Send(progressMsg{sent: sent, total: total})
		return
	}
	w.progress.Update(sent, total)
}

func (w *Watcher) OnJobCreated(exp *experience.Experience, willRender bool) {
	if w.program != nil {
		w.program.Send(createdMsg{exp: exp, willRender: willRender})
	} else {
		w.status.Success(fmt.Sprintf("Job %s created", exp.ID))
	}
	if !willRender || w.untilCreated {
		w.finish(exp, nil)
	}
}

func (w *Watcher) OnJobComplete(exp *experience.Experience) {
	if w.program != nil {
		w.program.Send(completeMsg{exp: exp})
	} else {
		w.status.Success(fmt.Sprintf("Job %s complete", exp.ID))
		for _, line := range OutputLines(exp) {
			w.status.print(" ", line)
		}
	}
	w.finish(exp, nil)
}

func (w *Watcher) OnStatus(key, message string) {
	if w.program != nil {
		w.program.Send(statusMsg{key: key, message: message})
		return
	}
	w.status.Working(message)
}

func (w *Watcher) OnError(key string, err error) {
	terminal := delivery.IsTerminal(err)
	if w.program != nil {
		w.program.Send(errorMsg{key: key, err: err, terminal: terminal})
	} else if terminal {
		w.status.Fail(err.Error())
	} else {
		w.status.Warning(err.Error())
	}
	if terminal {
		w.finish(nil, err)
	}
}

func (w *Watcher) finish(exp *experience.Experience, err error) {
	w.once.Do(func() {
		w.result <- watchResult{exp: exp, err: err}
	})
}
