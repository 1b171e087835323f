// internal/ui/spinner.go
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a single status line while a blocking call runs
type Spinner struct {
	mu        sync.Mutex
	message   string
	running   bool
	done      chan struct{}
	writer    io.Writer
	startTime time.Time
}

// NewSpinner creates a spinner writing to stdout
func NewSpinner() *Spinner {
	return &Spinner{writer: os.Stdout}
}

// SetWriter sets the output writer
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start begins the animation
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.message = message
	s.running = true
	s.done = make(chan struct{})
	s.startTime = time.Now()
	s.mu.Unlock()

	go s.animate()
}

// Stop stops the spinner and prints finalMessage, if any
func (s *Spinner) Stop(finalMessage string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	w := s.writer
	s.mu.Unlock()

	fmt.Fprint(w, "\r\033[K")
	if finalMessage != "" {
		fmt.Fprintln(w, finalMessage)
	}
}

// Success stops with a green checkmark
func (s *Spinner) Success(message string) {
	s.Stop(color.GreenString("✓") + " " + message)
}

// Fail stops with a red X
func (s *Spinner) Fail(message string) {
	s.Stop(color.RedString("✗") + " " + message)
}

func (s *Spinner) animate() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		line := color.CyanString(spinnerFrames[frame%len(spinnerFrames)]) + " " + s.message
		if elapsed := time.Since(s.startTime); elapsed > time.Second {
			line += color.HiBlackString(" (%s)", FormatDuration(elapsed))
		}
		fmt.Fprint(s.writer, "\r\033[K"+line)
		s.mu.Unlock()
	}
}

// FormatDuration renders d as seconds below a minute and as 1m5s above
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// StatusLine prints one line per event without animation. It is the output used
// when stdout is not a terminal.
type StatusLine struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewStatusLineTo creates a status line writer on w
func NewStatusLineTo(w io.Writer) *StatusLine {
	return &StatusLine{writer: w}
}

func (sl *StatusLine) print(symbol, message string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	fmt.Fprintf(sl.writer, "%s %s\n", symbol, message)
}

// Working prints an in-progress status
func (sl *StatusLine) Working(message string) {
	sl.print(color.YellowString("◆"), message)
}

// Success prints a success status
func (sl *StatusLine) Success(message string) {
	sl.print(color.GreenString("✓"), message)
}

// Fail prints a failure status
func (sl *StatusLine) Fail(message string) {
	sl.print(color.RedString("✗"), message)
}

// Warning prints a warning status
func (sl *StatusLine) Warning(message string) {
	sl.print(color.YellowString("⚠"), message)
}

// Info prints an info status
func (sl *StatusLine) Info(message string) {
	sl.print(color.BlueString("ℹ"), message)
}

// ProgressBar renders upload progress for a request body
type ProgressBar struct {
	mu       sync.Mutex
	writer   io.Writer
	message  string
	width    int
	finished bool
}

// NewProgressBar creates a progress bar on stdout
func NewProgressBar(message string) *ProgressBar {
	return &ProgressBar{
		writer:  os.Stdout,
		message: message,
		width:   30,
	}
}

// SetWriter sets the output writer
func (pb *ProgressBar) SetWriter(w io.Writer) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.writer = w
}

// Update redraws the bar. Its signature matches api.ProgressFunc.
func (pb *ProgressBar) Update(sent, total int64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.finished || total <= 0 {
		return
	}

	percent := float64(sent) / float64(total)
	if percent > 1 {
		percent = 1
	}
	filled := int(percent * float64(pb.width))

	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.width-filled)
	fmt.Fprintf(pb.writer, "\r%s %s %s %d%% %s",
		color.CyanString("▸"),
		pb.message,
		color.HiBlackString("[%s]", bar),
		int(percent*100),
		color.HiBlackString("%s/%s", FormatBytes(sent), FormatBytes(total)))

	if sent >= total {
		pb.finished = true
		fmt.Fprintln(pb.writer)
	}
}

// FormatBytes renders n with a binary unit suffix
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// RunWithSpinner executes fn while showing a spinner
func RunWithSpinner(message string, fn func() error) error {
	spinner := NewSpinner()
	spinner.Start(message)
	if err := fn(); err != nil {
		spinner.Fail(message + " - failed")
		return err
	}
	spinner.Success(message)
	return nil
}
