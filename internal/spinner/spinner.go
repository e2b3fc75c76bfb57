// Package spinner provides a terminal spinner with ticker-style status
// display. It shows a spinning indicator alongside the latest step of a
// running operation, updating in place without polluting the terminal
// buffer.
package spinner

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Spinner displays a spinner with ticker-style status updates. Progress
// handlers post the current step through Status(); the latest line is
// displayed next to the spinner.
type Spinner struct {
	program *tea.Program
	lineCh  chan string
	done    chan struct{}
	output  io.Writer
}

// New creates a new Spinner that writes to the given output (typically os.Stderr).
// If output is nil, os.Stderr is used.
func New(output io.Writer) *Spinner {
	if output == nil {
		output = os.Stderr
	}

	return &Spinner{
		lineCh: make(chan string, 100), // Buffer so posting never blocks the operation
		done:   make(chan struct{}),
		output: output,
	}
}

// Status posts a status line to the display. It never blocks: when the
// display is saturated or stopped, the line is dropped. Posting after Stop
// is not allowed.
func (s *Spinner) Status(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.lineCh <- line:
	default:
	}
}

// Start begins the spinner display. This blocks until Stop() is called.
// Call this in a goroutine if you need to do work while the spinner runs.
func (s *Spinner) Start() error {
	// Get terminal width for truncation
	width := 80 // default
	if fd := int(os.Stderr.Fd()); term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			width = w
		}
	}

	m := newModel(s.lineCh, width)

	s.program = tea.NewProgram(m,
		tea.WithOutput(s.output),
		tea.WithoutSignalHandler(), // Let parent handle signals
	)

	_, err := s.program.Run()
	return err
}

// Stop stops the spinner and cleans up resources.
// The spinner line is cleared from the terminal.
func (s *Spinner) Stop() {
	close(s.done)
	close(s.lineCh)

	if s.program != nil {
		s.program.Quit()
	}
}

// model is the bubbletea model for the spinner.
type model struct {
	spinner    spinner.Model
	statusLine string
	width      int
	lineCh     <-chan string
	quitting   bool
}

// lineMsg is sent when a new status line is posted.
type lineMsg string

// newModel creates a new spinner model.
func newModel(lineCh <-chan string, width int) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		spinner:    s,
		statusLine: "",
		width:      width,
		lineCh:     lineCh,
	}
}

// Init implements tea.Model.
//
//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForLine(m.lineCh),
	)
}

// Update implements tea.Model.
//
//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Allow ctrl+c to quit
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case lineMsg:
		m.statusLine = string(msg)
		return m, waitForLine(m.lineCh)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.QuitMsg:
		m.quitting = true
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
//
//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) View() string {
	if m.quitting {
		return "" // Clear the line on exit
	}

	// Calculate available width for status line
	// Spinner is typically 2 chars + 1 space
	spinnerWidth := 3
	maxLineWidth := m.width - spinnerWidth
	if maxLineWidth < 10 {
		maxLineWidth = 10
	}

	line := truncate(m.statusLine, maxLineWidth)
	return m.spinner.View() + " " + line
}

// waitForLine returns a command that waits for the next status line.
func waitForLine(lineCh <-chan string) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-lineCh
		if !ok {
			return tea.Quit()
		}
		return lineMsg(line)
	}
}

// truncate shortens a string to fit within maxWidth.
// If truncated, it adds "..." at the end.
func truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return ""
	}
	if len(s) <= maxWidth {
		return s
	}
	return s[:maxWidth-3] + "..."
}
