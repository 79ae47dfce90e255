package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/repoqa/repoqa/internal/ingest"
)

// TUIRenderer provides a rich terminal UI using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *ingestModel
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. Returns an error for non-TTY
// output so NewRenderer can fall back to plain mode.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	model := newIngestModel(cfg.Source)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:   cfg,
		model: model,
		done:  make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()

	return nil
}

// Update implements Renderer.
func (r *TUIRenderer) Update(p ingest.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(progressMsg(p))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(summary Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(completeMsg(summary))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Quit()

		// Bounded wait so Ctrl+C never hangs on an unresponsive TUI.
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}

	return nil
}

// Message types for bubbletea.
type progressMsg ingest.Progress
type completeMsg Summary

// ingestModel is the bubbletea model for ingest progress.
type ingestModel struct {
	source   string
	width    int
	quitting bool
	complete bool
	summary  Summary

	latest      ingest.Progress
	started     time.Time
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
}

func newIngestModel(source string) *ingestModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	p := progress.New(
		progress.WithSolidFill(ColorAccent),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &ingestModel{
		source:      source,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		started:     time.Now(),
		width:       80,
	}
}

// Init implements tea.Model.
func (m *ingestModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *ingestModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = msg.Width - 20
		if m.progressBar.Width < 20 {
			m.progressBar.Width = 20
		}

	case progressMsg:
		m.latest = ingest.Progress(msg)
		return m, nil

	case completeMsg:
		m.complete = true
		m.summary = Summary(msg)
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *ingestModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	var b strings.Builder
	b.WriteString(m.styles.Header.Render("repoqa index"))
	if m.source != "" {
		b.WriteString(m.styles.Label.Render("  " + m.source))
	}
	b.WriteString("\n\n")

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(m.styles.Stage.Render(StageLabel(m.latest.Stage)))
	b.WriteString("\n")

	b.WriteString(m.progressBar.ViewAs(m.latest.Percent / 100))
	b.WriteString(fmt.Sprintf(" %3.0f%%\n\n", m.latest.Percent))

	b.WriteString(m.styles.Label.Render(fmt.Sprintf(
		"files %d/%d   chunks %d/%d   elapsed %s",
		m.latest.FilesProcessed, m.latest.FilesTotal,
		m.latest.ChunksEmbedded, m.latest.ChunksTotal,
		time.Since(m.started).Round(time.Second))))
	b.WriteString("\n")

	return m.styles.Panel.Width(m.panelWidth()).Render(b.String()) + "\n"
}

func (m *ingestModel) renderComplete() string {
	if m.summary.Err != nil {
		return m.styles.Error.Render(fmt.Sprintf("Failed: %v", m.summary.Err)) + "\n"
	}
	return fmt.Sprintf("Complete: %d files, %d chunks indexed in %s\n",
		m.summary.Files, m.summary.Chunks, m.summary.Duration.Round(100*time.Millisecond))
}

func (m *ingestModel) panelWidth() int {
	w := m.width - 2
	if w < 40 {
		w = 40
	}
	return w
}
