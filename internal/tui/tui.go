// Package tui provides a Bubble Tea terminal user interface for
// multipartus-downloader.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/handiism/multipartus-downloader/internal/config"
	"github.com/handiism/multipartus-downloader/internal/download"
	"github.com/handiism/multipartus-downloader/internal/model"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)
)

// maxShownErrors bounds the error list rendered while downloading.
const maxShownErrors = 8

// State represents the current UI state.
type State int

const (
	StateInput State = iota
	StateDownloading
	StateComplete
	StateError
)

// Options configures the TUI.
type Options struct {
	Manager  *download.Manager
	Settings *config.Settings

	// Token authenticates the job's requests.
	Token string

	// ManifestPath prefills the manifest prompt.
	ManifestPath string

	// Destination overrides the manifest's destination when set.
	Destination string
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	opts Options

	state     State
	textInput textinput.Model
	spinner   spinner.Model
	progress  progress.Model

	job        *download.Job
	videos     int
	percent    float64
	failures   []model.ErrorEvent
	result     model.BatchResult
	cancelling bool
	cacheSize  string
	err        error

	width int
}

// NewModel creates a new TUI model.
func NewModel(opts Options) Model {
	if opts.Settings == nil {
		opts.Settings = config.DefaultSettings()
	}

	ti := textinput.New()
	ti.Placeholder = "lectures.yaml"
	ti.SetValue(opts.ManifestPath)
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	return Model{
		opts:      opts,
		state:     StateInput,
		textInput: ti,
		spinner:   sp,
		progress:  prog,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.refreshCacheSize())
}

// Message types
type (
	// JobStartedMsg is sent once the job was submitted.
	JobStartedMsg struct {
		Job    *download.Job
		Videos int
		Err    error
	}

	// EventMsg carries one event of the running job.
	EventMsg struct {
		Event model.Event
	}

	// JobDoneMsg is sent after the job's event stream closed.
	JobDoneMsg struct {
		Result model.BatchResult
	}

	// CacheSizeMsg reports the current artifact cache size.
	CacheSizeMsg struct {
		Size string
		Err  error
	}

	// CacheClearedMsg reports the outcome of clearing the cache.
	CacheClearedMsg struct {
		Err error
	}
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(max(msg.Width-20, 20), 80)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.job != nil {
				m.job.Cancel()
			}
			return m, tea.Quit

		case "esc":
			switch m.state {
			case StateInput:
				return m, tea.Quit
			case StateDownloading:
				// Completed videos are kept; the rest stop at their next
				// checkpoint and the stream closes on its own.
				m.job.Cancel()
				m.cancelling = true
			}

		case "enter":
			if m.state == StateInput && strings.TrimSpace(m.textInput.Value()) != "" {
				return m, m.startJob(strings.TrimSpace(m.textInput.Value()))
			}

		case "ctrl+x":
			if m.state != StateDownloading {
				return m, m.clearCache()
			}

		case "q":
			if m.state == StateComplete || m.state == StateError {
				return m, tea.Quit
			}

		case "r":
			if m.state == StateComplete || m.state == StateError {
				m = m.reset()
				return m, m.refreshCacheSize()
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case JobStartedMsg:
		if msg.Err != nil {
			m.state = StateError
			m.err = msg.Err
			return m, nil
		}
		m.job = msg.Job
		m.videos = msg.Videos
		m.state = StateDownloading
		cmds = append(cmds, waitForEvent(m.job), m.spinner.Tick)

	case EventMsg:
		switch ev := msg.Event.(type) {
		case model.ProgressEvent:
			m.percent = max(m.percent, ev.Percent)
			cmds = append(cmds, m.progress.SetPercent(m.percent/100))
		case model.ErrorEvent:
			m.failures = append(m.failures, ev)
		}
		cmds = append(cmds, waitForEvent(m.job))

	case JobDoneMsg:
		m.result = msg.Result
		m.state = StateComplete
		m.cancelling = false
		cmds = append(cmds, m.refreshCacheSize())

	case CacheSizeMsg:
		if msg.Err != nil {
			m.cacheSize = "unknown"
		} else {
			m.cacheSize = msg.Size
		}

	case CacheClearedMsg:
		if msg.Err != nil {
			m.state = StateError
			m.err = fmt.Errorf("clearing cache: %w", msg.Err)
		}
		cmds = append(cmds, m.refreshCacheSize())

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	// Update text input
	if m.state == StateInput {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) reset() Model {
	m.state = StateInput
	m.job = nil
	m.videos = 0
	m.percent = 0
	m.failures = nil
	m.result = model.BatchResult{}
	m.err = nil
	m.progress.SetPercent(0)
	m.textInput.Focus()
	return m
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	// Header
	b.WriteString(titleStyle.Render("Multipartus Downloader"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Download lecture recordings"))
	b.WriteString("\n\n")

	switch m.state {
	case StateInput:
		b.WriteString(m.viewInput())
	case StateDownloading:
		b.WriteString(m.viewDownloading())
	case StateComplete:
		b.WriteString(m.viewComplete())
	case StateError:
		b.WriteString(m.viewError())
	}

	// Footer
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func (m Model) viewInput() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Job manifest:"))
	b.WriteString("\n\n")
	b.WriteString(m.textInput.View())
	b.WriteString("\n\n")

	s := m.opts.Settings
	b.WriteString(infoStyle.Render("Settings:"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  Quality: %s (%s)\n", s.Quality, s.Quality.Resolution()))
	b.WriteString(fmt.Sprintf("  Source:  %s\n", s.SourcePreference))
	b.WriteString(fmt.Sprintf("  Naming:  %s\n", s.NamingFormat))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Cache: " + m.cacheSizeText()))
	b.WriteString("\n")

	return b.String()
}

func (m Model) viewDownloading() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	if m.cancelling {
		b.WriteString(warningStyle.Render("Cancelling, finishing current steps..."))
	} else {
		b.WriteString(subtitleStyle.Render(fmt.Sprintf("Downloading %d video(s)", m.videos)))
	}
	b.WriteString("\n\n")

	b.WriteString(m.progress.View())
	b.WriteString("\n")
	b.WriteString(infoStyle.Render(fmt.Sprintf("%.1f%% | Failed: %d", m.percent, len(m.failures))))
	b.WriteString("\n\n")

	b.WriteString(m.renderFailures(maxShownErrors))

	return b.String()
}

func (m Model) viewComplete() string {
	var b strings.Builder

	title := successStyle.Render("Download complete")
	switch {
	case m.result.Cancelled:
		title = warningStyle.Render("Download cancelled")
	case len(m.result.Failed) > 0:
		title = warningStyle.Render("Download finished with failures")
	}
	box := boxStyle.Render(fmt.Sprintf(
		"%s\n\n"+
			"Succeeded: %d\n"+
			"Failed: %d\n"+
			"Cache: %s",
		title,
		len(m.result.Succeeded),
		len(m.result.Failed),
		m.cacheSizeText(),
	))
	b.WriteString(box)
	b.WriteString("\n\n")

	for _, f := range m.result.Failed {
		b.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s [%s] %s", f.VideoID, f.Stage, f.Message)))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString(errorStyle.Render("Error occurred:"))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(fmt.Sprintf("  %s", m.err.Error()))
	}

	return b.String()
}

// renderFailures shows the most recent failures, newest last.
func (m Model) renderFailures(limit int) string {
	var b strings.Builder

	shown := m.failures
	if len(shown) > limit {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  ... %d earlier failure(s)", len(shown)-limit)))
		b.WriteString("\n")
		shown = shown[len(shown)-limit:]
	}
	for _, f := range shown {
		b.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s [%s] %s", f.VideoID, f.Stage, f.Message)))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) cacheSizeText() string {
	if m.cacheSize == "" {
		return "..."
	}
	return m.cacheSize
}

func (m Model) getHelpText() string {
	switch m.state {
	case StateInput:
		return "enter: start • ctrl+x: clear cache • esc: quit"
	case StateDownloading:
		return "esc: cancel • ctrl+c: quit"
	case StateComplete, StateError:
		return "r: new download • ctrl+x: clear cache • q: quit"
	}
	return ""
}

// startJob loads the manifest and submits it.
func (m Model) startJob(path string) tea.Cmd {
	opts := m.opts
	return func() tea.Msg {
		manifest, err := model.LoadManifest(path)
		if err != nil {
			return JobStartedMsg{Err: err}
		}

		destination := manifest.Destination
		if opts.Destination != "" {
			destination = opts.Destination
		}

		job := opts.Settings.Job(opts.Token, destination, manifest.Videos)
		handle, err := opts.Manager.Submit(context.Background(), job)
		if err != nil {
			return JobStartedMsg{Err: err}
		}
		return JobStartedMsg{Job: handle, Videos: len(manifest.Videos)}
	}
}

// waitForEvent blocks for the next event of job.
func waitForEvent(job *download.Job) tea.Cmd {
	if job == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-job.Events()
		if !ok {
			return JobDoneMsg{Result: job.Wait()}
		}
		return EventMsg{Event: ev}
	}
}

func (m Model) refreshCacheSize() tea.Cmd {
	manager := m.opts.Manager
	if manager == nil {
		return nil
	}
	return func() tea.Msg {
		size, err := manager.CacheSizeBytes()
		if err != nil {
			return CacheSizeMsg{Err: err}
		}
		return CacheSizeMsg{Size: humanize.Bytes(uint64(size))}
	}
}

func (m Model) clearCache() tea.Cmd {
	manager := m.opts.Manager
	if manager == nil {
		return nil
	}
	return func() tea.Msg {
		return CacheClearedMsg{Err: manager.ClearCache()}
	}
}

// Run starts the TUI application. A job still running on exit is cancelled
// and awaited so that no media tool process outlives the program.
func Run(opts Options) error {
	p := tea.NewProgram(NewModel(opts), tea.WithAltScreen())
	final, err := p.Run()
	if fm, ok := final.(Model); ok && fm.job != nil {
		fm.job.Cancel()
		fm.job.Wait()
	}
	return err
}
