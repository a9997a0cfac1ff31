// Package tui provides the interactive, multi-download terminal
// interface built on Bubbletea: a scrollable list of entries with a
// detail pane for the selected download's chunks.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mkoru/multifetch/internal/registry"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	highlightStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("235")).
			Background(lipgloss.Color("39"))

	chunkCompleteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	chunkActiveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	chunkPendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Model is the Bubbletea model driving the download list view.
type Model struct {
	entries []registry.Entry // ordered, as broadcast by the registry
	cursor  int

	progress   progress.Model
	spinner    spinner.Model
	width      int
	height     int
	showChunks bool
	quitting   bool

	onPauseResume func(id string, currentStatus registry.Status)
	onQuit        func()
}

// ListMsg carries a full, ordered registry snapshot (EventDownloadList).
type ListMsg struct {
	Entries []registry.Entry
}

// ProgressMsg carries one entry's progress update (EventDownloadProgress).
type ProgressMsg struct {
	Payload registry.ProgressPayload
}

// TotalSpeedMsg carries the aggregate speed across downloading entries.
type TotalSpeedMsg struct {
	Speed int64
}

// NewModel creates an empty Model; entries arrive via ListMsg/ProgressMsg.
func NewModel() Model {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	return Model{
		progress:   p,
		spinner:    s,
		showChunks: true,
		width:      80,
		height:     24,
	}
}

// SetCallbacks wires the key handlers to engine actions.
func (m *Model) SetCallbacks(onPauseResume func(id string, currentStatus registry.Status), onQuit func()) {
	m.onPauseResume = onPauseResume
	m.onQuit = onQuit
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.EnterAltScreen)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}

		case "down", "j":
			if m.cursor < len(m.entries)-1 {
				m.cursor++
			}

		case "p", " ":
			if m.cursor < len(m.entries) && m.onPauseResume != nil {
				e := m.entries[m.cursor]
				m.onPauseResume(e.ID, e.Status)
			}

		case "c":
			m.showChunks = !m.showChunks
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 30
		if m.progress.Width > 50 {
			m.progress.Width = 50
		}
		if m.progress.Width < 10 {
			m.progress.Width = 10
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ListMsg:
		m.entries = msg.Entries
		if m.cursor >= len(m.entries) {
			m.cursor = len(m.entries) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		return m, nil

	case ProgressMsg:
		for i := range m.entries {
			if m.entries[i].ID == msg.Payload.ID {
				m.entries[i].DownloadedSize = msg.Payload.Downloaded
				m.entries[i].TotalSize = msg.Payload.TotalSize
				m.entries[i].CurrentSpeed = msg.Payload.Speed
				m.entries[i].Status = msg.Payload.Status
				m.entries[i].Filename = msg.Payload.Filename
				m.entries[i].Error = msg.Payload.Error
				break
			}
		}
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("multifetch"))
	b.WriteString("\n\n")

	if len(m.entries) == 0 {
		b.WriteString(dimStyle.Render("No downloads yet."))
	} else {
		for i, e := range m.entries {
			b.WriteString(m.renderRow(i, e))
			b.WriteString("\n")
		}

		if m.showChunks && m.cursor < len(m.entries) {
			b.WriteString("\n")
			b.WriteString(m.renderChunks(m.entries[m.cursor]))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

func (m Model) renderRow(i int, e registry.Entry) string {
	var b strings.Builder

	cursor := "  "
	if i == m.cursor {
		cursor = "▸ "
	}
	b.WriteString(cursor)

	name := e.Filename
	if i == m.cursor {
		name = selectedStyle.Render(name)
	}
	b.WriteString(name)
	b.WriteString("  ")

	percent := 0.0
	if e.TotalSize > 0 {
		percent = float64(e.DownloadedSize) / float64(e.TotalSize)
	}
	b.WriteString(m.progress.ViewAs(percent))
	b.WriteString(fmt.Sprintf(" %5.1f%%  ", percent*100))

	b.WriteString(m.renderStatus(e))

	if e.Status == registry.StatusDownloading && e.CurrentSpeed > 0 {
		b.WriteString("  ")
		b.WriteString(highlightStyle.Render(formatBytes(e.CurrentSpeed) + "/s"))
	}

	return b.String()
}

func (m Model) renderStatus(e registry.Entry) string {
	switch e.Status {
	case registry.StatusQueued:
		return infoStyle.Render("queued")
	case registry.StatusDownloading:
		return successStyle.Render("● downloading")
	case registry.StatusPaused:
		return warningStyle.Render("⏸ paused")
	case registry.StatusAssembling:
		return m.spinner.View() + " assembling"
	case registry.StatusComplete:
		return successStyle.Render("✓ complete")
	case registry.StatusError:
		return errorStyle.Render("✗ " + e.Error)
	default:
		return string(e.Status)
	}
}

func (m Model) renderChunks(e registry.Entry) string {
	var b strings.Builder

	b.WriteString(dimStyle.Render(fmt.Sprintf("Chunks for %s:", e.Filename)))
	b.WriteString("\n")

	chunksPerRow := 4
	if m.width < 60 {
		chunksPerRow = 2
	}

	for i, c := range e.Chunks {
		if i > 0 && i%chunksPerRow == 0 {
			b.WriteString("\n")
		}

		chunkPercent := 0.0
		if c.Size() > 0 {
			chunkPercent = float64(c.Downloaded) / float64(c.Size()) * 100
		}

		var indicator string
		var style lipgloss.Style
		switch c.Status {
		case registry.ChunkComplete:
			indicator, style = "✓", chunkCompleteStyle
		case registry.ChunkDownloading:
			indicator, style = "↓", chunkActiveStyle
		case registry.ChunkError:
			indicator, style = "✗", errorStyle
		case registry.ChunkPaused:
			indicator, style = "❚❚", chunkPendingStyle
		default:
			indicator, style = "○", chunkPendingStyle
		}

		b.WriteString(style.Render(fmt.Sprintf("[%d: %s %5.1f%%]", c.ID, indicator, chunkPercent)))
		b.WriteString("  ")
	}

	return b.String()
}

func (m Model) renderHelp() string {
	keys := []string{"↑/↓:select", "p:pause/resume", "c:toggle chunks", "q:quit"}
	return dimStyle.Render(strings.Join(keys, " • "))
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%02ds", mins, secs)
	}
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%02dm", h, mins)
}
