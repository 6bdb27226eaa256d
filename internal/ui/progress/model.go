package progress

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/vito/progrock"
)

const (
	statusRunning   = "running"
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusPending   = "pending"
)

// TaskState represents the current state of one tracked task, typically a
// package download or a link/unlink step.
type TaskState struct {
	ID     string
	Name   string
	Status string // statusRunning, statusCompleted, statusFailed, statusPending
}

type styles struct {
	running   lipgloss.Style
	completed lipgloss.Style
	failed    lipgloss.Style
	pending   lipgloss.Style
}

// Model is the Bubble Tea model for the progress view, tracking the tasks
// reported by the tracer feed.
type Model struct {
	source Source
	tasks  []TaskState
	width  int
	height int

	spinner spinner.Model
	styles  styles
}

// NewModel creates a progress model reading from the given source.
func NewModel(src Source) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("yellow"))

	return &Model{
		source:  src,
		spinner: s,
		styles: styles{
			running:   lipgloss.NewStyle().Foreground(lipgloss.Color("yellow")),
			completed: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),  // Green
			failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("160")), // Red
			pending:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")), // Gray
		},
	}
}

// Init starts reading from the source.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		WaitForUpdate(m.source),
		m.spinner.Tick,
	)
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case MsgUpdate:
		m.applyUpdate(msg.Update)
		return m, WaitForUpdate(m.source)
	case MsgEnded:
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) applyUpdate(update *progrock.StatusUpdate) {
	for _, v := range update.Vertexes {
		m.updateOrAddTask(v)
	}
}

func (m *Model) updateOrAddTask(v *progrock.Vertex) {
	for i, existing := range m.tasks {
		if existing.ID == v.Id {
			if v.Completed != nil {
				if v.Error != nil {
					m.tasks[i].Status = statusFailed
				} else {
					m.tasks[i].Status = statusCompleted
				}
			}
			return
		}
	}
	// Task not seen before, add it
	m.tasks = append(m.tasks, TaskState{
		ID:     v.Id,
		Name:   v.Name,
		Status: statusRunning,
	})
}

// View renders the tracked tasks, newest at the bottom, clipped to the
// window height.
func (m *Model) View() string {
	var s strings.Builder

	start := 0
	if len(m.tasks) > m.height && m.height > 0 {
		start = len(m.tasks) - m.height
	}

	for i := start; i < len(m.tasks); i++ {
		t := m.tasks[i]
		var icon string
		var style lipgloss.Style
		switch t.Status {
		case statusRunning:
			icon = m.spinner.View()
			style = m.styles.running
		case statusCompleted:
			icon = "✓"
			style = m.styles.completed
		case statusFailed:
			icon = "✗"
			style = m.styles.failed
		default:
			icon = "•"
			style = m.styles.pending
		}

		fmt.Fprintf(&s, "%s %s\n", style.Render(icon), t.Name)
	}

	return s.String()
}
