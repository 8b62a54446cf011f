package display

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/skuscan/internal/controller"
	"github.com/andresmejia3/skuscan/internal/sku"
	"github.com/andresmejia3/skuscan/internal/stats"
	"github.com/andresmejia3/skuscan/internal/types"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Controls is the part of the controller the dashboard drives.
type Controls interface {
	SelectVideo(path string) error
	Start() error
	TogglePause() error
	Stop() error
	Status() controller.Status
	Snapshot() *types.Snapshot
}

// TUIOptions wires the dashboard to its data sources. Preview and Stats may be nil.
type TUIOptions struct {
	Controls Controls
	Mapping  sku.Mapping
	Preview  *Preview
	Stats    *stats.Probe
	PickFile func() (string, error)
	Refresh  time.Duration
}

type tickMsg time.Time

type pickedMsg struct {
	path string
	err  error
}

type actionMsg struct {
	action string
	err    error
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	opts TUIOptions

	status  controller.Status
	snap    *types.Snapshot
	reading stats.Reading
	fps     float64
	frame   string

	message string
	failed  bool
	busy    bool
	width   int
}

// NewModel builds the dashboard model.
func NewModel(opts TUIOptions) Model {
	if opts.Refresh <= 0 {
		opts.Refresh = 250 * time.Millisecond
	}
	if opts.PickFile == nil {
		opts.PickFile = PickVideo
	}
	m := Model{opts: opts, message: "Press o to open a video"}
	m.refresh()
	return m
}

// NewProgram creates the full-screen program.
func NewProgram(opts TUIOptions) *tea.Program {
	return tea.NewProgram(NewModel(opts), tea.WithAltScreen())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m *Model) refresh() {
	m.status = m.opts.Controls.Status()
	m.snap = m.opts.Controls.Snapshot()
	if m.opts.Stats != nil {
		m.reading = m.opts.Stats.Latest()
	}
	if m.opts.Preview != nil {
		m.fps = m.opts.Preview.FPS()
		m.frame = m.opts.Preview.String()
	}
}

// run executes a controller command off the UI loop.
func (m Model) run(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: action, err: fn()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		m.refresh()
		return m, m.tick()

	case pickedMsg:
		m.busy = false
		if errors.Is(msg.err, ErrNoSelection) {
			m.setMessage("Selection cancelled", false)
			return m, nil
		}
		if msg.err != nil {
			m.setMessage("File dialog failed: "+msg.err.Error(), true)
			return m, nil
		}
		return m, m.run("open", func() error { return m.opts.Controls.SelectVideo(msg.path) })

	case actionMsg:
		m.busy = false
		m.refresh()
		if msg.err != nil {
			m.setMessage(fmt.Sprintf("%s failed: %v", msg.action, msg.err), true)
		} else {
			m.setMessage(actionDone(msg.action, m.status), false)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	if m.busy {
		return m, nil
	}

	c := m.opts.Controls
	switch msg.String() {
	case "o":
		m.busy = true
		pick := m.opts.PickFile
		return m, func() tea.Msg {
			path, err := pick()
			return pickedMsg{path: path, err: err}
		}
	case "s":
		m.busy = true
		return m, m.run("start", c.Start)
	case "p", " ":
		m.busy = true
		return m, m.run("pause", c.TogglePause)
	case "x":
		m.busy = true
		if m.opts.Preview != nil {
			m.opts.Preview.Reset()
		}
		return m, m.run("stop", c.Stop)
	}
	return m, nil
}

func (m *Model) setMessage(s string, failed bool) {
	m.message, m.failed = s, failed
}

func actionDone(action string, st controller.Status) string {
	switch action {
	case "open":
		return "Loaded: " + st.VideoPath
	case "start":
		return "Started run " + shortID(st.RunID)
	case "pause":
		if st.State == controller.Paused {
			return "Paused"
		}
		return "Resumed"
	case "stop":
		return "Stopped"
	}
	return action
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#7D56F4")).Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(11)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	codeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	stateStyles = map[controller.State]lipgloss.Style{
		controller.Idle:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		controller.Running:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		controller.Paused:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		controller.Stopping: lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Italic(true),
		controller.Stopped:  lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	}
)

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

func (m Model) View() string {
	st := m.status
	video := "none"
	if st.VideoPath != "" {
		video = filepath.Base(st.VideoPath)
	}

	info := strings.Join([]string{
		row("State", stateStyles[st.State].Render(strings.ToUpper(st.State.String()))),
		row("Video", video),
		row("Run", shortID(st.RunID)),
		row("Frame", m.frameLine()),
		row("FPS", fmt.Sprintf("%.1f", m.fps)),
		row("CPU", fmt.Sprintf("%.1f%%", m.reading.CPUPercent)),
		row("RAM", fmt.Sprintf("%.1f%%", m.reading.RAMPercent)),
		row("Frames", fmt.Sprintf("read %d  dropped %d  inferred %d  errors %d",
			st.Stats.FramesRead, st.Stats.FramesDropped, st.Stats.FramesForwarded, st.Stats.DetectorErrors)),
		row("Queue", fmt.Sprintf("%d/%d", st.Stats.QueueLen, st.Stats.QueueCap)),
	}, "\n")

	panels := lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(info),
		panelStyle.Render(m.detectionsView()),
	)

	msg := okStyle.Render(m.message)
	if m.failed {
		msg = errorStyle.Render(m.message)
	}
	help := helpStyle.Render("o open • s start • p pause/resume • x stop • q quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("skuscan"),
		panels,
		msg,
		help,
	) + "\n"
}

func (m Model) frameLine() string {
	if m.frame == "" {
		return "-"
	}
	return m.frame
}

func (m Model) detectionsView() string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Detections"))
	if m.snap == nil || m.snap.Seq == 0 {
		b.WriteString("\n" + helpStyle.Render("waiting for first inference"))
		return b.String()
	}
	fmt.Fprintf(&b, " %s\n", helpStyle.Render(fmt.Sprintf("(frame %d)", m.snap.Seq)))
	if len(m.snap.Detections) == 0 {
		b.WriteString(helpStyle.Render("nothing detected"))
		return b.String()
	}
	items := m.opts.Mapping.Resolve(m.snap.Detections)
	lines := make([]string, 0, len(items))
	for _, it := range items {
		code := "----"
		if it.Code != 0 {
			code = fmt.Sprintf("%04d", it.Code)
		}
		lines = append(lines, fmt.Sprintf("%s  %-10s %.2f", codeStyle.Render(code), it.Label, it.Confidence))
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}
