// Package tui renders a live view of a running solve. Iteration events are
// forwarded from the solver's monitor hook into the bubbletea program, so the
// display updates as the solver walks the residual down.
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

type IterMsg struct {
	Path string
	Iter int
	Norm float64
}

type DoneMsg struct {
	Err     error
	Elapsed time.Duration
}

type record struct {
	path string
	iter int
	norm float64
}

type model struct {
	name    string
	records []record
	norms   []float64
	done    bool
	err     error
	elapsed time.Duration
	width   int
}

func newModel(name string) model {
	return model{name: name, width: 80}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "enter", "escape":
			if m.done {
				return m, tea.Quit
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case IterMsg:
		m.records = append(m.records, record{msg.Path, msg.Iter, msg.Norm})
		if len(m.records) > 200 {
			m.records = m.records[1:]
		}
		m.norms = append(m.norms, msg.Norm)
		return m, nil
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		m.elapsed = msg.Elapsed
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(dimmer.Render("    ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n")
	b.WriteString("           " + cyan.Render("m d f l o w") + "\n")
	b.WriteString(dimmer.Render("    ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n\n")

	status := yellow.Render("● solving")
	if m.done {
		if m.err != nil {
			status = red.Render("✗ " + m.err.Error())
		} else {
			status = green.Render(fmt.Sprintf("✓ converged in %s", m.elapsed.Round(time.Millisecond)))
		}
	}
	b.WriteString("    " + cyan.Render(m.name) + "  " + status + "\n\n")

	tail := m.records
	if len(tail) > 12 {
		tail = tail[len(tail)-12:]
	}
	for _, r := range tail {
		b.WriteString(fmt.Sprintf("    %s %s %s\n",
			dim.Render(fmt.Sprintf("%-14s", r.path)),
			white.Render(fmt.Sprintf("iter %2d", r.iter)),
			magenta.Render(fmt.Sprintf("|R| %.3e", r.norm))))
	}

	if len(m.norms) > 1 {
		b.WriteString("\n    " + dim.Render("log|R| ") + cyan.Render(sparkline(m.norms, 32)) + "\n")
	}

	if m.done {
		b.WriteString("\n" + dim.Render("    q quit") + "\n")
	}
	return b.String()
}

// sparkline plots norms on a log scale so the usual many-decade drop of a
// converging solve stays visible.
func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	logs := make([]float64, len(data))
	for i, v := range data {
		if v <= 0 {
			v = 1e-300
		}
		logs[i] = math.Log10(v)
	}
	minVal, maxVal := logs[0], logs[0]
	for _, v := range logs {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	step := len(logs) / width
	if step < 1 {
		step = 1
	}
	var sb strings.Builder
	for i := 0; i < width && i*step < len(logs); i++ {
		idx := int((logs[i*step] - minVal) / rang * 7)
		if idx > 7 {
			idx = 7
		}
		if idx < 0 {
			idx = 0
		}
		sb.WriteRune(chars[idx])
	}
	return sb.String()
}

// Feed implements the solver monitor hook by forwarding iteration events
// into a running program.
type Feed struct {
	prog *tea.Program
}

func (f *Feed) OnIteration(path string, iter int, norm float64) {
	f.prog.Send(IterMsg{Path: path, Iter: iter, Norm: norm})
}

// RunLive drives the display while solve runs in the background. The solve
// error, if any, is shown in the display and returned.
func RunLive(name string, solve func(feed *Feed) error) error {
	p := tea.NewProgram(newModel(name))
	feed := &Feed{prog: p}

	var solveErr error
	go func() {
		start := time.Now()
		solveErr = solve(feed)
		p.Send(DoneMsg{Err: solveErr, Elapsed: time.Since(start)})
	}()

	if _, err := p.Run(); err != nil {
		return err
	}
	return solveErr
}
