package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-launcher/config"
	"github.com/wippyai/wasm-launcher/launcher"
)

const maxBarWidth = 60

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	stderrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))
)

type progressMsg struct {
	loaded int64
	total  int64
}

type doneMsg struct{}

type progressModel struct {
	bar    progress.Model
	name   string
	loaded int64
	total  int64
	done   bool
}

func newProgressModel(name string) progressModel {
	return progressModel{
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(maxBarWidth)),
		name:  name,
		total: -1,
	}
}

func (m progressModel) Init() tea.Cmd {
	return nil
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-4, maxBarWidth)
	case progressMsg:
		m.loaded, m.total = msg.loaded, msg.total
	case doneMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Loading " + m.name))
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(m.percent()))
	b.WriteByte(' ')
	b.WriteString(countStyle.Render(byteCount(m.loaded, m.total)))
	b.WriteByte('\n')
	return b.String()
}

func (m progressModel) percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return float64(m.loaded) / float64(m.total)
}

func byteCount(loaded, total int64) string {
	if total < 0 {
		return humanize.Bytes(uint64(loaded))
	}
	return fmt.Sprintf("%s / %s", humanize.Bytes(uint64(loaded)), humanize.Bytes(uint64(total)))
}

// runWithProgress runs the manifest while a progress bar is drawn. Guest
// output is printed above the bar.
func runWithProgress(ctx context.Context, eng *launcher.Engine, m *config.Manifest) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(m.BasePath),
		tea.WithContext(ctx),
		tea.WithInput(nil),
	)

	eng.SetProgressFunc(func(loaded, total int64) {
		p.Send(progressMsg{loaded: loaded, total: total})
	})
	eng.SetStdoutFunc(func(line string) { p.Println(line) })
	eng.SetStderrFunc(func(line string) { p.Println(stderrStyle.Render(line)) })

	errc := make(chan error, 1)
	go func() {
		err := m.Run(ctx, eng)
		p.Send(doneMsg{})
		errc <- err
	}()

	if _, err := p.Run(); err != nil {
		// interrupted: stop the guest too
		cancel()
	}
	err := <-errc

	eng.SetStdoutFunc(nil)
	eng.SetStderrFunc(nil)
	return err
}

// logProgress logs each 10% step, or each megabyte when the size is
// unknown.
func logProgress(logger *zap.Logger) launcher.ProgressFunc {
	var (
		mu   sync.Mutex
		last int64 = -1
	)
	return func(loaded, total int64) {
		step := loaded >> 20
		if total > 0 {
			step = loaded * 10 / total
		}

		mu.Lock()
		if step == last {
			mu.Unlock()
			return
		}
		last = step
		mu.Unlock()

		logger.Info("loading", zap.String("progress", byteCount(loaded, total)))
	}
}
