package views

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"listing_canon/models"
	"listing_canon/tui/styles"
)

// "" shows every level.
var logLevels = append([]models.LogLevel{""}, models.LogLevels...)

type logsMsg struct {
	logs []models.RunLog
	err  error
}

type Logs struct {
	store         Store
	width, height int
	logs          []models.RunLog
	levelIndex    int
	scrollOffset  int
	err           error
}

func NewLogs(store Store) Logs {
	return Logs{store: store}
}

func (l Logs) Init() tea.Cmd {
	return l.Refresh()
}

func (l Logs) Refresh() tea.Cmd {
	level := logLevels[l.levelIndex]
	return func() tea.Msg {
		logs, err := l.store.RecentLogs(200, level)
		return logsMsg{logs, err}
	}
}

func (l Logs) SetSize(w, h int) Logs {
	l.width = w
	l.height = h
	return l
}

func (l Logs) Update(msg tea.Msg) (Logs, tea.Cmd) {
	switch msg := msg.(type) {
	case logsMsg:
		l.err = msg.err
		if msg.err == nil {
			l.logs = msg.logs
			l.scrollOffset = 0
		}

	case tea.KeyMsg:
		maxScroll := len(l.logs) - l.visibleLines()
		if maxScroll < 0 {
			maxScroll = 0
		}
		switch msg.String() {
		case "left", "h":
			if l.levelIndex > 0 {
				l.levelIndex--
				return l, l.Refresh()
			}
		case "right":
			if l.levelIndex < len(logLevels)-1 {
				l.levelIndex++
				return l, l.Refresh()
			}
		case "up", "k":
			if l.scrollOffset > 0 {
				l.scrollOffset--
			}
		case "down", "j":
			if l.scrollOffset < maxScroll {
				l.scrollOffset++
			}
		case "g":
			l.scrollOffset = 0
		case "G":
			l.scrollOffset = maxScroll
		}
	}
	return l, nil
}

func (l Logs) visibleLines() int {
	if l.height <= 6 {
		return 10
	}
	return l.height - 6
}

func (l Logs) View() string {
	parts := []string{styles.Title.Render("Run Log"), l.renderFilter(), ""}
	if l.err != nil {
		parts = append(parts, styles.StatusError.Render(l.err.Error()))
	}
	parts = append(parts, l.renderLogs())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (l Logs) renderFilter() string {
	var parts []string
	for i, level := range logLevels {
		name := strings.ToUpper(string(level))
		if level == "" {
			name = "ALL"
		}
		if i == l.levelIndex {
			parts = append(parts, styles.TabActive.Render("["+name+"]"))
		} else {
			parts = append(parts, styles.TabInactive.Render(name))
		}
	}
	return "Filter: " + strings.Join(parts, " ") + "  (←/→ to change)"
}

func (l Logs) renderLogs() string {
	if len(l.logs) == 0 {
		return styles.Muted.Render("No logs")
	}

	start := l.scrollOffset
	end := start + l.visibleLines()
	if end > len(l.logs) {
		end = len(l.logs)
	}

	var lines []string
	for i := start; i < end; i++ {
		lines = append(lines, l.formatLog(l.logs[i]))
	}

	header := styles.Muted.Render(fmt.Sprintf("  [%d-%d of %d]", start+1, end, len(l.logs)))
	return header + "\n" + strings.Join(lines, "\n")
}

func (l Logs) formatLog(entry models.RunLog) string {
	ts := entry.Timestamp.Local().Format("01-02 15:04:05")
	level := fmt.Sprintf("%-5s", strings.ToUpper(string(entry.Level)))

	source := ""
	if entry.SourceID != "" {
		source = fmt.Sprintf("[%s] ", entry.SourceID)
	}

	msg := entry.Message
	if maxLen := l.width - 30 - len(source); maxLen > 3 {
		msg = truncate(msg, maxLen)
	}

	return fmt.Sprintf("%s %s %s%s",
		styles.Muted.Render(ts),
		styles.Level(string(entry.Level)).Render(level),
		styles.Muted.Render(source),
		msg,
	)
}
