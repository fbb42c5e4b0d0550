package views

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"listing_canon/models"
	"listing_canon/tui/styles"
)

type rejectionsMsg struct {
	entries []models.RejectionEntry
	err     error
}

// Rejections browses the rejection log with the raw field bag of the
// highlighted page.
type Rejections struct {
	store         Store
	width, height int
	entries       []models.RejectionEntry
	selectedRow   int
	err           error
}

func NewRejections(store Store) Rejections {
	return Rejections{store: store}
}

func (r Rejections) Init() tea.Cmd {
	return r.Refresh()
}

func (r Rejections) Refresh() tea.Cmd {
	return func() tea.Msg {
		entries, err := r.store.ListRejections(context.Background(), 500)
		return rejectionsMsg{entries, err}
	}
}

func (r Rejections) SetSize(w, h int) Rejections {
	r.width = w
	r.height = h
	return r
}

func (r Rejections) SelectedURL() string {
	if r.selectedRow < len(r.entries) {
		return r.entries[r.selectedRow].SourceURL
	}
	return ""
}

func (r Rejections) Update(msg tea.Msg) (Rejections, tea.Cmd) {
	switch msg := msg.(type) {
	case rejectionsMsg:
		r.err = msg.err
		if msg.err == nil {
			r.entries = msg.entries
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			r.selectedRow--
		case "down", "j":
			r.selectedRow++
		case "pgup", "ctrl+u":
			r.selectedRow -= 10
		case "pgdown", "ctrl+d":
			r.selectedRow += 10
		case "home", "g":
			r.selectedRow = 0
		case "end", "G":
			r.selectedRow = len(r.entries) - 1
		}
	}
	if r.selectedRow >= len(r.entries) {
		r.selectedRow = len(r.entries) - 1
	}
	if r.selectedRow < 0 {
		r.selectedRow = 0
	}
	return r, nil
}

func (r Rejections) visibleRows() int {
	if r.height <= 0 {
		return 15
	}
	rows := r.height / 3
	if rows < 5 {
		rows = 5
	}
	return rows
}

func (r Rejections) View() string {
	parts := []string{styles.Title.Render("Rejections") + styles.StatValue.Render(fmt.Sprintf("  %d", len(r.entries)))}
	if r.err != nil {
		parts = append(parts, styles.StatusError.Render(r.err.Error()))
	}
	parts = append(parts, r.renderTable(), "", r.renderDetail())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (r Rejections) renderTable() string {
	header := fmt.Sprintf("%-16s %-10s %-36s %s", "Rejected", "Source", "Reasons", "URL")
	rows := styles.TableHeader.Render(header) + "\n"
	if len(r.entries) == 0 {
		return rows + styles.Muted.Render("No rejections")
	}

	urlWidth := r.width - 68
	if urlWidth < 20 {
		urlWidth = 20
	}
	visible := r.visibleRows()
	start, end := scrollWindow(r.selectedRow, len(r.entries), visible)
	for i := start; i < end; i++ {
		e := r.entries[i]
		reasons := make([]string, len(e.Reasons))
		for j, reason := range e.Reasons {
			reasons[j] = string(reason)
		}
		row := fmt.Sprintf("%-16s %-10s %-36s %s",
			e.RejectedAt.Local().Format("01-02 15:04:05"),
			truncate(e.SourceID, 10),
			truncate(strings.Join(reasons, ","), 36),
			truncate(e.SourceURL, urlWidth),
		)
		if i == r.selectedRow {
			rows += styles.TableSelected.Render(row) + "\n"
		} else {
			rows += row + "\n"
		}
	}
	if len(r.entries) > visible {
		rows += styles.Muted.Render(fmt.Sprintf("  [%d-%d of %d]", start+1, end, len(r.entries)))
	}
	return rows
}

func (r Rejections) renderDetail() string {
	width := r.width - 4
	if width < 40 {
		width = 40
	}
	if len(r.entries) == 0 {
		return styles.CardBorder.Width(width).Render(styles.Muted.Render("Select a rejection"))
	}
	e := r.entries[r.selectedRow]

	lines := []string{styles.Title.Render("Raw fields")}
	keys := make([]string, 0, len(e.RawFieldBag))
	for k := range e.RawFieldBag {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := json.Marshal(e.RawFieldBag[k])
		if err != nil {
			v = []byte(fmt.Sprint(e.RawFieldBag[k]))
		}
		lines = append(lines, styles.StatLabel.Render(fmt.Sprintf("%-18s ", k))+truncate(string(v), width-24))
	}
	if len(keys) == 0 {
		lines = append(lines, styles.Muted.Render("(nothing extracted)"))
	}
	for _, ne := range e.NormalizationErrors {
		lines = append(lines, styles.StatusError.Render(truncate(ne.Error(), width-4)))
	}
	for _, w := range e.Warnings {
		lines = append(lines, styles.StatusPending.Render(truncate(w, width-4)))
	}
	return styles.CardBorder.Width(width).Render(strings.Join(lines, "\n"))
}
