package views

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"listing_canon/models"
	"listing_canon/storage"
	"listing_canon/tui/styles"
)

type dashboardDataMsg struct {
	counts  map[string]int
	sources []storage.SourceStats
	runs    []models.BatchRun
	err     error
}

type Dashboard struct {
	store         Store
	width, height int
	counts        map[string]int
	sources       []storage.SourceStats
	runs          []models.BatchRun
	err           error
}

func NewDashboard(store Store) Dashboard {
	return Dashboard{store: store}
}

func (d Dashboard) Init() tea.Cmd {
	return d.Refresh()
}

func (d Dashboard) Refresh() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		counts, err := d.store.Counts(ctx)
		if err != nil {
			return dashboardDataMsg{err: err}
		}
		sources, err := d.store.SourceStats(ctx)
		if err != nil {
			return dashboardDataMsg{err: err}
		}
		runs, err := d.store.RecentRuns(10)
		return dashboardDataMsg{counts, sources, runs, err}
	}
}

func (d Dashboard) SetSize(w, h int) Dashboard {
	d.width = w
	d.height = h
	return d
}

func (d Dashboard) Update(msg tea.Msg) (Dashboard, tea.Cmd) {
	if msg, ok := msg.(dashboardDataMsg); ok {
		d.err = msg.err
		if msg.err == nil {
			d.counts = msg.counts
			d.sources = msg.sources
			d.runs = msg.runs
		}
	}
	return d, nil
}

func (d Dashboard) View() string {
	parts := []string{styles.Title.Render("Dashboard")}
	if d.err != nil {
		parts = append(parts, styles.StatusError.Render(d.err.Error()))
	}
	parts = append(parts,
		d.renderStatCards(),
		"",
		d.renderSourceCards(),
		"",
		styles.Title.Render("Recent Runs"),
		d.renderRunsTable(),
	)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (d Dashboard) renderStatCards() string {
	cards := []string{
		d.renderStatCard("Listings", d.counts["listings"]),
		d.renderStatCard("Properties", d.counts["properties"]),
		d.renderStatCard("Dup links", d.counts["duplicate_links"]/2),
		d.renderStatCard("Rejections", d.counts["rejections"]),
		d.renderStatCard("Media", d.counts["media"]),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func (d Dashboard) renderStatCard(label string, value int) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		styles.StatValue.Render(fmt.Sprintf("%d", value)),
		styles.StatLabel.Render(label),
	)
	return styles.CardBorder.Width(16).Render(content)
}

func (d Dashboard) renderSourceCards() string {
	if len(d.sources) == 0 {
		return styles.Muted.Render("Nothing processed yet")
	}

	var cards []string
	for _, s := range d.sources {
		cards = append(cards, d.renderSourceCard(s))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func (d Dashboard) renderSourceCard(s storage.SourceStats) string {
	name := s.SourceID
	if name == "" {
		name = "(unknown)"
	}
	lastSeen := "never"
	if s.LastSeenAt != nil {
		lastSeen = relativeTime(*s.LastSeenAt)
	}
	acceptRate := 0.0
	if total := s.Listings + s.Rejections; total > 0 {
		acceptRate = float64(s.Listings) / float64(total)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		styles.StatValue.Render(truncate(name, 20)),
		styles.StatLabel.Render(fmt.Sprintf("Listings: %d", s.Listings)),
		styles.StatLabel.Render(fmt.Sprintf("Possible dups: %d", s.Duplicates)),
		styles.StatLabel.Render(fmt.Sprintf("Rejected: %d", s.Rejections)),
		styles.StatLabel.Render(fmt.Sprintf("Accepted: %.0f%%", acceptRate*100)),
		styles.StatLabel.Render(fmt.Sprintf("Last: %s", lastSeen)),
	)
	return styles.SourceCardBorder.Width(24).Render(content)
}

func (d Dashboard) renderRunsTable() string {
	if len(d.runs) == 0 {
		return styles.Muted.Render("No runs yet")
	}

	header := fmt.Sprintf("%-10s %-9s %-10s %6s %6s %6s %6s %6s",
		"Run", "Status", "Started", "Pages", "OK", "Reject", "Dups", "FetchX")
	rows := styles.TableHeader.Render(header) + "\n"

	for _, r := range d.runs {
		status := string(r.Status)
		row := fmt.Sprintf("%-10s %s %-10s %6d %6d %6d %6d %6d",
			truncate(r.RunUUID, 10),
			styles.RunStatus(status).Render(fmt.Sprintf("%-9s", status)),
			relativeTime(r.StartedAt),
			r.PagesSeen,
			r.Accepted,
			r.Rejected,
			r.Duplicates,
			r.FetchErrors,
		)
		rows += row + "\n"
	}
	return rows
}
