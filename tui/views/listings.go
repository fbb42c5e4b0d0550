package views

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"listing_canon/models"
	"listing_canon/storage"
	"listing_canon/tui/styles"
)

type listingsMsg struct {
	listings []storage.ListingSummary
	total    int
	err      error
}

type duplicatesMsg struct {
	listingID string
	links     []models.DuplicateLink
}

type Listings struct {
	store          Store
	width, height  int
	listings       []storage.ListingSummary
	links          []models.DuplicateLink
	linksFor       string
	selectedRow    int
	duplicatesOnly bool
	page           int // current database page (0-indexed)
	pageSize       int
	total          int
	err            error
}

func NewListings(store Store) Listings {
	return Listings{store: store, pageSize: 100}
}

func (l Listings) Init() tea.Cmd {
	return l.Refresh()
}

func (l Listings) Refresh() tea.Cmd {
	limit, offset, dupOnly := l.pageSize, l.page*l.pageSize, l.duplicatesOnly
	return func() tea.Msg {
		rows, total, err := l.store.ListListings(context.Background(), limit, offset, dupOnly)
		return listingsMsg{rows, total, err}
	}
}

func (l Listings) SetSize(w, h int) Listings {
	l.width = w
	l.height = h
	return l
}

// SelectedURL returns the source URL of the highlighted listing.
func (l Listings) SelectedURL() string {
	if l.selectedRow < len(l.listings) {
		return l.listings[l.selectedRow].SourceURL
	}
	return ""
}

func (l Listings) Update(msg tea.Msg) (Listings, tea.Cmd) {
	switch msg := msg.(type) {
	case listingsMsg:
		l.err = msg.err
		if msg.err != nil {
			return l, nil
		}
		l.listings = msg.listings
		l.total = msg.total
		if l.selectedRow >= len(l.listings) {
			l.selectedRow = 0
		}
		return l, l.loadDuplicates()

	case duplicatesMsg:
		l.linksFor = msg.listingID
		l.links = msg.links

	case tea.KeyMsg:
		prev := l.selectedRow
		switch msg.String() {
		case "up", "k":
			l.selectedRow--
		case "down", "j":
			l.selectedRow++
		case "pgup", "ctrl+u":
			l.selectedRow -= 10
		case "pgdown", "ctrl+d":
			l.selectedRow += 10
		case "home", "g":
			l.selectedRow = 0
		case "end", "G":
			l.selectedRow = len(l.listings) - 1
		case "u":
			l.duplicatesOnly = !l.duplicatesOnly
			l.page, l.selectedRow = 0, 0
			return l, l.Refresh()
		case "[":
			if l.page > 0 {
				l.page--
				l.selectedRow = 0
				return l, l.Refresh()
			}
		case "]":
			if l.page < l.totalPages()-1 {
				l.page++
				l.selectedRow = 0
				return l, l.Refresh()
			}
		}
		if l.selectedRow >= len(l.listings) {
			l.selectedRow = len(l.listings) - 1
		}
		if l.selectedRow < 0 {
			l.selectedRow = 0
		}
		if l.selectedRow != prev {
			return l, l.loadDuplicates()
		}
	}
	return l, nil
}

func (l Listings) loadDuplicates() tea.Cmd {
	if len(l.listings) == 0 {
		return nil
	}
	id := l.listings[l.selectedRow].ListingID
	return func() tea.Msg {
		links, _ := l.store.DuplicatesOf(context.Background(), id)
		return duplicatesMsg{id, links}
	}
}

func (l Listings) visibleRows() int {
	rows := 25
	if l.height > 0 {
		rows = (l.height * 55) / 100
		if rows < 8 {
			rows = 8
		}
	}
	return rows
}

func (l Listings) totalPages() int {
	if l.pageSize == 0 || l.total == 0 {
		return 1
	}
	return (l.total + l.pageSize - 1) / l.pageSize
}

func (l Listings) View() string {
	filter := "All"
	if l.duplicatesOnly {
		filter = "Possible duplicates"
	}
	position := fmt.Sprintf("  %d/%d", l.page*l.pageSize+l.selectedRow+1, l.total)
	if l.total == 0 {
		position = "  0/0"
	}
	pageInfo := fmt.Sprintf("  Page %d/%d", l.page+1, l.totalPages())

	header := styles.Title.Render("Listings") +
		styles.StatValue.Render(position) +
		styles.StatLabel.Render(pageInfo) +
		"  " + styles.Muted.Render(fmt.Sprintf("[u] Filter: %s  [[ ]] Prev/Next", filter))

	parts := []string{header}
	if l.err != nil {
		parts = append(parts, styles.StatusError.Render(l.err.Error()))
	}
	parts = append(parts, l.renderTable(), "", l.renderBottomPanel())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (l Listings) renderTable() string {
	header := fmt.Sprintf("%-32s %-12s %-8s %9s %4s %4s %7s %-12s %3s",
		"Address", "City", "Source", "Price", "Bed", "Bath", "SqFt", "Type", "Dup")
	rows := styles.TableHeader.Render(header) + "\n"
	if len(l.listings) == 0 {
		return rows + styles.Muted.Render("No listings")
	}

	visible := l.visibleRows()
	start, end := scrollWindow(l.selectedRow, len(l.listings), visible)
	for i := start; i < end; i++ {
		s := l.listings[i]
		dup := " "
		if s.DuplicateStatus == string(models.DuplicatePossible) {
			dup = "≈"
		}
		if s.LowConfidence {
			dup += "?"
		}
		row := fmt.Sprintf("%-32s %-12s %-8s %9s %4s %4s %7s %-12s %3s",
			truncate(s.Address, 32),
			truncate(s.City, 12),
			truncate(s.SourceID, 8),
			formatPrice(s.ListPrice, s.Currency),
			formatNumber(s.Beds),
			formatNumber(s.Baths),
			formatSqft(s.InteriorAreaSqFt),
			truncate(s.PropertyType, 12),
			dup,
		)
		if i == l.selectedRow {
			rows += styles.TableSelected.Render(row) + "\n"
		} else {
			rows += row + "\n"
		}
	}
	if len(l.listings) > visible {
		rows += styles.Muted.Render(fmt.Sprintf("  [%d-%d of %d]", start+1, end, len(l.listings)))
	}
	return rows
}

func (l Listings) renderBottomPanel() string {
	half := l.width/2 - 2
	if half < 30 {
		half = 30
	}
	details := styles.CardBorder.Width(half).Render(
		styles.Title.Render("Listing") + "\n" + l.renderDetails(half-4),
	)
	dups := styles.SourceCardBorder.Width(half).Render(
		styles.Title.Render("Possible Duplicates") + "\n" + l.renderDuplicates(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, details, dups)
}

func (l Listings) renderDetails(width int) string {
	if len(l.listings) == 0 {
		return styles.Muted.Render("Select a listing")
	}
	s := l.listings[l.selectedRow]
	lines := []string{
		styles.StatLabel.Render("Listing: ") + s.ListingID,
		styles.StatLabel.Render("Property: ") + s.PropertyID,
		styles.StatLabel.Render("Status: ") + s.Status,
		styles.StatLabel.Render("Scraped: ") + s.ScrapedAt.Local().Format("2006-01-02 15:04"),
	}
	if s.LowConfidence {
		lines = append(lines, styles.StatusPending.Render("Low-confidence identity"))
	}
	if s.Description != "" {
		desc := truncate(s.Description, 240)
		lines = append(lines, "")
		lines = append(lines, wrapText(desc, width)...)
	}
	lines = append(lines, "", styles.Muted.Render(truncate(s.SourceURL, width)))
	return strings.Join(lines, "\n")
}

func (l Listings) renderDuplicates() string {
	if len(l.listings) == 0 || l.linksFor != l.listings[l.selectedRow].ListingID {
		return styles.Muted.Render("…")
	}
	if len(l.links) == 0 {
		return styles.Muted.Render("None")
	}
	header := fmt.Sprintf("%-38s %6s", "Candidate", "Conf")
	rows := styles.TableHeader.Render(header) + "\n"
	for _, d := range l.links {
		rows += fmt.Sprintf("%-38s %5.0f%%\n", d.CandidateID, d.Confidence*100)
	}
	return rows
}
