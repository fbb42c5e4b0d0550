package views

import (
	"context"
	"fmt"
	"strings"
	"time"

	"listing_canon/models"
	"listing_canon/storage"
)

// Store is the read side of the SQLite store the views browse.
type Store interface {
	Counts(ctx context.Context) (map[string]int, error)
	SourceStats(ctx context.Context) ([]storage.SourceStats, error)
	RecentRuns(limit int) ([]models.BatchRun, error)
	ListListings(ctx context.Context, limit, offset int, duplicatesOnly bool) ([]storage.ListingSummary, int, error)
	DuplicatesOf(ctx context.Context, listingID string) ([]models.DuplicateLink, error)
	ListRejections(ctx context.Context, limit int) ([]models.RejectionEntry, error)
	RecentLogs(limit int, level models.LogLevel) ([]models.RunLog, error)
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

func formatPrice(p *float64, currency string) string {
	if p == nil {
		return "—"
	}
	symbol := "$"
	switch currency {
	case "", "USD", "CAD", "AUD":
	case "EUR":
		symbol = "€"
	case "GBP":
		symbol = "£"
	default:
		symbol = currency + " "
	}
	if *p >= 1000 {
		return fmt.Sprintf("%s%.0fK", symbol, *p/1000)
	}
	return fmt.Sprintf("%s%.0f", symbol, *p)
}

func formatNumber(v *float64) string {
	if v == nil {
		return "—"
	}
	if *v == float64(int64(*v)) {
		return fmt.Sprintf("%d", int64(*v))
	}
	return fmt.Sprintf("%.1f", *v)
}

func formatSqft(v *float64) string {
	if v == nil || *v == 0 {
		return "—"
	}
	sqft := int(*v + 0.5)
	if sqft >= 1000 {
		return fmt.Sprintf("%d,%03d", sqft/1000, sqft%1000)
	}
	return fmt.Sprintf("%d", sqft)
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		width = 40
	}
	var lines []string
	var line string
	for _, word := range strings.Fields(text) {
		if line != "" && len(line)+len(word)+1 > width {
			lines = append(lines, line)
			line = word
			continue
		}
		if line != "" {
			line += " "
		}
		line += word
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

// scrollWindow returns the [start, end) range of rows to draw so that
// selected stays visible.
func scrollWindow(selected, total, visible int) (int, int) {
	if visible < 1 {
		visible = 1
	}
	start := 0
	if selected >= visible {
		start = selected - visible + 1
	}
	end := start + visible
	if end > total {
		end = total
	}
	return start, end
}
