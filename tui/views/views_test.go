package views

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"listing_canon/models"
	"listing_canon/storage"
)

type fakeStore struct {
	listings   []storage.ListingSummary
	rejections []models.RejectionEntry
	logs       []models.RunLog
	lastLevel  models.LogLevel
}

func (f *fakeStore) Counts(context.Context) (map[string]int, error) {
	return map[string]int{"listings": len(f.listings), "duplicate_links": 2}, nil
}

func (f *fakeStore) SourceStats(context.Context) ([]storage.SourceStats, error) {
	return []storage.SourceStats{{SourceID: "alpha", Listings: 3, Rejections: 1}}, nil
}

func (f *fakeStore) RecentRuns(int) ([]models.BatchRun, error) {
	return []models.BatchRun{{RunUUID: "3f6c2d1e-aaaa", Status: models.RunStatusCompleted, StartedAt: time.Now(), PagesSeen: 4, Accepted: 3, Rejected: 1}}, nil
}

func (f *fakeStore) ListListings(_ context.Context, limit, offset int, _ bool) ([]storage.ListingSummary, int, error) {
	end := offset + limit
	if end > len(f.listings) {
		end = len(f.listings)
	}
	if offset > end {
		offset = end
	}
	return f.listings[offset:end], len(f.listings), nil
}

func (f *fakeStore) DuplicatesOf(_ context.Context, id string) ([]models.DuplicateLink, error) {
	return []models.DuplicateLink{{ListingID: id, CandidateID: "other", Confidence: 0.9}}, nil
}

func (f *fakeStore) ListRejections(context.Context, int) ([]models.RejectionEntry, error) {
	return f.rejections, nil
}

func (f *fakeStore) RecentLogs(_ int, level models.LogLevel) ([]models.RunLog, error) {
	f.lastLevel = level
	return f.logs, nil
}

func TestFormatting(t *testing.T) {
	price := 525000.0
	if got := formatPrice(&price, "USD"); got != "$525K" {
		t.Errorf("formatPrice: got %q", got)
	}
	if got := formatPrice(nil, "USD"); got != "—" {
		t.Errorf("formatPrice(nil): got %q", got)
	}
	baths := 1.5
	if got := formatNumber(&baths); got != "1.5" {
		t.Errorf("formatNumber: got %q", got)
	}
	area := 1234.4
	if got := formatSqft(&area); got != "1,234" {
		t.Errorf("formatSqft: got %q", got)
	}
	if got := truncate("Maple Street", 6); got != "Maple…" {
		t.Errorf("truncate: got %q", got)
	}
	if got := wrapText("one two three four", 9); len(got) != 3 || got[0] != "one two" {
		t.Errorf("wrapText: got %q", got)
	}
}

func TestScrollWindow(t *testing.T) {
	tests := []struct {
		selected, total, visible int
		start, end               int
	}{
		{0, 5, 10, 0, 5},
		{3, 20, 10, 0, 10},
		{12, 20, 10, 3, 13},
		{19, 20, 10, 10, 20},
	}
	for _, tt := range tests {
		start, end := scrollWindow(tt.selected, tt.total, tt.visible)
		if start != tt.start || end != tt.end {
			t.Errorf("scrollWindow(%d, %d, %d) = %d, %d; want %d, %d",
				tt.selected, tt.total, tt.visible, start, end, tt.start, tt.end)
		}
	}
}

func TestDashboard_Refresh(t *testing.T) {
	store := &fakeStore{listings: make([]storage.ListingSummary, 3)}
	d := NewDashboard(store).SetSize(120, 40)

	d, _ = d.Update(d.Refresh()())
	view := d.View()
	for _, want := range []string{"Dashboard", "alpha", "completed"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestListings_Navigation(t *testing.T) {
	store := &fakeStore{}
	for _, id := range []string{"a", "b", "c"} {
		store.listings = append(store.listings, storage.ListingSummary{ListingID: id, SourceURL: "https://alpha.example.com/" + id})
	}
	l := NewListings(store).SetSize(120, 40)

	l, cmd := l.Update(l.Refresh()())
	if cmd == nil {
		t.Fatal("expected duplicate lookup after load")
	}
	l, _ = l.Update(cmd())

	l, _ = l.Update(tea.KeyMsg{Type: tea.KeyDown})
	l, _ = l.Update(tea.KeyMsg{Type: tea.KeyDown})
	l, _ = l.Update(tea.KeyMsg{Type: tea.KeyDown})
	if got := l.SelectedURL(); got != "https://alpha.example.com/c" {
		t.Errorf("selected: got %q", got)
	}
}

func TestLogs_LevelFilter(t *testing.T) {
	store := &fakeStore{logs: []models.RunLog{{Level: models.LogLevelWarn, Message: "slow source", Timestamp: time.Now()}}}
	l := NewLogs(store).SetSize(120, 40)

	l, cmd := l.Update(tea.KeyMsg{Type: tea.KeyRight})
	if cmd == nil {
		t.Fatal("expected refresh after level change")
	}
	l, _ = l.Update(cmd())
	if store.lastLevel != models.LogLevelDebug {
		t.Errorf("level: got %q", store.lastLevel)
	}
	if !strings.Contains(l.View(), "slow source") {
		t.Error("log line not rendered")
	}
}
