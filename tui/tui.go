// Package tui is a terminal dashboard over the SQLite store: table sizes,
// recent batch runs, stored listings with their duplicate links, the
// rejection log and the run log.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"listing_canon/tui/styles"
	"listing_canon/tui/views"
)

type tab int

const (
	tabDashboard tab = iota
	tabListings
	tabRejections
	tabLogs
	tabCount
)

var tabNames = []string{"Dashboard", "Listings", "Rejections", "Logs"}

type model struct {
	activeTab     tab
	width, height int
	notification  string
	notifyUntil   time.Time

	dashboard  views.Dashboard
	listings   views.Listings
	rejections views.Rejections
	logs       views.Logs
}

type tickMsg time.Time

func newModel(store views.Store) model {
	return model{
		activeTab:  tabDashboard,
		dashboard:  views.NewDashboard(store),
		listings:   views.NewListings(store),
		rejections: views.NewRejections(store),
		logs:       views.NewLogs(store),
	}
}

// Run blocks until the user quits.
func Run(store views.Store) error {
	p := tea.NewProgram(newModel(store), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.listings.Init(),
		m.rejections.Init(),
		m.logs.Init(),
		tickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(10*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) notify(text string) model {
	m.notification = text
	m.notifyUntil = time.Now().Add(2 * time.Second)
	return m
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "d":
			m.activeTab = tabDashboard
			return m, nil
		case "p":
			m.activeTab = tabListings
			return m, nil
		case "x":
			m.activeTab = tabRejections
			return m, nil
		case "l":
			m.activeTab = tabLogs
			return m, nil
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			return m, nil
		case "r":
			return m.notify("Refreshed"), m.refreshActive()
		case "c":
			if url := m.selectedURL(); url != "" {
				return m.notify(url), nil
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard = m.dashboard.SetSize(msg.Width, msg.Height-4)
		m.listings = m.listings.SetSize(msg.Width, msg.Height-4)
		m.rejections = m.rejections.SetSize(msg.Width, msg.Height-4)
		m.logs = m.logs.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refreshActive(), tickCmd())
	}

	// Keys go to the active tab only; data messages go to every view.
	var cmd tea.Cmd
	if _, isKey := msg.(tea.KeyMsg); isKey {
		switch m.activeTab {
		case tabDashboard:
			m.dashboard, cmd = m.dashboard.Update(msg)
		case tabListings:
			m.listings, cmd = m.listings.Update(msg)
		case tabRejections:
			m.rejections, cmd = m.rejections.Update(msg)
		case tabLogs:
			m.logs, cmd = m.logs.Update(msg)
		}
		return m, cmd
	}

	m.dashboard, cmd = m.dashboard.Update(msg)
	cmds = append(cmds, cmd)
	m.listings, cmd = m.listings.Update(msg)
	cmds = append(cmds, cmd)
	m.rejections, cmd = m.rejections.Update(msg)
	cmds = append(cmds, cmd)
	m.logs, cmd = m.logs.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) selectedURL() string {
	switch m.activeTab {
	case tabListings:
		return m.listings.SelectedURL()
	case tabRejections:
		return m.rejections.SelectedURL()
	}
	return ""
}

func (m model) refreshActive() tea.Cmd {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.Refresh()
	case tabListings:
		return m.listings.Refresh()
	case tabRejections:
		return m.rejections.Refresh()
	case tabLogs:
		return m.logs.Refresh()
	}
	return nil
}

func (m model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabs(), m.renderContent(), m.renderStatusBar())
}

func (m model) renderTabs() string {
	var rendered []string
	for i, name := range tabNames {
		if tab(i) == m.activeTab {
			rendered = append(rendered, styles.TabActive.Render(name))
		} else {
			rendered = append(rendered, styles.TabInactive.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m model) renderContent() string {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.View()
	case tabListings:
		return m.listings.View()
	case tabRejections:
		return m.rejections.View()
	case tabLogs:
		return m.logs.View()
	}
	return ""
}

func (m model) renderStatusBar() string {
	left := "d Dash  p Listings  x Rejections  l Log  r Refresh  c URL  q Quit"
	right := ""
	if time.Now().Before(m.notifyUntil) {
		right = styles.Notification.Render(m.notification)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 0 {
		gap = 0
	}
	return styles.StatusBar.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + right
}
