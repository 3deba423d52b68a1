// Package tui is the terminal frontend: the merged conversation list with
// incremental filtering, per-service status and manual sync.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/convhub/internal/hub"
	"github.com/lotas/convhub/internal/normalize"
	"github.com/lotas/convhub/internal/types"
)

// --- Messages ---

type syncDoneMsg struct{ err error }

// --- Model ---

type Model struct {
	hub      *hub.Hub
	services []types.ServiceStatus

	items    []types.ConversationItem
	filtered []types.ConversationItem

	query        string
	typing       bool
	serviceIndex int // 0 = all, 1..n = services slice
	cursor       int
	offset       int

	syncing bool
	err     error
	copied  string

	width  int
	height int
}

func NewModel(h *hub.Hub) Model {
	m := Model{hub: h}
	m.reload()
	return m
}

func (m *Model) reload() {
	m.services = m.hub.Statuses()
	m.items = m.hub.Merged()
	m.applyFilter()
}

func (m *Model) applyFilter() {
	m.filtered = hub.Filter(m.items, m.query, m.serviceID())
	if m.cursor >= len(m.filtered) {
		m.cursor = len(m.filtered) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) serviceID() string {
	if m.serviceIndex == 0 || m.serviceIndex > len(m.services) {
		return ""
	}
	return m.services[m.serviceIndex-1].ID
}

// runSync syncs all providers, or just one when the view is scoped to it.
func runSync(h *hub.Hub, serviceID string) tea.Cmd {
	return func() tea.Msg {
		if serviceID != "" {
			return syncDoneMsg{err: h.SyncOne(context.Background(), serviceID)}
		}
		return syncDoneMsg{err: h.Sync(context.Background())}
	}
}

func (m Model) Init() tea.Cmd {
	return runSync(m.hub, "")
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case syncDoneMsg:
		m.syncing = false
		m.err = msg.err
		if msg.err == hub.ErrSyncInFlight {
			m.err = nil
		}
		m.reload()
		return m, nil

	case tea.KeyMsg:
		if m.typing {
			return m.updateQuery(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.filtered)-1 {
				m.cursor++
			}
		case "g":
			m.cursor = 0
		case "G":
			m.cursor = len(m.filtered) - 1
			if m.cursor < 0 {
				m.cursor = 0
			}
		case "/":
			m.typing = true
			m.copied = ""
		case "tab":
			m.serviceIndex = (m.serviceIndex + 1) % (len(m.services) + 1)
			m.cursor = 0
			m.applyFilter()
		case "shift+tab":
			m.serviceIndex--
			if m.serviceIndex < 0 {
				m.serviceIndex = len(m.services)
			}
			m.cursor = 0
			m.applyFilter()
		case "s", "r":
			if !m.syncing {
				m.syncing = true
				m.err = nil
				return m, runSync(m.hub, m.serviceID())
			}
		case "enter", "y":
			if m.cursor < len(m.filtered) {
				it := m.filtered[m.cursor]
				if it.URL != "" {
					if err := clipboard.WriteAll(it.URL); err == nil {
						m.copied = it.URL
					}
				}
			}
		case "esc":
			if m.query != "" {
				m.query = ""
				m.applyFilter()
			}
		}
		m.clampScroll()
		return m, nil
	}
	return m, nil
}

func (m Model) updateQuery(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.typing = false
	case "backspace":
		if len(m.query) > 0 {
			m.query = m.query[:len(m.query)-1]
			m.applyFilter()
		}
	case "ctrl+c":
		return m, tea.Quit
	default:
		if msg.Type == tea.KeyRunes {
			m.query += string(msg.Runes)
			m.applyFilter()
		}
	}
	m.clampScroll()
	return m, nil
}

func (m *Model) listHeight() int {
	h := m.height - 4 // top bar, filter line, status line, help line
	if h < 1 {
		h = 10
	}
	return h
}

func (m *Model) clampScroll() {
	h := m.listHeight()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+h {
		m.offset = m.cursor - h + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

var (
	topBarStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cursorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	serviceStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("140"))
	timeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	noURLStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	bottomStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Padding(0, 1)
	filterStyle   = lipgloss.NewStyle().Padding(0, 1)
	selectedScope = lipgloss.NewStyle().Bold(true).Underline(true)
)

func (m Model) View() string {
	var b strings.Builder

	// Top bar: service scope tabs.
	scopes := []string{"all"}
	for _, s := range m.services {
		label := s.Label
		if s.Status != "" && !s.Status.Fresh() {
			label += "!"
		}
		scopes = append(scopes, label)
	}
	for i := range scopes {
		if i == m.serviceIndex {
			scopes[i] = selectedScope.Render(scopes[i])
		}
	}
	b.WriteString(topBarStyle.Render("Conversations  " + strings.Join(scopes, " · ")))
	b.WriteString("\n")

	// Filter line.
	filterLine := "/" + m.query
	if m.typing {
		filterLine += "▌"
	} else if m.query == "" {
		filterLine = "press / to filter"
	}
	b.WriteString(filterStyle.Render(filterLine))
	b.WriteString("\n")

	// List.
	h := m.listHeight()
	end := m.offset + h
	if end > len(m.filtered) {
		end = len(m.filtered)
	}
	if len(m.filtered) == 0 {
		b.WriteString("  nothing to show — press s to sync\n")
	}
	for i := m.offset; i < end; i++ {
		it := m.filtered[i]
		prefix := "  "
		if i == m.cursor {
			prefix = "> "
		}
		line := prefix + serviceStyle.Render("["+it.ServiceID+"]") + " " + it.Title
		if it.UpdatedAtMs > 0 {
			line += " " + timeStyle.Render(normalize.RelativeTime(fmt.Sprint(it.UpdatedAtMs)))
		}
		if it.URL == "" {
			line += " " + noURLStyle.Render("(click-to-open)")
		}
		if i == m.cursor {
			line = cursorStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	// Status line.
	status := m.hub.StatusLine()
	if m.syncing {
		status = "syncing… · " + status
	}
	if m.copied != "" {
		status = "copied " + m.copied + " · " + status
	}
	b.WriteString(bottomStyle.Render(status))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString(bottomStyle.Render("↑↓/jk navigate · / filter · tab scope · enter copy url · s sync · q quit"))
	return b.String()
}
