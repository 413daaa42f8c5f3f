package ui

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/saravenpi/huddle/internal/client"
	"github.com/saravenpi/huddle/internal/models"
)

const searchDebounce = 300 * time.Millisecond

type searchTickMsg struct {
	seq int
}

type searchResultsMsg struct {
	seq   int
	users []models.User
	err   error
}

type userItem struct {
	user models.User
}

func (i userItem) Title() string {
	return presenceDot(i.user.Online) + " " + i.user.Username
}

func (i userItem) Description() string {
	if i.user.Online {
		return "online"
	}
	return "offline"
}

func (i userItem) FilterValue() string { return i.user.Username }

// SearchModel finds users to start a private conversation with.
type SearchModel struct {
	session  *client.Session
	input    textinput.Model
	results  list.Model
	seq      int
	loading  bool
	starting bool
	err      error

	windowWidth  int
	windowHeight int
}

func NewSearchModel(s *client.Session) SearchModel {
	input := textinput.New()
	input.Placeholder = "Username (at least 2 characters)"
	input.CharLimit = 50
	input.Width = 40
	input.Focus()

	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 40, 15)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	return SearchModel{session: s, input: input, results: l}
}

func (m SearchModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m SearchModel) query() string {
	return strings.TrimSpace(m.input.Value())
}

// schedule bumps the sequence so that only the last keystroke's tick fires
// a request.
func (m *SearchModel) schedule() tea.Cmd {
	m.seq++
	seq := m.seq
	return tea.Tick(searchDebounce, func(time.Time) tea.Msg {
		return searchTickMsg{seq: seq}
	})
}

func (m SearchModel) searchCmd(seq int, query string) tea.Cmd {
	s := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		users, err := s.SearchUsers(ctx, query)
		return searchResultsMsg{seq: seq, users: users, err: err}
	}
}

func (m SearchModel) startChatCmd(user models.User) tea.Cmd {
	s := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return chatOpenedMsg{err: s.StartPrivateChat(ctx, user)}
	}
}

func (m SearchModel) back(focus models.ViewMode) (tea.Model, tea.Cmd) {
	dashboard := newDashboard(m.session, focus)
	return sized(dashboard, m.windowWidth, m.windowHeight), dashboard.Init()
}

func (m SearchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.input.Width = msg.Width - 20
		m.results.SetSize(msg.Width-4, msg.Height-10)
		return m, nil

	case searchTickMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		query := m.query()
		if utf8.RuneCountInString(query) < client.MinQueryLength {
			return m, nil
		}
		m.loading = true
		return m, m.searchCmd(msg.seq, query)

	case searchResultsMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.loading = false
		m.err = msg.err
		items := make([]list.Item, len(msg.users))
		for i, u := range msg.users {
			items[i] = userItem{user: u}
		}
		m.results.SetItems(items)
		return m, nil

	case chatOpenedMsg:
		m.starting = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		return m.back(models.ViewDetail)

	case tea.KeyMsg:
		if m.starting {
			return m, nil
		}

		switch msg.String() {
		case "esc":
			return m.back(models.ViewList)

		case "enter":
			item, ok := m.results.SelectedItem().(userItem)
			if !ok {
				return m, nil
			}
			m.starting = true
			m.err = nil
			return m, m.startChatCmd(item.user)

		case "up", "down", "ctrl+p", "ctrl+n":
			var cmd tea.Cmd
			m.results, cmd = m.results.Update(msg)
			return m, cmd
		}

		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if m.input.Value() == before {
			return m, cmd
		}
		if utf8.RuneCountInString(m.query()) < client.MinQueryLength {
			m.seq++
			m.loading = false
			m.results.SetItems(nil)
			return m, cmd
		}
		return m, tea.Batch(cmd, m.schedule())
	}

	return m, nil
}

func (m SearchModel) View() string {
	s := titleStyle.Render("Find people") + "\n\n"
	s += inputStyle.Render("Search:") + "\n"
	s += m.input.View() + "\n\n"

	switch {
	case m.err != nil:
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n"
	case m.starting:
		s += statusStyle.Render("Opening conversation...") + "\n\n"
	case m.loading:
		s += statusStyle.Render("Searching...") + "\n\n"
	}

	if len(m.results.Items()) == 0 {
		if utf8.RuneCountInString(m.query()) >= client.MinQueryLength && !m.loading {
			s += normalStyle.Render("  No users found.") + "\n"
		}
	} else {
		s += m.results.View() + "\n"
	}

	s += helpStyle.Render("type to search • ↑↓: select • enter: start chat • esc: back")
	return s
}
