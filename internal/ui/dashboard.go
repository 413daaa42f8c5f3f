package ui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/saravenpi/huddle/internal/client"
	"github.com/saravenpi/huddle/internal/models"
	"github.com/saravenpi/huddle/internal/reconciler"
)

const sidebarWidth = 36

// DashboardModel is the main screen: the conversation sidebar next to the
// open transcript.
type DashboardModel struct {
	session   *client.Session
	sidebar   ConversationsModel
	chat      ChatModel
	focus     models.ViewMode
	connected bool
	status    string
	err       error

	windowWidth  int
	windowHeight int
}

func NewDashboardModel(s *client.Session) DashboardModel {
	return newDashboard(s, models.ViewList)
}

func newDashboard(s *client.Session, focus models.ViewMode) DashboardModel {
	m := DashboardModel{
		session: s,
		sidebar: NewConversationsModel(),
		chat:    NewChatModel(s),
		focus:   focus,
	}
	m.sync()
	return m
}

func (m DashboardModel) Init() tea.Cmd {
	return nil
}

// sync re-reads all state from the reconciler.
func (m *DashboardModel) sync() {
	rec := m.session.Reconciler()
	if rec == nil {
		return
	}
	chat, _ := rec.OpenChat()
	m.sidebar.SetConversations(rec.Conversations(), chat.ID)
	m.chat.Sync()
	m.connected = rec.Connected()
}

func (m *DashboardModel) resize() {
	if m.windowWidth <= 0 {
		return
	}
	// borders and the status line
	height := m.windowHeight - 4
	m.sidebar.SetSize(sidebarWidth, height)
	m.chat.SetSize(m.windowWidth-sidebarWidth-6, height)
}

func refreshCmd(s *client.Session, sync bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if sync {
			return statusMsg{text: "Synced", err: s.Sync(ctx)}
		}
		return statusMsg{text: "Refreshed", err: s.Refresh(ctx)}
	}
}

func leaveTeamCmd(s *client.Session, teamID models.ID, name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return statusMsg{text: "Left " + name, err: s.LeaveTeam(ctx, teamID)}
	}
}

func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.resize()
		return m, nil

	case eventMsg:
		switch e := msg.event.(type) {
		case reconciler.ErrorOccurred:
			m.err = fmt.Errorf("%s: %v", e.Op, e.Err)
		case reconciler.ConnectionChanged:
			if e.Connected {
				m.err = nil
			}
		}
		m.sync()
		return m, nil

	case chatOpenedMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.focus = models.ViewDetail
		}
		m.sync()
		return m, nil

	case statusMsg:
		m.status = ""
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.text
		}
		m.sync()
		return m, nil

	case messageSentMsg:
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.focus == models.ViewDetail && m.chat.Composing() {
			var cmd tea.Cmd
			m.chat, cmd = m.chat.Update(msg)
			return m, cmd
		}
		if m.focus == models.ViewList && m.sidebar.Filtering() {
			var cmd tea.Cmd
			m.sidebar, cmd = m.sidebar.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "q":
			return m, tea.Quit

		case "tab":
			if m.focus == models.ViewList {
				m.focus = models.ViewDetail
			} else {
				m.focus = models.ViewList
			}
			return m, nil

		case "esc":
			if m.focus == models.ViewDetail {
				m.focus = models.ViewList
				return m, nil
			}

		case "n":
			if m.focus == models.ViewList {
				search := NewSearchModel(m.session)
				return sized(search, m.windowWidth, m.windowHeight), search.Init()
			}

		case "t":
			if m.focus == models.ViewList {
				form := NewTeamFormModel(m.session)
				return sized(form, m.windowWidth, m.windowHeight), form.Init()
			}

		case "r":
			m.status = "Refreshing..."
			return m, refreshCmd(m.session, false)

		case "s":
			m.status = "Syncing..."
			return m, refreshCmd(m.session, true)

		case "L":
			return m, logoutCmd(m.session)

		case "enter":
			if m.focus == models.ViewList {
				if conv, ok := m.sidebar.Selected(); ok {
					return m, openConversationCmd(m.session, conv)
				}
				return m, nil
			}

		case "m":
			if m.focus == models.ViewDetail && m.chat.chat.Kind == models.KindTeam {
				members := NewMembersModel(m.session, m.chat.chat.TeamID, m.chat.chat.Name)
				return sized(members, m.windowWidth, m.windowHeight), members.Init()
			}

		case "x":
			if m.focus == models.ViewDetail && m.chat.open && m.chat.chat.Kind == models.KindTeam {
				m.status = "Leaving " + m.chat.chat.Name + "..."
				m.focus = models.ViewList
				return m, leaveTeamCmd(m.session, m.chat.chat.TeamID, m.chat.chat.Name)
			}
		}

		var cmd tea.Cmd
		if m.focus == models.ViewList {
			m.sidebar, cmd = m.sidebar.Update(msg)
		} else {
			m.chat, cmd = m.chat.Update(msg)
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.sidebar, cmd = m.sidebar.Update(msg)
	return m, cmd
}

func (m DashboardModel) View() string {
	left, right := paneStyle, paneStyle
	if m.focus == models.ViewList {
		left = focusedPaneStyle
	} else {
		right = focusedPaneStyle
	}
	if m.windowWidth > 0 {
		height := m.windowHeight - 4
		left = left.Width(sidebarWidth).Height(height)
		right = right.Width(m.windowWidth - sidebarWidth - 6).Height(height)
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		left.Render(m.sidebar.View()),
		right.Render(m.chat.View()),
	)
	return body + "\n" + m.statusLine()
}

func (m DashboardModel) statusLine() string {
	me := m.session.Identity()
	line := presenceDot(m.connected) + " " + me.Username
	if !m.connected {
		line += offlineStyle.Render(" • reconnecting")
	}
	if m.err != nil {
		line += " " + errorStyle.Render(m.err.Error())
	} else if m.status != "" {
		line += " " + statusStyle.Render(m.status)
	}
	return line + "  " + helpStyle.Render("enter: open • n: find people • t: teams • r: refresh • s: sync • L: log out • q: quit")
}
