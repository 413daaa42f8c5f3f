package ui

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/saravenpi/huddle/internal/client"
	"github.com/saravenpi/huddle/internal/models"
)

type membersFetchedMsg struct {
	members []models.Member
	err     error
}

// MembersModel lists the members of a team with their presence.
type MembersModel struct {
	session *client.Session
	teamID  models.ID
	name    string
	members []models.Member
	cursor  int
	loading bool
	spinner spinner.Model
	err     error

	windowWidth  int
	windowHeight int
}

func NewMembersModel(s *client.Session, teamID models.ID, name string) MembersModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle

	return MembersModel{
		session: s,
		teamID:  teamID,
		name:    name,
		loading: true,
		spinner: sp,
	}
}

func (m MembersModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchCmd())
}

func (m MembersModel) fetchCmd() tea.Cmd {
	s, teamID := m.session, m.teamID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		members, err := s.TeamMembers(ctx, teamID)
		return membersFetchedMsg{members: members, err: err}
	}
}

func (m MembersModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		return m, nil

	case membersFetchedMsg:
		m.loading = false
		m.err = msg.err
		m.members = msg.members
		sort.SliceStable(m.members, func(i, j int) bool {
			if m.members[i].Online != m.members[j].Online {
				return m.members[i].Online
			}
			return m.members[i].Username < m.members[j].Username
		})
		return m, nil

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "q":
			dashboard := newDashboard(m.session, models.ViewDetail)
			return sized(dashboard, m.windowWidth, m.windowHeight), dashboard.Init()

		case "r":
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.fetchCmd())

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.members)-1 {
				m.cursor++
			}
		}
	}

	return m, nil
}

func (m MembersModel) View() string {
	s := titleStyle.Render(fmt.Sprintf("# %s • members", m.name)) + "\n\n"

	if m.loading && len(m.members) == 0 {
		return s + fmt.Sprintf("  %s Loading members...\n", m.spinner.View())
	}
	if m.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n"
	}

	online := 0
	for i, member := range m.members {
		if member.Online {
			online++
		}
		line := presenceDot(member.Online) + " " + member.Username
		if i == m.cursor {
			s += selectedStyle.Render("> ") + line + "\n"
		} else {
			s += "  " + line + "\n"
		}
	}

	s += "\n" + statusStyle.Render(fmt.Sprintf("%d of %d online", online, len(m.members))) + "\n"
	s += helpStyle.Render("↑↓/jk: move • r: refresh • esc: back")
	return s
}
