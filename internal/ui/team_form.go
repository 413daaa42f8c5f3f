package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/saravenpi/huddle/internal/client"
	"github.com/saravenpi/huddle/internal/models"
)

type teamSavedMsg struct {
	team models.Team
	err  error
}

type teamsFetchedMsg struct {
	teams []models.Team
	err   error
}

// TeamFormModel creates a team or joins an existing one by name.
type TeamFormModel struct {
	session *client.Session
	input   textinput.Model
	teams   []models.Team
	join    bool
	saving  bool
	err     error

	windowWidth  int
	windowHeight int
}

func NewTeamFormModel(s *client.Session) TeamFormModel {
	input := textinput.New()
	input.Placeholder = "Team name"
	input.CharLimit = 50
	input.Width = 40
	input.Focus()

	return TeamFormModel{session: s, input: input}
}

func (m TeamFormModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.fetchTeamsCmd())
}

func (m TeamFormModel) fetchTeamsCmd() tea.Cmd {
	s := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		teams, err := s.Teams(ctx)
		return teamsFetchedMsg{teams: teams, err: err}
	}
}

func (m TeamFormModel) saveCmd(name string) tea.Cmd {
	s, join := m.session, m.join
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if join {
			team, err := s.JoinTeam(ctx, name)
			return teamSavedMsg{team: team, err: err}
		}
		team, err := s.CreateTeam(ctx, name)
		return teamSavedMsg{team: team, err: err}
	}
}

func (m TeamFormModel) back(status string) (tea.Model, tea.Cmd) {
	dashboard := newDashboard(m.session, models.ViewList)
	dashboard.status = status
	return sized(dashboard, m.windowWidth, m.windowHeight), dashboard.Init()
}

func (m TeamFormModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.input.Width = msg.Width - 20
		return m, nil

	case teamsFetchedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.teams = msg.teams
		return m, nil

	case teamSavedMsg:
		m.saving = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		verb := "Created"
		if m.join {
			verb = "Joined"
		}
		name := msg.team.Name
		if name == "" {
			name = strings.TrimSpace(m.input.Value())
		}
		return m.back(fmt.Sprintf("%s team %s", verb, name))

	case tea.KeyMsg:
		if m.saving {
			return m, nil
		}

		switch msg.String() {
		case "esc":
			return m.back("")

		case "tab", "shift+tab":
			m.join = !m.join
			m.err = nil
			return m, nil

		case "enter":
			name := strings.TrimSpace(m.input.Value())
			if name == "" {
				m.err = fmt.Errorf("team name is required")
				return m, nil
			}
			m.saving = true
			m.err = nil
			return m, m.saveCmd(name)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m TeamFormModel) View() string {
	s := titleStyle.Render("Teams") + "\n\n"

	create, join := selectedStyle, normalStyle
	if m.join {
		create, join = normalStyle, selectedStyle
	}
	s += lipgloss.JoinHorizontal(lipgloss.Top,
		create.Render("[ Create ]"), "  ", join.Render("[ Join ]")) + "\n\n"

	s += inputStyle.Render("Team name:") + "\n"
	s += m.input.View() + "\n\n"

	if m.saving {
		s += statusStyle.Render("Saving...") + "\n\n"
	}
	if len(m.teams) > 0 {
		s += normalStyle.Render("Your teams:") + "\n"
		for _, team := range m.teams {
			line := "  # " + team.Name
			if team.MemberCount > 0 {
				line += fmt.Sprintf(" (%d)", team.MemberCount)
			}
			s += line + "\n"
		}
		s += "\n"
	}
	if m.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n"
	}

	s += helpStyle.Render("tab: create/join • enter: confirm • esc: back")
	return s
}
