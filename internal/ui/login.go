package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/saravenpi/huddle/internal/client"
)

// LoginModel asks for credentials and starts a session.
type LoginModel struct {
	client        *client.Client
	usernameInput textinput.Model
	passwordInput textinput.Model
	focusIndex    int
	register      bool
	loading       bool
	spinner       spinner.Model
	err           error
}

func NewLoginModel(c *client.Client, username string) LoginModel {
	usernameInput := textinput.New()
	usernameInput.Placeholder = "Username"
	usernameInput.CharLimit = 50
	usernameInput.Width = 40
	usernameInput.SetValue(username)

	passwordInput := textinput.New()
	passwordInput.Placeholder = "Password"
	passwordInput.CharLimit = 100
	passwordInput.Width = 40
	passwordInput.EchoMode = textinput.EchoPassword
	passwordInput.EchoCharacter = '•'

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	m := LoginModel{
		client:        c,
		usernameInput: usernameInput,
		passwordInput: passwordInput,
		spinner:       s,
	}
	if username != "" {
		m.focusIndex = 1
	}
	m.updateFocus()
	return m
}

func (m LoginModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m *LoginModel) updateFocus() {
	if m.focusIndex == 0 {
		m.usernameInput.Focus()
		m.passwordInput.Blur()
	} else {
		m.usernameInput.Blur()
		m.passwordInput.Focus()
	}
}

func (m LoginModel) submit() (LoginModel, tea.Cmd) {
	username := strings.TrimSpace(m.usernameInput.Value())
	password := m.passwordInput.Value()
	if username == "" {
		m.err = fmt.Errorf("username is required")
		return m, nil
	}
	if m.register && password == "" {
		m.err = fmt.Errorf("password is required")
		return m, nil
	}

	m.err = nil
	m.loading = true
	c, register := m.client, m.register
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		login := c.Login
		if register {
			login = c.Register
		}
		s, err := login(ctx, username, password)
		if err != nil {
			return sessionStartedMsg{err: err}
		}
		if err := s.Start(ctx); err != nil {
			s.Close()
			return sessionStartedMsg{err: err}
		}
		return sessionStartedMsg{session: s}
	})
}

func (m LoginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case sessionStartedMsg:
		m.loading = false
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if m.loading {
			return m, nil
		}

		switch msg.String() {
		case "esc":
			return m, tea.Quit

		case "tab", "shift+tab", "up", "down":
			m.focusIndex = (m.focusIndex + 1) % 2
			m.updateFocus()
			return m, nil

		case "ctrl+r":
			m.register = !m.register
			m.err = nil
			return m, nil

		case "enter":
			if m.focusIndex == 0 {
				m.focusIndex = 1
				m.updateFocus()
				return m, nil
			}
			return m.submit()
		}
	}

	var cmd tea.Cmd
	if m.focusIndex == 0 {
		m.usernameInput, cmd = m.usernameInput.Update(msg)
	} else {
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	}
	return m, cmd
}

func (m LoginModel) View() string {
	var b strings.Builder

	title := "Log in"
	if m.register {
		title = "Create account"
	}
	b.WriteString(titleStyle.Render("Huddle • "+title) + "\n\n")

	focusedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	labels := []string{"Username:", "Password:"}
	inputs := []string{m.usernameInput.View(), m.passwordInput.View()}
	for i := range labels {
		if i == m.focusIndex {
			b.WriteString(focusedStyle.Render("> "+labels[i]) + "\n")
		} else {
			b.WriteString(normalStyle.Render("  "+labels[i]) + "\n")
		}
		b.WriteString(inputs[i] + "\n\n")
	}

	if m.loading {
		b.WriteString(fmt.Sprintf("  %s Connecting...\n\n", m.spinner.View()))
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n")
	}

	mode := "ctrl+r: create account"
	if m.register {
		mode = "ctrl+r: back to log in"
	}
	b.WriteString(helpStyle.Render("tab: switch field • enter: submit • " + mode + " • esc: quit"))
	return b.String()
}
