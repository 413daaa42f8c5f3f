package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/saravenpi/huddle/internal/client"
)

type Options struct {
	// Username prefills the login form.
	Username string
	// ResumeChat reopens the conversation of the previous run after login.
	ResumeChat bool
}

// App is the root model. It owns the session and its event stream and
// delegates everything else to the current screen.
type App struct {
	client  *client.Client
	session *client.Session
	opts    Options
	current tea.Model

	windowWidth  int
	windowHeight int
}

func NewApp(c *client.Client, opts Options) App {
	username := opts.Username
	if username == "" {
		username = c.SavedUsername()
	}
	return App{
		client:  c,
		opts:    opts,
		current: NewLoginModel(c, username),
	}
}

func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.current.Init()}
	if saved := a.client.SavedUsername(); saved != "" &&
		(a.opts.Username == "" || a.opts.Username == saved) {
		cmds = append(cmds, resumeSessionCmd(a.client))
	}
	return tea.Batch(cmds...)
}

func resumeSessionCmd(c *client.Client) tea.Cmd {
	return func() tea.Msg {
		s, err := c.Resume()
		if err != nil {
			return sessionStartedMsg{err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := s.Start(ctx); err != nil {
			s.Close()
			return sessionStartedMsg{err: err}
		}
		return sessionStartedMsg{session: s}
	}
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.windowWidth = msg.Width
		a.windowHeight = msg.Height

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			a.Close()
			return a, tea.Quit
		}

	case sessionStartedMsg:
		if msg.err != nil || msg.session == nil {
			break
		}
		a.session = msg.session
		dashboard := NewDashboardModel(msg.session)
		a.current = sized(dashboard, a.windowWidth, a.windowHeight)
		cmds := []tea.Cmd{a.current.Init(), waitForEvent(a.session.Events())}
		if a.opts.ResumeChat {
			cmds = append(cmds, resumeChatCmd(a.session))
		}
		return a, tea.Batch(cmds...)

	case eventMsg:
		// A reader of an ended session must not re-arm on the new one.
		if a.session == nil || msg.source != a.session.Events() {
			return a, nil
		}
		var cmd tea.Cmd
		a.current, cmd = a.current.Update(msg)
		return a, tea.Batch(cmd, waitForEvent(a.session.Events()))

	case loggedOutMsg:
		if msg.err != nil {
			jww.WARN.Printf("Logout: %v", msg.err)
		}
		a.session = nil
		a.current = sized(NewLoginModel(a.client, ""), a.windowWidth, a.windowHeight)
		return a, a.current.Init()
	}

	var cmd tea.Cmd
	a.current, cmd = a.current.Update(msg)
	return a, cmd
}

func (a App) View() string {
	return a.current.View()
}

// Close ends the session, if any.
func (a App) Close() {
	if a.session != nil {
		a.session.Close()
	}
}
