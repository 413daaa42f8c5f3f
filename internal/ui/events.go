package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/saravenpi/huddle/internal/client"
	"github.com/saravenpi/huddle/internal/models"
	"github.com/saravenpi/huddle/internal/reconciler"
)

const requestTimeout = 15 * time.Second

// eventMsg carries a reconciler event into the update loop. source is the
// channel it was read from.
type eventMsg struct {
	event  reconciler.Event
	source <-chan reconciler.Event
}

type sessionStartedMsg struct {
	session *client.Session
	err     error
}

type loggedOutMsg struct {
	err error
}

type chatOpenedMsg struct {
	err error
}

// statusMsg is a one-line notice shown by the dashboard.
type statusMsg struct {
	text string
	err  error
}

// waitForEvent blocks for the next reconciler event. It returns nil once the
// session has closed the channel.
func waitForEvent(events <-chan reconciler.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg{event: e, source: events}
	}
}

func openConversationCmd(s *client.Session, conv models.Conversation) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return chatOpenedMsg{err: s.OpenConversation(ctx, conv)}
	}
}

func resumeChatCmd(s *client.Session) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if _, err := s.ResumeChat(ctx); err != nil {
			return chatOpenedMsg{err: err}
		}
		return chatOpenedMsg{}
	}
}

func logoutCmd(s *client.Session) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return loggedOutMsg{err: s.Logout(ctx)}
	}
}

// sized hands the current window size to a freshly built screen.
func sized(m tea.Model, width, height int) tea.Model {
	if width <= 0 {
		return m
	}
	updated, _ := m.Update(tea.WindowSizeMsg{Width: width, Height: height})
	return updated
}
