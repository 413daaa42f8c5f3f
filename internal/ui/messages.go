package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/saravenpi/huddle/internal/client"
	"github.com/saravenpi/huddle/internal/models"
)

type messageSentMsg struct {
	err error
}

// ChatModel shows the open transcript and the compose box.
type ChatModel struct {
	session   *client.Session
	chat      models.OpenChat
	open      bool
	messages  []models.Message
	connected bool
	viewport  viewport.Model
	textarea  textarea.Model
	composing bool
	err       error
	width     int
	height    int
}

func NewChatModel(s *client.Session) ChatModel {
	vp := viewport.New(80, 20)
	vp.HighPerformanceRendering = false

	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.CharLimit = 1000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	return ChatModel{
		session:  s,
		viewport: vp,
		textarea: ta,
		width:    80,
		height:   30,
	}
}

func (m *ChatModel) SetSize(width, height int) {
	m.width = width
	m.height = height

	headerHeight := 3
	helpHeight := 2
	available := height - headerHeight - helpHeight
	if m.composing {
		available -= 5
	}
	if available < 1 {
		available = 1
	}
	m.viewport.Width = width
	m.viewport.Height = available
	m.textarea.SetWidth(width)
	m.updateViewportContent()
}

// Sync pulls the latest transcript from the reconciler.
func (m *ChatModel) Sync() {
	rec := m.session.Reconciler()
	chat, open := rec.OpenChat()
	switched := chat.ID != m.chat.ID || open != m.open
	m.chat, m.open = chat, open
	m.connected = rec.Connected()

	atBottom := m.viewport.AtBottom()
	m.messages = rec.Transcript()
	m.updateViewportContent()
	if switched || atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *ChatModel) SetError(err error) {
	m.err = err
}

// Composing reports whether the compose box owns the keyboard.
func (m ChatModel) Composing() bool {
	return m.composing
}

func (m ChatModel) sendMessageCmd(content string) tea.Cmd {
	s := m.session
	return func() tea.Msg {
		_, err := s.Send(content)
		return messageSentMsg{err: err}
	}
}

func (m ChatModel) Update(msg tea.Msg) (ChatModel, tea.Cmd) {
	switch msg := msg.(type) {
	case messageSentMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.Sync()
		return m, nil

	case tea.KeyMsg:
		if m.composing {
			switch msg.String() {
			case "esc":
				m.composing = false
				m.textarea.Reset()
				m.textarea.Blur()
				m.err = nil
				m.SetSize(m.width, m.height)
				return m, nil

			case "ctrl+s":
				content := strings.TrimSpace(m.textarea.Value())
				if content == "" {
					return m, nil
				}
				if !m.connected {
					m.err = client.ErrNotConnected
					return m, nil
				}
				m.textarea.Reset()
				return m, m.sendMessageCmd(content)

			default:
				var cmd tea.Cmd
				m.textarea, cmd = m.textarea.Update(msg)
				return m, cmd
			}
		}

		if !m.open {
			return m, nil
		}

		switch msg.String() {
		case "n", "c":
			m.composing = true
			m.textarea.Focus()
			m.SetSize(m.width, m.height)
			return m, textarea.Blink

		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

func (m *ChatModel) updateViewportContent() {
	var content strings.Builder
	wrapWidth := m.viewport.Width
	if wrapWidth <= 10 {
		wrapWidth = 80
	}
	me := m.session.Identity()

	for i, message := range m.messages {
		if i > 0 {
			content.WriteString("\n")
		}

		timestamp := message.Timestamp.Time.Local().Format("3:04 PM")
		fromMe := message.SameSender(models.Message{SenderID: me.UserID, Sender: me.Username})

		if fromMe {
			header := fmt.Sprintf("You • %s", timestamp)
			if message.ID.Empty() {
				header += " • sending"
			}
			header = messageHeaderStyle.Render(header)
			content.WriteString(lipgloss.NewStyle().Align(lipgloss.Right).Width(wrapWidth).Render(header) + "\n")

			wrappedText := wordwrap.String(message.Content, wrapWidth-10)
			styledText := messageFromMeStyle.Render(wrappedText)
			content.WriteString(lipgloss.NewStyle().Align(lipgloss.Right).Width(wrapWidth).Render(styledText) + "\n")
		} else {
			sender := message.From()
			if sender == "" {
				sender = "Unknown"
			}
			header := messageHeaderStyle.Render(fmt.Sprintf("%s • %s", sender, timestamp))
			content.WriteString(header + "\n")

			wrappedText := wordwrap.String(message.Content, wrapWidth-10)
			content.WriteString(messageFromOtherStyle.Render(wrappedText) + "\n")
		}
	}

	m.viewport.SetContent(content.String())
}

func (m ChatModel) header() string {
	if m.chat.Kind == models.KindTeam {
		return titleStyle.Render("# " + m.chat.Name)
	}
	return titleStyle.Render(presenceDot(m.chat.IsOnline) + " " + m.chat.Name)
}

func (m ChatModel) View() string {
	if !m.open {
		s := titleStyle.Render("No conversation open") + "\n\n"
		s += normalStyle.Render("Pick a conversation and press enter.")
		return s
	}

	s := m.header() + "\n"

	if m.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n"
	}

	if len(m.messages) == 0 {
		s += normalStyle.Render("  No messages in this conversation.") + "\n"
	} else {
		s += m.viewport.View() + "\n"
	}

	if m.composing {
		s += "\n" + inputStyle.Render("New Message:") + "\n"
		s += m.textarea.View() + "\n"
		help := "ctrl+s: send • esc: cancel"
		if !m.connected {
			help = "offline: sending disabled • esc: cancel"
		}
		s += helpStyle.Render(help)
		return s
	}

	scrollPercent := int(m.viewport.ScrollPercent() * 100)
	help := fmt.Sprintf("↑↓/jk: scroll • n: new message • tab: sidebar • %d%%", scrollPercent)
	if m.chat.Kind == models.KindTeam {
		help = fmt.Sprintf("↑↓/jk: scroll • n: new message • m: members • x: leave • tab: sidebar • %d%%", scrollPercent)
	}
	s += helpStyle.Render(help)
	return s
}
