package ui

import (
	"fmt"
	"time"

	"github.com/aquilax/truncate"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/saravenpi/huddle/internal/models"
)

type conversationItem struct {
	conv models.Conversation
	open bool
}

func (i conversationItem) Title() string {
	var prefix string
	if i.conv.Kind == models.KindTeam {
		prefix = "#"
	} else {
		prefix = presenceDot(i.conv.Online())
	}

	title := prefix + " " + i.conv.DisplayName()
	if i.open {
		title = "▸ " + title
	}
	if i.conv.UnreadCount > 0 {
		title += " " + unreadStyle.Render(fmt.Sprintf("%d", i.conv.UnreadCount))
	}
	return title
}

func (i conversationItem) Description() string {
	timeAgo := formatTimeAgo(i.conv.LastMessageTime.Time)
	if i.conv.LastMessage == "" {
		return timeAgo
	}
	preview := truncate.Truncate(i.conv.LastMessage, 40, "...", truncate.PositionEnd)
	return fmt.Sprintf("%s • %s", timeAgo, preview)
}

func (i conversationItem) FilterValue() string {
	return i.conv.DisplayName()
}

func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "no messages"
	}

	now := time.Now()
	duration := now.Sub(t)

	if duration < time.Minute {
		return "just now"
	}
	if duration < 2*time.Minute {
		return "1 min ago"
	}
	if duration < time.Hour {
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	}
	if duration < 2*time.Hour {
		return "1h ago"
	}
	if duration < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	}
	if duration < 48*time.Hour {
		return "yesterday"
	}
	if duration < 7*24*time.Hour {
		return fmt.Sprintf("%dd ago", int(duration.Hours()/24))
	}
	return t.Format("Jan 2")
}

// ConversationsModel is the sidebar. It renders a snapshot of the
// reconciler's cache and keeps the selection on the same conversation
// across refreshes.
type ConversationsModel struct {
	conversations []models.Conversation
	list          list.Model
}

func NewConversationsModel() ConversationsModel {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))

	l := list.New([]list.Item{}, delegate, 30, 20)
	l.Title = "Conversations"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	return ConversationsModel{list: l}
}

func (m *ConversationsModel) SetSize(width, height int) {
	m.list.SetWidth(width)
	m.list.SetHeight(height)
}

// SetConversations replaces the items. openID marks the open conversation.
func (m *ConversationsModel) SetConversations(convs []models.Conversation, openID models.ID) {
	var selected models.ID
	if item, ok := m.list.SelectedItem().(conversationItem); ok {
		selected = item.conv.ID
	}

	m.conversations = convs
	items := make([]list.Item, len(convs))
	index := 0
	for i, c := range convs {
		items[i] = conversationItem{conv: c, open: c.ID == openID}
		if c.ID == selected {
			index = i
		}
	}
	m.list.SetItems(items)
	m.list.Select(index)

	unread := 0
	for _, c := range convs {
		unread += c.UnreadCount
	}
	m.list.Title = fmt.Sprintf("Conversations - %d", len(convs))
	if unread > 0 {
		m.list.Title += fmt.Sprintf(" (%d unread)", unread)
	}
}

func (m ConversationsModel) Selected() (models.Conversation, bool) {
	item, ok := m.list.SelectedItem().(conversationItem)
	if !ok {
		return models.Conversation{}, false
	}
	return item.conv, true
}

// Filtering reports whether the filter input owns the keyboard.
func (m ConversationsModel) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

func (m ConversationsModel) Update(msg tea.Msg) (ConversationsModel, tea.Cmd) {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m ConversationsModel) View() string {
	if len(m.conversations) == 0 {
		s := titleStyle.Render("Conversations") + "\n\n"
		s += normalStyle.Render("No conversations yet.") + "\n"
		s += helpStyle.Render("n: find people • t: teams")
		return s
	}
	return m.list.View()
}
