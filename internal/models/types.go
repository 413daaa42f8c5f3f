package models

import "strings"

// Kind distinguishes private 1:1 threads from team threads.
type Kind string

const (
	KindPrivate Kind = "PRIVATE"
	KindTeam    Kind = "TEAM"
)

func (k Kind) Valid() bool {
	return k == KindPrivate || k == KindTeam
}

// PlaceholderPrefix marks conversation ids synthesized locally before the
// server has confirmed the conversation.
const PlaceholderPrefix = "temp-"

// Identity is the logged-in user.
type Identity struct {
	UserID   ID
	Username string
}

// ConversationKey identifies a conversation by its counterpart rather than by
// id: the participant for PRIVATE, the team for TEAM.
type ConversationKey struct {
	Kind Kind
	Ref  ID
}

// Conversation is a sidebar entry as returned by /api/conversations.
type Conversation struct {
	ID                  ID        `json:"id"`
	Kind                Kind      `json:"type"`
	Name                string    `json:"name,omitempty"`
	ParticipantID       ID        `json:"participantId,omitempty"`
	ParticipantUsername string    `json:"participantUsername,omitempty"`
	ParticipantOnline   *bool     `json:"participantOnline,omitempty"`
	TeamID              ID        `json:"teamId,omitempty"`
	TeamName            string    `json:"teamName,omitempty"`
	MemberCount         int       `json:"memberCount,omitempty"`
	LastMessage         string    `json:"lastMessage"`
	LastMessageTime     Timestamp `json:"lastMessageTime"`
	UnreadCount         int       `json:"unreadCount"`
}

func (c Conversation) Key() ConversationKey {
	if c.Kind == KindTeam {
		return ConversationKey{Kind: KindTeam, Ref: c.TeamID}
	}
	return ConversationKey{Kind: KindPrivate, Ref: c.ParticipantID}
}

func (c Conversation) IsPlaceholder() bool {
	return strings.HasPrefix(string(c.ID), PlaceholderPrefix)
}

// DisplayName returns the best human-readable label for the conversation.
func (c Conversation) DisplayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.Kind == KindTeam && c.TeamName != "":
		return c.TeamName
	case c.Kind == KindPrivate && c.ParticipantUsername != "":
		return c.ParticipantUsername
	case c.Kind == KindTeam:
		return "Team " + c.TeamID.String()
	}
	return "User " + c.ParticipantID.String()
}

func (c Conversation) Online() bool {
	return c.ParticipantOnline != nil && *c.ParticipantOnline
}

// OpenChat is the conversation whose transcript is being displayed.
type OpenChat struct {
	ID                  ID
	Kind                Kind
	Name                string
	ParticipantID       ID
	ParticipantUsername string
	TeamID              ID
	TeamName            string
	MyUserID            ID
	IsOnline            bool
}

// Message is a chat message from history or the push channel.
type Message struct {
	ID             ID        `json:"id,omitempty"`
	ClientID       string    `json:"clientMessageId,omitempty"`
	SenderID       ID        `json:"senderId,omitempty"`
	Sender         string    `json:"sender,omitempty"`
	SenderUsername string    `json:"senderUsername,omitempty"`
	ReceiverID     ID        `json:"receiverId,omitempty"`
	TeamID         ID        `json:"teamId,omitempty"`
	Content        string    `json:"content" validate:"required"`
	Timestamp      Timestamp `json:"timestamp"`
	Kind           Kind      `json:"-"`
}

// From returns the sender's username, falling back to the sender id.
func (m Message) From() string {
	switch {
	case m.Sender != "":
		return m.Sender
	case m.SenderUsername != "":
		return m.SenderUsername
	}
	return m.SenderID.String()
}

// SameSender reports whether both messages were written by the same user.
// Either the ids or the usernames may be missing depending on the source.
func (m Message) SameSender(o Message) bool {
	if !m.SenderID.Empty() && m.SenderID == o.SenderID {
		return true
	}
	mine, theirs := m.From(), o.From()
	return mine != "" && mine == theirs
}

type User struct {
	ID       ID     `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
	Online   bool   `json:"online" yaml:"online"`
}

type Team struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount,omitempty"`
}

type Member struct {
	ID       ID     `json:"id,omitempty"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// StatusUpdate is published on /topic/user.status.
type StatusUpdate struct {
	Username string `json:"username" validate:"required"`
	Online   bool   `json:"online"`
}

// ViewMode tracks which pane of the dashboard has keyboard focus.
type ViewMode int

const (
	ViewList ViewMode = iota
	ViewDetail
)
