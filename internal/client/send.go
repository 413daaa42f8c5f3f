package client

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/saravenpi/huddle/internal/models"
)

type privateSend struct {
	Username        string    `json:"username"`
	Content         string    `json:"content"`
	ReceiverID      models.ID `json:"receiverId"`
	ClientMessageID string    `json:"clientMessageId"`
}

type teamSend struct {
	Username        string    `json:"username"`
	Sender          string    `json:"sender"`
	Content         string    `json:"content"`
	TeamID          models.ID `json:"teamId"`
	ClientMessageID string    `json:"clientMessageId"`
}

// Send publishes content to the open chat. With optimistic sending enabled
// the message is echoed into the transcript right away and confirmed when
// the server's copy arrives.
func (s *Session) Send(content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}

	chat, ok := s.rec.OpenChat()
	if !ok {
		return models.Message{}, ErrNoOpenChat
	}
	conn := s.connection()
	if conn == nil || !s.rec.Connected() {
		return models.Message{}, ErrNotConnected
	}

	msg := models.Message{
		ClientID:  uuid.NewString(),
		SenderID:  s.me.UserID,
		Sender:    s.me.Username,
		Content:   content,
		Timestamp: models.NewTimestamp(time.Now()),
	}

	var (
		destination string
		body        any
	)
	switch chat.Kind {
	case models.KindPrivate:
		if chat.ParticipantID.Empty() {
			return models.Message{}, errors.Errorf("chat %s has no participant", chat.ID)
		}
		msg.ReceiverID = chat.ParticipantID
		destination = PrivateSend
		body = privateSend{
			Username:        s.me.Username,
			Content:         content,
			ReceiverID:      chat.ParticipantID,
			ClientMessageID: msg.ClientID,
		}
	case models.KindTeam:
		if chat.TeamID.Empty() {
			return models.Message{}, errors.Errorf("chat %s has no team", chat.ID)
		}
		msg.TeamID = chat.TeamID
		destination = TeamSend
		body = teamSend{
			Username:        s.me.Username,
			Sender:          s.me.Username,
			Content:         content,
			TeamID:          chat.TeamID,
			ClientMessageID: msg.ClientID,
		}
	default:
		return models.Message{}, errors.Errorf("unknown conversation type %q", chat.Kind)
	}

	if err := conn.Send(destination, body); err != nil {
		return models.Message{}, errors.Wrap(err, "failed to send message")
	}
	jww.DEBUG.Printf("Sent %s message %s to %s", chat.Kind, msg.ClientID, chat.ID)

	if s.cfg.Chat.OptimisticSend {
		msg = s.rec.AddPending(msg, chat.Kind)
	}
	return msg, nil
}
