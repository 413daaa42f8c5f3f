package client

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/saravenpi/huddle/internal/models"
	"github.com/saravenpi/huddle/internal/session"
)

// OpenConversation opens conv in the reconciler and records it so the next
// start can resume it.
func (s *Session) OpenConversation(ctx context.Context, conv models.Conversation) error {
	s.saveOpenChat(conv)
	return s.rec.OpenConversation(ctx, conv)
}

func (s *Session) CloseConversation() {
	s.rec.CloseConversation()
	if s.store == nil {
		return
	}
	if err := s.store.Delete(session.KeyChatParticipantID, session.KeyChatParticipantUsername,
		session.KeyTeamID, session.KeyTeamName); err != nil {
		jww.WARN.Printf("Failed to clear open chat: %v", err)
	}
}

func (s *Session) saveOpenChat(conv models.Conversation) {
	if s.store == nil {
		return
	}

	var err error
	switch conv.Kind {
	case models.KindPrivate:
		err = s.store.SetAll(map[string]string{
			session.KeyChatParticipantID:       conv.ParticipantID.String(),
			session.KeyChatParticipantUsername: conv.ParticipantUsername,
		})
		if err == nil {
			err = s.store.Delete(session.KeyTeamID, session.KeyTeamName)
		}
	case models.KindTeam:
		err = s.store.SetAll(map[string]string{
			session.KeyTeamID:   conv.TeamID.String(),
			session.KeyTeamName: conv.DisplayName(),
		})
		if err == nil {
			err = s.store.Delete(session.KeyChatParticipantID, session.KeyChatParticipantUsername)
		}
	}
	if err != nil {
		jww.WARN.Printf("Failed to save open chat: %v", err)
	}
}

// ResumeChat reopens the conversation saved by the previous session. It
// reports false when nothing was saved.
func (s *Session) ResumeChat(ctx context.Context) (bool, error) {
	if s.store == nil {
		return false, nil
	}

	if id := s.store.Lookup(session.KeyChatParticipantID); id != "" {
		user := models.User{
			ID:       models.ID(id),
			Username: s.store.Lookup(session.KeyChatParticipantUsername),
		}
		return true, s.StartPrivateChat(ctx, user)
	}

	if id := s.store.Lookup(session.KeyTeamID); id != "" {
		key := models.ConversationKey{Kind: models.KindTeam, Ref: models.ID(id)}
		conv, ok := s.rec.FindByKey(key)
		if !ok {
			conv = models.Conversation{
				ID:       models.ID(id),
				Kind:     models.KindTeam,
				TeamID:   models.ID(id),
				TeamName: s.store.Lookup(session.KeyTeamName),
			}
		}
		return true, s.OpenConversation(ctx, conv)
	}
	return false, nil
}

// StartPrivateChat opens the conversation with user, creating it on the
// server first when none exists.
func (s *Session) StartPrivateChat(ctx context.Context, user models.User) error {
	if user.ID.Empty() {
		return errors.New("user has no id")
	}
	if s.dir != nil {
		if err := s.dir.Remember(user); err != nil {
			jww.WARN.Printf("Failed to remember %s: %v", user.Username, err)
		}
	}

	key := models.ConversationKey{Kind: models.KindPrivate, Ref: user.ID}
	if conv, ok := s.rec.FindByKey(key); ok {
		return s.OpenConversation(ctx, conv)
	}

	id, err := s.api.UpdatePrivateConversation(ctx, s.me.Username, user.ID, "")
	if err != nil {
		return errors.Wrapf(err, "failed to start conversation with %s", user.Username)
	}

	online := user.Online
	conv := models.Conversation{
		ID:                  id,
		Kind:                models.KindPrivate,
		ParticipantID:       user.ID,
		ParticipantUsername: user.Username,
		ParticipantOnline:   &online,
	}
	if id.Empty() {
		if err := s.rec.Refresh(ctx, false); err != nil {
			return err
		}
		found, ok := s.rec.FindByKey(key)
		if !ok {
			return errors.Errorf("server did not create a conversation with %s", user.Username)
		}
		conv = found
	} else {
		s.rec.Upsert(conv)
	}

	jww.INFO.Printf("Started conversation %s with %s", conv.ID, user.Username)
	return s.OpenConversation(ctx, conv)
}

// Refresh merges the server's conversation list into the sidebar.
func (s *Session) Refresh(ctx context.Context) error {
	return s.rec.Refresh(ctx, false)
}

// Sync asks the server to rebuild its conversation index, then refreshes.
func (s *Session) Sync(ctx context.Context) error {
	if err := s.api.SyncConversations(ctx, s.me.Username); err != nil {
		jww.WARN.Printf("Conversation sync failed: %v", err)
	}
	return s.Refresh(ctx)
}

// SearchUsers finds other users whose name matches query.
func (s *Session) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinQueryLength {
		return nil, ErrQueryTooShort
	}

	users, err := s.api.SearchUsers(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search for %q", query)
	}

	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.Username == s.me.Username {
			continue
		}
		out = append(out, u)
	}

	if s.dir != nil {
		if err := s.dir.Remember(out...); err != nil {
			jww.WARN.Printf("Failed to remember search results: %v", err)
		}
	}
	return out, nil
}
