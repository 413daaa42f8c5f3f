package client

import (
	"context"

	"github.com/pkg/errors"

	"github.com/saravenpi/huddle/internal/api"
	"github.com/saravenpi/huddle/internal/models"
)

// fetcher serves the reconciler's reads from the REST API.
type fetcher struct {
	api *api.Client
}

func (f fetcher) Conversations(ctx context.Context, username string) ([]models.Conversation, error) {
	return f.api.Conversations(ctx, username)
}

func (f fetcher) History(ctx context.Context, chat models.OpenChat, username string) ([]models.Message, error) {
	switch chat.Kind {
	case models.KindPrivate:
		return f.api.PrivateHistory(ctx, username, chat.ParticipantID)
	case models.KindTeam:
		return f.api.TeamMessages(ctx, chat.TeamID)
	}
	return nil, errors.Errorf("unknown conversation type %q", chat.Kind)
}
