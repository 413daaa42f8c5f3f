package api

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/saravenpi/huddle/internal/models"
)

type conversationsResponse struct {
	envelope
	Conversations []models.Conversation `json:"conversations"`
}

type updatePrivateRequest struct {
	Username      string    `json:"username"`
	ParticipantID models.ID `json:"participantId"`
	LastMessage   string    `json:"lastMessage"`
}

type updatePrivateResponse struct {
	envelope
	ConversationID models.ID `json:"conversationId"`
}

type messagesResponse struct {
	envelope
	Messages []models.Message `json:"messages"`
}

// Conversations returns the sidebar list for username.
func (c *Client) Conversations(ctx context.Context, username string) ([]models.Conversation, error) {
	var out conversationsResponse
	err := c.call(ctx, http.MethodGet, "/api/conversations/user/{username}", func(r *resty.Request) {
		r.SetPathParam("username", username)
	}, &out)
	return out.Conversations, err
}

// UpdatePrivateConversation creates or touches the private conversation
// between username and participantID and returns its id.
func (c *Client) UpdatePrivateConversation(ctx context.Context, username string,
	participantID models.ID, lastMessage string) (models.ID, error) {
	var out updatePrivateResponse
	err := c.call(ctx, http.MethodPost, "/api/conversations/update-private", func(r *resty.Request) {
		r.SetBody(updatePrivateRequest{
			Username:      username,
			ParticipantID: participantID,
			LastMessage:   lastMessage,
		})
	}, &out)
	return out.ConversationID, err
}

// SyncConversations asks the server to rebuild its conversation index.
func (c *Client) SyncConversations(ctx context.Context, username string) error {
	var out envelope
	return c.call(ctx, http.MethodPost, "/api/conversations/sync/{username}", func(r *resty.Request) {
		r.SetPathParam("username", username)
	}, &out)
}

func (c *Client) PrivateHistory(ctx context.Context, username string,
	participantID models.ID) ([]models.Message, error) {
	var out messagesResponse
	err := c.call(ctx, http.MethodGet, "/api/private-messages/history", func(r *resty.Request) {
		r.SetQueryParam("participantId", participantID.String())
		r.SetQueryParam("username", username)
	}, &out)
	for i := range out.Messages {
		out.Messages[i].Kind = models.KindPrivate
	}
	return out.Messages, err
}

func (c *Client) TeamMessages(ctx context.Context, teamID models.ID) ([]models.Message, error) {
	var out messagesResponse
	err := c.call(ctx, http.MethodGet, "/api/teams/{teamId}/messages", func(r *resty.Request) {
		r.SetPathParam("teamId", teamID.String())
	}, &out)
	for i := range out.Messages {
		out.Messages[i].Kind = models.KindTeam
		if out.Messages[i].TeamID.Empty() {
			out.Messages[i].TeamID = teamID
		}
	}
	return out.Messages, err
}
