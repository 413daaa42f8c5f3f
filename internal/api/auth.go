package api

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/saravenpi/huddle/internal/models"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

type authResponse struct {
	envelope
	Username string `json:"username"`
}

type userResponse struct {
	envelope
	User models.User `json:"user"`
}

type searchResponse struct {
	envelope
	Users []models.User `json:"users"`
}

// Login authenticates and returns the canonical username.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out authResponse
	err := c.call(ctx, http.MethodPost, "/api/auth/login", func(r *resty.Request) {
		r.SetBody(credentials{Username: username, Password: password})
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Username == "" {
		return username, nil
	}
	return out.Username, nil
}

func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	var out authResponse
	err := c.call(ctx, http.MethodPost, "/api/auth/register", func(r *resty.Request) {
		r.SetBody(credentials{Username: username, Password: password})
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Username == "" {
		return username, nil
	}
	return out.Username, nil
}

// Logout marks the user offline on the server.
func (c *Client) Logout(ctx context.Context, username string) error {
	var out envelope
	return c.call(ctx, http.MethodPost, "/api/auth/logout", func(r *resty.Request) {
		r.SetBody(credentials{Username: username})
	}, &out)
}

// GetUser resolves a username to the user record, mainly for its id.
func (c *Client) GetUser(ctx context.Context, username string) (models.User, error) {
	var out userResponse
	err := c.call(ctx, http.MethodGet, "/api/auth/user/{username}", func(r *resty.Request) {
		r.SetPathParam("username", username)
	}, &out)
	return out.User, err
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	var out searchResponse
	err := c.call(ctx, http.MethodGet, "/api/auth/search", func(r *resty.Request) {
		r.SetQueryParam("query", query)
	}, &out)
	return out.Users, err
}
