// Package client wires the REST API, the push channel, the local stores and
// the reconciler into a logged-in Session.
package client

import (
	"context"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/saravenpi/huddle/internal/api"
	"github.com/saravenpi/huddle/internal/config"
	"github.com/saravenpi/huddle/internal/directory"
	"github.com/saravenpi/huddle/internal/session"
)

var (
	ErrNotConnected   = errors.New("not connected to the chat server")
	ErrNoOpenChat     = errors.New("no conversation is open")
	ErrQueryTooShort  = errors.New("search query must be at least 2 characters")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNoSavedSession = errors.New("no saved session")
)

// MinQueryLength is the shortest accepted user search.
const MinQueryLength = 2

// Client creates sessions. store and dir may be nil.
type Client struct {
	cfg   *config.Config
	api   *api.Client
	store *session.Store
	dir   *directory.Directory
}

func New(cfg *config.Config, store *session.Store, dir *directory.Directory) *Client {
	return &Client{
		cfg:   cfg,
		api:   api.New(cfg.Server.BaseURL, cfg.Server.Timeout, cfg.Server.Retries),
		store: store,
		dir:   dir,
	}
}

func (c *Client) API() *api.Client { return c.api }

// Login authenticates and returns an unstarted session.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	name, err := c.api.Login(ctx, username, password)
	if err != nil {
		return nil, errors.Wrap(err, "login failed")
	}
	jww.INFO.Printf("Logged in as %s", name)
	return c.open(name), nil
}

// Register creates the account and returns an unstarted session for it.
func (c *Client) Register(ctx context.Context, username, password string) (*Session, error) {
	name, err := c.api.Register(ctx, username, password)
	if err != nil {
		return nil, errors.Wrap(err, "registration failed")
	}
	jww.INFO.Printf("Registered %s", name)
	return c.open(name), nil
}

// Resume returns a session for the username saved by a previous login.
func (c *Client) Resume() (*Session, error) {
	if c.store == nil {
		return nil, ErrNoSavedSession
	}
	name := c.store.Lookup(session.KeyUsername)
	if name == "" {
		return nil, ErrNoSavedSession
	}
	jww.INFO.Printf("Resuming session of %s", name)
	return c.open(name), nil
}

// SavedUsername returns the username of the last session, if any.
func (c *Client) SavedUsername() string {
	if c.store == nil {
		return ""
	}
	return c.store.Lookup(session.KeyUsername)
}

func (c *Client) open(username string) *Session {
	if c.store != nil {
		if err := c.store.Set(session.KeyUsername, username); err != nil {
			jww.WARN.Printf("Failed to save session: %v", err)
		}
	}
	return newSession(c.cfg, c.api, c.store, c.dir, username)
}
