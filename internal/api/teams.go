package api

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/saravenpi/huddle/internal/models"
)

type teamRequest struct {
	TeamName string `json:"teamName"`
	Username string `json:"username"`
}

type leaveTeamRequest struct {
	Username string    `json:"username"`
	TeamID   models.ID `json:"teamId"`
}

type teamResponse struct {
	envelope
	Team models.Team `json:"team"`
}

type teamsResponse struct {
	envelope
	Teams []models.Team `json:"teams"`
}

type membersResponse struct {
	envelope
	Members []models.Member `json:"members"`
}

func (c *Client) UserTeams(ctx context.Context, username string) ([]models.Team, error) {
	var out teamsResponse
	err := c.call(ctx, http.MethodGet, "/api/teams/user/{username}", func(r *resty.Request) {
		r.SetPathParam("username", username)
	}, &out)
	return out.Teams, err
}

func (c *Client) CreateTeam(ctx context.Context, username, teamName string) (models.Team, error) {
	var out teamResponse
	err := c.call(ctx, http.MethodPost, "/api/teams/create", func(r *resty.Request) {
		r.SetBody(teamRequest{TeamName: teamName, Username: username})
	}, &out)
	return out.Team, err
}

func (c *Client) JoinTeam(ctx context.Context, username, teamName string) (models.Team, error) {
	var out teamResponse
	err := c.call(ctx, http.MethodPost, "/api/teams/join", func(r *resty.Request) {
		r.SetBody(teamRequest{TeamName: teamName, Username: username})
	}, &out)
	return out.Team, err
}

func (c *Client) LeaveTeam(ctx context.Context, username string, teamID models.ID) error {
	var out envelope
	return c.call(ctx, http.MethodPost, "/api/teams/leave", func(r *resty.Request) {
		r.SetBody(leaveTeamRequest{Username: username, TeamID: teamID})
	}, &out)
}

func (c *Client) TeamMembers(ctx context.Context, teamID models.ID) ([]models.Member, error) {
	var out membersResponse
	err := c.call(ctx, http.MethodGet, "/api/teams/{teamId}/members", func(r *resty.Request) {
		r.SetPathParam("teamId", teamID.String())
	}, &out)
	return out.Members, err
}
