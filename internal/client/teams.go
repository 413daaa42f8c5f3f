package client

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/saravenpi/huddle/internal/models"
	"github.com/saravenpi/huddle/internal/session"
)

func (s *Session) Teams(ctx context.Context) ([]models.Team, error) {
	return s.api.UserTeams(ctx, s.me.Username)
}

func (s *Session) CreateTeam(ctx context.Context, name string) (models.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Team{}, errors.New("team name cannot be empty")
	}

	team, err := s.api.CreateTeam(ctx, s.me.Username, name)
	if err != nil {
		return models.Team{}, errors.Wrapf(err, "failed to create team %s", name)
	}
	jww.INFO.Printf("Created team %s (%s)", team.Name, team.ID)
	return team, s.Refresh(ctx)
}

func (s *Session) JoinTeam(ctx context.Context, name string) (models.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Team{}, errors.New("team name cannot be empty")
	}

	team, err := s.api.JoinTeam(ctx, s.me.Username, name)
	if err != nil {
		return models.Team{}, errors.Wrapf(err, "failed to join team %s", name)
	}
	jww.INFO.Printf("Joined team %s (%s)", team.Name, team.ID)
	return team, s.Refresh(ctx)
}

// LeaveTeam leaves on the server, tells the push channel, closes the team if
// it is open and drops it from the sidebar.
func (s *Session) LeaveTeam(ctx context.Context, teamID models.ID) error {
	if err := s.api.LeaveTeam(ctx, s.me.Username, teamID); err != nil {
		return errors.Wrapf(err, "failed to leave team %s", teamID)
	}

	if conn := s.connection(); conn != nil {
		if err := conn.Send(TeamLeave, teamMembership{Username: s.me.Username, TeamID: teamID}); err != nil {
			jww.WARN.Printf("Failed to announce leaving team %s: %v", teamID, err)
		}
	}

	if chat, ok := s.rec.OpenChat(); ok && chat.Kind == models.KindTeam && chat.TeamID == teamID {
		s.CloseConversation()
	}
	if conv, ok := s.rec.FindByKey(models.ConversationKey{Kind: models.KindTeam, Ref: teamID}); ok {
		s.rec.Remove(conv.ID)
	}
	if s.store != nil && s.store.Lookup(session.KeyTeamID) == teamID.String() {
		if err := s.store.Delete(session.KeyTeamID, session.KeyTeamName); err != nil {
			jww.WARN.Printf("Failed to clear saved team: %v", err)
		}
	}

	jww.INFO.Printf("Left team %s", teamID)
	return nil
}

// TeamMembers lists the members of a team and records them in the
// directory.
func (s *Session) TeamMembers(ctx context.Context, teamID models.ID) ([]models.Member, error) {
	members, err := s.api.TeamMembers(ctx, teamID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load members of team %s", teamID)
	}

	if s.dir != nil {
		users := make([]models.User, 0, len(members))
		for _, m := range members {
			users = append(users, models.User{ID: m.ID, Username: m.Username, Online: m.Online})
		}
		if err := s.dir.Remember(users...); err != nil {
			jww.WARN.Printf("Failed to remember members of team %s: %v", teamID, err)
		}
	}
	return members, nil
}
