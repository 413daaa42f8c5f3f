package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saravenpi/huddle/internal/models"
	"github.com/saravenpi/huddle/internal/reconciler"
)

func TestFormatTimeAgo(t *testing.T) {
	now := time.Now()
	cases := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "no messages"},
		{now.Add(-30 * time.Second), "just now"},
		{now.Add(-90 * time.Second), "1 min ago"},
		{now.Add(-10 * time.Minute), "10m ago"},
		{now.Add(-90 * time.Minute), "1h ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-30 * time.Hour), "yesterday"},
		{now.Add(-3 * 24 * time.Hour), "3d ago"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, formatTimeAgo(c.t))
	}

	old := now.Add(-30 * 24 * time.Hour)
	assert.Equal(t, old.Format("Jan 2"), formatTimeAgo(old))
}

func TestConversationItem(t *testing.T) {
	online := true
	private := conversationItem{conv: models.Conversation{
		ID:                  "c1",
		Kind:                models.KindPrivate,
		ParticipantID:       "2",
		ParticipantUsername: "bob",
		ParticipantOnline:   &online,
		LastMessage:         strings.Repeat("x", 80),
		LastMessageTime:     models.NewTimestamp(time.Now()),
		UnreadCount:         3,
	}}
	assert.Contains(t, private.Title(), "bob")
	assert.Contains(t, private.Title(), "3")
	assert.NotContains(t, private.Title(), "#")
	assert.Equal(t, "bob", private.FilterValue())

	desc := private.Description()
	assert.True(t, strings.HasPrefix(desc, "just now • "))
	assert.True(t, strings.HasSuffix(desc, "..."))
	assert.Less(t, len(desc), 80)

	team := conversationItem{conv: models.Conversation{
		ID:       "t1",
		Kind:     models.KindTeam,
		TeamID:   "9",
		TeamName: "ops",
	}, open: true}
	assert.Contains(t, team.Title(), "# ops")
	assert.True(t, strings.HasPrefix(team.Title(), "▸ "))
	assert.Equal(t, "no messages", team.Description())
}

func TestConversationsModel_KeepsSelection(t *testing.T) {
	m := NewConversationsModel()
	convs := []models.Conversation{
		{ID: "a", Kind: models.KindPrivate, ParticipantID: "1", ParticipantUsername: "ann"},
		{ID: "b", Kind: models.KindPrivate, ParticipantID: "2", ParticipantUsername: "bob"},
	}
	m.SetConversations(convs, "")
	m.list.Select(1)

	reordered := []models.Conversation{convs[1], convs[0]}
	m.SetConversations(reordered, "b")
	selected, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, models.ID("b"), selected.ID)
	assert.Contains(t, m.list.Title, "2")
}

func typeText(m SearchModel, text string) SearchModel {
	for _, r := range text {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = updated.(SearchModel)
	}
	return m
}

func TestSearchModel_Debounce(t *testing.T) {
	m := typeText(NewSearchModel(nil), "al")
	require.Equal(t, "al", m.query())
	current := m.seq

	updated, cmd := m.Update(searchTickMsg{seq: current - 1})
	m = updated.(SearchModel)
	assert.Nil(t, cmd)
	assert.False(t, m.loading)

	updated, cmd = m.Update(searchTickMsg{seq: current})
	m = updated.(SearchModel)
	assert.NotNil(t, cmd)
	assert.True(t, m.loading)

	updated, _ = m.Update(searchResultsMsg{seq: current - 1, users: []models.User{{ID: "1", Username: "stale"}}})
	m = updated.(SearchModel)
	assert.Empty(t, m.results.Items())

	updated, _ = m.Update(searchResultsMsg{seq: current, users: []models.User{{ID: "1", Username: "alice"}}})
	m = updated.(SearchModel)
	assert.False(t, m.loading)
	require.Len(t, m.results.Items(), 1)
	assert.Equal(t, "alice", m.results.Items()[0].(userItem).user.Username)
}

func TestSearchModel_ShortQuery(t *testing.T) {
	m := typeText(NewSearchModel(nil), "a")
	current := m.seq

	updated, cmd := m.Update(searchTickMsg{seq: current})
	m = updated.(SearchModel)
	assert.Nil(t, cmd)
	assert.False(t, m.loading)
}

func TestLoginModel_RequiresUsername(t *testing.T) {
	m := NewLoginModel(nil, "")
	assert.Equal(t, 0, m.focusIndex)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(LoginModel)
	assert.Equal(t, 1, m.focusIndex)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(LoginModel)
	assert.Nil(t, cmd)
	require.Error(t, m.err)
	assert.False(t, m.loading)
	assert.Contains(t, m.View(), "username is required")
}

func TestLoginModel_ToggleRegister(t *testing.T) {
	m := NewLoginModel(nil, "alice")
	assert.Equal(t, 1, m.focusIndex)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	m = updated.(LoginModel)
	assert.True(t, m.register)
	assert.Contains(t, m.View(), "Create account")

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(LoginModel)
	assert.Nil(t, cmd)
	assert.EqualError(t, m.err, "password is required")
}

func TestTeamFormModel_Validation(t *testing.T) {
	m := NewTeamFormModel(nil)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(TeamFormModel)
	assert.True(t, m.join)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(TeamFormModel)
	assert.Nil(t, cmd)
	assert.EqualError(t, m.err, "team name is required")
	assert.False(t, m.saving)
}

func TestMembersModel_SortsOnlineFirst(t *testing.T) {
	m := NewMembersModel(nil, "9", "ops")
	updated, _ := m.Update(membersFetchedMsg{members: []models.Member{
		{Username: "zed", Online: true},
		{Username: "amy"},
		{Username: "bea", Online: true},
	}})
	m = updated.(MembersModel)
	assert.False(t, m.loading)
	require.Len(t, m.members, 3)
	assert.Equal(t, "bea", m.members[0].Username)
	assert.Equal(t, "zed", m.members[1].Username)
	assert.Equal(t, "amy", m.members[2].Username)
	assert.Contains(t, m.View(), "2 of 3 online")
}

// Tests that the event reader stops once its channel is closed.
func TestWaitForEvent_Closed(t *testing.T) {
	ch := make(chan reconciler.Event, 1)
	ch <- reconciler.ConversationsUpdated{}

	msg, ok := waitForEvent(ch)().(eventMsg)
	require.True(t, ok)
	assert.Equal(t, reconciler.ConversationsUpdated{}, msg.event)
	assert.Equal(t, (<-chan reconciler.Event)(ch), msg.source)

	close(ch)
	assert.Nil(t, waitForEvent(ch)())
}

// Tests that events from a session that is no longer current are dropped
// without re-arming a reader.
func TestApp_DropsStaleEvents(t *testing.T) {
	a := App{current: NewLoginModel(nil, "")}
	stale := make(chan reconciler.Event)

	next, cmd := a.Update(eventMsg{event: reconciler.ConversationsUpdated{}, source: stale})
	assert.Nil(t, cmd)
	_, ok := next.(App).current.(LoginModel)
	assert.True(t, ok)
}
