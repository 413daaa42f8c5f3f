package reconciler

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saravenpi/huddle/internal/models"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelInfo)
	os.Exit(m.Run())
}

var me = models.Identity{UserID: "7", Username: "alice"}

type fakeFetcher struct {
	mu            sync.Mutex
	conversations []models.Conversation
	history       []models.Message
	err           error
	historyCalls  int
	convCalls     int
	// hiddenFor is the number of list calls that return nothing, as when the
	// server pushes before it stores the conversation.
	hiddenFor int
}

func (f *fakeFetcher) Conversations(context.Context, string) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convCalls++
	if f.err != nil {
		return nil, f.err
	}
	if f.convCalls <= f.hiddenFor {
		return nil, nil
	}
	out := make([]models.Conversation, len(f.conversations))
	copy(out, f.conversations)
	return out, nil
}

func (f *fakeFetcher) History(context.Context, models.OpenChat, string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Message(nil), f.history...), nil
}

type fakeSubscriber struct {
	active []models.ID
	calls  []string
}

func (s *fakeSubscriber) SubscribeTeam(teamID models.ID) error {
	s.active = append(s.active, teamID)
	s.calls = append(s.calls, "subscribe "+teamID.String())
	return nil
}

func (s *fakeSubscriber) UnsubscribeTeam() error {
	if len(s.active) > 0 {
		s.active = s.active[:len(s.active)-1]
	}
	s.calls = append(s.calls, "unsubscribe")
	return nil
}

// blockingSubscriber holds SubscribeTeam for one team until released and
// tracks the single active team.
type blockingSubscriber struct {
	block   models.ID
	entered chan struct{}
	release chan struct{}

	mu   sync.Mutex
	slot models.ID
}

func (s *blockingSubscriber) SubscribeTeam(teamID models.ID) error {
	if teamID == s.block {
		close(s.entered)
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot = teamID
	return nil
}

func (s *blockingSubscriber) UnsubscribeTeam() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot = ""
	return nil
}

func (s *blockingSubscriber) active() models.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(match func(Event) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if match(e) {
			n++
		}
	}
	return n
}

func ts(t *testing.T, s string) models.Timestamp {
	parsed, err := models.ParseTimestamp(s)
	require.NoError(t, err)
	return parsed
}

func privateConv(id, participant, username string) models.Conversation {
	return models.Conversation{ID: models.ID(id), Kind: models.KindPrivate,
		ParticipantID: models.ID(participant), ParticipantUsername: username}
}

func teamConv(id, team, name string) models.Conversation {
	return models.Conversation{ID: models.ID(id), Kind: models.KindTeam,
		TeamID: models.ID(team), TeamName: name}
}

func newTestReconciler(t *testing.T, f *fakeFetcher) (*Reconciler, *fakeSubscriber, *recorder) {
	subs, rec := &fakeSubscriber{}, &recorder{}
	opts := DefaultOptions()
	opts.PlaceholderRetryDelay = time.Millisecond
	r := New(me, f, subs, rec, opts)
	t.Cleanup(r.Close)
	return r, subs, rec
}

func openPrivate(t *testing.T, r *Reconciler, c models.Conversation) {
	r.MergeServerConversationList(append(r.Conversations(), c), false)
	require.NoError(t, r.OpenConversation(context.Background(), c))
}

// Tests that private membership is symmetric between self and participant
// and false for every other pair or kind.
func TestReconciler_BelongsToOpenChat(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	openPrivate(t, r, privateConv("c42", "42", "bob"))

	tests := []struct {
		sender, receiver models.ID
		kind             models.Kind
		expected         bool
	}{
		{"42", "7", models.KindPrivate, true},
		{"7", "42", models.KindPrivate, true},
		{"42", "8", models.KindPrivate, false},
		{"8", "7", models.KindPrivate, false},
		{"7", "7", models.KindPrivate, false},
		{"42", "42", models.KindPrivate, false},
		{"42", "7", models.KindTeam, false},
	}

	for i, tt := range tests {
		msg := models.Message{SenderID: tt.sender, ReceiverID: tt.receiver, Content: "x"}
		received := r.BelongsToOpenChat(msg, tt.kind)
		if received != tt.expected {
			t.Errorf("Membership %d (%s->%s %s) mismatch."+
				"\nexpected: %t\nreceived: %t", i, tt.sender, tt.receiver, tt.kind,
				tt.expected, received)
		}
	}
}

// Tests that team membership is decided by team id only.
func TestReconciler_BelongsToOpenChat_Team(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	require.NoError(t, r.OpenConversation(context.Background(), teamConv("t9", "9", "ops")))

	assert.True(t, r.BelongsToOpenChat(models.Message{TeamID: "9"}, models.KindTeam))
	assert.False(t, r.BelongsToOpenChat(models.Message{TeamID: "10"}, models.KindTeam))
	assert.False(t, r.BelongsToOpenChat(models.Message{TeamID: "9"}, models.KindPrivate))
}

// Tests that applying the same message twice leaves a single entry.
func TestReconciler_DedupByID(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	openPrivate(t, r, privateConv("c42", "42", "bob"))

	msg := models.Message{ID: "100", SenderID: "42", ReceiverID: "7", Sender: "bob",
		Content: "hi", Timestamp: ts(t, "2024-01-01T10:00:00Z")}
	r.ApplyIncomingMessage(msg, models.KindPrivate)
	r.ApplyIncomingMessage(msg, models.KindPrivate)

	assert.Len(t, r.Transcript(), 1)
}

// Tests that different server ids are never collapsed, even with identical
// content and time.
func TestReconciler_DedupByID_Distinct(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	openPrivate(t, r, privateConv("c42", "42", "bob"))

	at := ts(t, "2024-01-01T10:00:00Z")
	r.ApplyIncomingMessage(models.Message{ID: "1", SenderID: "42", ReceiverID: "7",
		Content: "ok", Timestamp: at}, models.KindPrivate)
	r.ApplyIncomingMessage(models.Message{ID: "2", SenderID: "42", ReceiverID: "7",
		Content: "ok", Timestamp: at}, models.KindPrivate)

	assert.Len(t, r.Transcript(), 2)
}

// Tests the timestamp heuristic for messages without ids: 500ms apart
// collapse, 5000ms apart do not.
func TestReconciler_DedupHeuristic(t *testing.T) {
	tests := []struct {
		gap      time.Duration
		expected int
	}{
		{500 * time.Millisecond, 1},
		{5000 * time.Millisecond, 2},
	}

	for _, tt := range tests {
		r, _, _ := newTestReconciler(t, &fakeFetcher{})
		openPrivate(t, r, privateConv("c42", "42", "bob"))

		at := ts(t, "2024-01-01T10:00:00Z")
		first := models.Message{SenderID: "42", ReceiverID: "7", Content: "hi", Timestamp: at}
		second := first
		second.Timestamp = models.NewTimestamp(at.Add(tt.gap))

		r.ApplyIncomingMessage(first, models.KindPrivate)
		r.ApplyIncomingMessage(second, models.KindPrivate)

		assert.Len(t, r.Transcript(), tt.expected, "gap %s", tt.gap)
	}
}

// Tests that distinct client ids keep two identical quick messages apart and
// equal client ids collapse regardless of time.
func TestReconciler_DedupByClientID(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	openPrivate(t, r, privateConv("c42", "42", "bob"))

	at := ts(t, "2024-01-01T10:00:00Z")
	a := models.Message{ClientID: "a", SenderID: "7", ReceiverID: "42", Content: "ok", Timestamp: at}
	b := a
	b.ClientID = "b"
	r.ApplyIncomingMessage(a, models.KindPrivate)
	r.ApplyIncomingMessage(b, models.KindPrivate)
	require.Len(t, r.Transcript(), 2)

	late := a
	late.Timestamp = models.NewTimestamp(at.Add(time.Minute))
	r.ApplyIncomingMessage(late, models.KindPrivate)
	assert.Len(t, r.Transcript(), 2)
}

// Tests that the transcript is ordered by timestamp regardless of delivery
// order.
func TestReconciler_Ordering(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	openPrivate(t, r, privateConv("c42", "42", "bob"))

	t1 := ts(t, "2024-01-01T10:00:00Z")
	t2 := models.NewTimestamp(t1.Add(20 * time.Second))
	t3 := models.NewTimestamp(t1.Add(10 * time.Second))

	for _, m := range []struct {
		id string
		at models.Timestamp
	}{{"1", t1}, {"2", t2}, {"3", t3}} {
		r.ApplyIncomingMessage(models.Message{ID: models.ID(m.id), SenderID: "42",
			ReceiverID: "7", Content: "m" + m.id, Timestamp: m.at}, models.KindPrivate)
	}

	var order []string
	for _, m := range r.Transcript() {
		order = append(order, m.Content)
	}
	assert.Equal(t, []string{"m1", "m3", "m2"}, order)
}

// Tests that equal timestamps keep delivery order.
func TestReconciler_Ordering_EqualTimestamps(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	openPrivate(t, r, privateConv("c42", "42", "bob"))

	at := ts(t, "2024-01-01T10:00:00Z")
	r.ApplyIncomingMessage(models.Message{ID: "1", SenderID: "42", ReceiverID: "7",
		Content: "first", Timestamp: at}, models.KindPrivate)
	r.ApplyIncomingMessage(models.Message{ID: "2", SenderID: "7", ReceiverID: "42",
		Content: "second", Timestamp: at}, models.KindPrivate)

	transcript := r.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, "first", transcript[0].Content)
	assert.Equal(t, "second", transcript[1].Content)
}

// Tests that a message for a conversation that is not open updates only the
// sidebar.
func TestReconciler_SidebarAlwaysUpdates(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	r.MergeServerConversationList([]models.Conversation{
		privateConv("c42", "42", "bob"), privateConv("c43", "43", "carol"),
	}, true)
	require.NoError(t, r.OpenConversation(context.Background(), privateConv("c42", "42", "bob")))

	at := ts(t, "2024-01-01T10:00:00Z")
	r.ApplyIncomingMessage(models.Message{ID: "9", SenderID: "43", ReceiverID: "7",
		Sender: "carol", Content: "psst", Timestamp: at}, models.KindPrivate)

	carol, ok := r.Conversation("c43")
	require.True(t, ok)
	assert.Equal(t, "psst", carol.LastMessage)
	assert.True(t, carol.LastMessageTime.Equal(at.Time))
	assert.Equal(t, 1, carol.UnreadCount)
	assert.Empty(t, r.Transcript())
}

// Tests that the preview is cut to 100 characters.
func TestReconciler_PreviewTruncated(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	r.MergeServerConversationList([]models.Conversation{privateConv("c42", "42", "bob")}, true)

	long := strings.Repeat("ab", 75)
	r.ApplyIncomingMessage(models.Message{ID: "1", SenderID: "42", ReceiverID: "7",
		Content: long}, models.KindPrivate)

	bob, _ := r.Conversation("c42")
	assert.Equal(t, strings.Repeat("ab", 50), bob.LastMessage)
}

// Tests that a first message from a new counterpart creates a placeholder
// that the next server merge replaces with exactly one entry.
func TestReconciler_PlaceholderReconciliation(t *testing.T) {
	f := &fakeFetcher{}
	f.err = errors.New("offline")
	r, _, _ := newTestReconciler(t, f)

	at := ts(t, "2024-01-01T10:00:00Z")
	r.ApplyIncomingMessage(models.Message{ID: "1", SenderID: "42", ReceiverID: "7",
		Sender: "bob", Content: "hello", Timestamp: at}, models.KindPrivate)
	r.Wait()

	list := r.Conversations()
	require.Len(t, list, 1)
	assert.True(t, list[0].IsPlaceholder())
	assert.Equal(t, "bob", list[0].ParticipantUsername)
	assert.Equal(t, 1, list[0].UnreadCount)

	server := privateConv("srv-1", "42", "bob")
	server.LastMessage = "hello"
	server.LastMessageTime = at
	r.MergeServerConversationList([]models.Conversation{server}, false)

	list = r.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, models.ID("srv-1"), list[0].ID)
	assert.Equal(t, 1, list[0].UnreadCount)
}

// Tests that the asynchronous refresh triggered by a placeholder replaces it.
func TestReconciler_PlaceholderRefreshedAsync(t *testing.T) {
	server := teamConv("srv-t", "9", "ops")
	r, _, rec := newTestReconciler(t, &fakeFetcher{conversations: []models.Conversation{server}})

	r.ApplyIncomingMessage(models.Message{ID: "1", Sender: "bob", SenderID: "bob",
		TeamID: "9", Content: "hey team"}, models.KindTeam)
	r.Wait()

	list := r.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, models.ID("srv-t"), list[0].ID)
	assert.Equal(t, "hey team", list[0].LastMessage)
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.GreaterOrEqual(t, rec.count(func(e Event) bool {
		_, ok := e.(ConversationsUpdated)
		return ok
	}), 2)
}

// Tests that the background refresh is retried until the server knows the
// conversation of a placeholder.
func TestReconciler_PlaceholderRefreshRetried(t *testing.T) {
	server := privateConv("srv-1", "42", "bob")
	f := &fakeFetcher{conversations: []models.Conversation{server}, hiddenFor: 2}
	r, _, _ := newTestReconciler(t, f)

	r.ApplyIncomingMessage(models.Message{ID: "1", SenderID: "42", ReceiverID: "7",
		Sender: "bob", Content: "hello"}, models.KindPrivate)
	r.Wait()

	list := r.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, models.ID("srv-1"), list[0].ID)
	assert.Equal(t, 1, list[0].UnreadCount)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 3, f.convCalls)
}

// Tests that the retries stop once the configured budget is spent.
func TestReconciler_PlaceholderRefreshGivesUp(t *testing.T) {
	f := &fakeFetcher{}
	r, _, _ := newTestReconciler(t, f)

	r.ApplyIncomingMessage(models.Message{ID: "1", SenderID: "42", ReceiverID: "7",
		Sender: "bob", Content: "hello"}, models.KindPrivate)
	r.Wait()

	list := r.Conversations()
	require.Len(t, list, 1)
	assert.True(t, list[0].IsPlaceholder())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1+DefaultOptions().PlaceholderRetries, f.convCalls)
}

// Tests that the incremental merge keeps the local unread count and a newer
// local preview while taking other fields from the server.
func TestReconciler_MergeKeepsLocalUnread(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	r.MergeServerConversationList([]models.Conversation{privateConv("c42", "42", "bob")}, true)

	at := ts(t, "2024-01-01T10:00:00Z")
	for i := 0; i < 3; i++ {
		r.ApplyIncomingMessage(models.Message{ID: models.ID(strconv.Itoa(i + 1)), SenderID: "42",
			ReceiverID: "7", Content: "ping", Timestamp: at}, models.KindPrivate)
	}

	server := privateConv("c42", "42", "bobby")
	server.UnreadCount = 0
	server.LastMessage = "older"
	server.LastMessageTime = models.NewTimestamp(at.Add(-time.Hour))
	r.MergeServerConversationList([]models.Conversation{server}, false)

	bob, ok := r.Conversation("c42")
	require.True(t, ok)
	assert.Equal(t, 3, bob.UnreadCount)
	assert.Equal(t, "bobby", bob.ParticipantUsername)
	assert.Equal(t, "ping", bob.LastMessage)
}

// Tests that an initial load replaces the cache wholesale.
func TestReconciler_MergeInitialReplaces(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	r.MergeServerConversationList([]models.Conversation{privateConv("old", "1", "x")}, true)

	fresh := privateConv("new", "2", "y")
	fresh.UnreadCount = 4
	r.MergeServerConversationList([]models.Conversation{fresh}, true)

	list := r.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, models.ID("new"), list[0].ID)
	assert.Equal(t, 4, list[0].UnreadCount)
}

// Tests that an incremental merge keeps conversations the server omitted.
func TestReconciler_MergeIncrementalKeepsOthers(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	r.MergeServerConversationList([]models.Conversation{privateConv("a", "1", "x")}, true)
	r.MergeServerConversationList([]models.Conversation{teamConv("b", "9", "ops")}, false)

	assert.Len(t, r.Conversations(), 2)
}

// Tests presence propagation to cached conversations and the open chat.
func TestReconciler_ApplyPresenceChange(t *testing.T) {
	r, _, rec := newTestReconciler(t, &fakeFetcher{})
	openPrivate(t, r, privateConv("c42", "42", "bob"))
	r.MergeServerConversationList([]models.Conversation{privateConv("c43", "43", "carol")}, false)

	r.ApplyPresenceChange("bob", true)

	bob, _ := r.Conversation("c42")
	carol, _ := r.Conversation("c43")
	chat, _ := r.OpenChat()
	assert.True(t, bob.Online())
	assert.Nil(t, carol.ParticipantOnline)
	assert.True(t, chat.IsOnline)

	r.ApplyPresenceChange("bob", false)
	chat, _ = r.OpenChat()
	assert.False(t, chat.IsOnline)
	assert.Equal(t, 2, rec.count(func(e Event) bool {
		p, ok := e.(PresenceChanged)
		return ok && p.Username == "bob"
	}))
}

// Tests that switching chats keeps at most one team subscription.
func TestReconciler_OpenConversation_TeamSubscriptions(t *testing.T) {
	r, subs, _ := newTestReconciler(t, &fakeFetcher{})
	ctx := context.Background()

	require.NoError(t, r.OpenConversation(ctx, teamConv("t1", "1", "a")))
	require.NoError(t, r.OpenConversation(ctx, teamConv("t2", "2", "b")))
	assert.Equal(t, []models.ID{"2"}, subs.active)

	require.NoError(t, r.OpenConversation(ctx, teamConv("t2", "2", "b")))
	assert.Equal(t, []models.ID{"2"}, subs.active)

	require.NoError(t, r.OpenConversation(ctx, privateConv("c42", "42", "bob")))
	assert.Empty(t, subs.active)
	assert.Equal(t, []string{"subscribe 1", "unsubscribe", "subscribe 2", "unsubscribe"}, subs.calls)
}

// Tests that overlapping opens of two teams leave the subscription on the
// team that ends up open.
func TestReconciler_OpenConversation_OverlappingTeams(t *testing.T) {
	subs := &blockingSubscriber{block: "1",
		entered: make(chan struct{}), release: make(chan struct{})}
	r := New(me, &fakeFetcher{}, subs, nil, DefaultOptions())
	t.Cleanup(r.Close)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, r.OpenConversation(ctx, teamConv("t1", "1", "a")))
	}()
	<-subs.entered
	go func() {
		defer wg.Done()
		assert.NoError(t, r.OpenConversation(ctx, teamConv("t2", "2", "b")))
	}()
	time.Sleep(20 * time.Millisecond)
	close(subs.release)
	wg.Wait()

	chat, ok := r.OpenChat()
	require.True(t, ok)
	assert.Equal(t, chat.TeamID, subs.active())
	assert.Equal(t, models.ID("2"), subs.active())

	r.CloseConversation()
	assert.Empty(t, subs.active())
}

// Tests that opening clears unread and the old transcript and loads history
// through the dedup rules.
func TestReconciler_OpenConversation_History(t *testing.T) {
	at := ts(t, "2024-01-01T10:00:00Z")
	f := &fakeFetcher{history: []models.Message{
		{ID: "2", SenderID: "7", ReceiverID: "42", Content: "second", Timestamp: models.NewTimestamp(at.Add(time.Second))},
		{ID: "1", SenderID: "42", ReceiverID: "7", Content: "first", Timestamp: at},
	}}
	r, _, _ := newTestReconciler(t, f)

	bob := privateConv("c42", "42", "bob")
	bob.UnreadCount = 5
	r.MergeServerConversationList([]models.Conversation{bob}, true)

	// A live echo of a message history already returned.
	require.NoError(t, r.OpenConversation(context.Background(), bob))
	r.ApplyIncomingMessage(f.history[0], models.KindPrivate)
	require.NoError(t, r.ReloadHistory(context.Background()))

	transcript := r.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, "first", transcript[0].Content)
	assert.Equal(t, "second", transcript[1].Content)

	cached, _ := r.Conversation("c42")
	assert.Zero(t, cached.UnreadCount)
}

// Tests that a failed history load is reported and leaves the cache alone.
func TestReconciler_OpenConversation_HistoryError(t *testing.T) {
	f := &fakeFetcher{}
	r, _, rec := newTestReconciler(t, f)
	r.MergeServerConversationList([]models.Conversation{privateConv("c42", "42", "bob")}, true)

	f.err = errors.New("connection refused")
	err := r.OpenConversation(context.Background(), privateConv("c42", "42", "bob"))
	require.Error(t, err)

	assert.Len(t, r.Conversations(), 1)
	assert.Empty(t, r.Transcript())
	assert.Equal(t, 1, rec.count(func(e Event) bool {
		_, ok := e.(ErrorOccurred)
		return ok
	}))
}

// Tests that malformed payloads never touch state.
func TestReconciler_MalformedDropped(t *testing.T) {
	r, _, rec := newTestReconciler(t, &fakeFetcher{})
	openPrivate(t, r, privateConv("c42", "42", "bob"))
	before := len(rec.events)

	r.ApplyIncomingMessage(models.Message{SenderID: "42", ReceiverID: "7"}, models.KindPrivate)
	r.ApplyIncomingMessage(models.Message{Content: "who?"}, models.KindPrivate)
	r.ApplyIncomingMessage(models.Message{Sender: "bob", Content: "team?"}, models.KindTeam)
	r.ApplyIncomingMessage(models.Message{SenderID: "42", ReceiverID: "7", Content: "x"}, models.Kind("GROUP"))

	assert.Len(t, r.Conversations(), 1)
	assert.Empty(t, r.Transcript())
	assert.Len(t, rec.events, before)

	err := r.Validate(models.Message{Content: "x", SenderID: "42"}, models.KindPrivate)
	assert.True(t, errors.Is(err, ErrMalformed))
}

// Tests that an optimistic echo is confirmed in place by the server echo.
func TestReconciler_AddPendingConfirmed(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	openPrivate(t, r, privateConv("c42", "42", "bob"))

	pending := r.AddPending(models.Message{ReceiverID: "42", Content: "on my way"}, models.KindPrivate)
	require.NotEmpty(t, pending.ClientID)

	echo := models.Message{ID: "500", SenderID: "7", ReceiverID: "42", Sender: "alice",
		Content: "on my way", Timestamp: models.NewTimestamp(pending.Timestamp.Add(300 * time.Millisecond))}
	r.ApplyIncomingMessage(echo, models.KindPrivate)

	transcript := r.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, models.ID("500"), transcript[0].ID)
	assert.Equal(t, pending.ClientID, transcript[0].ClientID)

	bob, _ := r.Conversation("c42")
	assert.Zero(t, bob.UnreadCount)
}

// Tests the private scenario: participant 42, self 7, then a repeated
// payload without id 100ms later.
func TestReconciler_ScenarioPrivate(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	openPrivate(t, r, privateConv("c42", "42", "bob"))

	msg := models.Message{SenderID: "42", ReceiverID: "7", Content: "hi",
		Timestamp: ts(t, "2024-01-01T10:00:00Z")}
	r.ApplyIncomingMessage(msg, models.KindPrivate)

	transcript := r.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, "hi", transcript[0].Content)
	assert.Equal(t, models.ID("42"), transcript[0].SenderID)

	bob, ok := r.FindByKey(models.ConversationKey{Kind: models.KindPrivate, Ref: "42"})
	require.True(t, ok)
	assert.Equal(t, "hi", bob.LastMessage)

	again := msg
	again.Timestamp = models.NewTimestamp(msg.Timestamp.Add(100 * time.Millisecond))
	r.ApplyIncomingMessage(again, models.KindPrivate)
	assert.Len(t, r.Transcript(), 1)
}

// Tests the team scenario: no open chat, a TEAM message for team 9.
func TestReconciler_ScenarioTeamNoOpenChat(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	r.MergeServerConversationList([]models.Conversation{teamConv("t9", "9", "ops")}, true)

	r.ApplyIncomingMessage(models.Message{Sender: "bob", SenderID: "bob", TeamID: "9",
		Content: "deploy done"}, models.KindTeam)

	ops, _ := r.Conversation("t9")
	assert.Equal(t, "deploy done", ops.LastMessage)
	assert.False(t, ops.LastMessageTime.IsZero())
	assert.Empty(t, r.Transcript())
	_, open := r.OpenChat()
	assert.False(t, open)
}

// Tests that sidebar ordering is most recent first.
func TestReconciler_ConversationsSorted(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeFetcher{})
	at := ts(t, "2024-01-01T10:00:00Z")
	older, newer := privateConv("a", "1", "x"), privateConv("b", "2", "y")
	older.LastMessageTime = at
	newer.LastMessageTime = models.NewTimestamp(at.Add(time.Minute))
	r.MergeServerConversationList([]models.Conversation{older, newer, teamConv("c", "9", "z")}, true)

	list := r.Conversations()
	require.Len(t, list, 3)
	assert.Equal(t, models.ID("b"), list[0].ID)
	assert.Equal(t, models.ID("a"), list[1].ID)
	assert.Equal(t, models.ID("c"), list[2].ID)
}

// Tests connectivity notifications are emitted only on change.
func TestReconciler_SetConnected(t *testing.T) {
	r, _, rec := newTestReconciler(t, &fakeFetcher{})
	r.SetConnected(true)
	r.SetConnected(true)
	r.SetConnected(false)

	assert.False(t, r.Connected())
	assert.Equal(t, 2, rec.count(func(e Event) bool {
		_, ok := e.(ConnectionChanged)
		return ok
	}))
}

// Tests that closing the chat releases the team subscription.
func TestReconciler_CloseConversation(t *testing.T) {
	r, subs, _ := newTestReconciler(t, &fakeFetcher{})
	require.NoError(t, r.OpenConversation(context.Background(), teamConv("t9", "9", "ops")))

	r.CloseConversation()
	_, open := r.OpenChat()
	assert.False(t, open)
	assert.Empty(t, subs.active)
}

// Tests that ChanObserver drops instead of blocking when full.
func TestChanObserver_NonBlocking(t *testing.T) {
	o := NewChanObserver(1)
	o.Notify(ConversationsUpdated{})
	o.Notify(ConversationsUpdated{})

	assert.Len(t, o.Events(), 1)
}

// Tests that a closed ChanObserver ends its channel and ignores later events.
func TestChanObserver_Close(t *testing.T) {
	o := NewChanObserver(4)
	o.Notify(ConversationsUpdated{})
	o.Close()
	o.Close()
	o.Notify(ConversationsUpdated{})

	_, ok := <-o.Events()
	assert.True(t, ok)
	_, ok = <-o.Events()
	assert.False(t, ok)
}
