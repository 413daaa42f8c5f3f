// Package reconciler keeps the conversation sidebar, the open chat and its
// transcript consistent with the server while push messages, history loads
// and conversation list refreshes race each other.
package reconciler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aquilax/truncate"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/saravenpi/huddle/internal/models"
)

// Fetcher loads authoritative state from the server.
type Fetcher interface {
	Conversations(ctx context.Context, username string) ([]models.Conversation, error)
	History(ctx context.Context, chat models.OpenChat, username string) ([]models.Message, error)
}

// Subscriber manages the per-team push subscription. At most one team
// subscription exists at a time.
type Subscriber interface {
	SubscribeTeam(teamID models.ID) error
	UnsubscribeTeam() error
}

type Options struct {
	// DedupWindow is the timestamp tolerance for matching messages that
	// carry no id.
	DedupWindow time.Duration
	// PreviewLength bounds the sidebar preview, in runes.
	PreviewLength int
	// RefreshTimeout bounds background conversation list refreshes.
	RefreshTimeout time.Duration
	// LookupName resolves a user id to a username for placeholders.
	LookupName func(models.ID) string
	// PlaceholderRetries bounds the extra refreshes made while a placeholder
	// has not been replaced. The server may push a message before it stores
	// the conversation.
	PlaceholderRetries int
	// PlaceholderRetryDelay is the first delay between those refreshes.
	PlaceholderRetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		DedupWindow:    2 * time.Second,
		PreviewLength:  100,
		RefreshTimeout: 10 * time.Second,

		PlaceholderRetries:    4,
		PlaceholderRetryDelay: 500 * time.Millisecond,
	}
}

type Reconciler struct {
	me        models.Identity
	fetcher   Fetcher
	subs      Subscriber
	observer  Observer
	opts      Options
	validator *validator.Validate

	mu         sync.Mutex
	cache      map[models.ID]*models.Conversation
	open       *models.OpenChat
	transcript []models.Message
	connected  bool
	openSeq    uint64

	// subMu orders open chat swaps with their team subscription changes.
	subMu      sync.Mutex
	subscribed models.ID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a reconciler for the session user me. subs and observer may be
// nil.
func New(me models.Identity, fetcher Fetcher, subs Subscriber,
	observer Observer, opts Options) *Reconciler {
	defaults := DefaultOptions()
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaults.DedupWindow
	}
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = defaults.PreviewLength
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaults.RefreshTimeout
	}
	if opts.PlaceholderRetries < 0 {
		opts.PlaceholderRetries = 0
	}
	if opts.PlaceholderRetryDelay <= 0 {
		opts.PlaceholderRetryDelay = defaults.PlaceholderRetryDelay
	}
	if subs == nil {
		subs = nopSubscriber{}
	}
	if observer == nil {
		observer = nopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		me:        me,
		fetcher:   fetcher,
		subs:      subs,
		observer:  observer,
		opts:      opts,
		validator: newValidator(),
		cache:     make(map[models.ID]*models.Conversation),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (r *Reconciler) Identity() models.Identity { return r.me }

// ApplyIncomingMessage reconciles a push message of the given kind into the
// sidebar and, when it belongs to the open chat, into the transcript.
// Malformed payloads are logged and dropped.
func (r *Reconciler) ApplyIncomingMessage(msg models.Message, kind models.Kind) {
	msg.Kind = kind
	if err := r.validate(msg); err != nil {
		jww.WARN.Printf("Dropping %s message from %q: %v", kind, msg.From(), err)
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = models.NewTimestamp(time.Now())
	}

	r.mu.Lock()
	key := r.keyFor(msg)
	conv := r.findByKeyLocked(key)
	created := false
	if conv == nil {
		conv = r.placeholderLocked(key, msg)
		created = true
	}

	conv.LastMessage = r.preview(msg.Content)
	conv.LastMessageTime = msg.Timestamp
	if !r.isOpenLocked(conv) && !r.fromMe(msg) {
		conv.UnreadCount++
	}

	convID := conv.ID

	displayed := false
	if r.open != nil && r.belongsLocked(msg, kind) {
		displayed = r.insertLocked(msg)
	}
	r.mu.Unlock()

	jww.DEBUG.Printf("Reconciled %s message from %s into %s (placeholder=%t displayed=%t)",
		kind, msg.From(), convID, created, displayed)

	r.observer.Notify(ConversationsUpdated{})
	r.observer.Notify(MessageReceived{Message: msg, Displayed: displayed})

	if created {
		r.refreshAsync(key)
	}
}

// AddPending echoes an outgoing message locally before the server confirms
// it. The server echo is later matched by client id or, failing that, by the
// timestamp heuristic.
func (r *Reconciler) AddPending(msg models.Message, kind models.Kind) models.Message {
	if msg.ClientID == "" {
		msg.ClientID = uuid.NewString()
	}
	if msg.SenderID.Empty() {
		msg.SenderID = r.me.UserID
	}
	if msg.Sender == "" {
		msg.Sender = r.me.Username
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = models.NewTimestamp(time.Now())
	}
	r.ApplyIncomingMessage(msg, kind)
	return msg
}

// BelongsToOpenChat reports whether msg is part of the open conversation.
func (r *Reconciler) BelongsToOpenChat(msg models.Message, kind models.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open != nil && r.belongsLocked(msg, kind)
}

func (r *Reconciler) belongsLocked(msg models.Message, kind models.Kind) bool {
	chat := r.open
	if chat.Kind != kind {
		return false
	}

	switch kind {
	case models.KindPrivate:
		me, other := chat.MyUserID, chat.ParticipantID
		if me.Empty() || other.Empty() {
			return false
		}
		return (msg.SenderID == other && msg.ReceiverID == me) ||
			(msg.SenderID == me && msg.ReceiverID == other)
	case models.KindTeam:
		return !chat.TeamID.Empty() && msg.TeamID == chat.TeamID
	}
	return false
}

// ApplyPresenceChange updates the online flag of every private conversation
// with username, including the open chat.
func (r *Reconciler) ApplyPresenceChange(username string, online bool) {
	if username == "" {
		jww.WARN.Print("Dropping presence update without username")
		return
	}

	r.mu.Lock()
	changed := 0
	for _, c := range r.cache {
		if c.Kind != models.KindPrivate || c.ParticipantUsername != username {
			continue
		}
		state := online
		c.ParticipantOnline = &state
		changed++
	}
	if r.open != nil && r.open.Kind == models.KindPrivate &&
		r.open.ParticipantUsername == username {
		r.open.IsOnline = online
	}
	r.mu.Unlock()

	jww.DEBUG.Printf("%s is now online=%t (%d conversations)", username, online, changed)
	r.observer.Notify(PresenceChanged{Username: username, Online: online})
	if changed > 0 {
		r.observer.Notify(ConversationsUpdated{})
	}
}

// OpenConversation makes summary the open chat: the team subscription is
// swapped, unread is cleared, the transcript is reset and history is loaded.
func (r *Reconciler) OpenConversation(ctx context.Context, summary models.Conversation) error {
	var chat models.OpenChat
	if err := copier.Copy(&chat, &summary); err != nil {
		return errors.Wrap(err, "failed to build open chat")
	}
	chat.Name = summary.DisplayName()
	chat.MyUserID = r.me.UserID
	chat.IsOnline = summary.Online()

	var team models.ID
	if chat.Kind == models.KindTeam {
		team = chat.TeamID
	}

	r.subMu.Lock()
	r.mu.Lock()
	r.open = &chat
	r.transcript = nil
	r.openSeq++
	seq := r.openSeq
	if c := r.findByKeyLocked(summary.Key()); c != nil {
		c.UnreadCount = 0
	}
	r.mu.Unlock()
	r.setTeamSubscription(team)
	r.subMu.Unlock()

	r.observer.Notify(ConversationsUpdated{})
	r.observer.Notify(TranscriptChanged{ChatID: chat.ID})

	return r.loadHistory(ctx, chat, seq)
}

// setTeamSubscription moves the single team subscription to team, or drops
// it when team is empty. The caller holds subMu. The subscriber owns the
// intent even when the call fails, e.g. while disconnected.
func (r *Reconciler) setTeamSubscription(team models.ID) {
	if r.subscribed == team {
		return
	}
	if !r.subscribed.Empty() {
		if err := r.subs.UnsubscribeTeam(); err != nil {
			jww.WARN.Printf("Failed to unsubscribe from team %s: %+v", r.subscribed, err)
		}
	}
	r.subscribed = team
	if team.Empty() {
		return
	}
	if err := r.subs.SubscribeTeam(team); err != nil {
		jww.ERROR.Printf("Failed to subscribe to team %s: %+v", team, err)
		r.observer.Notify(ErrorOccurred{Op: "subscribe", Err: err})
	}
}

// ReloadHistory re-fetches the open chat's history and merges it into the
// transcript, e.g. after a reconnect.
func (r *Reconciler) ReloadHistory(ctx context.Context) error {
	r.mu.Lock()
	if r.open == nil {
		r.mu.Unlock()
		return nil
	}
	chat := *r.open
	seq := r.openSeq
	r.mu.Unlock()

	return r.loadHistory(ctx, chat, seq)
}

func (r *Reconciler) loadHistory(ctx context.Context, chat models.OpenChat, seq uint64) error {
	history, err := r.fetcher.History(ctx, chat, r.me.Username)
	if err != nil {
		jww.ERROR.Printf("Failed to load messages for %s: %+v", chat.ID, err)
		r.observer.Notify(ErrorOccurred{Op: "Failed to load messages", Err: err})
		return errors.Wrapf(err, "failed to load history of %s", chat.ID)
	}

	r.mu.Lock()
	if r.openSeq != seq {
		r.mu.Unlock()
		jww.DEBUG.Printf("Discarding stale history for %s", chat.ID)
		return nil
	}
	added := 0
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		msg.Kind = chat.Kind
		if r.insertLocked(msg) {
			added++
		}
	}
	r.mu.Unlock()

	jww.DEBUG.Printf("Loaded %d of %d history messages for %s", added, len(history), chat.ID)
	r.observer.Notify(TranscriptChanged{ChatID: chat.ID})
	return nil
}

// CloseConversation clears the open chat and releases its team subscription.
func (r *Reconciler) CloseConversation() {
	r.subMu.Lock()
	r.mu.Lock()
	prev := r.open
	r.open = nil
	r.transcript = nil
	r.openSeq++
	r.mu.Unlock()
	r.setTeamSubscription("")
	r.subMu.Unlock()

	if prev == nil {
		return
	}
	r.observer.Notify(TranscriptChanged{ChatID: prev.ID})
}

// MergeServerConversationList folds the server's list into the cache. An
// initial load replaces the cache; otherwise local entries superseded by a
// server entry for the same counterpart are dropped and server entries are
// upserted. The local unread count is kept for known conversations, and a
// local preview newer than the server's survives.
func (r *Reconciler) MergeServerConversationList(list []models.Conversation, isInitialLoad bool) {
	r.mu.Lock()
	if isInitialLoad {
		r.cache = make(map[models.ID]*models.Conversation, len(list))
		for i := range list {
			c := list[i]
			if r.isOpenLocked(&c) {
				c.UnreadCount = 0
			}
			r.cache[c.ID] = &c
		}
		r.mu.Unlock()
		jww.INFO.Printf("Loaded %d conversations", len(list))
		r.observer.Notify(ConversationsUpdated{})
		return
	}

	server := make(map[models.ConversationKey]*models.Conversation, len(list))
	for i := range list {
		server[list[i].Key()] = &list[i]
	}

	// Local entries that share a key with a different server entry are
	// superseded: placeholders, or stale ids.
	superseded := make(map[models.ID]models.Conversation)
	for id, local := range r.cache {
		srv, ok := server[local.Key()]
		if !ok || srv.ID == id {
			continue
		}
		carried := superseded[srv.ID]
		carried.UnreadCount += local.UnreadCount
		if local.LastMessageTime.After(carried.LastMessageTime.Time) {
			carried.LastMessage = local.LastMessage
			carried.LastMessageTime = local.LastMessageTime
		}
		superseded[srv.ID] = carried
		delete(r.cache, id)

		if r.open != nil && r.open.ID == id {
			r.open.ID = srv.ID
		}
		jww.DEBUG.Printf("Replaced %s with server conversation %s", id, srv.ID)
	}

	for i := range list {
		merged := list[i]
		local, known := r.cache[merged.ID]
		carried, wasCarried := superseded[merged.ID]

		switch {
		case known:
			merged.UnreadCount = local.UnreadCount + carried.UnreadCount
			if merged.ParticipantOnline == nil {
				merged.ParticipantOnline = local.ParticipantOnline
			}
			keepNewer(&merged, *local)
		case wasCarried:
			merged.UnreadCount = carried.UnreadCount
		}
		if wasCarried {
			keepNewer(&merged, carried)
		}
		if r.isOpenLocked(&merged) {
			merged.UnreadCount = 0
		}
		r.cache[merged.ID] = &merged
	}
	r.mu.Unlock()

	r.observer.Notify(ConversationsUpdated{})
}

// keepNewer keeps the local preview when it is strictly newer than the
// server's.
func keepNewer(merged *models.Conversation, local models.Conversation) {
	if local.LastMessageTime.After(merged.LastMessageTime.Time) {
		merged.LastMessage = local.LastMessage
		merged.LastMessageTime = local.LastMessageTime
	}
}

// Refresh fetches the conversation list and merges it. On failure the cache
// is left untouched.
func (r *Reconciler) Refresh(ctx context.Context, isInitialLoad bool) error {
	list, err := r.fetcher.Conversations(ctx, r.me.Username)
	if err != nil {
		r.observer.Notify(ErrorOccurred{Op: "Network error", Err: err})
		return errors.Wrap(err, "failed to load conversations")
	}
	r.MergeServerConversationList(list, isInitialLoad)
	return nil
}

var errPlaceholderPending = errors.New("placeholder not yet replaced")

// refreshAsync refreshes the conversation list in the background, retrying
// with backoff while the placeholder for key is still cached.
func (r *Reconciler) refreshAsync(key models.ConversationKey) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.PlaceholderRetryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(r.opts.PlaceholderRetries)), r.ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := backoff.Retry(func() error {
			ctx, cancel := context.WithTimeout(r.ctx, r.opts.RefreshTimeout)
			defer cancel()
			if err := r.Refresh(ctx, false); err != nil {
				return err
			}
			if r.placeholderCached(key) {
				return errPlaceholderPending
			}
			return nil
		}, policy)
		if err != nil {
			jww.WARN.Printf("Background conversation refresh for %s %s failed: %+v",
				key.Kind, key.Ref, err)
		}
	}()
}

func (r *Reconciler) placeholderCached(key models.ConversationKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.findByKeyLocked(key)
	return c != nil && c.IsPlaceholder()
}

// SetConnected records push channel connectivity.
func (r *Reconciler) SetConnected(connected bool) {
	r.mu.Lock()
	changed := r.connected != connected
	r.connected = connected
	r.mu.Unlock()

	if changed {
		r.observer.Notify(ConnectionChanged{Connected: connected})
	}
}

func (r *Reconciler) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Conversations returns the cache ordered by most recent message first.
func (r *Reconciler) Conversations() []models.Conversation {
	r.mu.Lock()
	out := make([]models.Conversation, 0, len(r.cache))
	for _, c := range r.cache {
		out = append(out, *c)
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].LastMessageTime, out[j].LastMessageTime
		if !ti.Equal(tj.Time) {
			return ti.After(tj.Time)
		}
		return out[i].DisplayName() < out[j].DisplayName()
	})
	return out
}

// Conversation returns the cached entry with the given id.
func (r *Reconciler) Conversation(id models.ID) (models.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cache[id]
	if !ok {
		return models.Conversation{}, false
	}
	return *c, true
}

// FindByKey returns the cached entry for a counterpart.
func (r *Reconciler) FindByKey(key models.ConversationKey) (models.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.findByKeyLocked(key)
	if c == nil {
		return models.Conversation{}, false
	}
	return *c, true
}

// Upsert inserts or replaces a single server-confirmed conversation.
func (r *Reconciler) Upsert(c models.Conversation) {
	r.MergeServerConversationList([]models.Conversation{c}, false)
}

// Remove drops a conversation, e.g. after leaving a team.
func (r *Reconciler) Remove(id models.ID) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
	r.observer.Notify(ConversationsUpdated{})
}

func (r *Reconciler) Transcript() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Message, len(r.transcript))
	copy(out, r.transcript)
	return out
}

func (r *Reconciler) OpenChat() (models.OpenChat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open == nil {
		return models.OpenChat{}, false
	}
	return *r.open, true
}

// Wait blocks until background refreshes finish.
func (r *Reconciler) Wait() { r.wg.Wait() }

// Close cancels background refreshes and waits for them.
func (r *Reconciler) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Reconciler) keyFor(msg models.Message) models.ConversationKey {
	if msg.Kind == models.KindTeam {
		return models.ConversationKey{Kind: models.KindTeam, Ref: msg.TeamID}
	}
	other := msg.SenderID
	if r.fromMe(msg) {
		other = msg.ReceiverID
	}
	return models.ConversationKey{Kind: models.KindPrivate, Ref: other}
}

func (r *Reconciler) fromMe(msg models.Message) bool {
	if !r.me.UserID.Empty() && !msg.SenderID.Empty() {
		return msg.SenderID == r.me.UserID
	}
	return r.me.Username != "" && msg.From() == r.me.Username
}

func (r *Reconciler) findByKeyLocked(key models.ConversationKey) *models.Conversation {
	for _, c := range r.cache {
		if c.Key() == key {
			return c
		}
	}
	return nil
}

func (r *Reconciler) isOpenLocked(c *models.Conversation) bool {
	if r.open == nil {
		return false
	}
	if r.open.ID == c.ID {
		return true
	}
	if r.open.Kind != c.Kind {
		return false
	}
	if c.Kind == models.KindTeam {
		return r.open.TeamID == c.TeamID
	}
	return r.open.ParticipantID == c.ParticipantID
}

func (r *Reconciler) placeholderLocked(key models.ConversationKey, msg models.Message) *models.Conversation {
	c := &models.Conversation{
		ID:   models.ID(models.PlaceholderPrefix + uuid.NewString()),
		Kind: key.Kind,
	}
	if key.Kind == models.KindTeam {
		c.TeamID = key.Ref
	} else {
		c.ParticipantID = key.Ref
		if !r.fromMe(msg) {
			c.ParticipantUsername = msg.From()
		} else if r.opts.LookupName != nil {
			c.ParticipantUsername = r.opts.LookupName(key.Ref)
		}
	}
	r.cache[c.ID] = c
	return c
}

func (r *Reconciler) preview(content string) string {
	return truncate.Truncate(content, r.opts.PreviewLength, "", truncate.PositionEnd)
}

// insertLocked adds msg to the transcript unless it duplicates an entry, in
// which case the entry is upgraded with any server-assigned fields. Entries
// stay ordered by timestamp; msg goes before the first strictly later entry.
func (r *Reconciler) insertLocked(msg models.Message) bool {
	for i := range r.transcript {
		if r.duplicate(r.transcript[i], msg) {
			r.confirmLocked(i, msg)
			return false
		}
	}

	pos := sort.Search(len(r.transcript), func(i int) bool {
		return r.transcript[i].Timestamp.After(msg.Timestamp.Time)
	})
	r.transcript = append(r.transcript, models.Message{})
	copy(r.transcript[pos+1:], r.transcript[pos:])
	r.transcript[pos] = msg
	return true
}

func (r *Reconciler) duplicate(existing, incoming models.Message) bool {
	if existing.ClientID != "" && incoming.ClientID != "" {
		return existing.ClientID == incoming.ClientID
	}
	if !existing.ID.Empty() && !incoming.ID.Empty() {
		return existing.ID == incoming.ID
	}
	if existing.Content != incoming.Content || !existing.SameSender(incoming) {
		return false
	}
	delta := existing.Timestamp.Sub(incoming.Timestamp.Time)
	if delta < 0 {
		delta = -delta
	}
	return delta < r.opts.DedupWindow
}

// confirmLocked copies server-assigned fields from a duplicate onto the
// pending entry it matched.
func (r *Reconciler) confirmLocked(i int, incoming models.Message) {
	existing := r.transcript[i]
	if !existing.ID.Empty() || incoming.ID.Empty() {
		return
	}

	existing.ID = incoming.ID
	if existing.ClientID == "" {
		existing.ClientID = incoming.ClientID
	}
	if existing.ReceiverID.Empty() {
		existing.ReceiverID = incoming.ReceiverID
	}
	if !incoming.Timestamp.IsZero() {
		existing.Timestamp = incoming.Timestamp
	}

	r.transcript = append(r.transcript[:i], r.transcript[i+1:]...)
	pos := sort.Search(len(r.transcript), func(j int) bool {
		return r.transcript[j].Timestamp.After(existing.Timestamp.Time)
	})
	r.transcript = append(r.transcript, models.Message{})
	copy(r.transcript[pos+1:], r.transcript[pos:])
	r.transcript[pos] = existing
}

type nopSubscriber struct{}

func (nopSubscriber) SubscribeTeam(models.ID) error { return nil }
func (nopSubscriber) UnsubscribeTeam() error        { return nil }
