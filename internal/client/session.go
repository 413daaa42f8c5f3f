package client

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"golang.org/x/sync/errgroup"

	"github.com/saravenpi/huddle/internal/api"
	"github.com/saravenpi/huddle/internal/config"
	"github.com/saravenpi/huddle/internal/directory"
	"github.com/saravenpi/huddle/internal/models"
	"github.com/saravenpi/huddle/internal/reconciler"
	"github.com/saravenpi/huddle/internal/session"
	"github.com/saravenpi/huddle/internal/stomp"
)

// Push destinations.
const (
	PrivateQueue    = "/user/queue/private"
	StatusTopic     = "/topic/user.status"
	PrivateRegister = "/app/private.register"
	TeamRegister    = "/app/team.register"
	PrivateSend     = "/app/private.send"
	TeamSend        = "/app/team.send"
	TeamJoin        = "/app/team.join"
	TeamLeave       = "/app/team.leave"
)

func teamQueue(teamID models.ID) string {
	return "/user/queue/team/" + teamID.String() + "/messages"
}

type registration struct {
	Username string `json:"username"`
}

type teamMembership struct {
	Username string    `json:"username"`
	TeamID   models.ID `json:"teamId"`
}

// Session is the state of one logged-in user: identity, push channel,
// reconciler and stores. Methods other than Start, Events and Close require a
// successful Start.
type Session struct {
	cfg    *config.Config
	api    *api.Client
	store  *session.Store
	dir    *directory.Directory
	events *reconciler.ChanObserver

	me  models.Identity
	rec *reconciler.Reconciler

	mu      sync.Mutex
	conn    *stomp.Conn
	teamSub *stomp.Subscription
	teamID  models.ID

	// Pushes are held in backlog until the initial conversation load has
	// been merged, so that the load does not overwrite them.
	deliverMu sync.Mutex
	loaded    bool
	backlog   []func()

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newSession(cfg *config.Config, client *api.Client, store *session.Store,
	dir *directory.Directory, username string) *Session {
	buffer := cfg.Chat.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		api:    client,
		store:  store,
		dir:    dir,
		events: reconciler.NewChanObserver(buffer),
		me:     models.Identity{Username: username},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Session) Identity() models.Identity { return s.me }

func (s *Session) Reconciler() *reconciler.Reconciler { return s.rec }

// Events delivers reconciler events to the renderer.
func (s *Session) Events() <-chan reconciler.Event { return s.events.Events() }

// Start resolves the user id and opens the push channel in parallel, then
// subscribes, registers and loads the conversation list.
func (s *Session) Start(ctx context.Context) error {
	var (
		user models.User
		conn *stomp.Conn
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.api.GetUser(gCtx, s.me.Username)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve user %s", s.me.Username)
		}
		user = u
		return nil
	})
	g.Go(func() error {
		c, err := s.dial(gCtx)
		conn = c
		return err
	})
	if err := g.Wait(); err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return err
	}

	s.me.UserID = user.ID
	if s.dir != nil {
		if err := s.dir.Remember(user); err != nil {
			jww.WARN.Printf("Failed to remember %s: %v", user.Username, err)
		}
	}

	opts := reconciler.Options{
		DedupWindow:    s.cfg.Chat.DedupWindow,
		PreviewLength:  s.cfg.Chat.PreviewLength,
		RefreshTimeout: s.cfg.Server.Timeout,
	}
	if s.dir != nil {
		opts.LookupName = s.dir.NameOf
	}
	s.rec = reconciler.New(s.me, fetcher{api: s.api}, s, s.events, opts)

	if err := s.attach(conn); err != nil {
		_ = conn.Close()
		return err
	}
	s.rec.SetConnected(true)

	if err := s.rec.Refresh(ctx, true); err != nil {
		jww.WARN.Printf("Initial conversation load failed: %+v", err)
	}
	s.flushBacklog()

	s.wg.Add(1)
	go s.watch(conn)

	jww.INFO.Printf("Session started for %s (id %s)", s.me.Username, s.me.UserID)
	return nil
}

func (s *Session) dial(ctx context.Context) (*stomp.Conn, error) {
	return stomp.Dial(ctx, s.cfg.Server.WSURL, stomp.Options{
		Username:       s.me.Username,
		HeartBeat:      s.cfg.Stomp.Heartbeat,
		ConnectTimeout: s.cfg.Stomp.ConnectTimeout,
	})
}

// attach subscribes conn to the user's destinations, registers the user and
// restores the team subscription of the open chat.
func (s *Session) attach(conn *stomp.Conn) error {
	if _, err := conn.Subscribe(PrivateQueue, s.onPrivate); err != nil {
		return errors.Wrap(err, "failed to subscribe to private messages")
	}
	if _, err := conn.Subscribe(StatusTopic, s.onStatus); err != nil {
		return errors.Wrap(err, "failed to subscribe to status updates")
	}

	reg := registration{Username: s.me.Username}
	if err := conn.Send(PrivateRegister, reg); err != nil {
		return errors.Wrap(err, "failed to register for private messages")
	}
	if err := conn.Send(TeamRegister, reg); err != nil {
		return errors.Wrap(err, "failed to register for team messages")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.teamSub = nil
	if !s.teamID.Empty() {
		return s.subscribeTeamLocked(s.teamID)
	}
	return nil
}

func (s *Session) onPrivate(msg stomp.Message) {
	var m models.Message
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		jww.WARN.Printf("Dropping undecodable private message: %v", err)
		return
	}
	s.deliver(func() {
		s.rememberSender(m)
		s.rec.ApplyIncomingMessage(m, models.KindPrivate)
	})
}

func (s *Session) onStatus(msg stomp.Message) {
	var update models.StatusUpdate
	if err := json.Unmarshal(msg.Body, &update); err != nil {
		jww.WARN.Printf("Dropping undecodable status update: %v", err)
		return
	}
	s.deliver(func() {
		s.rec.ApplyPresenceChange(update.Username, update.Online)
	})
}

// teamHandler decodes frames of one team queue. Team payloads name the
// sender only by username; the id is filled from the directory when known.
func (s *Session) teamHandler(teamID models.ID) stomp.Handler {
	return func(msg stomp.Message) {
		var m models.Message
		if err := json.Unmarshal(msg.Body, &m); err != nil {
			jww.WARN.Printf("Dropping undecodable team message: %v", err)
			return
		}
		if m.TeamID.Empty() {
			m.TeamID = teamID
		}
		if m.SenderID.Empty() {
			switch from := m.From(); {
			case from == s.me.Username:
				m.SenderID = s.me.UserID
			case s.dir != nil:
				if u, ok := s.dir.ByUsername(from); ok {
					m.SenderID = u.ID
				}
			}
		}
		s.deliver(func() {
			s.rec.ApplyIncomingMessage(m, models.KindTeam)
		})
	}
}

// deliver applies a push now, or queues it while the initial load runs.
func (s *Session) deliver(apply func()) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if !s.loaded {
		s.backlog = append(s.backlog, apply)
		return
	}
	apply()
}

// flushBacklog applies the queued pushes in arrival order and lets later
// ones through directly.
func (s *Session) flushBacklog() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if len(s.backlog) > 0 {
		jww.DEBUG.Printf("Applying %d pushes received during the initial load", len(s.backlog))
	}
	for _, apply := range s.backlog {
		apply()
	}
	s.backlog = nil
	s.loaded = true
}

func (s *Session) rememberSender(m models.Message) {
	if s.dir == nil || m.SenderID.Empty() || m.Sender == "" {
		return
	}
	if err := s.dir.Remember(models.User{ID: m.SenderID, Username: m.Sender}); err != nil {
		jww.WARN.Printf("Failed to remember %s: %v", m.Sender, err)
	}
}

// SubscribeTeam replaces the team subscription. The team is remembered while
// disconnected and subscribed on reconnect.
func (s *Session) SubscribeTeam(teamID models.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teamID = teamID
	if s.conn == nil {
		return ErrNotConnected
	}
	return s.subscribeTeamLocked(teamID)
}

func (s *Session) subscribeTeamLocked(teamID models.ID) error {
	if s.teamSub != nil {
		if err := s.teamSub.Unsubscribe(); err != nil {
			jww.WARN.Printf("Failed to drop subscription %s: %v", s.teamSub.Destination(), err)
		}
		s.teamSub = nil
	}

	sub, err := s.conn.Subscribe(teamQueue(teamID), s.teamHandler(teamID))
	if err != nil {
		return errors.Wrapf(err, "failed to subscribe to team %s", teamID)
	}
	s.teamSub = sub

	if err := s.conn.Send(TeamJoin, teamMembership{Username: s.me.Username, TeamID: teamID}); err != nil {
		return errors.Wrapf(err, "failed to join team %s", teamID)
	}
	jww.DEBUG.Printf("Subscribed to %s", sub.Destination())
	return nil
}

func (s *Session) UnsubscribeTeam() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teamID = ""
	if s.teamSub == nil {
		return nil
	}
	sub := s.teamSub
	s.teamSub = nil
	jww.DEBUG.Printf("Unsubscribing from %s", sub.Destination())
	return sub.Unsubscribe()
}

func (s *Session) connection() *stomp.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// watch waits for conn to drop and reconnects until the session closes.
func (s *Session) watch(conn *stomp.Conn) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-conn.Done():
		}
		if s.ctx.Err() != nil {
			return
		}

		jww.WARN.Printf("Push channel lost: %v", conn.Err())
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
			s.teamSub = nil
		}
		s.mu.Unlock()
		s.rec.SetConnected(false)

		next, err := s.reconnect()
		if err != nil {
			jww.INFO.Printf("Reconnect stopped: %v", err)
			return
		}
		conn = next
	}
}

// reconnect dials with capped exponential backoff, then catches up on what
// was missed while offline.
func (s *Session) reconnect() (*stomp.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.Stomp.ReconnectMin
	b.MaxInterval = s.cfg.Stomp.ReconnectMax
	b.MaxElapsedTime = 0
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}

	var conn *stomp.Conn
	operation := func() error {
		c, err := s.dial(s.ctx)
		if err != nil {
			return err
		}
		if err := s.attach(c); err != nil {
			_ = c.Close()
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		jww.WARN.Printf("Reconnect failed, retrying in %s: %v", wait, err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, s.ctx), notify); err != nil {
		return nil, err
	}

	jww.INFO.Print("Push channel restored")
	s.rec.SetConnected(true)

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Server.Timeout)
	defer cancel()
	if err := s.rec.Refresh(ctx, false); err != nil {
		jww.WARN.Printf("Refresh after reconnect failed: %+v", err)
	}
	if err := s.rec.ReloadHistory(ctx); err != nil {
		jww.WARN.Printf("History reload after reconnect failed: %+v", err)
	}
	return conn, nil
}

// Logout marks the user offline, closes the session and forgets it locally.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.api.Logout(ctx, s.me.Username); err != nil {
		jww.WARN.Printf("Logout request failed: %v", err)
	}
	s.Close()
	if s.store != nil {
		if err := s.store.Clear(); err != nil {
			return errors.Wrap(err, "failed to clear session")
		}
	}
	jww.INFO.Printf("Logged out %s", s.me.Username)
	return nil
}

// Close disconnects and stops background work. It is safe to call twice.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.teamSub = nil
		s.mu.Unlock()
		if conn != nil {
			if err := conn.Close(); err != nil {
				jww.WARN.Printf("Failed to close push channel: %v", err)
			}
		}
		s.wg.Wait()
		if s.rec != nil {
			s.rec.Close()
		}
		s.events.Close()
	})
}
