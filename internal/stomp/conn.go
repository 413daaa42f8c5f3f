// Package stomp carries STOMP 1.2 frames over a WebSocket, one frame per
// WebSocket message, as spoken by Spring's /ws endpoint.
package stomp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("stomp connection closed")

// UsernameHeader carries the principal on CONNECT; the server authenticates
// the session from it.
const UsernameHeader = "username"

// Options configure Dial.
type Options struct {
	Username       string
	HeartBeat      time.Duration
	ConnectTimeout time.Duration
	Header         http.Header
}

// Message is a MESSAGE frame delivered to a subscription.
type Message struct {
	Destination  string
	Subscription string
	Body         []byte
}

// Handler consumes messages in delivery order on the reader goroutine.
type Handler func(msg Message)

// Conn is a STOMP session.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]*Subscription
	nextID atomic.Uint64

	closed    chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial opens the WebSocket at rawURL and performs the STOMP handshake.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid websocket url %q", rawURL)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.ConnectTimeout,
		Subprotocols:     []string{"v12.stomp", "v11.stomp", "v10.stomp"},
	}
	ws, _, err := dialer.DialContext(ctx, rawURL, opts.Header)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", rawURL)
	}

	c := &Conn{
		ws:     ws,
		subs:   make(map[string]*Subscription),
		closed: make(chan struct{}),
	}

	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2,1.1,1.0",
		frame.Host, u.Hostname(),
		frame.HeartBeat, heartBeatHeader(opts.HeartBeat))
	if opts.Username != "" {
		connect.Header.Add(UsernameHeader, opts.Username)
	}

	if err = c.write(connect); err != nil {
		_ = ws.Close()
		return nil, err
	}

	deadline := time.Now().Add(opts.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	connected, err := c.awaitConnected(deadline)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	serverSend, serverWants, err := frame.ParseHeartBeat(
		connected.Header.Get(frame.HeartBeat))
	if err != nil {
		serverSend, serverWants = 0, 0
	}
	jww.INFO.Printf("STOMP connected to %s (version %s, heart-beat %s/%s)",
		rawURL, connected.Header.Get(frame.Version), serverSend, serverWants)

	if opts.HeartBeat > 0 && serverWants > 0 {
		interval := opts.HeartBeat
		if serverWants > interval {
			interval = serverWants
		}
		go c.heartBeatLoop(interval)
	}

	var readTimeout time.Duration
	if opts.HeartBeat > 0 && serverSend > 0 {
		readTimeout = 3 * max(opts.HeartBeat, serverSend)
	}
	go c.readLoop(readTimeout)

	return c, nil
}

func heartBeatHeader(d time.Duration) string {
	ms := strconv.FormatInt(d.Milliseconds(), 10)
	return ms + "," + ms
}

func (c *Conn) awaitConnected(deadline time.Time) (*frame.Frame, error) {
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return nil, errors.WithStack(err)
	}
	defer func() { _ = c.ws.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read CONNECTED frame")
		}
		frames, err := decode(data)
		if err != nil {
			return nil, err
		}
		for _, f := range frames {
			switch f.Command {
			case frame.CONNECTED:
				return f, nil
			case frame.ERROR:
				return nil, errors.Errorf("connect rejected: %s %s",
					f.Header.Get(frame.Message), f.Body)
			}
		}
	}
}

// Subscribe registers handler for destination.
func (c *Conn) Subscribe(destination string, handler Handler) (*Subscription, error) {
	sub := &Subscription{
		id:          "sub-" + strconv.FormatUint(c.nextID.Add(1), 10),
		destination: destination,
		handler:     handler,
		conn:        c,
	}

	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()

	f := frame.New(frame.SUBSCRIBE,
		frame.Id, sub.id,
		frame.Destination, destination,
		frame.Ack, "auto")
	if err := c.write(f); err != nil {
		c.forget(sub.id)
		return nil, err
	}

	jww.DEBUG.Printf("Subscribed %s to %s", sub.id, destination)
	return sub, nil
}

// Send marshals body as JSON and sends it to destination.
func (c *Conn) Send(destination string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal body for %s", destination)
	}

	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, "application/json;charset=UTF-8",
		frame.ContentLength, strconv.Itoa(len(data)))
	f.Body = data

	jww.TRACE.Printf("SEND %s %s", destination, data)
	return c.write(f)
}

// Done is closed when the connection terminates for any reason.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Err returns the reason the connection terminated; nil after Close.
func (c *Conn) Err() error {
	select {
	case <-c.closed:
		return c.err
	default:
		return nil
	}
}

// Close sends DISCONNECT and closes the socket. It is safe to call more than
// once.
func (c *Conn) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
	}

	if err := c.write(frame.New(frame.DISCONNECT)); err != nil {
		jww.DEBUG.Printf("DISCONNECT not delivered: %+v", err)
	}
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.closed)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()

		c.mu.Lock()
		c.subs = make(map[string]*Subscription)
		c.mu.Unlock()

		if err != nil {
			jww.WARN.Printf("STOMP connection lost: %+v", err)
		}
	})
}

func (c *Conn) write(f *frame.Frame) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	data, err := encode(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err = c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrapf(err, "failed to write %s frame", f.Command)
	}
	return nil
}

func (c *Conn) readLoop(timeout time.Duration) {
	for {
		if timeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.shutdown(errors.Wrap(err, "read failed"))
			}
			return
		}

		frames, err := decode(data)
		if err != nil {
			jww.WARN.Printf("Dropping undecodable STOMP data: %+v", err)
			continue
		}
		for _, f := range frames {
			c.dispatch(f)
		}
	}
}

func (c *Conn) dispatch(f *frame.Frame) {
	switch f.Command {
	case frame.MESSAGE:
		id := f.Header.Get(frame.Subscription)
		c.mu.Lock()
		sub := c.subs[id]
		c.mu.Unlock()
		if sub == nil {
			jww.TRACE.Printf("MESSAGE for unknown subscription %q dropped", id)
			return
		}
		jww.TRACE.Printf("MESSAGE %s %s", sub.destination, f.Body)
		sub.handler(Message{
			Destination:  f.Header.Get(frame.Destination),
			Subscription: id,
			Body:         f.Body,
		})

	case frame.ERROR:
		c.shutdown(errors.Errorf("broker error: %s %s",
			f.Header.Get(frame.Message), f.Body))

	default:
		jww.TRACE.Printf("Ignoring %s frame", f.Command)
	}
}

func (c *Conn) heartBeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteMessage(websocket.TextMessage, []byte("\n"))
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown(errors.Wrap(err, "heart-beat failed"))
				return
			}
		}
	}
}

func (c *Conn) forget(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[id]; !ok {
		return false
	}
	delete(c.subs, id)
	return true
}

// encode renders a single frame; a nil frame is a heart-beat.
func encode(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, errors.Wrap(err, "failed to encode frame")
	}
	return buf.Bytes(), nil
}

// decode returns every frame in one WebSocket message, skipping heart-beats.
func decode(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return frames, errors.Wrap(err, "failed to decode frame")
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
}
