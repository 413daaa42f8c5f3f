// Package stomptest provides an in-process STOMP-over-WebSocket broker for
// tests.
package stomptest

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Broker accepts STOMP clients, records every frame they send and lets the
// test publish MESSAGE frames to their subscriptions.
type Broker struct {
	URL string

	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*brokerConn]struct{}
	received []*frame.Frame
	nextMsg  int
	reject   string
}

type brokerConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]string // subscription id -> destination
}

// NewBroker starts a broker that is shut down when the test ends.
func NewBroker(t testing.TB) *Broker {
	b := &Broker{conns: make(map[*brokerConn]struct{})}
	b.upgrader = websocket.Upgrader{
		Subprotocols: []string{"v12.stomp"},
		CheckOrigin:  func(*http.Request) bool { return true },
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	b.URL = "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws/websocket"
	t.Cleanup(b.Close)
	return b
}

// RejectConnect makes subsequent CONNECT frames fail with an ERROR frame.
func (b *Broker) RejectConnect(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reject = reason
}

func (b *Broker) Close() {
	b.DropConnections()
	b.srv.Close()
}

// DropConnections closes every client socket without a DISCONNECT.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	conns := make([]*brokerConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
}

// Connections returns the number of live STOMP sessions.
func (b *Broker) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Subscribers returns how many live subscriptions target destination.
func (b *Broker) Subscribers(destination string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for c := range b.conns {
		for _, dest := range c.subs {
			if dest == destination {
				n++
			}
		}
	}
	return n
}

// Frames returns every frame received so far with the given command.
func (b *Broker) Frames(command string) []*frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*frame.Frame
	for _, f := range b.received {
		if f.Command == command {
			out = append(out, f)
		}
	}
	return out
}

// Sent returns the bodies of SEND frames addressed to destination.
func (b *Broker) Sent(destination string) [][]byte {
	var out [][]byte
	for _, f := range b.Frames(frame.SEND) {
		if f.Header.Get(frame.Destination) == destination {
			out = append(out, f.Body)
		}
	}
	return out
}

// Publish delivers body, JSON-encoded unless it is already []byte, to every
// subscription on destination. It returns the number of deliveries.
func (b *Broker) Publish(destination string, body any) int {
	data, ok := body.([]byte)
	if !ok {
		var err error
		if data, err = json.Marshal(body); err != nil {
			panic(err)
		}
	}

	b.mu.Lock()
	type target struct {
		conn *brokerConn
		id   string
	}
	var targets []target
	for c := range b.conns {
		for id, dest := range c.subs {
			if dest == destination {
				targets = append(targets, target{c, id})
			}
		}
	}
	b.mu.Unlock()

	for _, tg := range targets {
		b.mu.Lock()
		b.nextMsg++
		msgID := "m-" + strconv.Itoa(b.nextMsg)
		b.mu.Unlock()

		f := frame.New(frame.MESSAGE,
			frame.Subscription, tg.id,
			frame.Destination, destination,
			frame.MessageId, msgID,
			frame.ContentType, "application/json")
		f.Body = data
		_ = tg.conn.send(f)
	}
	return len(targets)
}

func (b *Broker) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &brokerConn{ws: ws, subs: make(map[string]string)}
	defer func() {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		reader := frame.NewReader(bytes.NewReader(data))
		for {
			f, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return
			}
			if f == nil {
				continue
			}
			if !b.handle(c, f) {
				return
			}
		}
	}
}

func (b *Broker) handle(c *brokerConn, f *frame.Frame) bool {
	b.mu.Lock()
	b.received = append(b.received, f)
	reject := b.reject
	b.mu.Unlock()

	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		if reject != "" {
			_ = c.send(frame.New(frame.ERROR, frame.Message, reject))
			return false
		}
		b.mu.Lock()
		b.conns[c] = struct{}{}
		b.mu.Unlock()
		return c.send(frame.New(frame.CONNECTED,
			frame.Version, "1.2",
			frame.HeartBeat, "0,0")) == nil

	case frame.SUBSCRIBE:
		b.mu.Lock()
		c.subs[f.Header.Get(frame.Id)] = f.Header.Get(frame.Destination)
		b.mu.Unlock()

	case frame.UNSUBSCRIBE:
		b.mu.Lock()
		delete(c.subs, f.Header.Get(frame.Id))
		b.mu.Unlock()

	case frame.DISCONNECT:
		return false
	}
	return true
}

func (c *brokerConn) send(f *frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, buf.Bytes())
}
