package reconciler

import (
	"sync"

	jww "github.com/spf13/jwalterweatherman"

	"github.com/saravenpi/huddle/internal/models"
)

// Event is a state change published to the renderer.
type Event interface {
	event()
}

// MessageReceived is emitted for every accepted incoming message. Displayed
// is true when the message was added to the open transcript.
type MessageReceived struct {
	Message   models.Message
	Displayed bool
}

// ConversationsUpdated is emitted whenever the sidebar cache changes.
type ConversationsUpdated struct{}

// PresenceChanged is emitted when a user's online state changes.
type PresenceChanged struct {
	Username string
	Online   bool
}

// TranscriptChanged is emitted when the open transcript is replaced or
// reordered without a new message, e.g. after a history load.
type TranscriptChanged struct {
	ChatID models.ID
}

// ConnectionChanged reports push channel connectivity.
type ConnectionChanged struct {
	Connected bool
}

// ErrorOccurred reports a recoverable failure for inline display.
type ErrorOccurred struct {
	Op  string
	Err error
}

func (MessageReceived) event()      {}
func (ConversationsUpdated) event() {}
func (PresenceChanged) event()      {}
func (TranscriptChanged) event()    {}
func (ConnectionChanged) event()    {}
func (ErrorOccurred) event()        {}

// Observer receives events. Notify must not block and must not call back
// into the Reconciler.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

// ChanObserver delivers events on a buffered channel, dropping them when the
// consumer falls behind. After Close the channel is closed and further events
// are discarded.
type ChanObserver struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func NewChanObserver(buffer int) *ChanObserver {
	return &ChanObserver{ch: make(chan Event, buffer)}
}

func (o *ChanObserver) Notify(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	select {
	case o.ch <- e:
	default:
		jww.WARN.Printf("Event buffer full, dropping %T", e)
	}
}

// Close closes the event channel. It is safe to call twice.
func (o *ChanObserver) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

// Events returns the receive side of the channel.
func (o *ChanObserver) Events() <-chan Event { return o.ch }

type nopObserver struct{}

func (nopObserver) Notify(Event) {}
