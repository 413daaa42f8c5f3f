package stomp

import (
	"github.com/go-stomp/stomp/v3/frame"
	jww "github.com/spf13/jwalterweatherman"
)

// Subscription is an active SUBSCRIBE on a Conn.
type Subscription struct {
	id          string
	destination string
	handler     Handler
	conn        *Conn
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Destination() string { return s.destination }

// Unsubscribe stops delivery and sends UNSUBSCRIBE. Calling it twice, or
// after the connection closed, is a no-op.
func (s *Subscription) Unsubscribe() error {
	if !s.conn.forget(s.id) {
		return nil
	}

	jww.DEBUG.Printf("Unsubscribing %s from %s", s.id, s.destination)
	err := s.conn.write(frame.New(frame.UNSUBSCRIBE, frame.Id, s.id))
	if err == ErrClosed {
		return nil
	}
	return err
}
