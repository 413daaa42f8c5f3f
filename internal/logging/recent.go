package logging

import (
	"io"
	"sync"

	"github.com/armon/circbuf"
	jww "github.com/spf13/jwalterweatherman"
)

// Recent keeps the newest log output in memory, overwriting the oldest bytes
// once the buffer is full. It is printed when the UI exits with an error,
// since the alt-screen hides everything that was logged while it ran.
type Recent struct {
	threshold jww.Threshold
	mu        sync.Mutex
	b         *circbuf.Buffer
}

// NewRecent returns a buffer holding at most maxSize bytes of logs at or
// above threshold.
func NewRecent(threshold jww.Threshold, maxSize int) (*Recent, error) {
	b, err := circbuf.NewBuffer(int64(maxSize))
	if err != nil {
		return nil, err
	}
	return &Recent{threshold: threshold, b: b}, nil
}

// Listen adheres to jwalterweatherman.LogListener.
func (r *Recent) Listen(t jww.Threshold) io.Writer {
	if t < r.threshold {
		return nil
	}
	return r
}

func (r *Recent) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.b.Write(p)
}

// Bytes returns a copy of the buffered logs.
func (r *Recent) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.b.Bytes()))
	copy(out, r.b.Bytes())
	return out
}

// Register installs r as the jww log listener.
func (r *Recent) Register() {
	jww.SetLogListeners(r.Listen)
}
