package comm

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrLinkGone marks write failures and link errors meaning the link is
	// closed for good. Test with errors.Is.
	ErrLinkGone = errors.New("link gone")
	// ErrNotConnected is returned when there is no link to write to.
	ErrNotConnected = errors.New("not connected")
)

// Channel is the write side of an established link.
type Channel interface {
	Write(p []byte) error
}

// Link is a single connection to the receiver. Done is closed once the link
// is lost; Err then reports why.
type Link interface {
	Channel
	Name() string
	Done() <-chan struct{}
	Err() error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Link, error)
}

// Handler receives link lifecycle events from a Manager.
type Handler interface {
	Connect(ch Channel)
	Disconnect()
}

func Send(ch Channel, cmd Command) error {
	if ch == nil {
		return ErrNotConnected
	}
	return ch.Write(cmd.Bytes())
}

type linkState struct {
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

func newLinkState() *linkState {
	return &linkState{done: make(chan struct{})}
}

func (s *linkState) fail(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *linkState) Done() <-chan struct{} {
	return s.done
}

func (s *linkState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *linkState) gone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// The receiver logs every command it handles; only the interesting lines
// are classified here.
const (
	ackMarker      = "received: "
	rejectedMarker = "Unknown command: "
	bannerMarker   = "Ready"
)

func parseMessage(s string) Message {
	if i := strings.Index(s, ackMarker); i >= 0 && len(s) > i+len(ackMarker) {
		return Message{Message: Ack, Symbol: s[i+len(ackMarker)], Text: s}
	} else if i := strings.Index(s, rejectedMarker); i >= 0 && len(s) > i+len(rejectedMarker) {
		return Message{Message: Rejected, Symbol: s[i+len(rejectedMarker)], Text: s}
	} else if strings.Contains(s, bannerMarker) {
		return Message{Message: Banner, Text: s}
	}
	return Message{Message: invalid, Text: s}
}
