package apis

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/thiefmaster/eventsource"
	"go.uber.org/zap"

	"github.com/thiefmaster/carcontroller/session"
)

const stateChannel = "state"

type stateEvent struct {
	id   string
	data string
}

func (e *stateEvent) Id() string    { return e.id }
func (e *stateEvent) Event() string { return stateChannel }
func (e *stateEvent) Data() string  { return e.data }

// Events streams session snapshots as server-sent events. New subscribers
// first receive the latest snapshot.
type Events struct {
	srv    *eventsource.Server
	logger *zap.SugaredLogger
	notify chan struct{}

	lock   sync.Mutex
	seq    uint64
	latest *stateEvent
	sent   *stateEvent
}

func NewEvents(logger *zap.SugaredLogger) *Events {
	srv := eventsource.NewServer()
	srv.ReplayAll = true
	e := &Events{
		srv:    srv,
		logger: logger,
		notify: make(chan struct{}, 1),
	}
	srv.Register(stateChannel, e)
	return e
}

// Update records a new snapshot. It never blocks, so it can be used as the
// session's change callback; rapid updates are coalesced.
func (e *Events) Update(snap session.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		e.logger.Errorf("could not marshal state: %v", err)
		return
	}
	e.lock.Lock()
	e.seq++
	e.latest = &stateEvent{id: strconv.FormatUint(e.seq, 10), data: string(data)}
	e.lock.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Replay implements eventsource.Repository.
func (e *Events) Replay(channel, id string) chan eventsource.Event {
	out := make(chan eventsource.Event, 1)
	e.lock.Lock()
	if e.latest != nil && e.latest.id != id {
		out <- e.latest
	}
	e.lock.Unlock()
	close(out)
	return out
}

// Run publishes updates until ctx is done, then shuts the stream down.
func (e *Events) Run(ctx context.Context) {
	defer e.srv.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.notify:
			e.lock.Lock()
			ev := e.latest
			if ev == e.sent {
				ev = nil
			}
			e.sent = e.latest
			e.lock.Unlock()
			if ev != nil {
				e.srv.Publish([]string{stateChannel}, ev)
			}
		}
	}
}

func (e *Events) Handler() http.HandlerFunc {
	return e.srv.Handler(stateChannel)
}
