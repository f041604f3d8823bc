package comm

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultMaxRetryDelay = 10 * time.Second
)

// Manager keeps a link to the receiver up. It dials, hands the link to its
// Handler and redials once the link is lost.
type Manager struct {
	dialer  Dialer
	handler Handler
	logger  *zap.SugaredLogger
	clock   clock.Clock

	retryDelay    time.Duration
	maxRetryDelay time.Duration

	dropC chan drop

	lock    sync.Mutex
	current Link
}

type drop struct {
	ch  Channel
	err error
}

type ManagerOption func(*Manager)

func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

func WithRetryDelay(initial, max time.Duration) ManagerOption {
	return func(m *Manager) {
		m.retryDelay = initial
		m.maxRetryDelay = max
	}
}

func NewManager(dialer Dialer, handler Handler, logger *zap.SugaredLogger, opts ...ManagerOption) *Manager {
	m := &Manager{
		dialer:        dialer,
		handler:       handler,
		logger:        logger,
		clock:         clock.New(),
		retryDelay:    DefaultRetryDelay,
		maxRetryDelay: DefaultMaxRetryDelay,
		dropC:         make(chan drop, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxRetryDelay < m.retryDelay {
		m.maxRetryDelay = m.retryDelay
	}
	return m
}

// Drop reports that ch is unusable. Reports for a channel that is no longer
// the current link are ignored.
func (m *Manager) Drop(ch Channel, err error) {
	select {
	case m.dropC <- drop{ch: ch, err: err}:
	default:
	}
}

// Connected reports whether a link is currently handed to the handler.
func (m *Manager) Connected() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.current != nil
}

// Loop runs until ctx is done.
func (m *Manager) Loop(ctx context.Context) {
	m.logger.Info("link manager started")
	delay := m.retryDelay
	for {
		connected := m.runUntilSomethingBadHappens(ctx)
		if ctx.Err() != nil {
			m.logger.Info("link manager stopped")
			return
		}
		if connected {
			delay = m.retryDelay
		}
		m.logger.Infof("reconnecting in %v", delay)
		select {
		case <-ctx.Done():
			m.logger.Info("link manager stopped")
			return
		case <-m.clock.After(delay):
		}
		if !connected {
			delay *= 2
			if delay > m.maxRetryDelay {
				delay = m.maxRetryDelay
			}
		}
	}
}

func (m *Manager) runUntilSomethingBadHappens(ctx context.Context) bool {
	link, err := m.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warnf("could not connect: %v", err)
		}
		return false
	}
	m.logger.Infof("connected to %s", link.Name())

	m.drainDrops()
	m.lock.Lock()
	m.current = link
	m.lock.Unlock()
	m.handler.Connect(link)

	defer func() {
		m.lock.Lock()
		m.current = nil
		m.lock.Unlock()
		m.handler.Disconnect()
		if err := link.Close(); err != nil {
			m.logger.Debugf("closing %s: %v", link.Name(), err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.logger.Infof("disconnecting from %s", link.Name())
			return true
		case <-link.Done():
			m.logger.Warnf("lost connection to %s: %v", link.Name(), link.Err())
			return true
		case d := <-m.dropC:
			if d.ch != Channel(link) {
				m.logger.Debug("ignoring drop of a stale link")
				continue
			}
			m.logger.Warnf("lost connection to %s: %v", link.Name(), d.err)
			return true
		}
	}
}

func (m *Manager) drainDrops() {
	for {
		select {
		case <-m.dropC:
		default:
			return
		}
	}
}
