// Package session turns the operator's held inputs into the command stream
// the receiver expects: one command per input change, repeats while the
// input is held, a single idle on release and keep-alives while idle.
package session

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/thiefmaster/carcontroller/comm"
	"github.com/thiefmaster/carcontroller/drive"
)

const (
	DefaultRepeatInterval    = 100 * time.Millisecond
	DefaultKeepAliveInterval = 3 * time.Second
)

var (
	ErrNotConnected    = comm.ErrNotConnected
	ErrSpeedOutOfRange = errors.New("speed out of range")
	ErrUnknownLight    = errors.New("unknown light")
	ErrStopped         = errors.New("session stopped")
)

type Options struct {
	RepeatInterval    time.Duration
	KeepAliveInterval time.Duration
	Clock             clock.Clock
	Logger            *zap.SugaredLogger
	// OnLinkLost is called from the session loop when a write shows that
	// the link is gone. It must not block.
	OnLinkLost func(ch comm.Channel, err error)
	// OnChange is called from the session loop whenever the snapshot
	// changes. It must not block.
	OnChange func(Snapshot)
}

// Snapshot is a copy of the session state for display.
type Snapshot struct {
	Connected   bool             `json:"connected"`
	LinkID      string           `json:"linkId,omitempty"`
	Input       drive.InputState `json:"input"`
	LastCommand drive.Command    `json:"lastCommand"`
	Sending     bool             `json:"sending"`
	KeepAlive   bool             `json:"keepAlive"`
	Lights      Lights           `json:"lights"`
}

type requestType int

const (
	reqInput requestType = iota
	reqRelease
	reqLight
	reqSpeed
	reqConnect
	reqDisconnect
	reqSnapshot
)

type request struct {
	Type      requestType
	Direction drive.Direction
	Active    bool
	Light     comm.Light
	Motor     comm.Motor
	Speed     uint8
	Channel   comm.Channel
	Reply     chan response
}

type response struct {
	input    drive.InputState
	on       bool
	snapshot Snapshot
	err      error
}

// Session owns the command state of one operator. All state lives on the
// goroutine running Run; the exported methods hand requests to it and wait
// for the transition to complete.
type Session struct {
	opts     Options
	logger   *zap.SugaredLogger
	requests chan request
	done     chan struct{}

	// owned by the loop
	ch          comm.Channel
	linkID      string
	tracker     drive.Tracker
	lastCommand drive.Command
	lights      Lights
	repeat      *clock.Ticker
	repeatC     <-chan time.Time
	keepAlive   *clock.Ticker
	keepAliveC  <-chan time.Time
	published   Snapshot
}

func New(opts Options) *Session {
	if opts.RepeatInterval <= 0 {
		opts.RepeatInterval = DefaultRepeatInterval
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Session{
		opts:     opts,
		logger:   opts.Logger,
		requests: make(chan request),
		done:     make(chan struct{}),
	}
}

// Run processes requests and timer ticks until ctx is done.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	defer s.reset()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			req.Reply <- s.handle(req)
		case <-s.repeatC:
			s.onRepeat()
		case <-s.keepAliveC:
			s.onKeepAlive()
		}
		s.publish()
	}
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) call(req request) response {
	req.Reply = make(chan response, 1)
	select {
	case s.requests <- req:
	case <-s.done:
		return response{err: ErrStopped}
	}
	return <-req.Reply
}

// SetInput marks one direction as held or released and returns the
// resulting input state. Without a link the input is tracked but nothing is
// sent.
func (s *Session) SetInput(d drive.Direction, active bool) (drive.InputState, error) {
	resp := s.call(request{Type: reqInput, Direction: d, Active: active})
	return resp.input, resp.err
}

// ReleaseAll releases every held direction.
func (s *Session) ReleaseAll() error {
	return s.call(request{Type: reqRelease}).err
}

// ToggleLight flips a light and returns its new state.
func (s *Session) ToggleLight(which comm.Light) (bool, error) {
	resp := s.call(request{Type: reqLight, Light: which})
	return resp.on, resp.err
}

// SetSpeed sends a speed value for one motor. Values must be in 0..255.
func (s *Session) SetSpeed(m comm.Motor, value int) error {
	if value < 0 || value > 255 {
		return errors.Wrapf(ErrSpeedOutOfRange, "%d", value)
	}
	return s.call(request{Type: reqSpeed, Motor: m, Speed: uint8(value)}).err
}

func (s *Session) Snapshot() Snapshot {
	return s.call(request{Type: reqSnapshot}).snapshot
}

// Connect starts a new link lifetime on ch.
func (s *Session) Connect(ch comm.Channel) {
	s.call(request{Type: reqConnect, Channel: ch})
}

// Disconnect ends the current link lifetime. Nothing is written.
func (s *Session) Disconnect() {
	s.call(request{Type: reqDisconnect})
}

func (s *Session) handle(req request) response {
	switch req.Type {
	case reqInput:
		input := s.tracker.Set(req.Direction, req.Active)
		if s.ch != nil {
			s.evaluate()
		}
		return response{input: input}
	case reqRelease:
		s.tracker.Reset()
		if s.ch != nil {
			s.evaluate()
		}
		return response{}
	case reqLight:
		return s.toggleLight(req.Light)
	case reqSpeed:
		if s.ch == nil {
			return response{err: ErrNotConnected}
		}
		return response{err: s.send(comm.NewSpeedCommand(req.Motor, req.Speed))}
	case reqConnect:
		s.connect(req.Channel)
		return response{}
	case reqDisconnect:
		if s.ch != nil {
			s.logger.Infow("link disconnected", "link", s.linkID)
		}
		s.reset()
		return response{}
	case reqSnapshot:
		return response{snapshot: s.snapshot()}
	}
	return response{err: errors.Errorf("unknown request %d", req.Type)}
}

func (s *Session) connect(ch comm.Channel) {
	s.reset()
	s.ch = ch
	s.linkID = uuid.NewString()
	s.logger.Infow("link connected", "link", s.linkID)
	s.keepAlive = s.opts.Clock.Ticker(s.opts.KeepAliveInterval)
	s.keepAliveC = s.keepAlive.C
	s.send(idle())
}

// reset stops both timers before touching anything else.
func (s *Session) reset() {
	s.stopRepeat()
	if s.keepAlive != nil {
		s.keepAlive.Stop()
		s.keepAlive = nil
		s.keepAliveC = nil
	}
	s.ch = nil
	s.linkID = ""
	s.tracker.Reset()
	s.lastCommand = 0
	s.lights = Lights{}
}

func (s *Session) startRepeat() {
	s.stopRepeat()
	s.repeat = s.opts.Clock.Ticker(s.opts.RepeatInterval)
	s.repeatC = s.repeat.C
}

func (s *Session) stopRepeat() {
	if s.repeat == nil {
		return
	}
	s.repeat.Stop()
	s.repeat = nil
	s.repeatC = nil
}

// evaluate runs after every input change while connected.
func (s *Session) evaluate() {
	cmd, ok := drive.Encode(s.tracker.State())
	if !ok {
		if s.repeat == nil {
			return
		}
		s.stopRepeat()
		s.lastCommand = drive.CmdIdle
		s.send(idle())
		return
	}
	if cmd == s.lastCommand {
		return
	}
	s.lastCommand = cmd
	s.startRepeat()
	s.send(comm.NewMoveCommand(cmd.Symbol()))
}

func (s *Session) onRepeat() {
	if s.ch == nil {
		return
	}
	cmd, ok := drive.Encode(s.tracker.State())
	if !ok || cmd != s.lastCommand {
		return
	}
	s.send(comm.NewMoveCommand(cmd.Symbol()))
}

func (s *Session) onKeepAlive() {
	if s.ch == nil || s.repeat != nil {
		return
	}
	s.send(idle())
}

func (s *Session) toggleLight(which comm.Light) response {
	if s.ch == nil {
		return response{err: ErrNotConnected}
	}
	on, err := s.lights.toggle(which)
	if err != nil {
		return response{err: err}
	}
	if err := s.send(comm.NewLightCommand(which, on)); err != nil {
		return response{on: on, err: err}
	}
	return response{on: on}
}

// send writes one command. Failures are never retried; a failure that means
// the link is gone ends the link lifetime.
func (s *Session) send(cmd comm.Command) error {
	ch := s.ch
	if ch == nil {
		return ErrNotConnected
	}
	err := comm.Send(ch, cmd)
	if err == nil {
		s.logger.Debugf("sent %s", cmd)
		return nil
	}
	if errors.Is(err, comm.ErrLinkGone) {
		s.logger.Warnw("link lost while sending", "command", cmd.String(), "link", s.linkID, "error", err)
		s.reset()
		if s.opts.OnLinkLost != nil {
			s.opts.OnLinkLost(ch, err)
		}
		return err
	}
	s.logger.Warnf("sending %s failed: %v", cmd, err)
	return err
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Connected:   s.ch != nil,
		LinkID:      s.linkID,
		Input:       s.tracker.State(),
		LastCommand: s.lastCommand,
		Sending:     s.repeat != nil,
		KeepAlive:   s.keepAlive != nil,
		Lights:      s.lights,
	}
}

func (s *Session) publish() {
	snap := s.snapshot()
	if snap == s.published {
		return
	}
	s.published = snap
	if s.opts.OnChange != nil {
		s.opts.OnChange(snap)
	}
}

func idle() comm.Command {
	return comm.NewMoveCommand(drive.CmdIdle.Symbol())
}
