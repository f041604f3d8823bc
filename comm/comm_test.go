package comm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
)

func TestCommandBytes(t *testing.T) {
	test.That(t, NewMoveCommand('F').Bytes(), test.ShouldResemble, []byte{'F'})
	test.That(t, NewLightCommand(LightFront, true).Bytes(), test.ShouldResemble, []byte{'U'})
	test.That(t, NewLightCommand(LightFront, false).Bytes(), test.ShouldResemble, []byte{'u'})
	test.That(t, NewLightCommand(LightBack, true).Bytes(), test.ShouldResemble, []byte{'V'})
	test.That(t, NewLightCommand(LightBack, false).Bytes(), test.ShouldResemble, []byte{'v'})
	test.That(t, NewLightCommand(LightBlink, true).Bytes(), test.ShouldResemble, []byte{'W'})
	test.That(t, NewLightCommand(LightBlink, false).Bytes(), test.ShouldResemble, []byte{'w'})
	test.That(t, NewSpeedCommand(MotorFront, 180).Bytes(), test.ShouldResemble, []byte{'S', 180})
	test.That(t, NewSpeedCommand(MotorBack, 0).Bytes(), test.ShouldResemble, []byte{'T', 0})

	test.That(t, NewSpeedCommand(MotorBack, 255).String(), test.ShouldEqual, "T=255")
	test.That(t, NewMoveCommand('X').String(), test.ShouldEqual, "X")
}

func TestParseTargets(t *testing.T) {
	l, err := ParseLight("Blink")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l, test.ShouldEqual, LightBlink)
	_, err = ParseLight("fog")
	test.That(t, err, test.ShouldNotBeNil)

	m, err := ParseMotor("back")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m, test.ShouldEqual, MotorBack)
	_, err = ParseMotor("both")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestParseMessage(t *testing.T) {
	msg := parseMessage("Command received: G")
	test.That(t, msg.Message, test.ShouldEqual, Ack)
	test.That(t, msg.Symbol, test.ShouldEqual, byte('G'))

	msg = parseMessage("Unknown command: Q")
	test.That(t, msg.Message, test.ShouldEqual, Rejected)
	test.That(t, msg.Symbol, test.ShouldEqual, byte('Q'))

	msg = parseMessage("BLE Ready")
	test.That(t, msg.Message, test.ShouldEqual, Banner)

	msg = parseMessage("received: ")
	test.That(t, msg.Message, test.ShouldEqual, invalid)
}

func TestSendWithoutChannel(t *testing.T) {
	err := Send(nil, NewMoveCommand('X'))
	test.That(t, errors.Is(err, ErrNotConnected), test.ShouldBeTrue)
}

type fakeLink struct {
	*linkState
	name string

	mu      sync.Mutex
	written []byte
	closed  bool
}

func newFakeLink(name string) *fakeLink {
	return &fakeLink{linkState: newLinkState(), name: name}
}

func (l *fakeLink) Name() string { return l.name }

func (l *fakeLink) Write(p []byte) error {
	if l.gone() {
		return errors.Wrap(ErrLinkGone, l.name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.written = append(l.written, p...)
	return nil
}

func (l *fakeLink) Close() error {
	l.fail(nil)
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeDialer struct {
	clock    clock.Clock
	failures int

	mu    sync.Mutex
	times []time.Time
	links []*fakeLink
}

func (d *fakeDialer) Dial(ctx context.Context) (Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.times = append(d.times, d.clock.Now())
	if len(d.times) <= d.failures {
		return nil, errors.New("no device")
	}
	l := newFakeLink("fake")
	d.links = append(d.links, l)
	return l, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.times)
}

func (d *fakeDialer) link(i int) *fakeLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.links[i]
}

type fakeHandler struct {
	connects    chan Channel
	disconnects chan struct{}
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		connects:    make(chan Channel, 10),
		disconnects: make(chan struct{}, 10),
	}
}

func (h *fakeHandler) Connect(ch Channel) { h.connects <- ch }
func (h *fakeHandler) Disconnect()        { h.disconnects <- struct{}{} }

func waitConnect(t *testing.T, h *fakeHandler, tick func()) Channel {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ch := <-h.connects:
			return ch
		case <-deadline:
			t.Fatal("timed out waiting for connect")
		default:
			tick()
		}
	}
}

func waitDisconnect(t *testing.T, h *fakeHandler) {
	t.Helper()
	select {
	case <-h.disconnects:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
}

func startManager(t *testing.T, m *Manager) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Loop(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestManagerRedialsAfterLinkLoss(t *testing.T) {
	mock := clock.NewMock()
	dialer := &fakeDialer{clock: mock}
	handler := newFakeHandler()
	m := NewManager(dialer, handler, zaptest.NewLogger(t).Sugar(), WithClock(mock))
	stop := startManager(t, m)

	first := waitConnect(t, handler, func() { time.Sleep(time.Millisecond) })
	test.That(t, first, test.ShouldEqual, dialer.link(0))
	test.That(t, m.Connected(), test.ShouldBeTrue)

	dialer.link(0).fail(errors.Wrap(ErrLinkGone, "unplugged"))
	waitDisconnect(t, handler)
	test.That(t, dialer.link(0).isClosed(), test.ShouldBeTrue)

	second := waitConnect(t, handler, func() { mock.Add(100 * time.Millisecond) })
	test.That(t, second, test.ShouldEqual, dialer.link(1))
	test.That(t, dialer.dials(), test.ShouldEqual, 2)

	stop()
	waitDisconnect(t, handler)
	test.That(t, dialer.link(1).isClosed(), test.ShouldBeTrue)
	test.That(t, m.Connected(), test.ShouldBeFalse)
}

func TestManagerDrop(t *testing.T) {
	mock := clock.NewMock()
	dialer := &fakeDialer{clock: mock}
	handler := newFakeHandler()
	m := NewManager(dialer, handler, zaptest.NewLogger(t).Sugar(), WithClock(mock))
	stop := startManager(t, m)
	defer stop()

	ch := waitConnect(t, handler, func() { time.Sleep(time.Millisecond) })

	m.Drop(newFakeLink("stale"), ErrLinkGone)
	select {
	case <-handler.disconnects:
		t.Fatal("stale drop disconnected the current link")
	case <-time.After(50 * time.Millisecond):
	}

	m.Drop(ch, errors.Wrap(ErrLinkGone, "write failed"))
	waitDisconnect(t, handler)
	test.That(t, dialer.link(0).isClosed(), test.ShouldBeTrue)

	waitConnect(t, handler, func() { mock.Add(100 * time.Millisecond) })
	test.That(t, dialer.dials(), test.ShouldEqual, 2)
}

func TestManagerBackoff(t *testing.T) {
	mock := clock.NewMock()
	dialer := &fakeDialer{clock: mock, failures: 4}
	handler := newFakeHandler()
	m := NewManager(dialer, handler, zaptest.NewLogger(t).Sugar(),
		WithClock(mock), WithRetryDelay(time.Second, 4*time.Second))
	stop := startManager(t, m)
	defer stop()

	waitConnect(t, handler, func() { mock.Add(100 * time.Millisecond) })
	test.That(t, dialer.dials(), test.ShouldEqual, 5)

	dialer.mu.Lock()
	times := append([]time.Time(nil), dialer.times...)
	dialer.mu.Unlock()

	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second} {
		gap := times[i+1].Sub(times[i])
		test.That(t, gap, test.ShouldBeGreaterThanOrEqualTo, want)
		test.That(t, gap, test.ShouldBeLessThan, want+500*time.Millisecond)
	}
}
