package comm

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
	"go.uber.org/zap"
)

// SerialDialer opens a serial port, e.g. a BLE-UART bridge or an RFCOMM
// device bound to the receiver.
type SerialDialer struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	Logger      *zap.SugaredLogger
}

// openPort is a variable so tests can substitute the device.
var openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.OpenPort(c)
}

func (d *SerialDialer) Dial(ctx context.Context) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.Logger.Infof("opening serial port %s", d.Port)
	conn, err := openPort(&serial.Config{Name: d.Port, Baud: d.Baud, ReadTimeout: d.ReadTimeout})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open serial port %s", d.Port)
	}
	l := &serialLink{
		linkState:   newLinkState(),
		name:        d.Port,
		conn:        conn,
		logger:      d.Logger,
		readTimeout: effectiveReadTimeout(d.ReadTimeout),
	}
	go l.readLoop()
	return l, nil
}

type serialLink struct {
	*linkState
	name        string
	logger      *zap.SugaredLogger
	readTimeout time.Duration

	writeLock sync.Mutex
	conn      io.ReadWriteCloser
	closeOnce sync.Once
	closeErr  error
}

// effectiveReadTimeout is the timeout the port actually applies: VTIME counts
// tenths of a second in the range 1..255.
func effectiveReadTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return 0
	case d < 100*time.Millisecond:
		return 100 * time.Millisecond
	case d > 25500*time.Millisecond:
		return 25500 * time.Millisecond
	}
	return d.Truncate(100 * time.Millisecond)
}

func (l *serialLink) Name() string {
	return "serial:" + l.name
}

// readLoop logs receiver lines until the port fails. With a read timeout
// the port returns io.EOF whenever no data arrived in time; only an EOF that
// comes back well before the timeout means the device hung up.
func (l *serialLink) readLoop() {
	reader := bufio.NewReader(l.conn)
	var pending strings.Builder
	for {
		started := time.Now()
		chunk, err := reader.ReadString('\n')
		pending.WriteString(chunk)
		if err == nil {
			if trimmed := strings.TrimSpace(pending.String()); len(trimmed) > 0 {
				l.handleLine(trimmed)
			}
			pending.Reset()
			continue
		}
		if l.gone() {
			return
		}
		if err == io.EOF && l.readTimeout > 0 && time.Since(started) >= l.readTimeout/2 {
			continue
		}
		if trimmed := strings.TrimSpace(pending.String()); len(trimmed) > 0 {
			l.handleLine(trimmed)
		}
		l.logger.Warnf("serial read on %s failed: %v", l.name, err)
		l.fail(errors.Wrapf(ErrLinkGone, "read from %s: %v", l.name, err))
		return
	}
}

func (l *serialLink) handleLine(s string) {
	msg := parseMessage(s)
	switch msg.Message {
	case Ack:
		l.logger.Debugf("receiver handled %c", msg.Symbol)
	case Rejected:
		l.logger.Warnf("receiver rejected %c", msg.Symbol)
	case Banner:
		l.logger.Infof("receiver: %s", msg.Text)
	default:
		l.logger.Debugf("receiver: %s", msg.Text)
	}
}

func (l *serialLink) Write(p []byte) error {
	if l.gone() {
		return errors.Wrapf(ErrLinkGone, "write to %s", l.name)
	}
	l.writeLock.Lock()
	_, err := l.conn.Write(p)
	l.writeLock.Unlock()
	if err == nil {
		return nil
	}
	if isFatalWriteError(err) {
		l.fail(errors.Wrapf(ErrLinkGone, "write to %s: %v", l.name, err))
		return l.Err()
	}
	return errors.Wrapf(err, "write to %s", l.name)
}

func (l *serialLink) Close() error {
	l.closeOnce.Do(func() {
		l.fail(nil)
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

// isFatalWriteError reports whether the device behind the port disappeared,
// as opposed to a write that merely did not complete.
func isFatalWriteError(err error) bool {
	if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EIO || errno == syscall.ENXIO || errno == syscall.ENODEV || errno == syscall.EBADF
	}
	return false
}
