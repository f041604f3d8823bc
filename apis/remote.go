package apis

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/thiefmaster/carcontroller/comm"
	"github.com/thiefmaster/carcontroller/drive"
	"github.com/thiefmaster/carcontroller/session"
)

const (
	msgInput   = "input"
	msgKey     = "key"
	msgLight   = "light"
	msgSpeed   = "speed"
	msgRelease = "release"
	msgState   = "state"
	msgError   = "error"
)

type clientMessage struct {
	Type      string `json:"type"`
	Direction string `json:"direction,omitempty"`
	Active    bool   `json:"active,omitempty"`
	Key       string `json:"key,omitempty"`
	Down      bool   `json:"down,omitempty"`
	Light     string `json:"light,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Value     int    `json:"value,omitempty"`
}

type stateMessage struct {
	Type string `json:"type"`
	session.Snapshot
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// RemoteHandler serves the operator websocket. Only one operator is active
// at a time; a new connection replaces the previous one.
type RemoteHandler struct {
	remote   Remote
	keys     keyBindings
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader

	lock       sync.Mutex
	activeConn *websocket.Conn
}

func NewRemoteHandler(remote Remote, keys KeyMap, logger *zap.SugaredLogger) (*RemoteHandler, error) {
	bindings, err := keys.compile()
	if err != nil {
		return nil, errors.Wrap(err, "invalid key map")
	}
	return &RemoteHandler{
		remote: remote,
		keys:   bindings,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: sameOrigin,
		},
	}, nil
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header["Origin"]
	if len(origin) == 0 {
		return true
	}
	u, err := url.Parse(origin[0])
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func (h *RemoteHandler) activate(c *websocket.Conn) {
	h.lock.Lock()
	prev := h.activeConn
	h.activeConn = c
	h.lock.Unlock()
	if prev != nil {
		h.logger.Infof("closing previous websocket conn %p", prev)
		prev.Close()
		// whatever the previous operator held is released before the new
		// one takes over
		h.release()
	}
}

// deactivate reports whether c was still the active connection.
func (h *RemoteHandler) deactivate(c *websocket.Conn) bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.activeConn != c {
		return false
	}
	h.activeConn = nil
	return true
}

// dispatch applies msg if c is still the active connection. A takeover waits
// for an in-flight dispatch, so its release always comes last.
func (h *RemoteHandler) dispatch(c *websocket.Conn, msg clientMessage, held *heldKeys) (bool, error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.activeConn != c {
		return false, nil
	}
	return true, h.handle(msg, held)
}

func (h *RemoteHandler) release() {
	if err := h.remote.ReleaseAll(); err != nil {
		h.logger.Warnf("could not release inputs: %v", err)
	}
}

func (h *RemoteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("websocket upgrade failed: %s", err)
		return
	}
	h.activate(c)
	h.logger.Infof("operator connected from %s", r.RemoteAddr)
	defer func() {
		c.Close()
		if h.deactivate(c) {
			h.logger.Info("operator disconnected, releasing inputs")
			h.release()
		}
	}()

	held := newHeldKeys()
	h.reply(c, h.stateReply())
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warnf("websocket read failed: %s", err)
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.reply(c, errorMessage{Type: msgError, Error: "invalid message: " + err.Error()})
			continue
		}
		active, err := h.dispatch(c, msg, held)
		if !active {
			h.logger.Info("ignoring websocket read on old socket")
			return
		}
		if err != nil {
			h.reply(c, errorMessage{Type: msgError, Error: err.Error()})
			continue
		}
		h.reply(c, h.stateReply())
	}
}

func (h *RemoteHandler) stateReply() stateMessage {
	return stateMessage{Type: msgState, Snapshot: h.remote.Snapshot()}
}

func (h *RemoteHandler) reply(c *websocket.Conn, v interface{}) {
	if err := c.WriteJSON(v); err != nil {
		h.logger.Debugf("websocket write failed: %s", err)
	}
}

// heldKeys is what one operator holds down. A direction stays active while
// any key bound to it is held.
type heldKeys struct {
	keys map[string]bool
	dirs map[drive.Direction]int
}

func newHeldKeys() *heldKeys {
	return &heldKeys{keys: make(map[string]bool), dirs: make(map[drive.Direction]int)}
}

func (k *heldKeys) reset() {
	k.keys = make(map[string]bool)
	k.dirs = make(map[drive.Direction]int)
}

// press reports whether the direction changed state.
func (k *heldKeys) press(d drive.Direction) bool {
	k.dirs[d]++
	return k.dirs[d] == 1
}

func (k *heldKeys) lift(d drive.Direction) bool {
	if k.dirs[d] == 0 {
		return false
	}
	k.dirs[d]--
	if k.dirs[d] > 0 {
		return false
	}
	delete(k.dirs, d)
	return true
}

func (h *RemoteHandler) handle(msg clientMessage, held *heldKeys) error {
	switch msg.Type {
	case msgInput:
		d, err := drive.ParseDirection(msg.Direction)
		if err != nil {
			return err
		}
		_, err = h.remote.SetInput(d, msg.Active)
		return err
	case msgKey:
		return h.handleKey(msg.Key, msg.Down, held)
	case msgLight:
		l, err := comm.ParseLight(msg.Light)
		if err != nil {
			return err
		}
		_, err = h.remote.ToggleLight(l)
		return err
	case msgSpeed:
		return h.setSpeed(msg.Channel, clampSpeed(msg.Value))
	case msgRelease:
		held.reset()
		return h.remote.ReleaseAll()
	}
	return errors.Errorf("unknown message type %q", msg.Type)
}

// handleKey ignores the key-down repeats browsers send while a key is held.
func (h *RemoteHandler) handleKey(key string, down bool, held *heldKeys) error {
	action, ok := h.keys.lookup(key)
	if !ok {
		return errors.Errorf("unbound key %q", key)
	}
	norm := normalizeKey(key)
	if down == held.keys[norm] {
		return nil
	}
	if down {
		held.keys[norm] = true
	} else {
		delete(held.keys, norm)
	}

	if action.light {
		if !down {
			return nil
		}
		_, err := h.remote.ToggleLight(action.target)
		return err
	}
	if down && !held.press(action.direction) || !down && !held.lift(action.direction) {
		return nil
	}
	_, err := h.remote.SetInput(action.direction, down)
	return err
}

func (h *RemoteHandler) setSpeed(channel string, value int) error {
	if channel == "both" {
		if err := h.remote.SetSpeed(comm.MotorFront, value); err != nil {
			return err
		}
		return h.remote.SetSpeed(comm.MotorBack, value)
	}
	m, err := comm.ParseMotor(channel)
	if err != nil {
		return err
	}
	return h.remote.SetSpeed(m, value)
}

func clampSpeed(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
