package drive

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Direction int

// Direction values
const (
	Forward Direction = iota
	Backward
	Left
	Right
)

var directionNames = map[Direction]string{
	Forward:  "forward",
	Backward: "backward",
	Left:     "left",
	Right:    "right",
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

func ParseDirection(s string) (Direction, error) {
	for d, name := range directionNames {
		if strings.EqualFold(s, name) {
			return d, nil
		}
	}
	return 0, errors.Errorf("unknown direction %q", s)
}

// InputState is the set of directional inputs currently held by the operator.
// Every combination is representable; only some of them encode to a command.
type InputState struct {
	Forward  bool `json:"forward"`
	Backward bool `json:"backward"`
	Left     bool `json:"left"`
	Right    bool `json:"right"`
}

func (s InputState) Any() bool {
	return s.Forward || s.Backward || s.Left || s.Right
}

func (s InputState) String() string {
	var held []string
	for _, d := range []Direction{Forward, Backward, Left, Right} {
		if s.held(d) {
			held = append(held, d.String())
		}
	}
	if len(held) == 0 {
		return "none"
	}
	return strings.Join(held, "+")
}

func (s InputState) held(d Direction) bool {
	switch d {
	case Forward:
		return s.Forward
	case Backward:
		return s.Backward
	case Left:
		return s.Left
	case Right:
		return s.Right
	}
	return false
}

// Tracker holds the directional inputs. It is not safe for concurrent use;
// the owner serializes access.
type Tracker struct {
	state InputState
}

// Set changes exactly one direction and returns the resulting state.
func (t *Tracker) Set(d Direction, active bool) InputState {
	switch d {
	case Forward:
		t.state.Forward = active
	case Backward:
		t.state.Backward = active
	case Left:
		t.state.Left = active
	case Right:
		t.state.Right = active
	}
	return t.state
}

func (t *Tracker) Reset() {
	t.state = InputState{}
}

func (t *Tracker) State() InputState {
	return t.state
}
