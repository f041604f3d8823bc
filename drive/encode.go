package drive

import (
	"fmt"

	"github.com/pkg/errors"
)

// Command is a directional command, identified by the byte the receiver
// understands. The zero value means no command.
type Command byte

// Command values
const (
	CmdForward       Command = 'F'
	CmdBackward      Command = 'B'
	CmdLeft          Command = 'L'
	CmdRight         Command = 'R'
	CmdForwardLeft   Command = 'G'
	CmdForwardRight  Command = 'H'
	CmdBackwardLeft  Command = 'I'
	CmdBackwardRight Command = 'J'
	CmdIdle          Command = 'X'
)

var commandNames = map[Command]string{
	CmdForward:       "forward",
	CmdBackward:      "backward",
	CmdLeft:          "left",
	CmdRight:         "right",
	CmdForwardLeft:   "forward-left",
	CmdForwardRight:  "forward-right",
	CmdBackwardLeft:  "backward-left",
	CmdBackwardRight: "backward-right",
	CmdIdle:          "idle",
}

func (c Command) Symbol() byte {
	return byte(c)
}

func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return fmt.Sprintf("%s(%c)", name, byte(c))
	}
	if c == 0 {
		return "none"
	}
	return fmt.Sprintf("command(%#x)", byte(c))
}

// MarshalText renders the wire symbol, or nothing for the zero Command.
func (c Command) MarshalText() ([]byte, error) {
	if c == 0 {
		return []byte{}, nil
	}
	return []byte{byte(c)}, nil
}

func (c *Command) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = 0
		return nil
	}
	if cmd := Command(b[0]); len(b) == 1 && cmd.Valid() {
		*c = cmd
		return nil
	}
	return errors.Errorf("unknown command %q", b)
}

type combination struct {
	forward, backward, left, right bool
}

// The combinations are disjoint, so lookup order is irrelevant.
var encoding = map[combination]Command{
	{forward: true}:               CmdForward,
	{backward: true}:              CmdBackward,
	{left: true}:                  CmdLeft,
	{right: true}:                 CmdRight,
	{forward: true, left: true}:   CmdForwardLeft,
	{forward: true, right: true}:  CmdForwardRight,
	{backward: true, left: true}:  CmdBackwardLeft,
	{backward: true, right: true}: CmdBackwardRight,
}

// Encode maps an input state to a directional command. Conflicting holds
// (forward with backward, left with right) and the empty state have no
// command; callers treat that as idle.
func Encode(s InputState) (Command, bool) {
	cmd, ok := encoding[combination{s.Forward, s.Backward, s.Left, s.Right}]
	return cmd, ok
}
