package comm

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var lightSymbols = map[Light][2]byte{
	LightFront: {'u', 'U'},
	LightBack:  {'v', 'V'},
	LightBlink: {'w', 'W'},
}

var lightNames = map[Light]string{
	LightFront: "front",
	LightBack:  "back",
	LightBlink: "blink",
}

var motorSymbols = map[Motor]byte{
	MotorFront: 'S',
	MotorBack:  'T',
}

var motorNames = map[Motor]string{
	MotorFront: "front",
	MotorBack:  "back",
}

func NewMoveCommand(symbol byte) Command {
	return Command{symbol: symbol}
}

func NewLightCommand(target Light, on bool) Command {
	symbols := lightSymbols[target]
	if on {
		return Command{symbol: symbols[1]}
	}
	return Command{symbol: symbols[0]}
}

func NewSpeedCommand(target Motor, value uint8) Command {
	return Command{symbol: motorSymbols[target], value: value, hasValue: true}
}

// Bytes returns the frame as written to the link.
func (c Command) Bytes() []byte {
	if c.hasValue {
		return []byte{c.symbol, c.value}
	}
	return []byte{c.symbol}
}

func (c Command) String() string {
	if c.hasValue {
		return fmt.Sprintf("%c=%d", c.symbol, c.value)
	}
	return string(c.symbol)
}

func (l Light) String() string {
	if name, ok := lightNames[l]; ok {
		return name
	}
	return fmt.Sprintf("light(%d)", int(l))
}

func ParseLight(s string) (Light, error) {
	for l, name := range lightNames {
		if strings.EqualFold(s, name) {
			return l, nil
		}
	}
	return 0, errors.Errorf("unknown light %q", s)
}

func (m Motor) String() string {
	if name, ok := motorNames[m]; ok {
		return name
	}
	return fmt.Sprintf("motor(%d)", int(m))
}

func ParseMotor(s string) (Motor, error) {
	for m, name := range motorNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, errors.Errorf("unknown motor %q", s)
}
