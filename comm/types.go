package comm

type messageKind int

// messageKind values
const (
	invalid messageKind = iota
	Ack
	Rejected
	Banner
)

type Light int

// Light values
const (
	LightFront Light = iota
	LightBack
	LightBlink
)

type Motor int

// Motor values
const (
	MotorFront Motor = iota
	MotorBack
)

// Command is one frame on the wire: a symbol byte, optionally followed by a
// value byte.
type Command struct {
	symbol   byte
	value    byte
	hasValue bool
}

// Message is a line reported back by the receiver.
type Message struct {
	Message messageKind
	Symbol  byte
	Text    string
}
