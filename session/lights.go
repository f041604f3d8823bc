package session

import "github.com/thiefmaster/carcontroller/comm"

// Lights mirrors what the receiver was last told about its lights.
type Lights struct {
	Front bool `json:"front"`
	Back  bool `json:"back"`
	Blink bool `json:"blink"`
}

func (l *Lights) flag(which comm.Light) *bool {
	switch which {
	case comm.LightFront:
		return &l.Front
	case comm.LightBack:
		return &l.Back
	case comm.LightBlink:
		return &l.Blink
	}
	return nil
}

// toggle flips one light and returns its new state.
func (l *Lights) toggle(which comm.Light) (bool, error) {
	f := l.flag(which)
	if f == nil {
		return false, ErrUnknownLight
	}
	*f = !*f
	return *f, nil
}
