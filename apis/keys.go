package apis

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/thiefmaster/carcontroller/comm"
	"github.com/thiefmaster/carcontroller/drive"
)

// KeyMap binds keyboard key names, as reported by the browser's
// KeyboardEvent.key, to directions and lights.
type KeyMap struct {
	Forward    []string `yaml:"forward"`
	Backward   []string `yaml:"backward"`
	Left       []string `yaml:"left"`
	Right      []string `yaml:"right"`
	LightFront []string `yaml:"light_front"`
	LightBack  []string `yaml:"light_back"`
	LightBlink []string `yaml:"light_blink"`
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Forward:    []string{"w", "ArrowUp"},
		Backward:   []string{"s", "ArrowDown"},
		Left:       []string{"a", "ArrowLeft"},
		Right:      []string{"d", "ArrowRight"},
		LightFront: []string{"1"},
		LightBack:  []string{"2"},
		LightBlink: []string{"3"},
	}
}

type keyAction struct {
	light     bool
	direction drive.Direction
	target    comm.Light
}

type keyBindings map[string]keyAction

// Single characters are matched case-insensitively so that shift does not
// change what a key does.
func normalizeKey(key string) string {
	if len([]rune(key)) == 1 {
		return strings.ToLower(key)
	}
	return key
}

func (k KeyMap) compile() (keyBindings, error) {
	bindings := make(keyBindings)
	add := func(keys []string, action keyAction) error {
		for _, key := range keys {
			if key == "" {
				return errors.New("empty key name")
			}
			norm := normalizeKey(key)
			if _, ok := bindings[norm]; ok {
				return errors.Errorf("key %q is bound twice", key)
			}
			bindings[norm] = action
		}
		return nil
	}
	for _, b := range []struct {
		keys   []string
		action keyAction
	}{
		{k.Forward, keyAction{direction: drive.Forward}},
		{k.Backward, keyAction{direction: drive.Backward}},
		{k.Left, keyAction{direction: drive.Left}},
		{k.Right, keyAction{direction: drive.Right}},
		{k.LightFront, keyAction{light: true, target: comm.LightFront}},
		{k.LightBack, keyAction{light: true, target: comm.LightBack}},
		{k.LightBlink, keyAction{light: true, target: comm.LightBlink}},
	} {
		if err := add(b.keys, b.action); err != nil {
			return nil, err
		}
	}
	return bindings, nil
}

// Validate reports duplicate or empty key names.
func (k KeyMap) Validate() error {
	_, err := k.compile()
	return err
}

func (b keyBindings) lookup(key string) (keyAction, bool) {
	action, ok := b[normalizeKey(key)]
	return action, ok
}
