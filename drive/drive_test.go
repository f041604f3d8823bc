package drive

import (
	"testing"

	"go.viam.com/test"
)

func TestEncodeAllCombinations(t *testing.T) {
	expected := map[InputState]Command{
		{Forward: true}:               CmdForward,
		{Backward: true}:              CmdBackward,
		{Left: true}:                  CmdLeft,
		{Right: true}:                 CmdRight,
		{Forward: true, Left: true}:   CmdForwardLeft,
		{Forward: true, Right: true}:  CmdForwardRight,
		{Backward: true, Left: true}:  CmdBackwardLeft,
		{Backward: true, Right: true}: CmdBackwardRight,
	}

	mapped := 0
	for i := 0; i < 16; i++ {
		s := InputState{
			Forward:  i&1 != 0,
			Backward: i&2 != 0,
			Left:     i&4 != 0,
			Right:    i&8 != 0,
		}
		cmd, ok := Encode(s)
		again, okAgain := Encode(s)
		test.That(t, again, test.ShouldEqual, cmd)
		test.That(t, okAgain, test.ShouldEqual, ok)

		want, known := expected[s]
		test.That(t, ok, test.ShouldEqual, known)
		if known {
			mapped++
			test.That(t, cmd, test.ShouldEqual, want)
			test.That(t, cmd.Valid(), test.ShouldBeTrue)
		} else {
			test.That(t, cmd, test.ShouldEqual, Command(0))
		}
	}
	test.That(t, mapped, test.ShouldEqual, 8)
}

func TestEncodeConflicts(t *testing.T) {
	for _, s := range []InputState{
		{},
		{Forward: true, Backward: true},
		{Left: true, Right: true},
		{Forward: true, Backward: true, Left: true},
		{Forward: true, Left: true, Right: true},
		{Forward: true, Backward: true, Left: true, Right: true},
	} {
		_, ok := Encode(s)
		test.That(t, ok, test.ShouldBeFalse)
	}
}

func TestSymbols(t *testing.T) {
	test.That(t, CmdForwardLeft.Symbol(), test.ShouldEqual, byte('G'))
	test.That(t, CmdForwardRight.Symbol(), test.ShouldEqual, byte('H'))
	test.That(t, CmdBackwardLeft.Symbol(), test.ShouldEqual, byte('I'))
	test.That(t, CmdBackwardRight.Symbol(), test.ShouldEqual, byte('J'))
	test.That(t, CmdIdle.Symbol(), test.ShouldEqual, byte('X'))
	test.That(t, CmdIdle.String(), test.ShouldEqual, "idle(X)")
	test.That(t, Command(0).String(), test.ShouldEqual, "none")
}

func TestTracker(t *testing.T) {
	var tr Tracker
	s := tr.Set(Forward, true)
	test.That(t, s, test.ShouldResemble, InputState{Forward: true})
	s = tr.Set(Left, true)
	test.That(t, s, test.ShouldResemble, InputState{Forward: true, Left: true})
	test.That(t, s.String(), test.ShouldEqual, "forward+left")

	// setting a held direction again changes nothing
	s = tr.Set(Left, true)
	test.That(t, s, test.ShouldResemble, InputState{Forward: true, Left: true})

	s = tr.Set(Forward, false)
	test.That(t, s, test.ShouldResemble, InputState{Left: true})
	test.That(t, tr.State(), test.ShouldResemble, s)

	tr.Reset()
	test.That(t, tr.State().Any(), test.ShouldBeFalse)
	test.That(t, tr.State().String(), test.ShouldEqual, "none")
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("Backward")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, Backward)

	_, err = ParseDirection("up")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown direction")
}

func TestCommandText(t *testing.T) {
	b, err := CmdForwardLeft.MarshalText()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(b), test.ShouldEqual, "G")

	var c Command
	test.That(t, c.UnmarshalText([]byte("X")), test.ShouldBeNil)
	test.That(t, c, test.ShouldEqual, CmdIdle)
	test.That(t, c.UnmarshalText(nil), test.ShouldBeNil)
	test.That(t, c, test.ShouldEqual, Command(0))
	test.That(t, c.UnmarshalText([]byte("Q")), test.ShouldNotBeNil)
}
