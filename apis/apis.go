// Package apis is the operator-facing surface of the controller: the
// websocket remote, the state event stream and the HTTP plumbing around them.
package apis

import (
	"github.com/thiefmaster/carcontroller/comm"
	"github.com/thiefmaster/carcontroller/drive"
	"github.com/thiefmaster/carcontroller/session"
)

// Remote is what the operator drives. *session.Session implements it.
type Remote interface {
	SetInput(d drive.Direction, active bool) (drive.InputState, error)
	ReleaseAll() error
	ToggleLight(which comm.Light) (bool, error)
	SetSpeed(m comm.Motor, value int) error
	Snapshot() session.Snapshot
}
