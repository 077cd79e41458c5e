package ipc

import (
	"fmt"

	"kino/internal/session"
)

// Controller is the part of the session the control socket drives.
type Controller interface {
	StartRecording() error
	StopRecording() error
	Toggle() error
	Snapshot() session.Snapshot
}

// SessionHandler maps control commands onto session gestures. Every reply
// carries the state after the command ran.
func SessionHandler(c Controller) Handler {
	return func(msg ControlMessage) Reply {
		var err error

		switch msg.Cmd {
		case CmdBegin:
			err = c.StartRecording()
		case CmdEnd:
			err = c.StopRecording()
		case CmdToggle:
			err = c.Toggle()
		case CmdStatus:
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Cmd)
		}

		snap := c.Snapshot()
		reply := Reply{
			OK:        err == nil,
			Status:    snap.Status.String(),
			Label:     snap.Status.Label(),
			Connected: snap.Connected,
			Recording: snap.Recording,
		}
		if err != nil {
			reply.Error = err.Error()
		}
		return reply
	}
}
