package speech

import (
	"context"

	"github.com/looplab/fsm"
)

const (
	evStart = "start"
	evStop  = "stop"
	evFail  = "fail"
)

// newMachine builds the phase machine:
//
//	idle|stopped|errored --start--> listening
//	listening --stop--> stopped
//	listening --fail--> errored
//
// Auto-restart is not a transition; the session stays in listening.
func newMachine(onEnter func(from, to Phase)) *fsm.FSM {
	return fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: evStart, Src: []string{string(PhaseIdle), string(PhaseStopped), string(PhaseErrored)}, Dst: string(PhaseListening)},
			{Name: evStop, Src: []string{string(PhaseListening)}, Dst: string(PhaseStopped)},
			{Name: evFail, Src: []string{string(PhaseListening)}, Dst: string(PhaseErrored)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(Phase(e.Src), Phase(e.Dst))
			},
		},
	)
}
