// Package fsm derives the per-stage debug state machine from the set of
// enabled handles and programs it to hardware.
//
// For every created and enabled handle starting at s, stage s is local.
// Each later stage in the handle's range is local if it is the handle's
// oper stage and forwards a previous stage's trigger otherwise. A stage
// that is both is TriggerHappy, forward-only is Passive, local-only is
// Armed and anything else is Full.
package fsm

import (
	"pipesnap/internal/backend"
	"pipesnap/internal/psnap"
	"pipesnap/internal/state"
)

type marks struct {
	local   []bool
	prev    []bool
	enabled []bool
}

func mark(d *state.DeviceState, pipe int, dir psnap.Direction) marks {
	n := d.BypassStage() + 1
	m := marks{
		local:   make([]bool, n),
		prev:    make([]bool, n),
		enabled: make([]bool, n),
	}
	for s := 0; s < n; s++ {
		st := d.Cell(dir, pipe, s)
		if !st.Created || st.Admin != psnap.AdminEnabled {
			continue
		}
		hi, ok := d.Handles[st.Handle]
		if !ok {
			continue
		}
		m.local[s] = true
		m.enabled[s] = true
		for s2 := s + 1; s2 <= st.EndStage && s2 < n; s2++ {
			m.enabled[s2] = true
			if hi.OperStage == s2 {
				m.local[s2] = true
			} else {
				m.prev[s2] = true
			}
		}
	}
	return m
}

func combine(local, prev bool) psnap.FSMState {
	switch {
	case local && prev:
		return psnap.FSMTriggerHappy
	case prev:
		return psnap.FSMPassive
	case local:
		return psnap.FSMArmed
	default:
		return psnap.FSMFull
	}
}

// Derive returns the state of every stage of a pipe, bypass included.
// It only reads d.
func Derive(d *state.DeviceState, pipe int, dir psnap.Direction) []psnap.FSMState {
	m := mark(d, pipe, dir)
	out := make([]psnap.FSMState, len(m.local))
	for s := range out {
		out[s] = combine(m.local[s], m.prev[s])
	}
	return out
}

// Program writes the derived states of stages [start, end] of each pipe.
// Stages are written from end down to start so that a trigger forwarded
// by live traffic never reaches a stage that is not yet reprogrammed.
func Program(d *state.DeviceState, pipes []int, start, end int, dir psnap.Direction) error {
	for _, pipe := range pipes {
		m := mark(d, pipe, dir)
		if end >= len(m.local) {
			end = len(m.local) - 1
		}
		for s := end; s >= start; s-- {
			reg := backend.FSMReg{State: combine(m.local[s], m.prev[s]), Enabled: m.enabled[s]}
			if err := d.Backend.FSMSet(d.Loc(pipe, s, dir), reg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProgramRange writes the states of a stage range on the pipes selected
// by pipe.
func ProgramRange(d *state.DeviceState, pipe psnap.PipeID, start, end int, dir psnap.Direction) error {
	return Program(d, d.Pipes(pipe), start, end, dir)
}

// ProgramPipe rewrites every stage of one pipe and direction.
func ProgramPipe(d *state.DeviceState, pipe int, dir psnap.Direction) error {
	return Program(d, []int{pipe}, 0, d.BypassStage(), dir)
}
