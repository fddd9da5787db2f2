package snapshot

import (
	"pipesnap/internal/common"
	"pipesnap/internal/fsm"
	"pipesnap/internal/handle"
	"pipesnap/internal/psnap"
	"pipesnap/internal/state"
)

// Create allocates a snapshot over stages [start, end] of pipe in dir.
// The stage range may include the bypass stage. No stage of the range may
// belong to another snapshot in either direction. The new snapshot is
// disabled and matches anything.
func (r *Registry) Create(dev psnap.DevID, pipe psnap.PipeID, start, end int, dir psnap.Direction) (handle.Handle, error) {
	r.session.Enter()
	defer r.session.Exit()

	d, err := r.device(dev)
	if err != nil {
		return 0, err
	}
	switch {
	case !dir.Valid():
		return 0, common.DevErrorf(dev, psnap.ErrInvalidArg, "invalid direction %s", dir)
	case !d.ValidPipe(pipe):
		return 0, common.DevErrorf(dev, psnap.ErrInvalidArg, "pipe %s out of range", pipe)
	case !d.ValidStage(start) || !d.ValidStage(end):
		return 0, common.DevErrorf(dev, psnap.ErrInvalidArg, "stages %d-%d out of range", start, end)
	case end < start:
		return 0, common.DevErrorf(dev, psnap.ErrInvalidArg, "end stage %d before start stage %d", end, start)
	case pipe == psnap.AllPipes && len(d.Profiles) > 1:
		return 0, common.DevErrorf(dev, psnap.ErrInvalidArg, "all-pipes snapshot on a device with %d profiles", len(d.Profiles))
	}

	h := handle.Encode(dev, pipe, start, end, dir)
	if _, ok := d.Handles[h]; ok {
		return 0, common.DevErrorf(dev, psnap.ErrAlreadyExists, "handle %s already exists", h)
	}
	for _, p := range d.Pipes(pipe) {
		if err := r.overlap(d, p, start, end); err != nil {
			return 0, err
		}
	}

	for _, p := range d.Pipes(pipe) {
		*d.Cell(dir, p, start) = state.StageState{
			Created:  true,
			Handle:   h,
			EndStage: end,
			Admin:    psnap.AdminDisabled,
			Mode:     psnap.ModeIngressOnly,
			Dict:     d.Cell(dir, p, start).Dict,
		}
	}
	hi := &state.HandleInfo{Handle: h, OperStage: start}
	d.Handles[h] = hi
	if err := r.setup(d, hi); err != nil {
		r.log.Error(err)
		if rerr := r.release(d, hi); rerr != nil {
			r.log.Error(rerr)
		}
		return 0, err
	}
	r.log.Logf(common.SeverityDebug, "created snapshot %s: %s", h, h.Describe())
	return h, nil
}

// overlap fails if any created handle in either direction claims a stage
// of [start, end] on pipe.
func (r *Registry) overlap(d *state.DeviceState, pipe, start, end int) error {
	for dir := psnap.Ingress; dir < psnap.NumDirections; dir++ {
		for s := 0; s <= d.BypassStage(); s++ {
			st := d.Cell(dir, pipe, s)
			if !st.Created {
				continue
			}
			if s <= end && start <= st.EndStage {
				r.log.Logf(common.SeverityInfo, "dev %d pipe %d: stages %d-%d overlap snapshot %s (%d-%d %s)",
					d.Dev, pipe, start, end, st.Handle, s, st.EndStage, dir)
				return common.DevErrorf(d.Dev, psnap.ErrNotSupported,
					"stages %d-%d of pipe %d overlap snapshot %s", start, end, pipe, st.Handle)
			}
		}
	}
	return nil
}

// setup brings the hardware of a new handle to its initial state.
func (r *Registry) setup(d *state.DeviceState, hi *state.HandleInfo) error {
	h := hi.Handle
	for _, p := range d.Pipes(h.Pipe()) {
		if err := d.Backend.TimerSet(d.Loc(p, h.StartStage(), h.Dir()), false, 0); err != nil {
			return err
		}
		for s := h.StartStage(); s <= h.EndStage(); s++ {
			loc := d.Loc(p, s, h.Dir())
			if err := d.Backend.ConfigSet(loc, psnap.ModeIngressOnly); err != nil {
				return err
			}
			if err := d.Backend.DatapathReset(loc); err != nil {
				return err
			}
			if _, err := d.Dict(p, s, h.Dir()); err != nil {
				return err
			}
		}
	}
	hi.Capacity = d.Capacity(h)
	if err := fsm.ProgramRange(d, h.Pipe(), h.StartStage(), h.EndStage(), h.Dir()); err != nil {
		return err
	}
	return r.enc.ClearFields(d, hi)
}

// release frees the cells of a handle, quiesces its hardware and drops
// its record. Every step runs; the first failure is returned.
func (r *Registry) release(d *state.DeviceState, hi *state.HandleInfo) error {
	h := hi.Handle
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, p := range d.Pipes(h.Pipe()) {
		st := d.Cell(h.Dir(), p, h.StartStage())
		*st = state.StageState{Dict: st.Dict}
		keep(d.Backend.TimerSet(d.Loc(p, h.StartStage(), h.Dir()), false, 0))
		for s := h.StartStage(); s <= h.EndStage(); s++ {
			loc := d.Loc(p, s, h.Dir())
			keep(d.Backend.IntrEnable(loc, false))
			keep(d.Backend.ConfigSet(loc, psnap.ModeIngressOnly))
		}
	}
	keep(fsm.ProgramRange(d, h.Pipe(), h.StartStage(), h.EndStage(), h.Dir()))
	keep(r.enc.ClearFields(d, hi))
	delete(d.Handles, h)
	return first
}

// Delete removes a snapshot. The record is dropped even when the hardware
// cannot be quiesced; the register failure is still returned.
func (r *Registry) Delete(h handle.Handle) error {
	r.session.Enter()
	defer r.session.Exit()
	d, hi, err := r.handle(h)
	if err != nil {
		return err
	}
	if err := r.release(d, hi); err != nil {
		r.log.Error(err)
		return err
	}
	r.log.Logf(common.SeverityDebug, "deleted snapshot %s", h)
	return nil
}

// StateSet enables or disables a snapshot. A non-zero timerUsec on enable
// arms the timer threshold, after which the snapshot fires on time alone
// and the trigger match is disabled.
func (r *Registry) StateSet(h handle.Handle, enable bool, timerUsec uint32) error {
	r.session.Enter()
	defer r.session.Exit()
	d, hi, err := r.handle(h)
	if err != nil {
		return err
	}
	admin := psnap.AdminDisabled
	if enable {
		admin = psnap.AdminEnabled
	}
	for _, p := range d.Pipes(h.Pipe()) {
		st := d.Cell(h.Dir(), p, h.StartStage())
		st.Admin = admin
		st.TimerEnabled = enable && timerUsec > 0
		st.TimerUsec = timerUsec
		if err := r.pushTimer(d, p, h, st); err != nil {
			return err
		}
		for s := h.StartStage(); s <= h.EndStage(); s++ {
			loc := d.Loc(p, s, h.Dir())
			if enable {
				if err := d.Backend.DatapathReset(loc); err != nil {
					return err
				}
			}
			if d.Notify == state.NotifyInterrupt {
				if err := d.Backend.IntrEnable(loc, enable); err != nil {
					return err
				}
			}
		}
	}
	if err := r.enc.CommitRange(d, hi); err != nil {
		return err
	}
	return fsm.ProgramRange(d, h.Pipe(), h.StartStage(), h.EndStage(), h.Dir())
}

// pushTimer writes the pending timer threshold of a start cell in clock
// ticks and clears it.
func (r *Registry) pushTimer(d *state.DeviceState, pipe int, h handle.Handle, st *state.StageState) error {
	ticks := uint64(st.TimerUsec) * uint64(d.ClockMHz)
	if limit := d.Backend.MaxTimerTicks(); ticks > limit {
		r.log.Logf(common.SeverityWarning, "handle %s pipe %d: timer of %d us clamped to %d ticks", h, pipe, st.TimerUsec, limit)
		ticks = limit
	}
	if err := d.Backend.TimerSet(d.Loc(pipe, h.StartStage(), h.Dir()), st.TimerEnabled, ticks); err != nil {
		return err
	}
	st.TimerUsec = 0
	return nil
}

// PipeState is the state of a snapshot on one pipe.
type PipeState struct {
	Pipe         int
	Admin        psnap.AdminState
	TimerEnabled bool
	Mode         psnap.TriggerMode
	FSM          []psnap.FSMState // stages start to end
}

// State is what StateGet reports.
type State struct {
	Handle    handle.Handle
	OperStage int
	Pipes     []PipeState
}

// StateGet returns the admin, timer and derived FSM state of a snapshot on
// every pipe it covers.
func (r *Registry) StateGet(h handle.Handle) (*State, error) {
	r.session.Enter()
	defer r.session.Exit()
	d, hi, err := r.handle(h)
	if err != nil {
		return nil, err
	}
	out := &State{Handle: h, OperStage: hi.OperStage}
	for _, p := range d.Pipes(h.Pipe()) {
		st := d.Cell(h.Dir(), p, h.StartStage())
		states := fsm.Derive(d, p, h.Dir())
		out.Pipes = append(out.Pipes, PipeState{
			Pipe:         p,
			Admin:        st.Admin,
			TimerEnabled: st.TimerEnabled,
			Mode:         st.Mode,
			FSM:          append([]psnap.FSMState(nil), states[h.StartStage():h.EndStage()+1]...),
		})
	}
	return out, nil
}

// TimerGet reads the timer threshold of a snapshot on one pipe back from
// hardware, in microseconds.
func (r *Registry) TimerGet(h handle.Handle, pipe int) (bool, uint64, error) {
	r.session.Enter()
	defer r.session.Exit()
	d, _, err := r.handle(h)
	if err != nil {
		return false, 0, err
	}
	if err := pipeOf(d, h, pipe); err != nil {
		return false, 0, err
	}
	en, ticks, err := d.Backend.TimerGet(d.Loc(pipe, h.StartStage(), h.Dir()))
	if err != nil {
		return false, 0, err
	}
	if d.ClockMHz == 0 {
		return en, ticks, nil
	}
	return en, ticks / uint64(d.ClockMHz), nil
}

// TriggerModeSet selects which threads may trigger a snapshot. Ghost
// modes need a backend with a ghost thread and an ingress snapshot.
func (r *Registry) TriggerModeSet(h handle.Handle, mode psnap.TriggerMode) error {
	r.session.Enter()
	defer r.session.Exit()
	d, _, err := r.handle(h)
	if err != nil {
		return err
	}
	if mode > psnap.ModeBoth {
		return common.DevErrorf(d.Dev, psnap.ErrInvalidArg, "invalid trigger mode %s", mode)
	}
	if mode.UsesGhost() && (!d.Backend.HasGhost() || h.Dir() != psnap.Ingress) {
		return common.DevErrorf(d.Dev, psnap.ErrNotSupported, "trigger mode %s not available for %s on %s",
			mode, h.Dir(), d.Backend.Family())
	}
	for _, p := range d.Pipes(h.Pipe()) {
		for s := h.StartStage(); s <= h.EndStage(); s++ {
			if err := d.Backend.ConfigSet(d.Loc(p, s, h.Dir()), mode); err != nil {
				return err
			}
		}
		d.Cell(h.Dir(), p, h.StartStage()).Mode = mode
	}
	return nil
}

// TriggerModeGet returns the trigger mode of a snapshot.
func (r *Registry) TriggerModeGet(h handle.Handle) (psnap.TriggerMode, error) {
	r.session.Enter()
	defer r.session.Exit()
	d, _, err := r.handle(h)
	if err != nil {
		return 0, err
	}
	return d.Cell(h.Dir(), d.Pipes(h.Pipe())[0], h.StartStage()).Mode, nil
}

// FSMStates returns the derived state machine of stages start to end of a
// snapshot on one pipe.
func (r *Registry) FSMStates(h handle.Handle, pipe int) ([]psnap.FSMState, error) {
	r.session.Enter()
	defer r.session.Exit()
	d, _, err := r.handle(h)
	if err != nil {
		return nil, err
	}
	if err := pipeOf(d, h, pipe); err != nil {
		return nil, err
	}
	states := fsm.Derive(d, pipe, h.Dir())
	return states[h.StartStage() : h.EndStage()+1], nil
}

// AdminState reports whether a snapshot is still armed on one pipe. A
// snapshot that has fired reads Disabled once hardware has cleared the
// enable bit of its oper stage.
func (r *Registry) AdminState(h handle.Handle, pipe int) (psnap.AdminState, error) {
	r.session.Enter()
	defer r.session.Exit()
	d, hi, err := r.handle(h)
	if err != nil {
		return psnap.AdminDisabled, err
	}
	if err := pipeOf(d, h, pipe); err != nil {
		return psnap.AdminDisabled, err
	}
	if d.Cell(h.Dir(), pipe, h.StartStage()).Admin != psnap.AdminEnabled {
		return psnap.AdminDisabled, nil
	}
	reg, err := d.Backend.FSMGet(d.Loc(pipe, hi.OperStage, h.Dir()))
	if err != nil {
		return psnap.AdminDisabled, err
	}
	if !reg.Enabled {
		return psnap.AdminDisabled, nil
	}
	return psnap.AdminEnabled, nil
}
