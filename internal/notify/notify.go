// Package notify reports fired snapshots to the registered callback of a
// device, either from a hardware interrupt or from a periodic poll.
package notify

import (
	"slices"

	"pipesnap/internal/backend"
	"pipesnap/internal/common"
	"pipesnap/internal/handle"
	"pipesnap/internal/psnap"
	"pipesnap/internal/state"
)

// Event describes one fired snapshot.
type Event struct {
	Dev     psnap.DevID
	Pipe    int // logical pipe
	Handle  handle.Handle
	Stage   int
	Trigger backend.TriggerInfo
}

// Callback receives fired snapshot events. It is never called with the
// session token held.
type Callback func(Event)

// Dispatcher holds the callback of every device.
type Dispatcher struct {
	log       common.Logger
	callbacks map[psnap.DevID]Callback
}

// NewDispatcher creates a dispatcher with no callbacks.
func NewDispatcher(log common.Logger) *Dispatcher {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &Dispatcher{log: log, callbacks: make(map[psnap.DevID]Callback)}
}

// Register sets the callback of dev, replacing any previous one.
func (n *Dispatcher) Register(dev psnap.DevID, cb Callback) {
	if cb == nil {
		delete(n.callbacks, dev)
		return
	}
	n.callbacks[dev] = cb
}

// Unregister drops the callback of dev.
func (n *Dispatcher) Unregister(dev psnap.DevID) { delete(n.callbacks, dev) }

// Bind resolves the callback of dev for events. The returned function
// delivers them and is safe to call once the session token is released.
func (n *Dispatcher) Bind(dev psnap.DevID, events []Event) func() {
	cb := n.callbacks[dev]
	if cb == nil || len(events) == 0 {
		return func() {}
	}
	return func() {
		for _, ev := range events {
			cb(ev)
		}
	}
}

// armed reports whether the start cell of hi on pipe is enabled.
func armed(d *state.DeviceState, hi *state.HandleInfo, pipe int) bool {
	h := hi.Handle
	st := d.Cell(h.Dir(), pipe, h.StartStage())
	return st.Created && st.Admin == psnap.AdminEnabled
}

// fired marks the start cell of a fired handle disabled so the same
// trigger is reported once.
func fired(d *state.DeviceState, hi *state.HandleInfo, pipe int) {
	h := hi.Handle
	d.Cell(h.Dir(), pipe, h.StartStage()).Admin = psnap.AdminDisabled
}

// Interrupt services the snapshot interrupt of one stage of a physical
// pipe. The interrupt is cleared first. An event is returned only when
// the stage is the oper stage of an enabled owning handle and the trigger
// originated there.
func (n *Dispatcher) Interrupt(d *state.DeviceState, physPipe, stage int, dir psnap.Direction) (*Event, error) {
	if d.Notify != state.NotifyInterrupt {
		return nil, common.DevErrorf(d.Dev, psnap.ErrNotSupported, "device is in %s notification mode", d.Notify)
	}
	pipe, ok := d.LogicalPipe(physPipe)
	if !ok {
		return nil, common.DevErrorf(d.Dev, psnap.ErrInvalidArg, "no logical pipe for physical pipe %d", physPipe)
	}
	if !d.ValidStage(stage) || !dir.Valid() {
		return nil, common.DevErrorf(d.Dev, psnap.ErrInvalidArg, "stage %d %s out of range", stage, dir)
	}
	loc := d.Loc(pipe, stage, dir)
	if err := d.Backend.IntrClear(loc); err != nil {
		return nil, err
	}
	info, err := d.Backend.TriggerInfoGet(loc)
	if err != nil {
		return nil, err
	}
	hi, ok := d.Owner(dir, pipe, stage)
	if !ok {
		n.log.Logf(common.SeverityDebug, "dev %d pipe %d stage %d %s: interrupt with no snapshot", d.Dev, pipe, stage, dir)
		return nil, nil
	}
	if hi.OperStage != stage || !info.LocalOrTimer() || !armed(d, hi, pipe) {
		return nil, nil
	}
	fired(d, hi, pipe)
	return &Event{Dev: d.Dev, Pipe: pipe, Handle: hi.Handle, Stage: stage, Trigger: info}, nil
}

// Poll walks every handle of a device and returns an event for each
// enabled pipe whose oper stage has cleared its FSM enable bit with a
// trigger that originated there.
func (n *Dispatcher) Poll(d *state.DeviceState) ([]Event, error) {
	if d.Notify != state.NotifyPoll {
		return nil, common.DevErrorf(d.Dev, psnap.ErrNotSupported, "device is in %s notification mode", d.Notify)
	}
	hdls := make([]handle.Handle, 0, len(d.Handles))
	for h := range d.Handles {
		hdls = append(hdls, h)
	}
	slices.Sort(hdls)

	var events []Event
	for _, h := range hdls {
		hi := d.Handles[h]
		for _, pipe := range d.Pipes(h.Pipe()) {
			if !armed(d, hi, pipe) {
				continue
			}
			loc := d.Loc(pipe, hi.OperStage, h.Dir())
			reg, err := d.Backend.FSMGet(loc)
			if err != nil {
				return events, err
			}
			if reg.Enabled {
				continue
			}
			info, err := d.Backend.TriggerInfoGet(loc)
			if err != nil {
				return events, err
			}
			if !info.LocalOrTimer() {
				continue
			}
			fired(d, hi, pipe)
			events = append(events, Event{Dev: d.Dev, Pipe: pipe, Handle: h, Stage: hi.OperStage, Trigger: info})
		}
	}
	return events, nil
}
