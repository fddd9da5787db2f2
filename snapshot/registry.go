// Package snapshot is the public snapshot API. A Registry owns the state
// of every attached device and serializes all operations through one
// session token.
//
// A snapshot is created over a stage range of one pipe, or of all pipes,
// in one direction. Trigger fields program the match of its oper stage;
// once enabled the stages of the range capture the PHV when the trigger
// fires and the registered callback of the device is told about it.
package snapshot

import (
	"slices"

	"pipesnap/internal/backend"
	"pipesnap/internal/backendreg"
	"pipesnap/internal/capture"
	"pipesnap/internal/common"
	"pipesnap/internal/config"
	"pipesnap/internal/handle"
	"pipesnap/internal/notify"
	"pipesnap/internal/psnap"
	"pipesnap/internal/state"
	"pipesnap/internal/trigger"
)

// Deps are the collaborators of a Registry. Bus and Meta are required.
// Index may be nil, in which case hit addresses stay unresolved. Session,
// Logger and Backends default to NewSession(), no logging and the global
// backend register.
type Deps struct {
	Bus      backend.RegBus
	Meta     psnap.Metadata
	Index    psnap.TableIndex
	Session  psnap.Session
	Logger   common.Logger
	Backends *backendreg.BackendRegister
}

// attacher is implemented by model register files that need the backend
// of a device to apply its register semantics.
type attacher interface {
	Attach(dev psnap.DevID, be backend.Backend)
}

// Registry is the snapshot engine.
type Registry struct {
	deps    Deps
	log     common.Logger
	session psnap.Session
	devices map[psnap.DevID]*state.DeviceState
	enc     *trigger.Encoder
	dec     *capture.Decoder
	notify  *notify.Dispatcher
}

// New creates an empty registry.
func New(deps Deps) *Registry {
	if deps.Session == nil {
		deps.Session = NewSession()
	}
	if deps.Logger == nil {
		deps.Logger = common.NewNoOpLogger()
	}
	if deps.Backends == nil {
		deps.Backends = backendreg.GetBackendRegister()
	}
	r := &Registry{deps: deps, log: deps.Logger, session: deps.Session}
	r.init()
	return r
}

func (r *Registry) init() {
	r.devices = make(map[psnap.DevID]*state.DeviceState)
	r.enc = trigger.NewEncoder(r.log)
	r.dec = capture.NewDecoder(r.log, r.deps.Index)
	r.notify = notify.NewDispatcher(r.log)
}

// Init drops every device, handle and callback.
func (r *Registry) Init() {
	r.session.Enter()
	defer r.session.Exit()
	for _, d := range r.devices {
		d.Release()
	}
	r.init()
}

func (r *Registry) device(dev psnap.DevID) (*state.DeviceState, error) {
	d, ok := r.devices[dev]
	if !ok {
		return nil, common.DevErrorf(dev, psnap.ErrInvalidArg, "device %d not added", dev)
	}
	return d, nil
}

// handle resolves a live handle to its device and record.
func (r *Registry) handle(h handle.Handle) (*state.DeviceState, *state.HandleInfo, error) {
	if !h.Valid() {
		return nil, nil, common.Errorf(psnap.ErrInvalidArg, "invalid handle %s", h)
	}
	d, err := r.device(h.Dev())
	if err != nil {
		return nil, nil, err
	}
	hi, err := d.Lookup(h)
	if err != nil {
		return nil, nil, err
	}
	return d, hi, nil
}

// pipeOf checks that a logical pipe is covered by a handle.
func pipeOf(d *state.DeviceState, h handle.Handle, pipe int) error {
	if !slices.Contains(d.Pipes(h.Pipe()), pipe) {
		return common.DevErrorf(d.Dev, psnap.ErrInvalidArg, "handle %s does not cover pipe %d", h, pipe)
	}
	return nil
}

func notifyMode(s string) (state.NotifyMode, bool) {
	switch s {
	case config.NotifyInterrupt:
		return state.NotifyInterrupt, true
	case config.NotifyPoll:
		return state.NotifyPoll, true
	}
	return 0, false
}

// AddDevice attaches a device. Its backend is chosen by chip family, its
// state arena is allocated and the dictionary sizes of every stage are
// loaded. If loading the sizes fails the device stays registered with
// partial state and must be removed with RemoveDevice.
func (r *Registry) AddDevice(cfg config.Device) error {
	r.session.Enter()
	defer r.session.Exit()

	cfg = cfg.WithDefaults()
	if cfg.ID < 0 || cfg.ID >= psnap.MaxDevices {
		return common.Errorf(psnap.ErrInvalidArg, "device id %d out of range", cfg.ID)
	}
	dev := psnap.DevID(cfg.ID)
	if _, ok := r.devices[dev]; ok {
		return common.DevErrorf(dev, psnap.ErrAlreadyExists, "device %d already added", dev)
	}
	if r.deps.Bus == nil || r.deps.Meta == nil {
		return common.DevErrorf(dev, psnap.ErrInvalidArg, "register bus and metadata are required")
	}
	mode, ok := notifyMode(cfg.Notify)
	if !ok {
		return common.DevErrorf(dev, psnap.ErrInvalidArg, "unknown notify mode %q", cfg.Notify)
	}
	be, err := r.deps.Backends.New(psnap.ParseChipFamily(cfg.Family), r.deps.Bus)
	if err != nil {
		return err
	}
	if a, ok := r.deps.Bus.(attacher); ok {
		a.Attach(dev, be)
	}
	var profiles []state.Profile
	for _, p := range cfg.Profiles {
		profiles = append(profiles, state.Profile{ID: p.ID, Pipes: p.Pipes})
	}
	d, err := state.New(dev, be, r.deps.Meta, state.Params{
		NumPipes:  cfg.Pipes,
		NumStages: cfg.Stages,
		ClockMHz:  cfg.ClockMHz,
		Profiles:  profiles,
		PhysPipes: cfg.PipeMap,
		Notify:    mode,
	})
	if err != nil {
		return err
	}
	r.devices[dev] = d
	if err := d.LoadSizes(); err != nil {
		r.log.Error(err)
		return err
	}
	r.log.Logf(common.SeverityInfo, "dev %d: %s, %d pipes, %d stages, %s notification",
		dev, be.Family(), d.NumPipes, d.NumStages, d.Notify)
	return nil
}

// RemoveDevice drops a device with all its handles and its callback.
func (r *Registry) RemoveDevice(dev psnap.DevID) error {
	r.session.Enter()
	defer r.session.Exit()
	d, err := r.device(dev)
	if err != nil {
		return err
	}
	d.Release()
	delete(r.devices, dev)
	r.notify.Unregister(dev)
	return nil
}

// Handles lists the live handles of a device in ascending order.
func (r *Registry) Handles(dev psnap.DevID) ([]handle.Handle, error) {
	r.session.Enter()
	defer r.session.Exit()
	d, err := r.device(dev)
	if err != nil {
		return nil, err
	}
	out := make([]handle.Handle, 0, len(d.Handles))
	for h := range d.Handles {
		out = append(out, h)
	}
	slices.Sort(out)
	return out, nil
}

// Lookup returns a copy of a handle's record.
func (r *Registry) Lookup(h handle.Handle) (state.HandleInfo, error) {
	r.session.Enter()
	defer r.session.Exit()
	_, hi, err := r.handle(h)
	if err != nil {
		return state.HandleInfo{}, err
	}
	cp := *hi
	cp.Fields = slices.Clone(hi.Fields)
	return cp, nil
}
