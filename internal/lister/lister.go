// Package lister drives one snapshot end to end from the command line:
// attach the configured devices, arm a snapshot, optionally fire it on the
// register model, then print and archive what was captured.
package lister

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pipesnap/internal/backend"
	"pipesnap/internal/backendreg"
	"pipesnap/internal/capstore"
	"pipesnap/internal/common"
	"pipesnap/internal/config"
	"pipesnap/internal/diag"
	"pipesnap/internal/handle"
	"pipesnap/internal/metadata"
	"pipesnap/internal/psnap"
	"pipesnap/internal/regsim"
	"pipesnap/snapshot"
)

// AllPipes selects every pipe of the device.
const AllPipes = -1

// Config mirrors the command line arguments of snap_dump.
type Config struct {
	ConfigPath string // YAML driver config; empty uses the defaults
	Dev        int
	Pipe       int
	Start      int
	End        int
	Dir        string
	Fields     []string // name=value[/mask]
	TimerUsec  uint64
	Mode       string
	Fire       bool
	Raw        bool
	Archive    string // overrides the archive path of the config
	Serve      string // overrides the diag address of the config
	Output     io.Writer
}

// Field is a parsed trigger field argument.
type Field struct {
	Name  string
	Value []byte
	Mask  []byte
}

// ParseField parses "name=value" or "name=value/mask". Numbers accept any
// strconv base prefix; a missing mask matches every bit.
func ParseField(s string) (Field, error) {
	name, rest, ok := strings.Cut(s, "=")
	if !ok || name == "" || rest == "" {
		return Field{}, fmt.Errorf("field %q: want name=value[/mask]", s)
	}
	val, mask, hasMask := strings.Cut(rest, "/")
	v, err := strconv.ParseUint(val, 0, 64)
	if err != nil {
		return Field{}, fmt.Errorf("field %q: bad value: %w", s, err)
	}
	m := ^uint64(0)
	if hasMask {
		if m, err = strconv.ParseUint(mask, 0, 64); err != nil {
			return Field{}, fmt.Errorf("field %q: bad mask: %w", s, err)
		}
	}
	return Field{
		Name:  name,
		Value: binary.BigEndian.AppendUint64(nil, v),
		Mask:  binary.BigEndian.AppendUint64(nil, m),
	}, nil
}

func parseDir(s string) (psnap.Direction, error) {
	switch strings.ToLower(s) {
	case "", "ingress", "in":
		return psnap.Ingress, nil
	case "egress", "eg":
		return psnap.Egress, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

func parseMode(s string) (psnap.TriggerMode, error) {
	for m := psnap.ModeIngressOnly; m <= psnap.ModeBoth; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown trigger mode %q", s)
}

// runner holds what one Run builds.
type runner struct {
	cfg     Config
	drv     *config.Config
	w       io.Writer
	log     common.Logger
	bus     *regsim.Bus
	reg     *snapshot.Registry
	archive *capstore.Store
}

// Run attaches the configured devices and processes one snapshot.
func Run(ctx context.Context, cfg Config) error {
	w := cfg.Output
	if w == nil {
		w = os.Stdout
	}
	drv := config.DefaultConfig()
	if cfg.ConfigPath != "" {
		var err error
		if drv, err = config.LoadConfig(cfg.ConfigPath); err != nil {
			return err
		}
	}
	if cfg.Archive != "" {
		drv.Archive = cfg.Archive
	}
	if cfg.Serve != "" {
		drv.Diag.Addr = cfg.Serve
	}
	sev, ok := common.ParseSeverity(drv.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", drv.LogLevel)
	}

	fmt.Fprintln(w, "Snapshot Dump: pipeline stage capture")
	fmt.Fprintln(w, "--------------------------------------")
	fmt.Fprintf(w, "Snapshot Dump : reading metadata from %s\n", drv.Metadata)

	meta, err := metadata.Load(drv.Metadata)
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	rn := &runner{
		cfg: cfg,
		drv: drv,
		w:   w,
		log: common.NewStdLoggerWithWriter(os.Stderr, sev),
		bus: regsim.New(),
	}
	rn.reg = snapshot.New(snapshot.Deps{
		Bus:    rn.bus,
		Meta:   meta,
		Index:  meta,
		Logger: rn.log,
	})
	for _, d := range drv.Devices {
		if err := rn.reg.AddDevice(d); err != nil {
			return fmt.Errorf("error adding device %d: %w", d.ID, err)
		}
	}
	if drv.Archive != "" {
		if rn.archive, err = capstore.Open(drv.Archive); err != nil {
			return fmt.Errorf("error opening archive: %w", err)
		}
		defer rn.archive.Close()
	}
	return rn.run(ctx)
}

func (rn *runner) device() (config.Device, error) {
	for _, d := range rn.drv.Devices {
		if d.ID == rn.cfg.Dev {
			return d.WithDefaults(), nil
		}
	}
	return config.Device{}, fmt.Errorf("device %d not configured", rn.cfg.Dev)
}

func (rn *runner) run(ctx context.Context) error {
	cfg := rn.cfg
	dev, err := rn.device()
	if err != nil {
		return err
	}
	dir, err := parseDir(cfg.Dir)
	if err != nil {
		return err
	}
	if cfg.TimerUsec > math.MaxUint32 {
		return fmt.Errorf("timer %d us out of range, at most %d", cfg.TimerUsec, uint32(math.MaxUint32))
	}
	pipe := psnap.AllPipes
	if cfg.Pipe != AllPipes {
		pipe = psnap.PipeID(cfg.Pipe)
	}

	h, err := rn.reg.Create(psnap.DevID(cfg.Dev), pipe, cfg.Start, cfg.End, dir)
	if err != nil {
		return fmt.Errorf("error creating snapshot: %w", err)
	}
	fmt.Fprintf(rn.w, "Created snapshot %s (%s)\n", h, h.Describe())

	for _, s := range cfg.Fields {
		f, err := ParseField(s)
		if err != nil {
			return err
		}
		if err := rn.reg.AddTriggerField(h, f.Name, f.Value, f.Mask); err != nil {
			return fmt.Errorf("error adding trigger field %s: %w", f.Name, err)
		}
	}
	if cfg.Mode != "" {
		mode, err := parseMode(cfg.Mode)
		if err != nil {
			return err
		}
		if err := rn.reg.TriggerModeSet(h, mode); err != nil {
			return fmt.Errorf("error setting trigger mode: %w", err)
		}
	}
	if err := rn.reg.StateSet(h, true, uint32(cfg.TimerUsec)); err != nil {
		return fmt.Errorf("error enabling snapshot: %w", err)
	}
	if err := rn.reg.RegisterCallback(psnap.DevID(cfg.Dev), rn.report); err != nil {
		return err
	}

	if err := rn.reg.DumpConfig(rn.w, h); err != nil {
		return err
	}
	if cfg.Fire {
		if err := rn.fire(dev, h); err != nil {
			return err
		}
	}
	if err := rn.reg.DumpState(rn.w, h); err != nil {
		return err
	}
	if cfg.Fire {
		if err := rn.dumpCaptures(ctx, h); err != nil {
			return err
		}
	}
	if rn.drv.Diag.Addr != "" {
		return rn.serve(ctx)
	}
	return nil
}

func (rn *runner) report(ev snapshot.Event) {
	fmt.Fprintf(rn.w, "Snapshot %s fired: pipe %d stage %d trigger local=%t timer=%t thread=%s\n",
		ev.Handle, ev.Pipe, ev.Stage, ev.Trigger.Local, ev.Trigger.Timer, ev.Trigger.Thread)
}

func (rn *runner) pipes(dev config.Device, h handle.Handle) []int {
	if h.Pipe() != psnap.AllPipes {
		return []int{int(h.Pipe())}
	}
	out := make([]int, dev.Pipes)
	for i := range out {
		out[i] = i
	}
	return out
}

func physPipe(dev config.Device, pipe int) int {
	if pipe < len(dev.PipeMap) {
		return dev.PipeMap[pipe]
	}
	return pipe
}

// fire plays the hardware side of a local trigger at the operational stage
// of every pipe of h, then delivers the notification the device expects.
func (rn *runner) fire(dev config.Device, h handle.Handle) error {
	be, err := backendreg.GetBackendRegister().New(psnap.ParseChipFamily(dev.Family), rn.bus)
	if err != nil {
		return err
	}
	info, err := rn.reg.Lookup(h)
	if err != nil {
		return err
	}
	trig := backend.TriggerInfo{Local: true, Thread: backend.ThreadIngress}
	if h.Dir() == psnap.Egress {
		trig.Thread = backend.ThreadEgress
	}
	for _, pipe := range rn.pipes(dev, h) {
		phys := physPipe(dev, pipe)
		loc := backend.Loc{Dev: h.Dev(), Pipe: phys, Stage: info.OperStage, Dir: h.Dir()}
		rc := &backend.RawCapture{
			Containers: make([]uint32, be.Layout().NumContainers()),
			Datapath:   backend.DatapathFlags{Captured: true},
		}
		if err := rn.bus.Fire(be, loc, trig, rc); err != nil {
			return err
		}
		if dev.Notify == config.NotifyInterrupt {
			if err := rn.reg.HandleInterrupt(h.Dev(), phys, info.OperStage, h.Dir()); err != nil {
				return fmt.Errorf("error handling interrupt: %w", err)
			}
		}
	}
	if dev.Notify == config.NotifyPoll {
		if _, err := rn.reg.Poll(h.Dev()); err != nil {
			return fmt.Errorf("error polling: %w", err)
		}
	}
	return nil
}

func (rn *runner) dumpCaptures(ctx context.Context, h handle.Handle) error {
	dev, err := rn.device()
	if err != nil {
		return err
	}
	for _, pipe := range rn.pipes(dev, h) {
		if err := rn.reg.DumpCapture(rn.w, h, pipe, rn.cfg.Raw); err != nil {
			return fmt.Errorf("error reading capture of pipe %d: %w", pipe, err)
		}
		if rn.archive == nil {
			continue
		}
		caps, err := rn.reg.Capture(h, pipe)
		if err != nil {
			return err
		}
		rec := &capstore.Record{Handle: h, Pipe: pipe}
		for _, c := range caps {
			fields, err := rn.reg.CaptureFields(h, pipe, c.Stage)
			if err != nil {
				return err
			}
			rec.Stages = append(rec.Stages, capstore.Stage{Data: c, Fields: fields})
		}
		if err := rn.archive.Save(ctx, rec); err != nil {
			return fmt.Errorf("error archiving capture: %w", err)
		}
		fmt.Fprintf(rn.w, "Archived pipe %d as %s\n", pipe, rec.ID)
	}
	return nil
}

// serve runs the diagnostics surface and the poller until ctx is done.
func (rn *runner) serve(ctx context.Context) error {
	fmt.Fprintf(rn.w, "Serving diagnostics on %s\n", rn.drv.Diag.Addr)
	var interval time.Duration
	for _, d := range rn.drv.Devices {
		if d.PollInterval > 0 && (interval == 0 || d.PollInterval < interval) {
			interval = d.PollInterval
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return diag.New(rn.reg, rn.archive, rn.log).ListenAndServe(ctx, rn.drv.Diag.Addr)
	})
	g.Go(func() error {
		return rn.reg.RunPoller(ctx, interval)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
