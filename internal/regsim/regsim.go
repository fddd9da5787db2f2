// Package regsim is a sparse in-memory register file standing in for the
// device interconnect. It records writes in order, supports
// write-one-to-clear registers and can inject access faults.
package regsim

import (
	"fmt"
	"sync"

	"pipesnap/internal/backend"
	"pipesnap/internal/psnap"
)

type key struct {
	dev    psnap.DevID
	subdev int
	addr   uint64
}

// Write is one logged register write.
type Write struct {
	Dev    psnap.DevID
	Subdev int
	Addr   uint64
	Val    uint32
}

// Bus is the model register file.
type Bus struct {
	mu     sync.Mutex
	regs   map[key]uint32
	w1c    map[psnap.DevID]func(uint64) bool
	faults map[key]error
	log    []Write
	reads  int
}

// New returns an empty register file.
func New() *Bus {
	return &Bus{
		regs:   make(map[key]uint32),
		w1c:    make(map[psnap.DevID]func(uint64) bool),
		faults: make(map[key]error),
	}
}

// Attach installs the write-one-to-clear map of be for dev.
func (b *Bus) Attach(dev psnap.DevID, be backend.Backend) {
	if m, ok := be.(backend.Model); ok {
		b.SetW1C(dev, m.IsW1C)
	}
}

// SetW1C installs the write-one-to-clear predicate of a device.
func (b *Bus) SetW1C(dev psnap.DevID, isW1C func(addr uint64) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.w1c[dev] = isW1C
}

func (b *Bus) Read32(dev psnap.DevID, subdev int, addr uint64) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key{dev, subdev, addr}
	if err := b.faults[k]; err != nil {
		return 0, err
	}
	b.reads++
	return b.regs[k], nil
}

func (b *Bus) Write32(dev psnap.DevID, subdev int, addr uint64, val uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key{dev, subdev, addr}
	if err := b.faults[k]; err != nil {
		return err
	}
	b.log = append(b.log, Write{Dev: dev, Subdev: subdev, Addr: addr, Val: val})
	if f := b.w1c[dev]; f != nil && f(addr) {
		b.regs[k] &^= val
		return nil
	}
	b.regs[k] = val
	return nil
}

// Poke sets a register without logging or clear semantics.
func (b *Bus) Poke(dev psnap.DevID, subdev int, addr uint64, val uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[key{dev, subdev, addr}] = val
}

// Peek reads a register without fault injection.
func (b *Bus) Peek(dev psnap.DevID, subdev int, addr uint64) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[key{dev, subdev, addr}]
}

// FailOn makes every access to one register fail with err.
func (b *Bus) FailOn(dev psnap.DevID, subdev int, addr uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("regsim: injected fault at 0x%08x", addr)
	}
	b.faults[key{dev, subdev, addr}] = err
}

// ClearFaults removes every injected fault.
func (b *Bus) ClearFaults() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = make(map[key]error)
}

// Writes returns a copy of the write log.
func (b *Bus) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Write, len(b.log))
	copy(out, b.log)
	return out
}

// ResetLog clears the write log and read counter.
func (b *Bus) ResetLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = nil
	b.reads = 0
}

// Reads returns the number of reads since the last ResetLog.
func (b *Bus) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

// Fire simulates the hardware side of a trigger at loc: the capture
// registers are loaded, the trigger type is latched, the interrupt is raised
// if enabled and the FSM enable bit is cleared.
func (b *Bus) Fire(be backend.Backend, loc backend.Loc, info backend.TriggerInfo, rc *backend.RawCapture) error {
	m, ok := be.(backend.Model)
	if !ok {
		return fmt.Errorf("regsim: %s backend cannot be driven as a model", be.Family())
	}
	if rc != nil {
		m.InjectCapture(b, loc, rc)
	}
	m.InjectTrigger(b, loc, info)
	return nil
}

// LoadPredication sets the predication registers of a stage.
func (b *Bus) LoadPredication(be backend.Backend, loc backend.Loc, pred backend.StagePredication) error {
	m, ok := be.(backend.Model)
	if !ok {
		return fmt.Errorf("regsim: %s backend cannot be driven as a model", be.Family())
	}
	m.InjectPredication(b, loc, pred)
	return nil
}
