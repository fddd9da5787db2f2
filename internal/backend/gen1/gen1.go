// Package gen1 implements the snapshot register layer of the first chip
// generation: 224 normal PHV containers, a 32-bit timer, no ghost thread
// and no next-stage predication readback.
package gen1

import (
	"pipesnap/internal/backend"
	"pipesnap/internal/common"
	"pipesnap/internal/psnap"
)

// Address map of one stage/direction block.
const (
	baseAddr    = 0x02000000
	pipeStride  = 0x00800000
	stageStride = 0x00020000
	dirStride   = 0x00008000

	regCtl        = 0x000 // bit0 timer enable
	regTimer      = 0x004
	regFSM        = 0x008 // [1:0] state, bit4 enable
	regIntrEn     = 0x00C
	regIntrStat   = 0x010 // write one to clear
	regTrigType   = 0x014 // bit0 local, bit1 prev, bit2 timer, [5:4] thread
	regDpReset    = 0x018
	regDpCapture  = 0x01C // bit0 captured, bit1 error, [15:8] code
	regTblHit     = 0x020
	regGwInhibit  = 0x024
	regTblActive  = 0x028
	regNextTbl    = 0x02C
	regExmHitBase = 0x040
	regTcmHitBase = 0x080

	regTrig32Match = 0x400
	regTrig32Mask  = 0x600
	regTrig16Match = 0x800
	regTrig16Mask  = 0xA00
	regTrig8Match  = 0xC00
	regTrig8Mask   = 0xE00

	regPhvBase = 0x1000
)

const (
	fsmStateMask = 0x3
	fsmEnable    = 1 << 4
	ctlTimerEn   = 1 << 0
)

var layout = backend.NewLayout(
	backend.ContainerGroup{Width: 32, Type: psnap.ContainerNormal, Count: 64},
	backend.ContainerGroup{Width: 8, Type: psnap.ContainerNormal, Count: 64},
	backend.ContainerGroup{Width: 16, Type: psnap.ContainerNormal, Count: 96},
)

// Backend is the gen1 register layer.
type Backend struct {
	regs backend.Regs
}

// New creates a gen1 backend on bus.
func New(bus backend.RegBus) backend.Backend {
	return &Backend{regs: backend.Regs{Bus: bus}}
}

func (b *Backend) Family() psnap.ChipFamily { return psnap.FamilyGen1 }
func (b *Backend) Layout() *backend.Layout  { return layout }
func (b *Backend) NumSubdevices() int       { return 1 }
func (b *Backend) HasGhost() bool           { return false }
func (b *Backend) HasNextStageDecode() bool { return false }
func (b *Backend) MaxTimerTicks() uint64    { return 0xFFFFFFFF }

func addr(loc backend.Loc, off uint64) uint64 {
	return baseAddr + uint64(loc.Pipe)*pipeStride + uint64(loc.Stage)*stageStride +
		uint64(loc.Dir)*dirStride + off
}

func (b *Backend) read(loc backend.Loc, off uint64) (uint32, error) {
	return b.regs.Read(loc.Dev, 0, addr(loc, off))
}

func (b *Backend) write(loc backend.Loc, off uint64, v uint32) error {
	return b.regs.Write(loc.Dev, 0, addr(loc, off), v)
}

// ConfigSet only accepts ingress-only triggering; gen1 has no ghost thread.
func (b *Backend) ConfigSet(loc backend.Loc, mode psnap.TriggerMode) error {
	if mode != psnap.ModeIngressOnly {
		return common.DevErrorf(loc.Dev, psnap.ErrNotSupported, "trigger mode %s not available on gen1", mode)
	}
	return nil
}

func (b *Backend) ConfigGet(loc backend.Loc) (psnap.TriggerMode, error) {
	return psnap.ModeIngressOnly, nil
}

func (b *Backend) TimerSet(loc backend.Loc, enable bool, ticks uint64) error {
	if ticks > b.MaxTimerTicks() {
		ticks = b.MaxTimerTicks()
	}
	if err := b.write(loc, regTimer, uint32(ticks)); err != nil {
		return err
	}
	return b.regs.Modify(loc.Dev, 0, addr(loc, regCtl), ctlTimerEn, backend.Bit(enable))
}

func (b *Backend) TimerGet(loc backend.Loc) (bool, uint64, error) {
	ctl, err := b.read(loc, regCtl)
	if err != nil {
		return false, 0, err
	}
	t, err := b.read(loc, regTimer)
	if err != nil {
		return false, 0, err
	}
	return ctl&ctlTimerEn != 0, uint64(t), nil
}

func (b *Backend) TriggerSet(loc backend.Loc, half backend.Half, slot backend.Slot, word uint32) error {
	var base uint64
	switch slot.Width {
	case 32:
		base = regTrig32Match
	case 16:
		base = regTrig16Match
	case 8:
		base = regTrig8Match
	default:
		return common.DevErrorf(loc.Dev, psnap.ErrInvalidArg, "no %d-bit trigger bank", slot.Width)
	}
	if half == backend.HalfMask {
		base += regTrig32Mask - regTrig32Match
	}
	if slot.Index < 0 || slot.Index >= layout.NumSlots(slot.Width) {
		return common.DevErrorf(loc.Dev, psnap.ErrInvalidArg, "%d-bit trigger slot %d out of range", slot.Width, slot.Index)
	}
	return b.write(loc, base+uint64(slot.Index)*4, word&backend.WidthMask(slot.Width))
}

func (b *Backend) FSMSet(loc backend.Loc, reg backend.FSMReg) error {
	v := uint32(reg.State) & fsmStateMask
	if reg.Enabled {
		v |= fsmEnable
	}
	return b.write(loc, regFSM, v)
}

func (b *Backend) FSMGet(loc backend.Loc) (backend.FSMReg, error) {
	v, err := b.read(loc, regFSM)
	if err != nil {
		return backend.FSMReg{}, err
	}
	return backend.FSMReg{State: psnap.FSMState(v & fsmStateMask), Enabled: v&fsmEnable != 0}, nil
}

func (b *Backend) IntrEnable(loc backend.Loc, enable bool) error {
	return b.write(loc, regIntrEn, backend.Bit(enable))
}

func (b *Backend) IntrGet(loc backend.Loc) (bool, error) {
	v, err := b.read(loc, regIntrStat)
	return v&1 != 0, err
}

func (b *Backend) IntrClear(loc backend.Loc) error {
	return b.write(loc, regIntrStat, 1)
}

func (b *Backend) TriggerInfoGet(loc backend.Loc) (backend.TriggerInfo, error) {
	v, err := b.read(loc, regTrigType)
	if err != nil {
		return backend.TriggerInfo{}, err
	}
	return backend.DecodeTriggerType(v), nil
}

func (b *Backend) DatapathReset(loc backend.Loc) error {
	return b.write(loc, regDpReset, 1)
}

func (b *Backend) CaptureRead(loc backend.Loc) (*backend.RawCapture, error) {
	rc := &backend.RawCapture{Containers: make([]uint32, layout.NumContainers())}
	for n := range rc.Containers {
		v, err := b.read(loc, regPhvBase+uint64(n)*4)
		if err != nil {
			return nil, err
		}
		rc.Containers[n] = v & backend.WidthMask(layout.Width(n))
	}
	dp, err := b.read(loc, regDpCapture)
	if err != nil {
		return nil, err
	}
	rc.Datapath = backend.DecodeDatapath(dp)
	words := []struct {
		off uint64
		dst *uint16
	}{
		{regTblHit, &rc.TableHit},
		{regGwInhibit, &rc.GatewayInhibit},
		{regTblActive, &rc.TableActive},
		{regNextTbl, &rc.NextTable},
	}
	for _, w := range words {
		v, err := b.read(loc, w.off)
		if err != nil {
			return nil, err
		}
		*w.dst = uint16(v)
	}
	for bus := range rc.ExmHitAddr {
		if rc.ExmHitAddr[bus], err = b.read(loc, regExmHitBase+uint64(bus)*4); err != nil {
			return nil, err
		}
	}
	for bus := range rc.TcamHitAddr {
		if rc.TcamHitAddr[bus], err = b.read(loc, regTcmHitBase+uint64(bus)*4); err != nil {
			return nil, err
		}
	}
	return rc, nil
}

// PredicationGet is not available on gen1.
func (b *Backend) PredicationGet(loc backend.Loc) (backend.StagePredication, error) {
	return backend.StagePredication{}, common.DevErrorf(loc.Dev, psnap.ErrNotSupported, "predication readback not available on gen1")
}
