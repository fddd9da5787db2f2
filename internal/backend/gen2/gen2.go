// Package gen2 implements the snapshot register layer of the second chip
// generation. It adds mocha and dark containers, a 48-bit timer, the ghost
// thread and the predication registers needed to decode next-table,
// global-exec and long-branch state.
//
// The register block layout is shared with gen3, which only differs in its
// address map, container counts and subdevice split; see Variant.
package gen2

import (
	"pipesnap/internal/backend"
	"pipesnap/internal/common"
	"pipesnap/internal/psnap"
)

// Offsets inside one stage/direction block.
const (
	regCtl        = 0x000 // bit0 timer enable, [9:8] trigger mode
	regTimerLo    = 0x004
	regFSM        = 0x008 // [1:0] state, bit4 enable
	regIntrEn     = 0x00C
	regIntrStat   = 0x010 // write one to clear
	regTrigType   = 0x014
	regDpReset    = 0x018
	regDpCapture  = 0x01C
	regTblHit     = 0x020
	regGwInhibit  = 0x024
	regTblActive  = 0x028
	regNextTbl    = 0x02C
	regGlobalExec = 0x030
	regLongBranch = 0x034
	regTimerHi    = 0x038 // [15:0]
	regExmHitBase = 0x040
	regTcmHitBase = 0x080

	regTrig32Match = 0x400
	regTrig16Match = 0x800
	regTrig8Match  = 0xC00
	trigMaskOffset = 0x200

	regPhvBase   = 0x1000
	regPhvValid  = 0x2000
	regTblSelect = 0x3000
	regGexTables = 0x3040
	regLbrTerm   = 0x3044
	regLbrTables = 0x3080
)

const (
	ctlTimerEn   = 1 << 0
	ctlModeShift = 8
	ctlModeMask  = 0x3 << ctlModeShift
	fsmStateMask = 0x3
	fsmEnable    = 1 << 4
	timerBits    = 48
)

// AddrMap places stage blocks in the register space.
type AddrMap struct {
	Base           uint64
	PipeStride     uint64
	StageStride    uint64
	DirStride      uint64
	PipesPerSubdev int
}

// Variant describes one generation built on this register block.
type Variant struct {
	Family  psnap.ChipFamily
	Map     AddrMap
	Layout  *backend.Layout
	Subdevs int
}

var gen2Layout = backend.NewLayout(
	backend.ContainerGroup{Width: 32, Type: psnap.ContainerNormal, Count: 64},
	backend.ContainerGroup{Width: 32, Type: psnap.ContainerMocha, Count: 16},
	backend.ContainerGroup{Width: 32, Type: psnap.ContainerDark, Count: 16},
	backend.ContainerGroup{Width: 8, Type: psnap.ContainerNormal, Count: 64},
	backend.ContainerGroup{Width: 8, Type: psnap.ContainerMocha, Count: 16},
	backend.ContainerGroup{Width: 8, Type: psnap.ContainerDark, Count: 16},
	backend.ContainerGroup{Width: 16, Type: psnap.ContainerNormal, Count: 96},
	backend.ContainerGroup{Width: 16, Type: psnap.ContainerMocha, Count: 24},
	backend.ContainerGroup{Width: 16, Type: psnap.ContainerDark, Count: 24},
)

var gen2Variant = Variant{
	Family: psnap.FamilyGen2,
	Map: AddrMap{
		Base:           0x04000000,
		PipeStride:     0x00400000,
		StageStride:    0x00008000,
		DirStride:      0x00004000,
		PipesPerSubdev: psnap.MaxPipes,
	},
	Layout:  gen2Layout,
	Subdevs: 1,
}

// Backend is the gen2 register layer.
type Backend struct {
	regs backend.Regs
	v    Variant
}

// New creates a gen2 backend on bus.
func New(bus backend.RegBus) backend.Backend {
	return NewVariant(bus, gen2Variant)
}

// NewVariant creates a backend for a generation sharing this block layout.
func NewVariant(bus backend.RegBus, v Variant) *Backend {
	return &Backend{regs: backend.Regs{Bus: bus}, v: v}
}

func (b *Backend) Family() psnap.ChipFamily { return b.v.Family }
func (b *Backend) Layout() *backend.Layout  { return b.v.Layout }
func (b *Backend) NumSubdevices() int       { return b.v.Subdevs }
func (b *Backend) HasGhost() bool           { return true }
func (b *Backend) HasNextStageDecode() bool { return true }
func (b *Backend) MaxTimerTicks() uint64    { return 1<<timerBits - 1 }

// locate splits a physical pipe into subdevice and local pipe and returns
// the block address.
func (b *Backend) locate(loc backend.Loc, off uint64) (int, uint64) {
	m := b.v.Map
	subdev := loc.Pipe / m.PipesPerSubdev
	local := loc.Pipe % m.PipesPerSubdev
	a := m.Base + uint64(local)*m.PipeStride + uint64(loc.Stage)*m.StageStride +
		uint64(loc.Dir)*m.DirStride + off
	return subdev, a
}

func (b *Backend) read(loc backend.Loc, off uint64) (uint32, error) {
	subdev, a := b.locate(loc, off)
	return b.regs.Read(loc.Dev, subdev, a)
}

func (b *Backend) write(loc backend.Loc, off uint64, v uint32) error {
	subdev, a := b.locate(loc, off)
	return b.regs.Write(loc.Dev, subdev, a, v)
}

func (b *Backend) modify(loc backend.Loc, off uint64, mask, v uint32) error {
	subdev, a := b.locate(loc, off)
	return b.regs.Modify(loc.Dev, subdev, a, mask, v)
}

// ConfigSet programs the trigger mode. Ghost modes only exist for ingress.
func (b *Backend) ConfigSet(loc backend.Loc, mode psnap.TriggerMode) error {
	if mode > psnap.ModeBoth {
		return common.DevErrorf(loc.Dev, psnap.ErrInvalidArg, "bad trigger mode %d", mode)
	}
	if loc.Dir == psnap.Egress && mode != psnap.ModeIngressOnly {
		return common.DevErrorf(loc.Dev, psnap.ErrNotSupported, "trigger mode %s invalid for egress", mode)
	}
	return b.modify(loc, regCtl, ctlModeMask, uint32(mode)<<ctlModeShift)
}

func (b *Backend) ConfigGet(loc backend.Loc) (psnap.TriggerMode, error) {
	v, err := b.read(loc, regCtl)
	if err != nil {
		return psnap.ModeIngressOnly, err
	}
	return psnap.TriggerMode((v & ctlModeMask) >> ctlModeShift), nil
}

func (b *Backend) TimerSet(loc backend.Loc, enable bool, ticks uint64) error {
	if ticks > b.MaxTimerTicks() {
		ticks = b.MaxTimerTicks()
	}
	if err := b.write(loc, regTimerLo, uint32(ticks)); err != nil {
		return err
	}
	if err := b.write(loc, regTimerHi, uint32(ticks>>32)&0xFFFF); err != nil {
		return err
	}
	return b.modify(loc, regCtl, ctlTimerEn, backend.Bit(enable))
}

func (b *Backend) TimerGet(loc backend.Loc) (bool, uint64, error) {
	ctl, err := b.read(loc, regCtl)
	if err != nil {
		return false, 0, err
	}
	lo, err := b.read(loc, regTimerLo)
	if err != nil {
		return false, 0, err
	}
	hi, err := b.read(loc, regTimerHi)
	if err != nil {
		return false, 0, err
	}
	return ctl&ctlTimerEn != 0, uint64(hi&0xFFFF)<<32 | uint64(lo), nil
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
		base += trigMaskOffset
	}
	if slot.Index < 0 || slot.Index >= b.v.Layout.NumSlots(slot.Width) {
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
	l := b.v.Layout
	n := l.NumContainers()
	rc := &backend.RawCapture{
		Containers:     make([]uint32, n),
		ContainerValid: make([]bool, n),
	}
	for c := 0; c < n; c++ {
		v, err := b.read(loc, regPhvBase+uint64(c)*4)
		if err != nil {
			return nil, err
		}
		rc.Containers[c] = v & backend.WidthMask(l.Width(c))
	}
	for w := 0; w*32 < n; w++ {
		bits, err := b.read(loc, regPhvValid+uint64(w)*4)
		if err != nil {
			return nil, err
		}
		for i := 0; i < 32 && w*32+i < n; i++ {
			rc.ContainerValid[w*32+i] = bits&(1<<uint(i)) != 0
		}
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
		{regGlobalExec, &rc.GlobalExecOut},
	}
	for _, w := range words {
		v, err := b.read(loc, w.off)
		if err != nil {
			return nil, err
		}
		*w.dst = uint16(v)
	}
	lb, err := b.read(loc, regLongBranch)
	if err != nil {
		return nil, err
	}
	rc.LongBranchOut = uint8(lb)
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

func (b *Backend) PredicationGet(loc backend.Loc) (backend.StagePredication, error) {
	var p backend.StagePredication
	for i := range p.TableSelect {
		v, err := b.read(loc, regTblSelect+uint64(i)*4)
		if err != nil {
			return p, err
		}
		p.TableSelect[i] = uint16(v)
	}
	v, err := b.read(loc, regGexTables)
	if err != nil {
		return p, err
	}
	p.GlobalExec = uint16(v)
	if v, err = b.read(loc, regLbrTerm); err != nil {
		return p, err
	}
	p.LongBranchTerm = uint8(v)
	for tag := range p.LongBranchTables {
		if v, err = b.read(loc, regLbrTables+uint64(tag)*4); err != nil {
			return p, err
		}
		p.LongBranchTables[tag] = uint16(v)
	}
	return p, nil
}
