// Package backend defines the register-level contract implemented once per
// chip generation. The snapshot engine talks to hardware only through
// Backend; the concrete implementation is chosen when a device is added.
package backend

import (
	"pipesnap/internal/psnap"
)

// Loc addresses one stage of one physical pipe in one direction.
type Loc struct {
	Dev   psnap.DevID
	Pipe  int // physical pipe
	Stage int
	Dir   psnap.Direction
}

// Half selects which word of a trigger container pair is written.
type Half uint8

const (
	HalfMatch Half = 0
	HalfMask  Half = 1
)

func (h Half) String() string {
	if h == HalfMask {
		return "mask"
	}
	return "match"
}

// FSMReg is the content of a stage's debug FSM register. Hardware clears
// Enabled when the snapshot fires.
type FSMReg struct {
	State   psnap.FSMState
	Enabled bool
}

// Thread identifies which pipeline thread a trigger came from.
type Thread uint8

const (
	ThreadIngress Thread = 0
	ThreadGhost   Thread = 1
	ThreadEgress  Thread = 2
)

func (t Thread) String() string {
	switch t {
	case ThreadIngress:
		return "ingress"
	case ThreadGhost:
		return "ghost"
	case ThreadEgress:
		return "egress"
	default:
		return "unknown"
	}
}

// TriggerInfo is the decoded trigger-type register.
type TriggerInfo struct {
	Local  bool // this stage's own match fired
	Prev   bool // forwarded from an upstream stage
	Timer  bool // timer threshold expired
	Thread Thread
}

// LocalOrTimer reports whether the trigger originated at this stage.
func (t TriggerInfo) LocalOrTimer() bool { return t.Local || t.Timer }

// DatapathFlags is the decoded datapath-capture register.
type DatapathFlags struct {
	Captured  bool
	Error     bool
	ErrorCode uint8
}

// RawCapture holds everything read back from a stage's capture registers.
type RawCapture struct {
	Containers     []uint32 // indexed by flat container number
	ContainerValid []bool   // nil when the generation has no valid bits
	Datapath       DatapathFlags
	TableHit       uint16
	GatewayInhibit uint16
	ExmHitAddr     [psnap.MaxExmBuses]uint32
	TcamHitAddr    [psnap.MaxTcamBuses]uint32
	TableActive    uint16
	NextTable      uint16 // stage<<4 | logical table
	GlobalExecOut  uint16 // gen2 and later
	LongBranchOut  uint8  // gen2 and later
}

// StagePredication is the set of registers describing how a stage gates
// its logical tables on upstream decisions.
type StagePredication struct {
	TableSelect      [psnap.MaxLogicalTables]uint16 // next-table LUT
	GlobalExec       uint16                         // tables gated by global exec
	LongBranchTerm   uint8                          // tags terminated in this stage
	LongBranchTables [psnap.MaxLongBranchTags]uint16
}

// NextTableStage splits a raw next-table value.
func NextTableStage(nt uint16) (stage, logicalTable int) {
	return int(nt >> 4), int(nt & 0xF)
}

// Backend is the per-generation register access layer.
type Backend interface {
	Family() psnap.ChipFamily
	Layout() *Layout
	NumSubdevices() int
	HasGhost() bool
	HasNextStageDecode() bool
	MaxTimerTicks() uint64

	ConfigSet(loc Loc, mode psnap.TriggerMode) error
	ConfigGet(loc Loc) (psnap.TriggerMode, error)
	TimerSet(loc Loc, enable bool, ticks uint64) error
	TimerGet(loc Loc) (enable bool, ticks uint64, err error)
	TriggerSet(loc Loc, half Half, slot Slot, word uint32) error
	FSMSet(loc Loc, reg FSMReg) error
	FSMGet(loc Loc) (FSMReg, error)
	IntrEnable(loc Loc, enable bool) error
	IntrGet(loc Loc) (bool, error)
	IntrClear(loc Loc) error
	CaptureRead(loc Loc) (*RawCapture, error)
	TriggerInfoGet(loc Loc) (TriggerInfo, error)
	DatapathReset(loc Loc) error
	PredicationGet(loc Loc) (StagePredication, error)
}

// RegBus is the raw 32-bit register interconnect. Accesses are synchronous
// and may block.
type RegBus interface {
	Read32(dev psnap.DevID, subdev int, addr uint64) (uint32, error)
	Write32(dev psnap.DevID, subdev int, addr uint64, val uint32) error
}

// Factory builds a backend on top of a register bus.
type Factory func(bus RegBus) Backend

// Poker writes a model register file directly, bypassing write-one-to-clear
// semantics.
type Poker interface {
	Poke(dev psnap.DevID, subdev int, addr uint64, val uint32)
	Peek(dev psnap.DevID, subdev int, addr uint64) uint32
}

// Model is implemented by backends that can drive their status registers on
// a model register file, standing in for the hardware side of a trigger.
type Model interface {
	IsW1C(addr uint64) bool
	InjectCapture(p Poker, loc Loc, rc *RawCapture)
	InjectTrigger(p Poker, loc Loc, info TriggerInfo)
	InjectPredication(p Poker, loc Loc, pred StagePredication)
}
