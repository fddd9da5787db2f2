package psnap

import "fmt"

// Device, pipe and stage addressing

// DevID identifies an attached device.
type DevID int

// PipeID is a logical pipe index, or AllPipes.
type PipeID uint32

// AllPipes selects every pipe of a device.
const AllPipes PipeID = 0xFFFF

func (p PipeID) String() string {
	if p == AllPipes {
		return "ALL"
	}
	return fmt.Sprintf("%d", uint32(p))
}

// Addressing limits shared by every chip family.
const (
	MaxDevices        = 256
	MaxPipes          = 8
	MaxStages         = 31
	MaxLogicalTables  = 16
	MaxExmBuses       = 16
	MaxTcamBuses      = 8
	MaxLongBranchTags = 8
)

// Direction is the thread through the pipeline.
type Direction uint8

const (
	Ingress Direction = 0
	Egress  Direction = 1

	NumDirections = 2
)

func (d Direction) String() string {
	switch d {
	case Ingress:
		return "ingress"
	case Egress:
		return "egress"
	default:
		return fmt.Sprintf("dir(%d)", uint8(d))
	}
}

// Valid reports whether d is Ingress or Egress.
func (d Direction) Valid() bool { return d == Ingress || d == Egress }

// ChipFamily selects the hardware backend.
type ChipFamily uint32

const (
	FamilyUnknown ChipFamily = 0
	FamilyGen1    ChipFamily = 1
	FamilyGen2    ChipFamily = 2
	FamilyGen3    ChipFamily = 3
)

func (f ChipFamily) String() string {
	switch f {
	case FamilyGen1:
		return "gen1"
	case FamilyGen2:
		return "gen2"
	case FamilyGen3:
		return "gen3"
	default:
		return "unknown"
	}
}

// ParseChipFamily maps a configuration string to a ChipFamily.
func ParseChipFamily(s string) ChipFamily {
	switch s {
	case "gen1":
		return FamilyGen1
	case "gen2":
		return FamilyGen2
	case "gen3":
		return FamilyGen3
	default:
		return FamilyUnknown
	}
}

// Snapshot state

// AdminState is the operator-requested state of a snapshot.
type AdminState uint8

const (
	AdminDisabled AdminState = 0
	AdminEnabled  AdminState = 1
)

func (a AdminState) String() string {
	if a == AdminEnabled {
		return "Enabled"
	}
	return "Disabled"
}

// FSMState is the per-stage debug state machine state.
type FSMState uint8

const (
	// FSMPassive only forwards a previous stage's trigger.
	FSMPassive FSMState = 0
	// FSMArmed is the active trigger point.
	FSMArmed FSMState = 1
	// FSMTriggerHappy is both armed and forwarding.
	FSMTriggerHappy FSMState = 2
	// FSMFull has nothing to watch.
	FSMFull FSMState = 3
)

func (s FSMState) String() string {
	switch s {
	case FSMPassive:
		return "Passive"
	case FSMArmed:
		return "Armed"
	case FSMTriggerHappy:
		return "TriggerHappy"
	case FSMFull:
		return "Full"
	default:
		return fmt.Sprintf("FSMState(%d)", uint8(s))
	}
}

// TriggerMode selects which threads may trigger an ingress snapshot.
type TriggerMode uint8

const (
	ModeIngressOnly TriggerMode = 0
	ModeGhostOnly   TriggerMode = 1
	ModeAny         TriggerMode = 2
	ModeBoth        TriggerMode = 3
)

func (m TriggerMode) String() string {
	switch m {
	case ModeIngressOnly:
		return "IngressOnly"
	case ModeGhostOnly:
		return "GhostOnly"
	case ModeAny:
		return "Any"
	case ModeBoth:
		return "Both"
	default:
		return fmt.Sprintf("TriggerMode(%d)", uint8(m))
	}
}

// UsesGhost reports whether the mode involves the ghost thread.
func (m TriggerMode) UsesGhost() bool { return m != ModeIngressOnly }

// PHV containers

// ContainerType classifies PHV containers.
type ContainerType uint8

const (
	ContainerNormal ContainerType = 0
	ContainerMocha  ContainerType = 1
	ContainerDark   ContainerType = 2
)

func (c ContainerType) String() string {
	switch c {
	case ContainerNormal:
		return "normal"
	case ContainerMocha:
		return "mocha"
	case ContainerDark:
		return "dark"
	default:
		return "invalid"
	}
}

// ParseContainerType maps a metadata string to a ContainerType.
func ParseContainerType(s string) (ContainerType, bool) {
	switch s {
	case "", "normal":
		return ContainerNormal, true
	case "mocha":
		return ContainerMocha, true
	case "dark":
		return ContainerDark, true
	default:
		return ContainerNormal, false
	}
}

// DictEntry maps one slice of a named field onto a PHV container.
type DictEntry struct {
	Name      string
	Container int
	Width     int // 8, 16 or 32
	Type      ContainerType
	FieldLsb  int
	FieldMsb  int
	PhvLsb    int
	PhvMsb    int
	Valid     bool
}

// SliceWidth is the number of field bits held by this entry.
func (e *DictEntry) SliceWidth() int { return e.FieldMsb - e.FieldLsb + 1 }

// Tables

// TableHandle identifies a logical match-action table.
type TableHandle uint32

// EntryHandle identifies an installed table entry.
type EntryHandle uint32

// InvalidEntry is the entry handle reported for unresolved hits.
const InvalidEntry EntryHandle = 0xFFFFFFFF

// TableInfo describes a logical table placed in a stage.
type TableInfo struct {
	Name         string
	Handle       TableHandle
	LogicalID    int
	IsMatchTable bool
	Tcam         bool
	Bus          int
}
