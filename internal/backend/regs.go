package backend

import (
	"pipesnap/internal/common"
	"pipesnap/internal/psnap"
)

// Regs wraps a RegBus with library error reporting. Failures are reported
// once and never retried.
type Regs struct {
	Bus RegBus
}

func (r Regs) Read(dev psnap.DevID, subdev int, addr uint64) (uint32, error) {
	v, err := r.Bus.Read32(dev, subdev, addr)
	if err != nil {
		return 0, common.Wrap(err, psnap.ErrHwAccess, "dev %d subdev %d read 0x%08x", dev, subdev, addr)
	}
	return v, nil
}

func (r Regs) Write(dev psnap.DevID, subdev int, addr uint64, val uint32) error {
	if err := r.Bus.Write32(dev, subdev, addr, val); err != nil {
		return common.Wrap(err, psnap.ErrHwAccess, "dev %d subdev %d write 0x%08x", dev, subdev, addr)
	}
	return nil
}

// Modify performs a read-modify-write of the bits selected by mask.
func (r Regs) Modify(dev psnap.DevID, subdev int, addr uint64, mask, val uint32) error {
	old, err := r.Read(dev, subdev, addr)
	if err != nil {
		return err
	}
	return r.Write(dev, subdev, addr, (old&^mask)|(val&mask))
}

// Bit returns 1 if b is set.
func Bit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Bit layout of the trigger-type and datapath-capture registers, shared
// by every generation.
const (
	trigLocal   = 1 << 0
	trigPrev    = 1 << 1
	trigTimer   = 1 << 2
	trigThreadS = 4
	trigThreadM = 0x3

	dpCaptured = 1 << 0
	dpError    = 1 << 1
	dpCodeS    = 8
)

// DecodeTriggerType unpacks a trigger-type register value.
func DecodeTriggerType(v uint32) TriggerInfo {
	return TriggerInfo{
		Local:  v&trigLocal != 0,
		Prev:   v&trigPrev != 0,
		Timer:  v&trigTimer != 0,
		Thread: Thread((v >> trigThreadS) & trigThreadM),
	}
}

// EncodeTriggerType packs a trigger-type register value.
func EncodeTriggerType(t TriggerInfo) uint32 {
	v := uint32(t.Thread&trigThreadM) << trigThreadS
	if t.Local {
		v |= trigLocal
	}
	if t.Prev {
		v |= trigPrev
	}
	if t.Timer {
		v |= trigTimer
	}
	return v
}

// DecodeDatapath unpacks a datapath-capture register value.
func DecodeDatapath(v uint32) DatapathFlags {
	return DatapathFlags{
		Captured:  v&dpCaptured != 0,
		Error:     v&dpError != 0,
		ErrorCode: uint8(v >> dpCodeS),
	}
}
