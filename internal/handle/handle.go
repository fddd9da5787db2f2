// Package handle packs a snapshot's (device, pipe, stage range, direction)
// into an opaque 32-bit value.
//
// Layout:
//
//	bit  31     valid marker (always 1)
//	bits 30..24 reserved, zero
//	bits 23..16 device
//	bits 15..11 pipe (all ones = all pipes)
//	bits 10..6  start stage
//	bits  5..1  end stage
//	bit   0     direction
//
// Encode does not validate; callers check ranges first.
package handle

import (
	"fmt"

	"pipesnap/internal/psnap"
)

// Handle identifies a snapshot.
type Handle uint32

const (
	dirShift   = 0
	dirMask    = 0x1
	endShift   = 1
	stageMask  = 0x1F
	startShift = 6
	pipeShift  = 11
	pipeMask   = 0x1F
	devShift   = 16
	devMask    = 0xFF
	resShift   = 24
	resMask    = 0x7F
	validBit   = 1 << 31
)

// Invalid is never returned by Encode.
const Invalid Handle = 0

// Fields is the decoded content of a Handle.
type Fields struct {
	Dev        psnap.DevID
	Pipe       psnap.PipeID
	StartStage int
	EndStage   int
	Dir        psnap.Direction
}

// Encode packs the snapshot coordinates.
func Encode(dev psnap.DevID, pipe psnap.PipeID, start, end int, dir psnap.Direction) Handle {
	p := uint32(pipe) & pipeMask
	if pipe == psnap.AllPipes {
		p = pipeMask
	}
	v := uint32(validBit)
	v |= (uint32(dev) & devMask) << devShift
	v |= p << pipeShift
	v |= (uint32(start) & stageMask) << startShift
	v |= (uint32(end) & stageMask) << endShift
	v |= (uint32(dir) & dirMask) << dirShift
	return Handle(v)
}

// Valid reports whether h carries the valid marker and zero reserved bits.
func (h Handle) Valid() bool {
	return uint32(h)&validBit != 0 && (uint32(h)>>resShift)&resMask == 0
}

// Decode unpacks all fields.
func (h Handle) Decode() Fields {
	return Fields{
		Dev:        h.Dev(),
		Pipe:       h.Pipe(),
		StartStage: h.StartStage(),
		EndStage:   h.EndStage(),
		Dir:        h.Dir(),
	}
}

func (h Handle) Dev() psnap.DevID {
	return psnap.DevID((uint32(h) >> devShift) & devMask)
}

// Pipe returns the logical pipe, mapping the all-ones field to AllPipes.
func (h Handle) Pipe() psnap.PipeID {
	p := (uint32(h) >> pipeShift) & pipeMask
	if p == pipeMask {
		return psnap.AllPipes
	}
	return psnap.PipeID(p)
}

func (h Handle) StartStage() int { return int((uint32(h) >> startShift) & stageMask) }
func (h Handle) EndStage() int   { return int((uint32(h) >> endShift) & stageMask) }

func (h Handle) Dir() psnap.Direction {
	return psnap.Direction((uint32(h) >> dirShift) & dirMask)
}

func (h Handle) String() string {
	return fmt.Sprintf("0x%08x", uint32(h))
}

// Describe renders the decoded coordinates.
func (h Handle) Describe() string {
	f := h.Decode()
	return fmt.Sprintf("dev %d pipe %s stages %d-%d %s", f.Dev, f.Pipe, f.StartStage, f.EndStage, f.Dir)
}
