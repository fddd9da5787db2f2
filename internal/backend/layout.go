package backend

import (
	"pipesnap/internal/psnap"
)

// ContainerGroup is a run of consecutively numbered PHV containers of the
// same width and type.
type ContainerGroup struct {
	Width int
	Type  psnap.ContainerType
	Count int
}

// Slot is the trigger register index of a container: containers of one
// width share a bank, dark containers have no slot.
type Slot struct {
	Width int
	Index int
}

type containerInfo struct {
	width int
	typ   psnap.ContainerType
	slot  int // -1 for dark
}

// Layout is the PHV container numbering of a generation.
type Layout struct {
	Groups     []ContainerGroup
	containers []containerInfo
	slots      map[int]int
}

// NewLayout numbers the groups in order.
func NewLayout(groups ...ContainerGroup) *Layout {
	l := &Layout{
		Groups: groups,
		slots:  make(map[int]int),
	}
	for _, g := range groups {
		for i := 0; i < g.Count; i++ {
			ci := containerInfo{width: g.Width, typ: g.Type, slot: -1}
			if g.Type != psnap.ContainerDark {
				ci.slot = l.slots[g.Width]
				l.slots[g.Width]++
			}
			l.containers = append(l.containers, ci)
		}
	}
	return l
}

// NumContainers is the total number of containers.
func (l *Layout) NumContainers() int { return len(l.containers) }

// NumSlots is the number of trigger slots of the given width.
func (l *Layout) NumSlots(width int) int { return l.slots[width] }

// Width returns the bit width of container n, 0 if out of range.
func (l *Layout) Width(n int) int {
	if n < 0 || n >= len(l.containers) {
		return 0
	}
	return l.containers[n].width
}

// Type returns the type of container n.
func (l *Layout) Type(n int) psnap.ContainerType {
	if n < 0 || n >= len(l.containers) {
		return psnap.ContainerDark
	}
	return l.containers[n].typ
}

// Slot returns the trigger slot of container n; ok is false for dark or
// unknown containers.
func (l *Layout) Slot(n int) (Slot, bool) {
	if n < 0 || n >= len(l.containers) {
		return Slot{}, false
	}
	ci := l.containers[n]
	if ci.slot < 0 {
		return Slot{}, false
	}
	return Slot{Width: ci.width, Index: ci.slot}, true
}

// WidthMask is the all-ones value of a container width.
func WidthMask(width int) uint32 {
	if width >= 32 {
		return 0xFFFFFFFF
	}
	return uint32(1)<<uint(width) - 1
}
