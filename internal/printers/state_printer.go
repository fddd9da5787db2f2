package printers

import (
	"fmt"
	"io"
	"strings"

	"pipesnap/internal/fsm"
	"pipesnap/internal/state"
)

// StatePrinter dumps the lifecycle state of a handle.
type StatePrinter struct {
	ItemPrinter
}

// NewStatePrinter creates a state printer writing to writer.
func NewStatePrinter(writer io.Writer) *StatePrinter {
	return &StatePrinter{ItemPrinter: *NewItemPrinter(writer)}
}

// Print writes the admin, timer and derived FSM state of every stage the
// handle covers.
func (p *StatePrinter) Print(d *state.DeviceState, hi *state.HandleInfo) {
	h := hi.Handle
	var sb strings.Builder
	fmt.Fprintf(&sb, "Snapshot %s: %s\n", h, h.Describe())
	fmt.Fprintf(&sb, "  oper stage: %d\n", hi.OperStage)
	fmt.Fprintf(&sb, "  notify: %s\n", d.Notify)
	for _, pipe := range d.Pipes(h.Pipe()) {
		st := d.Cell(h.Dir(), pipe, h.StartStage())
		timer := "off"
		if st.TimerEnabled {
			timer = "on"
		}
		fmt.Fprintf(&sb, "  pipe %d (phys %d, profile %d): admin %s, timer %s, mode %s\n",
			pipe, d.PhysPipe(pipe), d.Profile(pipe).ID, st.Admin, timer, st.Mode)
		states := fsm.Derive(d, pipe, h.Dir())
		for s := h.StartStage(); s <= h.EndStage(); s++ {
			mark := ""
			if s == hi.OperStage {
				mark = " *"
			}
			fmt.Fprintf(&sb, "    stage %2d: %s%s\n", s, states[s], mark)
		}
	}
	p.ItemPrintLine(sb.String())
}
