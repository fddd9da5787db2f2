package printers

import (
	"fmt"
	"io"
	"strings"

	"pipesnap/internal/state"
)

// ConfigPrinter dumps the trigger configuration of a handle.
type ConfigPrinter struct {
	ItemPrinter
}

// NewConfigPrinter creates a config printer writing to writer.
func NewConfigPrinter(writer io.Writer) *ConfigPrinter {
	return &ConfigPrinter{ItemPrinter: *NewItemPrinter(writer)}
}

// Print writes the trigger fields, dictionary sizes and capture buffer
// sizing of a handle.
func (p *ConfigPrinter) Print(d *state.DeviceState, hi *state.HandleInfo) {
	h := hi.Handle
	var sb strings.Builder
	fmt.Fprintf(&sb, "Snapshot %s config: %s\n", h, h.Describe())
	fmt.Fprintf(&sb, "  trigger fields (%d of %d):\n", len(hi.Fields), hi.Capacity)
	if len(hi.Fields) == 0 {
		sb.WriteString("    none, matching anything\n")
	}
	for _, f := range hi.Fields {
		valid := ""
		if !f.Valid {
			valid = " (invalid)"
		}
		fmt.Fprintf(&sb, "    %-24s width %3d value 0x%016x mask 0x%016x%s\n", f.Name, f.Width, f.Value, f.Mask, valid)
	}
	for _, pipe := range d.Pipes(h.Pipe()) {
		fmt.Fprintf(&sb, "  pipe %d dictionary sizes:", pipe)
		for s := h.StartStage(); s <= h.EndStage(); s++ {
			fmt.Fprintf(&sb, " %d", d.Cell(h.Dir(), pipe, s).Dict.Size())
		}
		sb.WriteString("\n")
	}
	cs := d.Capture[h.Dir()]
	fmt.Fprintf(&sb, "  capture buffer: %d bytes per stage, %d bytes total\n", cs.PerStage, cs.Total)
	p.ItemPrintLine(sb.String())
}
