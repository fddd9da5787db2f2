package printers

import (
	"fmt"
	"io"
	"strings"

	"pipesnap/internal/capture"
	"pipesnap/internal/psnap"
)

// containers per hex dump line
const dumpWidth = 8

// CapturePrinter dumps decoded captures.
type CapturePrinter struct {
	ItemPrinter
	raw bool
}

// NewCapturePrinter creates a capture printer writing to writer.
func NewCapturePrinter(writer io.Writer) *CapturePrinter {
	return &CapturePrinter{ItemPrinter: *NewItemPrinter(writer)}
}

// SetRaw enables the container hex dump.
func (p *CapturePrinter) SetRaw(raw bool) { p.raw = raw }

// Print writes one stage's capture and its decoded fields.
func (p *CapturePrinter) Print(data *capture.Data, fields []capture.FieldValue) {
	if p.IsMuted() {
		return
	}
	var sb strings.Builder
	raw := data.Raw
	fmt.Fprintf(&sb, "Capture dev %d pipe %d stage %d %s\n", data.Dev, data.Pipe, data.Stage, data.Dir)
	fmt.Fprintf(&sb, "  trigger: local=%t prev=%t timer=%t thread=%s\n",
		data.Trigger.Local, data.Trigger.Prev, data.Trigger.Timer, data.Trigger.Thread)
	fmt.Fprintf(&sb, "  datapath: captured=%t error=%t code=0x%02x\n",
		raw.Datapath.Captured, raw.Datapath.Error, raw.Datapath.ErrorCode)
	fmt.Fprintf(&sb, "  next table: stage %d table %d\n", data.NextStage, data.NextTable)
	if data.HasNextTables {
		fmt.Fprintf(&sb, "  enabled next tables: 0x%04x\n", data.EnabledNextTables)
	}
	if data.HasGlobalExec {
		fmt.Fprintf(&sb, "  global exec: enabled 0x%04x predicated 0x%04x\n", data.GlobalExecEnabled, data.GlobalExecPredicated)
	}
	for s, tables := range data.LongBranch {
		if tables != 0 {
			fmt.Fprintf(&sb, "  long branch: stage %d tables 0x%04x\n", s, tables)
		}
	}
	for _, t := range data.Tables {
		fmt.Fprintf(&sb, "  table %-20s ltbl %2d hit=%t inhibited=%t active=%t", t.Name, t.LogicalID, t.Hit, t.Inhibited, t.Active)
		if t.Hit && t.Match {
			fmt.Fprintf(&sb, " addr 0x%x entry %s", t.Addr, entryString(t))
		}
		sb.WriteString("\n")
	}
	for _, f := range fields {
		valid := ""
		if !f.Valid {
			valid = " (not captured)"
		}
		fmt.Fprintf(&sb, "  field %-24s = 0x%x%s\n", f.Name, f.Value, valid)
	}
	if p.raw {
		sb.WriteString("  containers:")
		for i, v := range raw.Containers {
			if i%dumpWidth == 0 {
				fmt.Fprintf(&sb, "\n    %3d:", i)
			}
			fmt.Fprintf(&sb, " %08x", v)
		}
		sb.WriteString("\n")
	}
	p.ItemPrintLine(sb.String())
}

func entryString(t capture.TableHit) string {
	if t.Entry == psnap.InvalidEntry {
		return "????"
	}
	return fmt.Sprintf("%d", t.Entry)
}
