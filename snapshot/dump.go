package snapshot

import (
	"io"

	"pipesnap/internal/capture"
	"pipesnap/internal/handle"
	"pipesnap/internal/printers"
)

// DumpState writes the lifecycle state of a snapshot as text.
func (r *Registry) DumpState(w io.Writer, h handle.Handle) error {
	r.session.Enter()
	defer r.session.Exit()
	d, hi, err := r.handle(h)
	if err != nil {
		return err
	}
	printers.NewStatePrinter(w).Print(d, hi)
	return nil
}

// DumpConfig writes the trigger configuration of a snapshot as text.
func (r *Registry) DumpConfig(w io.Writer, h handle.Handle) error {
	r.session.Enter()
	defer r.session.Exit()
	d, hi, err := r.handle(h)
	if err != nil {
		return err
	}
	printers.NewConfigPrinter(w).Print(d, hi)
	return nil
}

// DumpCapture writes the capture of every stage of a snapshot on one pipe
// as text, with a container hex dump when raw is set.
func (r *Registry) DumpCapture(w io.Writer, h handle.Handle, pipe int, raw bool) error {
	r.session.Enter()
	defer r.session.Exit()
	d, _, err := r.handle(h)
	if err != nil {
		return err
	}
	captures, err := r.capture(d, h, pipe)
	if err != nil {
		return err
	}
	p := printers.NewCapturePrinter(w)
	p.SetRaw(raw)
	for _, data := range captures {
		var fields []capture.FieldValue
		if fields, err = capture.DecodeFields(d, data); err != nil {
			return err
		}
		p.Print(data, fields)
	}
	return nil
}
