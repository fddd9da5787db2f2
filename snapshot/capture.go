package snapshot

import (
	"pipesnap/internal/capture"
	"pipesnap/internal/common"
	"pipesnap/internal/handle"
	"pipesnap/internal/psnap"
	"pipesnap/internal/state"
)

// Capture reads the captured state of every stage of a snapshot on one
// pipe, start stage first.
func (r *Registry) Capture(h handle.Handle, pipe int) ([]*capture.Data, error) {
	r.session.Enter()
	defer r.session.Exit()
	d, _, err := r.handle(h)
	if err != nil {
		return nil, err
	}
	return r.capture(d, h, pipe)
}

func (r *Registry) capture(d *state.DeviceState, h handle.Handle, pipe int) ([]*capture.Data, error) {
	if err := pipeOf(d, h, pipe); err != nil {
		return nil, err
	}
	if err := capture.CheckSize(d, pipe, h.StartStage(), h.EndStage(), h.Dir()); err != nil {
		return nil, err
	}
	out := make([]*capture.Data, 0, h.EndStage()-h.StartStage()+1)
	for s := h.StartStage(); s <= h.EndStage(); s++ {
		data, err := r.dec.Read(d, pipe, s, h.Dir())
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// stage reads the capture of one stage of a snapshot.
func (r *Registry) stage(h handle.Handle, pipe, stage int) (*state.DeviceState, *capture.Data, error) {
	d, _, err := r.handle(h)
	if err != nil {
		return nil, nil, err
	}
	if err := pipeOf(d, h, pipe); err != nil {
		return nil, nil, err
	}
	if stage < h.StartStage() || stage > h.EndStage() {
		return nil, nil, common.DevErrorf(d.Dev, psnap.ErrInvalidArg, "stage %d outside snapshot %s", stage, h)
	}
	data, err := r.dec.Read(d, pipe, stage, h.Dir())
	if err != nil {
		return nil, nil, err
	}
	return d, data, nil
}

// CaptureFields decodes the captured value of every dictionary field of
// one stage.
func (r *Registry) CaptureFields(h handle.Handle, pipe, stage int) ([]capture.FieldValue, error) {
	r.session.Enter()
	defer r.session.Exit()
	d, data, err := r.stage(h, pipe, stage)
	if err != nil {
		return nil, err
	}
	return capture.DecodeFields(d, data)
}

// HitEntries returns the table hits of one stage with hit addresses
// resolved to entry handles.
func (r *Registry) HitEntries(h handle.Handle, pipe, stage int) ([]capture.TableHit, error) {
	r.session.Enter()
	defer r.session.Exit()
	_, data, err := r.stage(h, pipe, stage)
	if err != nil {
		return nil, err
	}
	return data.Tables, nil
}
