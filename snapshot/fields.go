package snapshot

import (
	"slices"

	"pipesnap/internal/handle"
	"pipesnap/internal/state"
	"pipesnap/internal/trigger"
)

// AddTriggerField sets the value and mask a named field must match for
// the snapshot to trigger. Adding a field that is already present
// replaces its value and mask. Values wider than 8 bytes keep their low
// 8 bytes.
func (r *Registry) AddTriggerField(h handle.Handle, name string, value, mask []byte) error {
	r.session.Enter()
	defer r.session.Exit()
	d, hi, err := r.handle(h)
	if err != nil {
		return err
	}
	return r.enc.AddField(d, hi, name, value, mask)
}

// ClearTriggerFields removes every trigger field; the snapshot then
// matches anything.
func (r *Registry) ClearTriggerFields(h handle.Handle) error {
	r.session.Enter()
	defer r.session.Exit()
	d, hi, err := r.handle(h)
	if err != nil {
		return err
	}
	return r.enc.ClearFields(d, hi)
}

// TriggerField reads back the value and mask of one trigger field.
func (r *Registry) TriggerField(h handle.Handle, name string) (state.TriggerField, error) {
	r.session.Enter()
	defer r.session.Exit()
	d, hi, err := r.handle(h)
	if err != nil {
		return state.TriggerField{}, err
	}
	return trigger.Field(d, hi, name)
}

// TriggerFields lists the trigger fields of a snapshot in the order they
// were added.
func (r *Registry) TriggerFields(h handle.Handle) ([]state.TriggerField, error) {
	r.session.Enter()
	defer r.session.Exit()
	_, hi, err := r.handle(h)
	if err != nil {
		return nil, err
	}
	return slices.Clone(hi.Fields), nil
}
