// Package trigger validates named trigger fields against stage dictionaries
// and programs the per-container match words of a snapshot.
package trigger

import (
	"encoding/binary"

	"pipesnap/internal/backend"
	"pipesnap/internal/common"
	"pipesnap/internal/fsm"
	"pipesnap/internal/handle"
	"pipesnap/internal/psnap"
	"pipesnap/internal/state"
)

// MaxValueBytes is the number of low-order value bytes kept per field.
const MaxValueBytes = 8

// TruncateValue folds a big-endian byte string into a word, keeping the
// low-order MaxValueBytes bytes. It reports whether bytes were dropped.
func TruncateValue(b []byte) (uint64, bool) {
	truncated := false
	if len(b) > MaxValueBytes {
		b = b[len(b)-MaxValueBytes:]
		truncated = true
	}
	var buf [MaxValueBytes]byte
	copy(buf[MaxValueBytes-len(b):], b)
	return binary.BigEndian.Uint64(buf[:]), truncated
}

// Encoder drives trigger programming for the registry.
type Encoder struct {
	log common.Logger
}

// NewEncoder creates an encoder logging to log.
func NewEncoder(log common.Logger) *Encoder {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &Encoder{log: log}
}

// Validate checks that name can trigger at stage on every pipe of h and
// returns the widest instance of the field. Dark containers never qualify;
// mocha containers qualify only on match-dependent stages.
func (e *Encoder) Validate(d *state.DeviceState, h handle.Handle, stage int, name string) (int, bool, error) {
	width := 0
	for _, pipe := range d.Pipes(h.Pipe()) {
		dict, err := d.Dict(pipe, stage, h.Dir())
		if err != nil {
			return 0, false, err
		}
		entries := dict.Lookup(name)
		if len(entries) == 0 {
			return 0, false, nil
		}
		for _, ent := range entries {
			switch ent.Type {
			case psnap.ContainerDark:
				return 0, false, nil
			case psnap.ContainerMocha:
				if !d.MatchDependent(pipe, stage, h.Dir()) {
					return 0, false, nil
				}
			}
			if w := ent.FieldMsb + 1; w > width {
				width = w
			}
		}
	}
	return width, true, nil
}

// validAll reports whether every valid field of hi, plus extra, can
// trigger at stage. It also returns the width of extra there.
func (e *Encoder) validAll(d *state.DeviceState, hi *state.HandleInfo, stage int, extra string) (int, bool, error) {
	for _, f := range hi.Fields {
		if !f.Valid {
			continue
		}
		_, ok, err := e.Validate(d, hi.Handle, stage, f.Name)
		if err != nil || !ok {
			return 0, false, err
		}
	}
	if extra == "" {
		return 0, true, nil
	}
	return e.Validate(d, hi.Handle, stage, extra)
}

// AddField sets the value and mask of a named field on a handle. The oper
// stage stays put if the field is usable there; otherwise the first stage
// of the range where it and every existing field are usable becomes the
// oper stage. The FSM and every stage's trigger words are reprogrammed.
func (e *Encoder) AddField(d *state.DeviceState, hi *state.HandleInfo, name string, value, mask []byte) error {
	h := hi.Handle
	if name == "" {
		return common.DevErrorf(d.Dev, psnap.ErrInvalidArg, "handle %s: empty field name", h)
	}
	oper := -1
	width, ok, err := e.Validate(d, h, hi.OperStage, name)
	if err != nil {
		return err
	}
	if ok {
		oper = hi.OperStage
	} else {
		for s := h.StartStage(); s <= h.EndStage(); s++ {
			w, all, err := e.validAll(d, hi, s, name)
			if err != nil {
				return err
			}
			if all {
				oper, width = s, w
				break
			}
		}
	}
	if oper < 0 {
		return common.DevErrorf(d.Dev, psnap.ErrInvalidArg,
			"handle %s: field %s is not usable as a trigger in stages %d-%d", h, name, h.StartStage(), h.EndStage())
	}

	v, vt := TruncateValue(value)
	m, mt := TruncateValue(mask)
	if vt || mt {
		e.log.Logf(common.SeverityWarning, "handle %s field %s: value truncated to the low %d bytes", h, name, MaxValueBytes)
	}
	f := state.TriggerField{Name: name, Width: width, Value: v, Mask: m, Valid: true}
	if i := hi.Field(name); i >= 0 {
		hi.Fields[i] = f
	} else {
		if len(hi.Fields) >= hi.Capacity {
			return common.DevErrorf(d.Dev, psnap.ErrNoSysResources,
				"handle %s: trigger field list full (%d)", h, hi.Capacity)
		}
		hi.Fields = append(hi.Fields, f)
	}
	hi.OperStage = oper

	if err := fsm.ProgramRange(d, h.Pipe(), h.StartStage(), h.EndStage(), h.Dir()); err != nil {
		return err
	}
	return e.CommitRange(d, hi)
}

// ClearFields drops every trigger field, returns the oper stage to the
// start stage and reprograms the handle's stages to match anything.
func (e *Encoder) ClearFields(d *state.DeviceState, hi *state.HandleInfo) error {
	h := hi.Handle
	hi.Fields = nil
	hi.OperStage = h.StartStage()
	if err := fsm.ProgramRange(d, h.Pipe(), h.StartStage(), h.EndStage(), h.Dir()); err != nil {
		return err
	}
	return e.CommitRange(d, hi)
}

// Field returns the stored value and mask of a named field.
func Field(d *state.DeviceState, hi *state.HandleInfo, name string) (state.TriggerField, error) {
	i := hi.Field(name)
	if i < 0 {
		return state.TriggerField{}, common.DevErrorf(d.Dev, psnap.ErrObjectNotFound, "handle %s: no trigger field %s", hi.Handle, name)
	}
	return hi.Fields[i], nil
}

// Image computes the trigger image of one stage of a handle on one pipe.
// The image never matches when a timer threshold is configured or when the
// handle's fields are not usable at stage.
func (e *Encoder) Image(d *state.DeviceState, hi *state.HandleInfo, pipe, stage int) (*Image, error) {
	h := hi.Handle
	start := d.Cell(h.Dir(), pipe, h.StartStage())
	_, ok, err := e.validAll(d, hi, stage, "")
	if err != nil {
		return nil, err
	}
	noMatch := !ok || start.TimerEnabled
	dict, err := d.Dict(pipe, stage, h.Dir())
	if err != nil {
		return nil, err
	}
	return BuildImage(d.Backend.Layout(), dict.Entries(), hi.Fields, noMatch), nil
}

// Commit writes the trigger words of one stage of a handle on one pipe,
// match half then mask half per container.
func (e *Encoder) Commit(d *state.DeviceState, hi *state.HandleInfo, pipe, stage int) error {
	img, err := e.Image(d, hi, pipe, stage)
	if err != nil {
		return err
	}
	return write(d, d.Loc(pipe, stage, hi.Handle.Dir()), img)
}

func write(d *state.DeviceState, loc backend.Loc, img *Image) error {
	l := d.Backend.Layout()
	for c, w := range img.Words {
		slot, ok := l.Slot(c)
		if !ok {
			continue
		}
		if err := d.Backend.TriggerSet(loc, backend.HalfMatch, slot, w.Word1); err != nil {
			return err
		}
		if err := d.Backend.TriggerSet(loc, backend.HalfMask, slot, w.Word0); err != nil {
			return err
		}
	}
	return nil
}

// CommitRange commits every stage of the handle on every covered pipe.
func (e *Encoder) CommitRange(d *state.DeviceState, hi *state.HandleInfo) error {
	h := hi.Handle
	for _, pipe := range d.Pipes(h.Pipe()) {
		for s := h.StartStage(); s <= h.EndStage(); s++ {
			if err := e.Commit(d, hi, pipe, s); err != nil {
				return err
			}
		}
	}
	return nil
}
