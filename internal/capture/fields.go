package capture

import (
	"pipesnap/internal/backend"
	"pipesnap/internal/psnap"
	"pipesnap/internal/state"
)

// FieldValue is a named field reassembled from captured containers.
type FieldValue struct {
	Name  string
	Width int
	Value uint64 // low-order 64 bits
	Valid bool
}

// DecodeFields extracts every dictionary field of the captured stage. A
// field is valid only if all its containers were captured valid.
func DecodeFields(d *state.DeviceState, data *Data) ([]FieldValue, error) {
	dict, err := d.Dict(data.Pipe, data.Stage, data.Dir)
	if err != nil {
		return nil, err
	}
	var out []FieldValue
	index := make(map[string]int)
	for _, e := range dict.Entries() {
		if !e.Valid || e.Type == psnap.ContainerDark {
			continue
		}
		i, ok := index[e.Name]
		if !ok {
			i = len(out)
			index[e.Name] = i
			out = append(out, FieldValue{Name: e.Name, Valid: true})
		}
		fv := &out[i]
		if w := e.FieldMsb + 1; w > fv.Width {
			fv.Width = w
		}
		if e.Container < 0 || e.Container >= len(data.Raw.Containers) {
			fv.Valid = false
			continue
		}
		if v := data.Raw.ContainerValid; v != nil && !v[e.Container] {
			fv.Valid = false
		}
		sw := e.SliceWidth()
		slice := uint64(data.Raw.Containers[e.Container]>>uint(e.PhvLsb)) & uint64(backend.WidthMask(sw))
		if e.FieldLsb < 64 {
			fv.Value |= slice << uint(e.FieldLsb)
		}
	}
	return out, nil
}

// Field returns the decoded value of one field.
func Field(fields []FieldValue, name string) (FieldValue, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldValue{}, false
}
