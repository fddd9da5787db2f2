package trigger

import (
	"pipesnap/internal/backend"
	"pipesnap/internal/psnap"
	"pipesnap/internal/state"
)

// Word is the TCAM word pair of one container. Word1 holds the bits that
// may be 1 and is written as the match half; Word0 holds the bits that may
// be 0 and is written as the mask half. A bit with both set is don't-care
// and a bit with neither never matches.
type Word struct {
	Word1 uint32
	Word0 uint32
}

// Image is the trigger programming of one stage, indexed by container.
type Image struct {
	Words   []Word
	Field   []string // dictionary field carried by the container, if any
	NoMatch bool
}

// Matches reports whether a container value satisfies the word pair.
func (w Word) Matches(v uint32, width int) bool {
	m := backend.WidthMask(width)
	v &= m
	return v&^w.Word1 == 0 && ^v&m&^w.Word0 == 0
}

// encodeSlice returns the pair restricted to bits: value v under mask m.
func encodeSlice(w Word, v, m, bits uint32) Word {
	w.Word1 = w.Word1&^bits | (v|^m)&bits
	w.Word0 = w.Word0&^bits | (^v|^m)&bits
	return w
}

// sliceOf extracts field bits [lsb, lsb+width) of x.
func sliceOf(x uint64, lsb, width int) uint32 {
	if lsb >= 64 {
		return 0
	}
	return uint32(x>>uint(lsb)) & backend.WidthMask(width)
}

// BuildImage computes the trigger image of a stage from its dictionary and
// the handle's fields. It does not touch hardware. When noMatch is set
// every container is encoded to never match.
func BuildImage(l *backend.Layout, dict []psnap.DictEntry, fields []state.TriggerField, noMatch bool) *Image {
	n := l.NumContainers()
	img := &Image{
		Words:   make([]Word, n),
		Field:   make([]string, n),
		NoMatch: noMatch,
	}
	if noMatch {
		return img
	}
	for c := 0; c < n; c++ {
		m := backend.WidthMask(l.Width(c))
		img.Words[c] = Word{Word1: m, Word0: m}
	}
	// Containers holding compiled fields always match until a trigger
	// field claims them.
	for _, e := range dict {
		if !e.Valid || e.Type == psnap.ContainerDark || e.Container < 0 || e.Container >= n {
			continue
		}
		img.Field[e.Container] = e.Name
	}
	for _, f := range fields {
		if !f.Valid {
			continue
		}
		for _, e := range dict {
			if !e.Valid || e.Name != f.Name || e.Type == psnap.ContainerDark || e.Container < 0 || e.Container >= n {
				continue
			}
			sw := e.SliceWidth()
			v := sliceOf(f.Value, e.FieldLsb, sw) << uint(e.PhvLsb)
			m := sliceOf(f.Mask, e.FieldLsb, sw) << uint(e.PhvLsb)
			bits := backend.WidthMask(sw) << uint(e.PhvLsb) & backend.WidthMask(l.Width(e.Container))
			img.Words[e.Container] = encodeSlice(img.Words[e.Container], v, m, bits)
		}
	}
	return img
}

// Match reports whether a set of container values would fire the image.
func (img *Image) Match(l *backend.Layout, containers []uint32) bool {
	if img.NoMatch {
		return false
	}
	for c, w := range img.Words {
		var v uint32
		if c < len(containers) {
			v = containers[c]
		}
		if !w.Matches(v, l.Width(c)) {
			return false
		}
	}
	return true
}
