// Package fielddict caches the compiled field-to-container mappings of one
// (pipe, stage, direction). The cache is built lazily from pipeline
// metadata and rebuilt on first access after Invalidate.
package fielddict

import (
	"pipesnap/internal/common"
	"pipesnap/internal/psnap"
)

// Cache is the dictionary of one stage cell. The zero value is an empty,
// invalid cache.
type Cache struct {
	size    int
	valid   bool
	entries []psnap.DictEntry
}

// SourceStage maps a stage onto the compiled stage whose dictionary it uses.
// The PHV layout does not change past the last compiled stage.
func SourceStage(stage, numCompiled int) int {
	if numCompiled <= 0 {
		return 0
	}
	if stage >= numCompiled {
		return numCompiled - 1
	}
	return stage
}

// SetSize records the expected number of entries without building them.
func (c *Cache) SetSize(n int) { c.size = n }

// Size is the number of dictionary entries, known before the build.
func (c *Cache) Size() int { return c.size }

// Valid reports whether the entries are built.
func (c *Cache) Valid() bool { return c.valid }

// Invalidate drops the built entries; the size is kept.
func (c *Cache) Invalidate() {
	c.valid = false
	c.entries = nil
}

// Ensure builds the entries if they are not valid. Calling it on a valid
// cache does nothing.
func (c *Cache) Ensure(meta psnap.Metadata, dev psnap.DevID, profile, stage int, dir psnap.Direction, numCompiled int) error {
	if c.valid {
		return nil
	}
	src := SourceStage(stage, numCompiled)
	entries, err := meta.FieldDict(dev, profile, src, dir)
	if err != nil {
		return common.Wrap(err, psnap.ErrNoSysResources,
			"dev %d profile %d stage %d %s: field dictionary build failed", dev, profile, stage, dir)
	}
	c.entries = entries
	c.size = len(entries)
	c.valid = true
	return nil
}

// Entries returns the built entries, nil when not valid.
func (c *Cache) Entries() []psnap.DictEntry {
	if !c.valid {
		return nil
	}
	return c.entries
}

// Lookup returns every valid entry of the named field. A field wider than
// one container has several entries.
func (c *Cache) Lookup(name string) []psnap.DictEntry {
	var out []psnap.DictEntry
	for _, e := range c.Entries() {
		if e.Valid && e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
