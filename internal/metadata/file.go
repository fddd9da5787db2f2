package metadata

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"pipesnap/internal/psnap"
)

// File is the TOML form of a metadata store.
type File struct {
	Profiles []ProfileFile `toml:"profile"`
	Entries  []EntryFile   `toml:"entry"`
}

// ProfileFile is one compiled program.
type ProfileFile struct {
	ID     int         `toml:"id"`
	Stages int         `toml:"stages"`
	Stage  []StageFile `toml:"stage"`
}

// StageFile is the compiled content of one stage and direction.
type StageFile struct {
	Index          int         `toml:"index"`
	Dir            string      `toml:"dir"`
	MatchDependent bool        `toml:"match_dependent"`
	Fields         []FieldFile `toml:"field"`
	Tables         []TableFile `toml:"table"`
}

// FieldFile is one dictionary entry.
type FieldFile struct {
	Name      string `toml:"name"`
	Container int    `toml:"container"`
	Width     int    `toml:"width"`
	Type      string `toml:"type"`
	FieldLsb  int    `toml:"field_lsb"`
	FieldMsb  int    `toml:"field_msb"`
	PhvLsb    int    `toml:"phv_lsb"`
	PhvMsb    int    `toml:"phv_msb"`
	Invalid   bool   `toml:"invalid"`
}

// TableFile is one logical table placed in a stage.
type TableFile struct {
	Name      string `toml:"name"`
	Handle    uint32 `toml:"handle"`
	LogicalID int    `toml:"logical_id"`
	Match     bool   `toml:"match"`
	Tcam      bool   `toml:"tcam"`
	Bus       int    `toml:"bus"`
}

// EntryFile maps a table hit address to an installed entry. A missing
// pipe matches every pipe.
type EntryFile struct {
	Table        uint32 `toml:"table"`
	Pipe         *int   `toml:"pipe"`
	Stage        int    `toml:"stage"`
	LogicalTable int    `toml:"logical_table"`
	Addr         uint32 `toml:"addr"`
	Entry        uint32 `toml:"entry"`
}

// Load reads a TOML metadata file.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return s, nil
}

// Parse builds a store from TOML text.
func Parse(data []byte) (*Store, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Store()
}

func parseDir(s string) (psnap.Direction, error) {
	switch s {
	case "", "ingress":
		return psnap.Ingress, nil
	case "egress":
		return psnap.Egress, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// Store converts the file into a Store, validating every entry.
func (f *File) Store() (*Store, error) {
	s := NewStore()
	for _, p := range f.Profiles {
		s.profile(p.ID)
		for _, st := range p.Stage {
			dir, err := parseDir(st.Dir)
			if err != nil {
				return nil, fmt.Errorf("profile %d stage %d: %w", p.ID, st.Index, err)
			}
			if st.Index < 0 || st.Index >= psnap.MaxStages {
				return nil, fmt.Errorf("profile %d: stage index %d out of range", p.ID, st.Index)
			}
			s.SetMatchDependent(p.ID, st.Index, dir, st.MatchDependent)
			for _, fl := range st.Fields {
				ct, ok := psnap.ParseContainerType(fl.Type)
				if !ok {
					return nil, fmt.Errorf("profile %d stage %d field %s: unknown container type %q", p.ID, st.Index, fl.Name, fl.Type)
				}
				switch fl.Width {
				case 8, 16, 32:
				default:
					return nil, fmt.Errorf("profile %d stage %d field %s: bad container width %d", p.ID, st.Index, fl.Name, fl.Width)
				}
				s.AddField(p.ID, st.Index, dir, psnap.DictEntry{
					Name:      fl.Name,
					Container: fl.Container,
					Width:     fl.Width,
					Type:      ct,
					FieldLsb:  fl.FieldLsb,
					FieldMsb:  fl.FieldMsb,
					PhvLsb:    fl.PhvLsb,
					PhvMsb:    fl.PhvMsb,
					Valid:     !fl.Invalid,
				})
			}
			for _, t := range st.Tables {
				s.AddTable(p.ID, st.Index, dir, psnap.TableInfo{
					Name:         t.Name,
					Handle:       psnap.TableHandle(t.Handle),
					LogicalID:    t.LogicalID,
					IsMatchTable: t.Match,
					Tcam:         t.Tcam,
					Bus:          t.Bus,
				})
			}
		}
		if p.Stages > 0 {
			s.SetNumStages(p.ID, p.Stages)
		}
	}
	for _, e := range f.Entries {
		pipe := psnap.AllPipes
		if e.Pipe != nil {
			pipe = psnap.PipeID(*e.Pipe)
		}
		s.AddEntry(psnap.TableHandle(e.Table), pipe, e.Stage, e.LogicalTable, e.Addr, psnap.EntryHandle(e.Entry))
	}
	return s, nil
}
