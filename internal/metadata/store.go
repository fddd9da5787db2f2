// Package metadata is a file-backed source of compiled pipeline metadata
// and table hit-address resolution. A Store serves the same programs to
// every device.
package metadata

import (
	"sort"

	"pipesnap/internal/common"
	"pipesnap/internal/psnap"
)

type stageKey struct {
	stage int
	dir   psnap.Direction
}

type stageData struct {
	fields   []psnap.DictEntry
	tables   []psnap.TableInfo
	matchDep bool
}

type profileData struct {
	numStages int
	stages    map[stageKey]*stageData
}

type entryKey struct {
	table psnap.TableHandle
	pipe  psnap.PipeID
	stage int
	lt    int
	addr  uint32
}

// Store holds compiled metadata per profile and the installed table
// entries. It implements psnap.Metadata and psnap.TableIndex.
type Store struct {
	profiles map[int]*profileData
	entries  map[entryKey]psnap.EntryHandle
}

var (
	_ psnap.Metadata   = (*Store)(nil)
	_ psnap.TableIndex = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		profiles: make(map[int]*profileData),
		entries:  make(map[entryKey]psnap.EntryHandle),
	}
}

func (s *Store) profile(id int) *profileData {
	p, ok := s.profiles[id]
	if !ok {
		p = &profileData{stages: make(map[stageKey]*stageData)}
		s.profiles[id] = p
	}
	return p
}

func (s *Store) stage(profile, stage int, dir psnap.Direction) *stageData {
	p := s.profile(profile)
	k := stageKey{stage, dir}
	sd, ok := p.stages[k]
	if !ok {
		sd = &stageData{}
		p.stages[k] = sd
	}
	if stage >= p.numStages {
		p.numStages = stage + 1
	}
	return sd
}

// SetNumStages sets the compiled stage count of a profile.
func (s *Store) SetNumStages(profile, n int) { s.profile(profile).numStages = n }

// AddField appends a dictionary entry to a compiled stage.
func (s *Store) AddField(profile, stage int, dir psnap.Direction, e psnap.DictEntry) {
	sd := s.stage(profile, stage, dir)
	sd.fields = append(sd.fields, e)
}

// AddTable places a logical table in a compiled stage.
func (s *Store) AddTable(profile, stage int, dir psnap.Direction, t psnap.TableInfo) {
	sd := s.stage(profile, stage, dir)
	sd.tables = append(sd.tables, t)
}

// SetMatchDependent marks a stage as match dependent on its predecessor.
func (s *Store) SetMatchDependent(profile, stage int, dir psnap.Direction, dep bool) {
	s.stage(profile, stage, dir).matchDep = dep
}

// AddEntry records the entry installed at a table hit address.
func (s *Store) AddEntry(table psnap.TableHandle, pipe psnap.PipeID, stage, logicalTable int, addr uint32, eh psnap.EntryHandle) {
	s.entries[entryKey{table, pipe, stage, logicalTable, addr}] = eh
}

// Profiles lists the known profile ids in order.
func (s *Store) Profiles() []int {
	ids := make([]int, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *Store) lookup(dev psnap.DevID, profile, stage int, dir psnap.Direction) (*stageData, error) {
	p, ok := s.profiles[profile]
	if !ok {
		return nil, common.DevErrorf(dev, psnap.ErrObjectNotFound, "no metadata for profile %d", profile)
	}
	if stage < 0 || stage >= p.numStages {
		return nil, common.DevErrorf(dev, psnap.ErrInvalidArg, "profile %d has no compiled stage %d", profile, stage)
	}
	if sd, ok := p.stages[stageKey{stage, dir}]; ok {
		return sd, nil
	}
	return &stageData{}, nil
}

func (s *Store) NumStages(dev psnap.DevID, profile int) (int, error) {
	p, ok := s.profiles[profile]
	if !ok {
		return 0, common.DevErrorf(dev, psnap.ErrObjectNotFound, "no metadata for profile %d", profile)
	}
	return p.numStages, nil
}

func (s *Store) FieldDictSize(dev psnap.DevID, profile, stage int, dir psnap.Direction) (int, error) {
	sd, err := s.lookup(dev, profile, stage, dir)
	if err != nil {
		return 0, err
	}
	return len(sd.fields), nil
}

// FieldDict returns a copy of a stage's dictionary.
func (s *Store) FieldDict(dev psnap.DevID, profile, stage int, dir psnap.Direction) ([]psnap.DictEntry, error) {
	sd, err := s.lookup(dev, profile, stage, dir)
	if err != nil {
		return nil, err
	}
	return append([]psnap.DictEntry(nil), sd.fields...), nil
}

func (s *Store) MatchDependent(dev psnap.DevID, profile, stage int, dir psnap.Direction) bool {
	sd, err := s.lookup(dev, profile, stage, dir)
	return err == nil && sd.matchDep
}

func (s *Store) StageTables(dev psnap.DevID, profile, stage int, dir psnap.Direction) []psnap.TableInfo {
	sd, err := s.lookup(dev, profile, stage, dir)
	if err != nil {
		return nil
	}
	return sd.tables
}

// HitAddrToEntry resolves a hit address. Entries recorded for AllPipes
// match any pipe.
func (s *Store) HitAddrToEntry(dev psnap.DevID, table psnap.TableHandle, pipe psnap.PipeID, stage, logicalTable int, addr uint32) (psnap.EntryHandle, error) {
	if eh, ok := s.entries[entryKey{table, pipe, stage, logicalTable, addr}]; ok {
		return eh, nil
	}
	if eh, ok := s.entries[entryKey{table, psnap.AllPipes, stage, logicalTable, addr}]; ok {
		return eh, nil
	}
	return psnap.InvalidEntry, common.DevErrorf(dev, psnap.ErrObjectNotFound,
		"table 0x%x pipe %s stage %d ltbl %d: no entry at hit address 0x%x", uint32(table), pipe, stage, logicalTable, addr)
}
