// Package state holds the per-device snapshot state arena: one StageState
// cell per (direction, pipe, stage) including the bypass stage, and the
// HandleInfo of every live handle.
package state

import (
	"pipesnap/internal/backend"
	"pipesnap/internal/common"
	"pipesnap/internal/fielddict"
	"pipesnap/internal/handle"
	"pipesnap/internal/psnap"
)

// NotifyMode selects how fired snapshots are reported.
type NotifyMode uint8

const (
	NotifyInterrupt NotifyMode = 0
	NotifyPoll      NotifyMode = 1
)

func (m NotifyMode) String() string {
	if m == NotifyPoll {
		return "poll"
	}
	return "interrupt"
}

// Profile is one compiled program and the logical pipes running it.
type Profile struct {
	ID          int
	Pipes       []int
	NumCompiled int // compiled stage count, filled by LoadSizes
}

// Params describes a device being added.
type Params struct {
	NumPipes  int
	NumStages int // programmed stages; the bypass stage is NumStages
	ClockMHz  uint32
	Profiles  []Profile
	PhysPipes []int // logical to physical pipe map, identity when nil
	Notify    NotifyMode
}

// StageState is the snapshot state of one stage cell. Admin, timer, mode
// and ownership are meaningful on the start stage cell of a handle.
type StageState struct {
	Admin        psnap.AdminState
	TimerEnabled bool
	TimerUsec    uint32 // pending write, zeroed once pushed
	EndStage     int    // valid only when Created
	Created      bool
	Handle       handle.Handle
	Mode         psnap.TriggerMode
	Dict         fielddict.Cache
}

// TriggerField is one named trigger condition of a handle. Value and Mask
// hold the low-order 8 bytes of what the caller supplied.
type TriggerField struct {
	Name  string
	Width int
	Value uint64
	Mask  uint64
	Valid bool
}

// HandleInfo is the registry record of a live handle.
type HandleInfo struct {
	Handle    handle.Handle
	OperStage int
	Fields    []TriggerField
	Capacity  int
}

// Field returns the index of the named field, or -1.
func (hi *HandleInfo) Field(name string) int {
	for i := range hi.Fields {
		if hi.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// CaptureSize is the worst-case capture buffer sizing of one direction.
type CaptureSize struct {
	PerStage int
	Total    int
}

// Bytes of capture buffer per dictionary entry and per stage.
const (
	CaptureBytesPerField = 16
	CaptureStageOverhead = 64
)

// StageCaptureSize is the capture buffer needed by a stage whose
// dictionary has n entries.
func StageCaptureSize(n int) int {
	return CaptureBytesPerField*n + CaptureStageOverhead
}

// DeviceState is everything the registry knows about one device.
type DeviceState struct {
	Dev       psnap.DevID
	Backend   backend.Backend
	Meta      psnap.Metadata
	NumPipes  int
	NumStages int
	ClockMHz  uint32
	Profiles  []Profile
	Notify    NotifyMode
	Handles   map[handle.Handle]*HandleInfo
	Capture   [psnap.NumDirections]CaptureSize

	physPipes   []int
	pipeProfile []int // logical pipe to index in Profiles
	cells       []StageState
}

// New allocates the cell arena of a device. Dictionary sizes are not
// loaded; see LoadSizes.
func New(dev psnap.DevID, be backend.Backend, meta psnap.Metadata, p Params) (*DeviceState, error) {
	if p.NumPipes <= 0 || p.NumPipes > psnap.MaxPipes {
		return nil, common.DevErrorf(dev, psnap.ErrInvalidArg, "pipe count %d out of range", p.NumPipes)
	}
	if p.NumStages <= 0 || p.NumStages > psnap.MaxStages {
		return nil, common.DevErrorf(dev, psnap.ErrInvalidArg, "stage count %d out of range", p.NumStages)
	}
	d := &DeviceState{
		Dev:         dev,
		Backend:     be,
		Meta:        meta,
		NumPipes:    p.NumPipes,
		NumStages:   p.NumStages,
		ClockMHz:    p.ClockMHz,
		Notify:      p.Notify,
		Handles:     make(map[handle.Handle]*HandleInfo),
		physPipes:   make([]int, p.NumPipes),
		pipeProfile: make([]int, p.NumPipes),
	}
	for i := range d.physPipes {
		d.physPipes[i] = i
		d.pipeProfile[i] = -1
	}
	if p.PhysPipes != nil {
		if len(p.PhysPipes) != p.NumPipes {
			return nil, common.DevErrorf(dev, psnap.ErrInvalidArg, "pipe map has %d entries for %d pipes", len(p.PhysPipes), p.NumPipes)
		}
		copy(d.physPipes, p.PhysPipes)
	}
	profiles := p.Profiles
	if len(profiles) == 0 {
		all := make([]int, p.NumPipes)
		for i := range all {
			all[i] = i
		}
		profiles = []Profile{{ID: 0, Pipes: all}}
	}
	for i, prof := range profiles {
		for _, pipe := range prof.Pipes {
			if pipe < 0 || pipe >= p.NumPipes {
				return nil, common.DevErrorf(dev, psnap.ErrInvalidArg, "profile %d names pipe %d", prof.ID, pipe)
			}
			if d.pipeProfile[pipe] >= 0 {
				return nil, common.DevErrorf(dev, psnap.ErrInvalidArg, "pipe %d is in more than one profile", pipe)
			}
			d.pipeProfile[pipe] = i
		}
		d.Profiles = append(d.Profiles, Profile{ID: prof.ID, Pipes: append([]int(nil), prof.Pipes...)})
	}
	for pipe, idx := range d.pipeProfile {
		if idx < 0 {
			return nil, common.DevErrorf(dev, psnap.ErrInvalidArg, "pipe %d has no profile", pipe)
		}
	}
	d.cells = make([]StageState, psnap.NumDirections*d.NumPipes*d.stageCells())
	return d, nil
}

// stageCells is the number of cells per pipe, bypass stage included.
func (d *DeviceState) stageCells() int { return d.NumStages + 1 }

// BypassStage is the synthetic stage after the last programmed one.
func (d *DeviceState) BypassStage() int { return d.NumStages }

// LoadSizes reads every dictionary size from metadata and computes the
// worst-case capture buffer sizes. Stages past a profile's compiled range
// reuse the last compiled stage's size. On failure the arena is left
// partially sized.
func (d *DeviceState) LoadSizes() error {
	var sizes [psnap.NumDirections]CaptureSize
	for pi := range d.Profiles {
		prof := &d.Profiles[pi]
		n, err := d.Meta.NumStages(d.Dev, prof.ID)
		if err != nil {
			return common.Wrap(err, psnap.ErrNoSysResources, "profile %d: stage count unavailable", prof.ID)
		}
		prof.NumCompiled = n
		for dir := psnap.Ingress; dir < psnap.NumDirections; dir++ {
			total, perStage := 0, 0
			for stage := 0; stage < d.stageCells(); stage++ {
				src := fielddict.SourceStage(stage, n)
				size, err := d.Meta.FieldDictSize(d.Dev, prof.ID, src, dir)
				if err != nil {
					return common.Wrap(err, psnap.ErrNoSysResources,
						"profile %d stage %d %s: dictionary size unavailable", prof.ID, stage, dir)
				}
				for _, pipe := range prof.Pipes {
					d.Cell(dir, pipe, stage).Dict.SetSize(size)
				}
				sz := StageCaptureSize(size)
				total += sz
				if sz > perStage {
					perStage = sz
				}
			}
			if total > sizes[dir].Total {
				sizes[dir].Total = total
			}
			if perStage > sizes[dir].PerStage {
				sizes[dir].PerStage = perStage
			}
		}
	}
	d.Capture = sizes
	return nil
}

// Cell returns the state of one stage. Coordinates must be in range.
func (d *DeviceState) Cell(dir psnap.Direction, pipe, stage int) *StageState {
	return &d.cells[(int(dir)*d.NumPipes+pipe)*d.stageCells()+stage]
}

// ValidPipe reports whether pipe is a logical pipe of the device or AllPipes.
func (d *DeviceState) ValidPipe(pipe psnap.PipeID) bool {
	return pipe == psnap.AllPipes || int(pipe) < d.NumPipes
}

// ValidStage reports whether stage has a cell.
func (d *DeviceState) ValidStage(stage int) bool {
	return stage >= 0 && stage < d.stageCells()
}

// Pipes resolves a pipe selector to logical pipe indexes.
func (d *DeviceState) Pipes(pipe psnap.PipeID) []int {
	if pipe != psnap.AllPipes {
		return []int{int(pipe)}
	}
	out := make([]int, d.NumPipes)
	for i := range out {
		out[i] = i
	}
	return out
}

// Profile returns the profile running a logical pipe.
func (d *DeviceState) Profile(pipe int) *Profile {
	return &d.Profiles[d.pipeProfile[pipe]]
}

// PhysPipe maps a logical pipe to its physical pipe.
func (d *DeviceState) PhysPipe(pipe int) int { return d.physPipes[pipe] }

// LogicalPipe maps a physical pipe back to its logical pipe.
func (d *DeviceState) LogicalPipe(phys int) (int, bool) {
	for l, p := range d.physPipes {
		if p == phys {
			return l, true
		}
	}
	return 0, false
}

// Loc builds the backend address of a logical cell.
func (d *DeviceState) Loc(pipe, stage int, dir psnap.Direction) backend.Loc {
	return backend.Loc{Dev: d.Dev, Pipe: d.physPipes[pipe], Stage: stage, Dir: dir}
}

// Dict builds the dictionary of a cell if needed and returns it.
func (d *DeviceState) Dict(pipe, stage int, dir psnap.Direction) (*fielddict.Cache, error) {
	c := &d.Cell(dir, pipe, stage).Dict
	prof := d.Profile(pipe)
	if err := c.Ensure(d.Meta, d.Dev, prof.ID, stage, dir, prof.NumCompiled); err != nil {
		return nil, err
	}
	return c, nil
}

// MatchDependent reports whether a cell's stage depends on the previous
// stage's match result.
func (d *DeviceState) MatchDependent(pipe, stage int, dir psnap.Direction) bool {
	prof := d.Profile(pipe)
	return d.Meta.MatchDependent(d.Dev, prof.ID, fielddict.SourceStage(stage, prof.NumCompiled), dir)
}

// StageTables lists the logical tables placed in a cell's stage.
func (d *DeviceState) StageTables(pipe, stage int, dir psnap.Direction) []psnap.TableInfo {
	prof := d.Profile(pipe)
	if stage >= prof.NumCompiled {
		return nil
	}
	return d.Meta.StageTables(d.Dev, prof.ID, stage, dir)
}

// Capacity is the largest starting-stage dictionary size over the pipes of
// a handle.
func (d *DeviceState) Capacity(h handle.Handle) int {
	n := 0
	for _, pipe := range d.Pipes(h.Pipe()) {
		if s := d.Cell(h.Dir(), pipe, h.StartStage()).Dict.Size(); s > n {
			n = s
		}
	}
	return n
}

// Lookup returns the record of a live handle.
func (d *DeviceState) Lookup(h handle.Handle) (*HandleInfo, error) {
	hi, ok := d.Handles[h]
	if !ok {
		return nil, common.DevErrorf(d.Dev, psnap.ErrObjectNotFound, "handle %s not found", h)
	}
	return hi, nil
}

// Owner returns the record of the handle whose range covers a cell.
// Handle ownership is recorded on the start stage cell.
func (d *DeviceState) Owner(dir psnap.Direction, pipe, stage int) (*HandleInfo, bool) {
	for s := stage; s >= 0; s-- {
		st := d.Cell(dir, pipe, s)
		if !st.Created || st.EndStage < stage {
			continue
		}
		hi, ok := d.Handles[st.Handle]
		return hi, ok
	}
	return nil, false
}

// Release drops every handle and cell.
func (d *DeviceState) Release() {
	for h := range d.Handles {
		delete(d.Handles, h)
	}
	d.cells = nil
}
