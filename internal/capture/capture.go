// Package capture reads a stage's captured registers and decodes them into
// table hits, entry handles, execution masks and named field values.
package capture

import (
	"pipesnap/internal/backend"
	"pipesnap/internal/common"
	"pipesnap/internal/psnap"
	"pipesnap/internal/state"
)

// TableHit is the decoded hit state of one logical table.
type TableHit struct {
	Name      string
	Handle    psnap.TableHandle
	LogicalID int
	Match     bool // a match table, as opposed to a gateway or keyless table
	Hit       bool
	Inhibited bool
	Active    bool
	Addr      uint32
	Entry     psnap.EntryHandle
}

// Data is one stage's capture.
type Data struct {
	Dev     psnap.DevID
	Pipe    int // logical
	Stage   int
	Dir     psnap.Direction
	Trigger backend.TriggerInfo
	Raw     *backend.RawCapture
	Tables  []TableHit

	NextStage int
	NextTable int

	// Populated on generations with next-stage decode.
	HasNextTables        bool
	EnabledNextTables    uint16
	HasGlobalExec        bool
	GlobalExecEnabled    uint16
	GlobalExecPredicated uint16
	LongBranch           []uint16 // per stage, tables enabled by long branch; nil if none
}

// Decoder reads captures through a device's backend.
type Decoder struct {
	log   common.Logger
	index psnap.TableIndex
}

// NewDecoder creates a decoder resolving hit addresses through index.
func NewDecoder(log common.Logger, index psnap.TableIndex) *Decoder {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &Decoder{log: log, index: index}
}

// session caches predication reads for the duration of one decode.
type session struct {
	d    *state.DeviceState
	pipe int
	dir  psnap.Direction
	pred map[int]backend.StagePredication
}

func (s *session) predication(stage int) (backend.StagePredication, error) {
	if p, ok := s.pred[stage]; ok {
		return p, nil
	}
	p, err := s.d.Backend.PredicationGet(s.d.Loc(s.pipe, stage, s.dir))
	if err != nil {
		return p, err
	}
	s.pred[stage] = p
	return p, nil
}

// Read captures one stage of a logical pipe and decodes its execution state
// and table hits.
func (dc *Decoder) Read(d *state.DeviceState, pipe, stage int, dir psnap.Direction) (*Data, error) {
	if pipe < 0 || pipe >= d.NumPipes || !d.ValidStage(stage) || !dir.Valid() {
		return nil, common.DevErrorf(d.Dev, psnap.ErrInvalidArg, "no capture cell pipe %d stage %d %s", pipe, stage, dir)
	}
	loc := d.Loc(pipe, stage, dir)
	raw, err := d.Backend.CaptureRead(loc)
	if err != nil {
		return nil, err
	}
	ti, err := d.Backend.TriggerInfoGet(loc)
	if err != nil {
		return nil, err
	}
	data := &Data{Dev: d.Dev, Pipe: pipe, Stage: stage, Dir: dir, Trigger: ti, Raw: raw}
	data.NextStage, data.NextTable = backend.NextTableStage(raw.NextTable)

	if d.Backend.HasNextStageDecode() {
		s := &session{d: d, pipe: pipe, dir: dir, pred: make(map[int]backend.StagePredication)}
		if err := decodeExec(s, data, d.Profile(pipe).NumCompiled); err != nil {
			return nil, err
		}
	}
	dc.MapHits(d, data)
	return data, nil
}

func decodeExec(s *session, data *Data, compiled int) error {
	raw, stage := data.Raw, data.Stage

	if data.NextStage > stage && data.NextStage < compiled {
		p, err := s.predication(data.NextStage)
		if err != nil {
			return err
		}
		data.HasNextTables = true
		data.EnabledNextTables = p.TableSelect[data.NextTable]
	}

	if stage+1 < compiled {
		p, err := s.predication(stage + 1)
		if err != nil {
			return err
		}
		data.HasGlobalExec = true
		data.GlobalExecEnabled = raw.GlobalExecOut & p.GlobalExec
		data.GlobalExecPredicated = p.GlobalExec &^ raw.GlobalExecOut
	}

	if raw.LongBranchOut == 0 || stage+1 >= compiled {
		return nil
	}
	active := raw.LongBranchOut
	data.LongBranch = make([]uint16, compiled)
	for st := stage + 1; st < compiled && active != 0; st++ {
		p, err := s.predication(st)
		if err != nil {
			return err
		}
		for tag := 0; tag < psnap.MaxLongBranchTags; tag++ {
			bit := uint8(1) << uint(tag)
			if active&bit == 0 {
				continue
			}
			data.LongBranch[st] |= p.LongBranchTables[tag]
			if p.LongBranchTerm&bit != 0 {
				active &^= bit
			}
		}
	}
	return nil
}

// MapHits fills the table hit list of a capture. Hit addresses of match
// tables are resolved to entry handles; a failed lookup is logged and
// leaves the entry invalid.
func (dc *Decoder) MapHits(d *state.DeviceState, data *Data) {
	raw := data.Raw
	data.Tables = data.Tables[:0]
	for _, t := range d.StageTables(data.Pipe, data.Stage, data.Dir) {
		if t.LogicalID < 0 || t.LogicalID >= psnap.MaxLogicalTables {
			continue
		}
		bit := uint16(1) << uint(t.LogicalID)
		th := TableHit{
			Name:      t.Name,
			Handle:    t.Handle,
			LogicalID: t.LogicalID,
			Match:     t.IsMatchTable,
			Hit:       raw.TableHit&bit != 0,
			Inhibited: raw.GatewayInhibit&bit != 0,
			Active:    raw.TableActive&bit != 0,
			Entry:     psnap.InvalidEntry,
		}
		if th.Hit && th.Match {
			th.Addr, th.Entry = dc.resolve(d, data, t)
		}
		data.Tables = append(data.Tables, th)
	}
}

func (dc *Decoder) resolve(d *state.DeviceState, data *Data, t psnap.TableInfo) (uint32, psnap.EntryHandle) {
	var addr uint32
	switch {
	case t.Tcam && t.Bus >= 0 && t.Bus < psnap.MaxTcamBuses:
		addr = data.Raw.TcamHitAddr[t.Bus]
	case !t.Tcam && t.Bus >= 0 && t.Bus < psnap.MaxExmBuses:
		addr = data.Raw.ExmHitAddr[t.Bus]
	default:
		dc.log.Error(common.DevErrorf(d.Dev, psnap.ErrInvalidArg, "table %s: bus %d out of range", t.Name, t.Bus))
		return 0, psnap.InvalidEntry
	}
	if dc.index == nil {
		return addr, psnap.InvalidEntry
	}
	eh, err := dc.index.HitAddrToEntry(d.Dev, t.Handle, psnap.PipeID(data.Pipe), data.Stage, t.LogicalID, addr)
	if err != nil {
		dc.log.Error(common.Wrap(err, common.CodeOf(err), "pipe %d stage %d table %s: unresolved hit address 0x%x",
			data.Pipe, data.Stage, t.Name, addr))
		return addr, psnap.InvalidEntry
	}
	return addr, eh
}

// CheckSize verifies that the dictionaries currently held for a stage
// range still fit the capture buffers sized when the device was added.
// A dictionary rebuilt from newer metadata may have grown past them.
func CheckSize(d *state.DeviceState, pipe, start, end int, dir psnap.Direction) error {
	limit := d.Capture[dir]
	total := 0
	for s := start; s <= end; s++ {
		sz := state.StageCaptureSize(d.Cell(dir, pipe, s).Dict.Size())
		if sz > limit.PerStage {
			return common.DevErrorf(d.Dev, psnap.ErrNoSysResources,
				"capture of stage %d needs %d bytes, stage buffer holds %d", s, sz, limit.PerStage)
		}
		total += sz
	}
	if total > limit.Total {
		return common.DevErrorf(d.Dev, psnap.ErrNoSysResources,
			"capture of stages %d-%d needs %d bytes, buffer holds %d", start, end, total, limit.Total)
	}
	return nil
}
