package snapshot

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pipesnap/internal/backend"
	"pipesnap/internal/backend/gen2"
	"pipesnap/internal/common"
	"pipesnap/internal/config"
	"pipesnap/internal/fsm"
	"pipesnap/internal/handle"
	"pipesnap/internal/metadata"
	"pipesnap/internal/psnap"
	"pipesnap/internal/regsim"
)

const (
	in  = psnap.Ingress
	out = psnap.Egress

	validBase = 96  // 8-bit container of hdr.valid at stage 0
	portC     = 192 // 16-bit container of tcp.port at stage 3
)

func newMeta() *metadata.Store {
	m := metadata.NewStore()
	for prof := 0; prof < 2; prof++ {
		m.SetNumStages(prof, 6)
		for s := 0; s < 6; s++ {
			m.AddField(prof, s, in, psnap.DictEntry{Name: "hdr.valid", Container: validBase + s, Width: 8, Valid: true})
		}
		m.AddField(prof, 3, in, psnap.DictEntry{Name: "tcp.port", Container: portC, Width: 16, FieldMsb: 15, PhvMsb: 15, Valid: true})
	}
	m.AddTable(0, 2, in, psnap.TableInfo{Name: "fwd", Handle: 0x10, LogicalID: 1, IsMatchTable: true, Bus: 0})
	m.AddEntry(0x10, psnap.AllPipes, 2, 1, 0x40, 77)
	return m
}

type fixture struct {
	r   *Registry
	bus *regsim.Bus
	log *bytes.Buffer
}

func newFixture(t *testing.T, devs ...config.Device) *fixture {
	t.Helper()
	m := newMeta()
	f := &fixture{bus: regsim.New(), log: &bytes.Buffer{}}
	f.r = New(Deps{
		Bus:    f.bus,
		Meta:   m,
		Index:  m,
		Logger: common.NewStdLoggerWithWriter(f.log, common.SeverityDebug),
	})
	if len(devs) == 0 {
		devs = []config.Device{{ID: 0, Family: "gen2", Pipes: 2, Stages: 6}}
	}
	for _, d := range devs {
		if err := f.r.AddDevice(d); err != nil {
			t.Fatalf("AddDevice(%d): %v", d.ID, err)
		}
	}
	return f
}

func (f *fixture) create(t *testing.T, pipe psnap.PipeID, start, end int, dir psnap.Direction) handle.Handle {
	t.Helper()
	h, err := f.r.Create(0, pipe, start, end, dir)
	if err != nil {
		t.Fatalf("Create(%s, %d, %d, %s): %v", pipe, start, end, dir, err)
	}
	return h
}

func (f *fixture) fire(t *testing.T, pipe, stage int, info backend.TriggerInfo, rc *backend.RawCapture) {
	t.Helper()
	d := f.r.devices[0]
	if err := f.bus.Fire(d.Backend, d.Loc(pipe, stage, in), info, rc); err != nil {
		t.Fatal(err)
	}
}

// addrOf returns the register an operation of a gen2 backend writes last.
func addrOf(t *testing.T, loc backend.Loc, op func(be backend.Backend, loc backend.Loc) error) regsim.Write {
	t.Helper()
	bus := regsim.New()
	if err := op(gen2.New(bus), loc); err != nil {
		t.Fatal(err)
	}
	w := bus.Writes()
	return w[len(w)-1]
}

func TestEnableArmsStartStage(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 2, 2, in)
	if err := f.r.AddTriggerField(h, "hdr.valid", []byte{1}, []byte{1}); err != nil {
		t.Fatalf("AddTriggerField: %v", err)
	}
	if err := f.r.StateSet(h, true, 0); err != nil {
		t.Fatalf("StateSet: %v", err)
	}

	st, err := f.r.StateGet(h)
	if err != nil {
		t.Fatalf("StateGet: %v", err)
	}
	want := &State{
		Handle:    h,
		OperStage: 2,
		Pipes:     []PipeState{{Pipe: 0, Admin: psnap.AdminEnabled, Mode: psnap.ModeIngressOnly, FSM: []psnap.FSMState{psnap.FSMArmed}}},
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("StateGet mismatch (-want +got):\n%s", diff)
	}

	states := fsm.Derive(f.r.devices[0], 0, in)
	for s := 0; s < 2; s++ {
		if states[s] != psnap.FSMFull {
			t.Errorf("stage %d = %s, want Full", s, states[s])
		}
	}
	if a, err := f.r.AdminState(h, 0); err != nil || a != psnap.AdminEnabled {
		t.Errorf("AdminState = %s, %v", a, err)
	}
}

func TestCreateOverlap(t *testing.T) {
	f := newFixture(t)
	f.create(t, 0, 0, 2, in)

	tests := []struct {
		name       string
		pipe       psnap.PipeID
		start, end int
		dir        psnap.Direction
		want       psnap.Status
	}{
		{"shares last stage", 0, 2, 4, in, psnap.ErrNotSupported},
		{"inside existing", 0, 1, 1, in, psnap.ErrNotSupported},
		{"engulfs existing", 0, 0, 5, in, psnap.ErrNotSupported},
		{"other direction", 0, 1, 3, out, psnap.ErrNotSupported},
		{"all pipes", psnap.AllPipes, 2, 3, in, psnap.ErrNotSupported},
		{"same handle", 0, 0, 2, in, psnap.ErrAlreadyExists},
		{"other pipe", 1, 2, 4, in, psnap.OK},
		{"after existing", 0, 3, 6, in, psnap.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.r.Create(0, tt.pipe, tt.start, tt.end, tt.dir)
			if got := common.CodeOf(err); got != tt.want {
				t.Errorf("Create = %v, want %s", err, common.StatusName(tt.want))
			}
		})
	}
	if !strings.Contains(f.log.String(), "overlap") {
		t.Errorf("overlap not logged:\n%s", f.log.String())
	}
}

func TestCreateInvalid(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name       string
		dev        psnap.DevID
		pipe       psnap.PipeID
		start, end int
		dir        psnap.Direction
	}{
		{"end before start", 0, 0, 3, 1, in},
		{"bad direction", 0, 0, 1, 1, psnap.Direction(4)},
		{"bad pipe", 0, 2, 1, 1, in},
		{"past bypass stage", 0, 0, 1, 7, in},
		{"negative stage", 0, 0, -1, 1, in},
		{"unknown device", 9, 0, 1, 1, in},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.r.Create(tt.dev, tt.pipe, tt.start, tt.end, tt.dir)
			if common.CodeOf(err) != psnap.ErrInvalidArg {
				t.Errorf("Create = %v, want InvalidArg", err)
			}
		})
	}
	if hs, _ := f.r.Handles(0); len(hs) != 0 {
		t.Errorf("rejected creates left handles %v", hs)
	}
}

func TestCreateBypassStage(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 1, 5, 6, in)
	hi, err := f.r.Lookup(h)
	if err != nil {
		t.Fatal(err)
	}
	if hi.Capacity != 1 {
		t.Errorf("capacity = %d, want 1", hi.Capacity)
	}
	// the bypass stage reuses the dictionary of the last compiled stage
	dict := &f.r.devices[0].Cell(in, 1, 6).Dict
	if !dict.Valid() || len(dict.Lookup("hdr.valid")) != 1 {
		t.Errorf("bypass dictionary = %+v", dict.Entries())
	}
}

func TestAllPipesMultiProfile(t *testing.T) {
	f := newFixture(t, config.Device{
		ID: 0, Family: "gen2", Pipes: 2, Stages: 6,
		Profiles: []config.Profile{{ID: 0, Pipes: []int{0}}, {ID: 1, Pipes: []int{1}}},
	})
	if _, err := f.r.Create(0, psnap.AllPipes, 1, 2, in); common.CodeOf(err) != psnap.ErrInvalidArg {
		t.Errorf("all-pipes create = %v, want InvalidArg", err)
	}
	f.create(t, 1, 1, 2, in)
}

func TestDeleteThenLookup(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 1, 3, in)
	if err := f.r.StateSet(h, true, 0); err != nil {
		t.Fatal(err)
	}
	if err := f.r.Delete(h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.r.StateGet(h); common.CodeOf(err) != psnap.ErrObjectNotFound {
		t.Errorf("StateGet after delete = %v", err)
	}
	if err := f.r.Delete(h); common.CodeOf(err) != psnap.ErrObjectNotFound {
		t.Errorf("second Delete = %v", err)
	}
	if _, err := f.r.StateGet(0); common.CodeOf(err) != psnap.ErrInvalidArg {
		t.Errorf("StateGet(0) = %v", err)
	}

	d := f.r.devices[0]
	for s := 1; s <= 3; s++ {
		reg, err := d.Backend.FSMGet(d.Loc(0, s, in))
		if err != nil {
			t.Fatal(err)
		}
		if reg.Enabled {
			t.Errorf("stage %d still enabled after delete", s)
		}
	}
	f.create(t, 0, 2, 2, in)
}

func TestAddFieldUnknown(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 1, 3, in)
	if err := f.r.AddTriggerField(h, "hdr.valid", []byte{1}, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := f.r.AddTriggerField(h, "no.such.field", []byte{1}, []byte{1}); common.CodeOf(err) != psnap.ErrInvalidArg {
		t.Errorf("AddTriggerField = %v, want InvalidArg", err)
	}
	hi, err := f.r.Lookup(h)
	if err != nil {
		t.Fatal(err)
	}
	if hi.OperStage != 1 {
		t.Errorf("oper stage = %d, want 1", hi.OperStage)
	}
}

func TestAddFieldMovesOperStage(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 1, 4, in)
	if err := f.r.AddTriggerField(h, "tcp.port", []byte{0x1F, 0x90}, []byte{0xFF, 0xFF}); err != nil {
		t.Fatalf("AddTriggerField: %v", err)
	}
	if err := f.r.StateSet(h, true, 0); err != nil {
		t.Fatal(err)
	}
	got, err := f.r.FSMStates(h, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []psnap.FSMState{psnap.FSMArmed, psnap.FSMPassive, psnap.FSMArmed, psnap.FSMPassive}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FSMStates mismatch (-want +got):\n%s", diff)
	}
	again, _ := f.r.FSMStates(h, 0)
	if diff := cmp.Diff(got, again); diff != "" {
		t.Errorf("FSMStates not repeatable:\n%s", diff)
	}
	if _, err := f.r.FSMStates(h, 1); common.CodeOf(err) != psnap.ErrInvalidArg {
		t.Errorf("FSMStates on uncovered pipe = %v", err)
	}
}

func TestTriggerFields(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 3, 3, in)
	for _, v := range []byte{1, 1, 0} {
		if err := f.r.AddTriggerField(h, "hdr.valid", []byte{v}, []byte{1}); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.r.AddTriggerField(h, "tcp.port", []byte{0, 80}, []byte{0xFF, 0xFF}); err != nil {
		t.Fatal(err)
	}
	fields, err := f.r.TriggerFields(h)
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 2 || fields[0].Name != "hdr.valid" || fields[0].Value != 0 || fields[1].Name != "tcp.port" {
		t.Errorf("fields = %+v", fields)
	}
	tf, err := f.r.TriggerField(h, "tcp.port")
	if err != nil || tf.Value != 80 || tf.Mask != 0xFFFF || tf.Width != 16 {
		t.Errorf("TriggerField(tcp.port) = %+v, %v", tf, err)
	}
	if _, err := f.r.TriggerField(h, "ipv4.dst"); common.CodeOf(err) != psnap.ErrObjectNotFound {
		t.Errorf("TriggerField(ipv4.dst) = %v", err)
	}

	if err := f.r.ClearTriggerFields(h); err != nil {
		t.Fatal(err)
	}
	if fields, _ := f.r.TriggerFields(h); len(fields) != 0 {
		t.Errorf("fields after clear = %+v", fields)
	}
}

func TestTimerDisablesMatch(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 1, 2, in)
	if err := f.r.AddTriggerField(h, "hdr.valid", []byte{1}, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := f.r.StateSet(h, true, 25); err != nil {
		t.Fatal(err)
	}
	en, usec, err := f.r.TimerGet(h, 0)
	if err != nil || !en || usec != 25 {
		t.Errorf("TimerGet = %v, %d, %v", en, usec, err)
	}

	d := f.r.devices[0]
	hi := d.Handles[h]
	if got := d.Cell(in, 0, 1).TimerUsec; got != 0 {
		t.Errorf("pending timer value = %d after push", got)
	}
	for s := 1; s <= 2; s++ {
		img, err := f.r.enc.Image(d, hi, 0, s)
		if err != nil {
			t.Fatal(err)
		}
		if !img.NoMatch {
			t.Errorf("stage %d matches under a timer", s)
		}
		for c, w := range img.Words {
			if w.Word1 != 0 || w.Word0 != 0 {
				t.Fatalf("stage %d container %d = %+v, want zero", s, c, w)
			}
		}
	}

	if err := f.r.StateSet(h, true, 0); err != nil {
		t.Fatal(err)
	}
	if img, _ := f.r.enc.Image(d, hi, 0, 1); img.NoMatch {
		t.Errorf("match still disabled after timer removed")
	}
	if en, _, _ := f.r.TimerGet(h, 0); en {
		t.Errorf("timer still enabled")
	}
}

func TestTimerClamp(t *testing.T) {
	f := newFixture(t, config.Device{ID: 0, Family: "gen1", Pipes: 1, Stages: 6, ClockMHz: 1000})
	h := f.create(t, 0, 1, 1, in)
	if err := f.r.StateSet(h, true, 5_000_000); err != nil {
		t.Fatal(err)
	}
	_, usec, err := f.r.TimerGet(h, 0)
	if err != nil {
		t.Fatal(err)
	}
	if usec != 0xFFFFFFFF/1000 {
		t.Errorf("clamped timer = %d us", usec)
	}
	if !strings.Contains(f.log.String(), "clamped") {
		t.Errorf("clamp not logged:\n%s", f.log.String())
	}
}

func TestProgramsFSMInReverse(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 1, 4, in)
	addrs := make(map[uint64]int)
	for s := 1; s <= 4; s++ {
		w := addrOf(t, backend.Loc{Stage: s, Dir: in}, func(be backend.Backend, loc backend.Loc) error {
			return be.FSMSet(loc, backend.FSMReg{})
		})
		addrs[w.Addr] = s
	}
	f.bus.ResetLog()
	if err := f.r.StateSet(h, true, 0); err != nil {
		t.Fatal(err)
	}
	var order []int
	for _, w := range f.bus.Writes() {
		if s, ok := addrs[w.Addr]; ok {
			order = append(order, s)
		}
	}
	if diff := cmp.Diff([]int{4, 3, 2, 1}, order); diff != "" {
		t.Errorf("FSM write order mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateFailureCleansUp(t *testing.T) {
	f := newFixture(t)
	w := addrOf(t, backend.Loc{Stage: 3, Dir: in}, func(be backend.Backend, loc backend.Loc) error {
		return be.DatapathReset(loc)
	})
	f.bus.FailOn(0, w.Subdev, w.Addr, nil)
	if _, err := f.r.Create(0, 0, 2, 3, in); common.CodeOf(err) != psnap.ErrHwAccess {
		t.Fatalf("Create = %v, want HwAccess", err)
	}
	if hs, _ := f.r.Handles(0); len(hs) != 0 {
		t.Errorf("failed create left handles %v", hs)
	}
	f.bus.ClearFaults()
	f.create(t, 0, 2, 3, in)
}

func TestTriggerMode(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 1, 2, in)
	e := f.create(t, 1, 1, 2, out)
	if err := f.r.TriggerModeSet(h, psnap.ModeAny); err != nil {
		t.Fatalf("TriggerModeSet: %v", err)
	}
	if m, err := f.r.TriggerModeGet(h); err != nil || m != psnap.ModeAny {
		t.Errorf("TriggerModeGet = %s, %v", m, err)
	}
	if err := f.r.TriggerModeSet(e, psnap.ModeGhostOnly); common.CodeOf(err) != psnap.ErrNotSupported {
		t.Errorf("ghost mode on egress = %v", err)
	}
	if err := f.r.TriggerModeSet(h, psnap.TriggerMode(9)); common.CodeOf(err) != psnap.ErrInvalidArg {
		t.Errorf("mode 9 = %v", err)
	}

	g := newFixture(t, config.Device{ID: 0, Family: "gen1", Pipes: 1, Stages: 6})
	h1 := g.create(t, 0, 1, 1, in)
	if err := g.r.TriggerModeSet(h1, psnap.ModeBoth); common.CodeOf(err) != psnap.ErrNotSupported {
		t.Errorf("ghost mode on gen1 = %v", err)
	}
}

func TestRecreateResetsTriggerMode(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 1, 3, in)
	if err := f.r.TriggerModeSet(h, psnap.ModeGhostOnly); err != nil {
		t.Fatalf("TriggerModeSet: %v", err)
	}
	if err := f.r.Delete(h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Leave stale ghost mode behind to check Create programs it away.
	d := f.r.devices[0]
	for s := 1; s <= 3; s++ {
		if err := d.Backend.ConfigSet(d.Loc(0, s, in), psnap.ModeGhostOnly); err != nil {
			t.Fatal(err)
		}
	}
	h = f.create(t, 0, 1, 3, in)
	if m, err := f.r.TriggerModeGet(h); err != nil || m != psnap.ModeIngressOnly {
		t.Errorf("TriggerModeGet = %s, %v want %s", m, err, psnap.ModeIngressOnly)
	}
	for s := 1; s <= 3; s++ {
		m, err := d.Backend.ConfigGet(d.Loc(0, s, in))
		if err != nil || m != psnap.ModeIngressOnly {
			t.Errorf("stage %d hardware mode = %s, %v want %s", s, m, err, psnap.ModeIngressOnly)
		}
	}
}

func TestDeleteResetsTriggerMode(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 2, 3, in)
	if err := f.r.TriggerModeSet(h, psnap.ModeBoth); err != nil {
		t.Fatalf("TriggerModeSet: %v", err)
	}
	if err := f.r.Delete(h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	d := f.r.devices[0]
	for s := 2; s <= 3; s++ {
		if m, _ := d.Backend.ConfigGet(d.Loc(0, s, in)); m != psnap.ModeIngressOnly {
			t.Errorf("stage %d hardware mode after delete = %s", s, m)
		}
	}
}

func TestNoOverlapInvariant(t *testing.T) {
	f := newFixture(t)
	type rng struct {
		pipe       psnap.PipeID
		start, end int
	}
	var created []rng
	for _, pipe := range []psnap.PipeID{0, psnap.AllPipes, 1} {
		for start := 0; start <= 6; start += 2 {
			for end := start; end <= 6; end += 3 {
				for _, dir := range []psnap.Direction{in, out} {
					_, err := f.r.Create(0, pipe, start, end, dir)
					switch common.CodeOf(err) {
					case psnap.OK:
						created = append(created, rng{pipe, start, end})
					case psnap.ErrNotSupported, psnap.ErrAlreadyExists:
					default:
						t.Fatalf("Create(%s, %d, %d, %s) = %v", pipe, start, end, dir, err)
					}
				}
			}
		}
	}
	covers := func(a, b psnap.PipeID) bool { return a == b || a == psnap.AllPipes || b == psnap.AllPipes }
	for i, a := range created {
		for _, b := range created[i+1:] {
			if covers(a.pipe, b.pipe) && a.start <= b.end && b.start <= a.end {
				t.Errorf("overlapping snapshots %+v and %+v", a, b)
			}
		}
	}
	if len(created) < 2 {
		t.Errorf("only %d snapshots created", len(created))
	}
}

func TestAddDeviceErrors(t *testing.T) {
	f := newFixture(t)
	if err := f.r.AddDevice(config.Device{ID: 0}); common.CodeOf(err) != psnap.ErrAlreadyExists {
		t.Errorf("duplicate device = %v", err)
	}
	if err := f.r.AddDevice(config.Device{ID: 1, Family: "gen9"}); common.CodeOf(err) != psnap.ErrUnexpected {
		t.Errorf("unknown family = %v", err)
	}
	if err := f.r.AddDevice(config.Device{ID: 2, Notify: "carrier pigeon"}); common.CodeOf(err) != psnap.ErrInvalidArg {
		t.Errorf("unknown notify mode = %v", err)
	}

	// profile 7 has no metadata: the device stays with partial state
	err := f.r.AddDevice(config.Device{ID: 3, Pipes: 1, Profiles: []config.Profile{{ID: 7, Pipes: []int{0}}}})
	if common.CodeOf(err) != psnap.ErrNoSysResources {
		t.Errorf("missing metadata = %v", err)
	}
	if _, err := f.r.Handles(3); err != nil {
		t.Errorf("partially added device not registered: %v", err)
	}
	if err := f.r.RemoveDevice(3); err != nil {
		t.Errorf("RemoveDevice: %v", err)
	}
	if err := f.r.RemoveDevice(3); common.CodeOf(err) != psnap.ErrInvalidArg {
		t.Errorf("second RemoveDevice = %v", err)
	}
}

func TestInit(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 1, 1, in)
	f.r.Init()
	if _, err := f.r.Lookup(h); common.CodeOf(err) != psnap.ErrInvalidArg {
		t.Errorf("Lookup after Init = %v", err)
	}
}

func TestHandles(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, 1, 3, 3, in)
	a := f.create(t, 0, 1, 1, in)
	got, err := f.r.Handles(0)
	if err != nil {
		t.Fatal(err)
	}
	want := []handle.Handle{a, b}
	if a > b {
		want = []handle.Handle{b, a}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Handles mismatch (-want +got):\n%s", diff)
	}
}

func TestInterruptNotification(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 1, 2, in)
	if err := f.r.StateSet(h, true, 0); err != nil {
		t.Fatal(err)
	}
	var events []Event
	err := f.r.RegisterCallback(0, func(ev Event) {
		// callbacks run without the session token held
		if _, err := f.r.Handles(ev.Dev); err != nil {
			t.Errorf("Handles from callback: %v", err)
		}
		events = append(events, ev)
	})
	if err != nil {
		t.Fatal(err)
	}

	f.fire(t, 0, 1, backend.TriggerInfo{Local: true}, nil)
	if err := f.r.HandleInterrupt(0, 0, 1, in); err != nil {
		t.Fatalf("HandleInterrupt: %v", err)
	}
	want := []Event{{Dev: 0, Pipe: 0, Handle: h, Stage: 1, Trigger: backend.TriggerInfo{Local: true}}}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if a, _ := f.r.AdminState(h, 0); a != psnap.AdminDisabled {
		t.Errorf("AdminState after fire = %s", a)
	}
	if _, err := f.r.Poll(0); common.CodeOf(err) != psnap.ErrNotSupported {
		t.Errorf("Poll on interrupt device = %v", err)
	}
	if err := f.r.RegisterCallback(5, nil); common.CodeOf(err) != psnap.ErrInvalidArg {
		t.Errorf("RegisterCallback on unknown device = %v", err)
	}
}

func TestInterruptAfterFireOrDisable(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 1, 2, in)
	if err := f.r.StateSet(h, true, 0); err != nil {
		t.Fatal(err)
	}
	calls := 0
	if err := f.r.RegisterCallback(0, func(Event) { calls++ }); err != nil {
		t.Fatal(err)
	}

	f.fire(t, 0, 1, backend.TriggerInfo{Local: true}, nil)
	for i := 0; i < 2; i++ {
		if err := f.r.HandleInterrupt(0, 0, 1, in); err != nil {
			t.Fatalf("HandleInterrupt: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("callbacks after repeated interrupt = %d, want 1", calls)
	}

	if err := f.r.StateSet(h, false, 0); err != nil {
		t.Fatal(err)
	}
	f.fire(t, 0, 1, backend.TriggerInfo{Local: true}, nil)
	if err := f.r.HandleInterrupt(0, 0, 1, in); err != nil {
		t.Fatalf("HandleInterrupt: %v", err)
	}
	if calls != 1 {
		t.Errorf("callbacks after disable = %d, want 1", calls)
	}
}

func TestPollNotification(t *testing.T) {
	f := newFixture(t, config.Device{ID: 0, Family: "gen2", Pipes: 2, Stages: 6, Notify: config.NotifyPoll})
	h := f.create(t, psnap.AllPipes, 2, 3, in)
	if err := f.r.StateSet(h, true, 0); err != nil {
		t.Fatal(err)
	}
	if n, err := f.r.Poll(0); err != nil || n != 0 {
		t.Fatalf("Poll before fire = %d, %v", n, err)
	}

	fired := make(chan Event, 4)
	if err := f.r.RegisterCallback(0, func(ev Event) { fired <- ev }); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.r.RunPoller(ctx, time.Millisecond) }()

	f.fire(t, 1, 2, backend.TriggerInfo{Timer: true}, nil)
	select {
	case ev := <-fired:
		want := Event{Dev: 0, Pipe: 1, Handle: h, Stage: 2, Trigger: backend.TriggerInfo{Timer: true}}
		if diff := cmp.Diff(want, ev); diff != "" {
			t.Errorf("event mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poller never reported the fired snapshot")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("RunPoller = %v", err)
	}
	if n, err := f.r.Poll(0); err != nil || n != 0 {
		t.Errorf("snapshot reported again: %d, %v", n, err)
	}
	if a, _ := f.r.AdminState(h, 0); a != psnap.AdminEnabled {
		t.Errorf("pipe 0 admin = %s, want Enabled", a)
	}
}

func sampleCapture(n int) *backend.RawCapture {
	rc := &backend.RawCapture{
		Containers:     make([]uint32, n),
		ContainerValid: make([]bool, n),
		Datapath:       backend.DatapathFlags{Captured: true},
		TableHit:       1 << 1,
		TableActive:    1 << 1,
	}
	for i := range rc.ContainerValid {
		rc.ContainerValid[i] = true
	}
	rc.Containers[validBase+2] = 1
	rc.ExmHitAddr[0] = 0x40
	return rc
}

func TestCapture(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 2, 3, in)
	f.fire(t, 0, 2, backend.TriggerInfo{Local: true}, sampleCapture(f.r.devices[0].Backend.Layout().NumContainers()))

	caps, err := f.r.Capture(h, 0)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(caps) != 2 || caps[0].Stage != 2 || caps[1].Stage != 3 {
		t.Fatalf("captured stages = %d", len(caps))
	}
	if !caps[0].Trigger.Local || !caps[0].Raw.Datapath.Captured {
		t.Errorf("stage 2 capture = %+v", caps[0])
	}

	hits, err := f.r.HitEntries(h, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Entry != 77 || hits[0].Addr != 0x40 {
		t.Errorf("hits = %+v", hits)
	}

	fields, err := f.r.CaptureFields(h, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 1 || fields[0].Name != "hdr.valid" || fields[0].Value != 1 || !fields[0].Valid {
		t.Errorf("fields = %+v", fields)
	}

	if _, err := f.r.HitEntries(h, 0, 4); common.CodeOf(err) != psnap.ErrInvalidArg {
		t.Errorf("stage outside snapshot = %v", err)
	}
	if _, err := f.r.Capture(h, 1); common.CodeOf(err) != psnap.ErrInvalidArg {
		t.Errorf("uncovered pipe = %v", err)
	}
}

func TestDumps(t *testing.T) {
	f := newFixture(t)
	h := f.create(t, 0, 2, 3, in)
	if err := f.r.AddTriggerField(h, "hdr.valid", []byte{1}, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := f.r.StateSet(h, true, 0); err != nil {
		t.Fatal(err)
	}
	f.fire(t, 0, 2, backend.TriggerInfo{Local: true}, sampleCapture(f.r.devices[0].Backend.Layout().NumContainers()))

	var buf bytes.Buffer
	checks := []struct {
		name string
		dump func() error
		want []string
	}{
		{"state", func() error { return f.r.DumpState(&buf, h) }, []string{"stage  2: Armed *", "admin Enabled"}},
		{"config", func() error { return f.r.DumpConfig(&buf, h) }, []string{"hdr.valid", "trigger fields (1 of 1)"}},
		{"capture", func() error { return f.r.DumpCapture(&buf, h, 0, true) }, []string{"table fwd", "entry 77", "containers:"}},
	}
	for _, c := range checks {
		buf.Reset()
		if err := c.dump(); err != nil {
			t.Fatalf("%s dump: %v", c.name, err)
		}
		for _, w := range c.want {
			if !strings.Contains(buf.String(), w) {
				t.Errorf("%s dump missing %q:\n%s", c.name, w, buf.String())
			}
		}
	}
	if err := f.r.DumpState(&buf, 0); common.CodeOf(err) != psnap.ErrInvalidArg {
		t.Errorf("dump of invalid handle = %v", err)
	}
}
