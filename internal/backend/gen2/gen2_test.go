package gen2

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"pipesnap/internal/backend"
	"pipesnap/internal/common"
	"pipesnap/internal/psnap"
	"pipesnap/internal/regsim"
)

func newTestBackend() (*regsim.Bus, backend.Backend) {
	bus := regsim.New()
	be := New(bus)
	bus.Attach(0, be)
	return bus, be
}

func TestLayoutAndCaps(t *testing.T) {
	_, be := newTestBackend()
	l := be.Layout()
	if got := l.NumContainers(); got != 336 {
		t.Errorf("NumContainers() = %d, want 336", got)
	}
	if got := l.NumSlots(32); got != 80 {
		t.Errorf("NumSlots(32) = %d, want 80", got)
	}
	if l.Type(64) != psnap.ContainerMocha || l.Type(80) != psnap.ContainerDark {
		t.Errorf("unexpected container types at 64/80")
	}
	if !be.HasGhost() || !be.HasNextStageDecode() || be.NumSubdevices() != 1 {
		t.Errorf("gen2 capabilities wrong")
	}
	if be.MaxTimerTicks() != 1<<48-1 {
		t.Errorf("MaxTimerTicks() = %d", be.MaxTimerTicks())
	}
}

func TestTimer48(t *testing.T) {
	_, be := newTestBackend()
	loc := backend.Loc{Pipe: 3, Stage: 7, Dir: psnap.Ingress}
	const ticks = 0xABCD12345678
	if err := be.TimerSet(loc, true, ticks); err != nil {
		t.Fatalf("TimerSet: %v", err)
	}
	en, got, err := be.TimerGet(loc)
	if err != nil || !en || got != ticks {
		t.Errorf("TimerGet = %v,0x%x,%v want true,0x%x,nil", en, got, err, uint64(ticks))
	}
}

func TestConfigModes(t *testing.T) {
	_, be := newTestBackend()
	ing := backend.Loc{Stage: 1, Dir: psnap.Ingress}
	egr := backend.Loc{Stage: 1, Dir: psnap.Egress}
	for _, m := range []psnap.TriggerMode{psnap.ModeGhostOnly, psnap.ModeAny, psnap.ModeBoth, psnap.ModeIngressOnly} {
		if err := be.ConfigSet(ing, m); err != nil {
			t.Fatalf("ConfigSet(%v): %v", m, err)
		}
		got, err := be.ConfigGet(ing)
		if err != nil || got != m {
			t.Errorf("ConfigGet = %v,%v want %v", got, err, m)
		}
	}
	if err := be.ConfigSet(egr, psnap.ModeGhostOnly); common.CodeOf(err) != psnap.ErrNotSupported {
		t.Errorf("egress ghost mode: got %v, want ErrNotSupported", err)
	}
	if err := be.ConfigSet(ing, psnap.TriggerMode(9)); common.CodeOf(err) != psnap.ErrInvalidArg {
		t.Errorf("bad mode: got %v, want ErrInvalidArg", err)
	}
	// the mode field shares the control register with the timer enable
	if err := be.TimerSet(ing, true, 10); err != nil {
		t.Fatalf("TimerSet: %v", err)
	}
	if err := be.ConfigSet(ing, psnap.ModeAny); err != nil {
		t.Fatalf("ConfigSet: %v", err)
	}
	if en, _, _ := be.TimerGet(ing); !en {
		t.Errorf("ConfigSet cleared timer enable")
	}
}

func TestCaptureValidBits(t *testing.T) {
	bus, be := newTestBackend()
	loc := backend.Loc{Pipe: 0, Stage: 4, Dir: psnap.Ingress}
	n := be.Layout().NumContainers()
	rc := &backend.RawCapture{
		Containers:     make([]uint32, n),
		ContainerValid: make([]bool, n),
		GlobalExecOut:  0x0102,
		LongBranchOut:  0x05,
		NextTable:      0x61,
	}
	rc.Containers[33] = 0x12345678
	rc.ContainerValid[33] = true
	rc.ContainerValid[n-1] = true
	if err := bus.Fire(be, loc, backend.TriggerInfo{Local: true, Thread: backend.ThreadGhost}, rc); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	got, err := be.CaptureRead(loc)
	if err != nil {
		t.Fatalf("CaptureRead: %v", err)
	}
	if diff := cmp.Diff(rc.ContainerValid, got.ContainerValid); diff != "" {
		t.Errorf("ContainerValid mismatch (-want +got):\n%s", diff)
	}
	if got.Containers[33] != 0x12345678 || got.GlobalExecOut != 0x0102 ||
		got.LongBranchOut != 0x05 || got.NextTable != 0x61 {
		t.Errorf("capture = %+v", got)
	}
	ti, _ := be.TriggerInfoGet(loc)
	if ti.Thread != backend.ThreadGhost {
		t.Errorf("thread = %v, want ghost", ti.Thread)
	}
}

func TestPredicationRoundTrip(t *testing.T) {
	bus, be := newTestBackend()
	loc := backend.Loc{Pipe: 1, Stage: 2, Dir: psnap.Egress}
	want := backend.StagePredication{GlobalExec: 0x00F0, LongBranchTerm: 0x3}
	want.TableSelect[2] = 0x0004
	want.LongBranchTables[1] = 0x0300
	if err := bus.LoadPredication(be, loc, want); err != nil {
		t.Fatalf("LoadPredication: %v", err)
	}
	got, err := be.PredicationGet(loc)
	if err != nil {
		t.Fatalf("PredicationGet: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("predication mismatch (-want +got):\n%s", diff)
	}
}

func TestIntrClearIsW1C(t *testing.T) {
	bus, be := newTestBackend()
	loc := backend.Loc{Pipe: 2, Stage: 9, Dir: psnap.Egress}
	if err := be.IntrEnable(loc, true); err != nil {
		t.Fatal(err)
	}
	if err := bus.Fire(be, loc, backend.TriggerInfo{Timer: true}, nil); err != nil {
		t.Fatal(err)
	}
	if p, _ := be.IntrGet(loc); !p {
		t.Fatalf("interrupt not raised")
	}
	if err := be.IntrClear(loc); err != nil {
		t.Fatal(err)
	}
	if p, _ := be.IntrGet(loc); p {
		t.Errorf("interrupt still pending")
	}
}
