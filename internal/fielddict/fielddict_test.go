package fielddict

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pipesnap/internal/common"
	"pipesnap/internal/psnap"
)

type fakeMeta struct {
	dicts map[int][]psnap.DictEntry
	calls []int
	fail  bool
}

func (m *fakeMeta) NumStages(psnap.DevID, int) (int, error) { return len(m.dicts), nil }
func (m *fakeMeta) FieldDictSize(_ psnap.DevID, _, stage int, _ psnap.Direction) (int, error) {
	return len(m.dicts[stage]), nil
}
func (m *fakeMeta) FieldDict(_ psnap.DevID, _, stage int, _ psnap.Direction) ([]psnap.DictEntry, error) {
	m.calls = append(m.calls, stage)
	if m.fail {
		return nil, errors.New("metadata unavailable")
	}
	return m.dicts[stage], nil
}
func (m *fakeMeta) MatchDependent(psnap.DevID, int, int, psnap.Direction) bool { return false }
func (m *fakeMeta) StageTables(psnap.DevID, int, int, psnap.Direction) []psnap.TableInfo {
	return nil
}

func newMeta() *fakeMeta {
	return &fakeMeta{dicts: map[int][]psnap.DictEntry{
		0: {{Name: "hdr.valid", Container: 64, Width: 8, FieldMsb: 0, PhvMsb: 0, Valid: true}},
		1: {
			{Name: "ipv4.dst", Container: 3, Width: 32, FieldMsb: 31, PhvMsb: 31, Valid: true},
			{Name: "ipv4.dst", Container: 4, Width: 16, FieldLsb: 32, FieldMsb: 39, PhvMsb: 7, Valid: true},
			{Name: "stale", Container: 5, Width: 8, Valid: false},
		},
	}}
}

func TestSourceStage(t *testing.T) {
	tests := []struct{ stage, compiled, want int }{
		{0, 12, 0},
		{11, 12, 11},
		{12, 12, 11},
		{20, 12, 11},
		{3, 0, 0},
	}
	for _, tt := range tests {
		if got := SourceStage(tt.stage, tt.compiled); got != tt.want {
			t.Errorf("SourceStage(%d, %d) = %d, want %d", tt.stage, tt.compiled, got, tt.want)
		}
	}
}

func TestEnsureIdempotent(t *testing.T) {
	m := newMeta()
	var c Cache
	c.SetSize(3)
	if c.Valid() || c.Entries() != nil {
		t.Fatalf("new cache reports entries")
	}
	for i := 0; i < 3; i++ {
		if err := c.Ensure(m, 0, 0, 1, psnap.Ingress, 2); err != nil {
			t.Fatalf("Ensure: %v", err)
		}
	}
	if diff := cmp.Diff([]int{1}, m.calls); diff != "" {
		t.Errorf("metadata calls mismatch (-want +got):\n%s", diff)
	}
	if c.Size() != 3 || len(c.Entries()) != 3 {
		t.Errorf("Size() = %d, entries = %d", c.Size(), len(c.Entries()))
	}

	c.Invalidate()
	if c.Valid() {
		t.Fatalf("Valid() after Invalidate")
	}
	if err := c.Ensure(m, 0, 0, 1, psnap.Ingress, 2); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(m.calls) != 2 {
		t.Errorf("rebuild after Invalidate did not hit metadata")
	}
}

func TestEnsureBypassStage(t *testing.T) {
	m := newMeta()
	var c Cache
	if err := c.Ensure(m, 0, 0, 5, psnap.Egress, 2); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if diff := cmp.Diff([]int{1}, m.calls); diff != "" {
		t.Errorf("stage past compiled range should read the last compiled stage (-want +got):\n%s", diff)
	}
}

func TestEnsureFailure(t *testing.T) {
	m := newMeta()
	m.fail = true
	var c Cache
	err := c.Ensure(m, 0, 0, 0, psnap.Ingress, 2)
	if common.CodeOf(err) != psnap.ErrNoSysResources {
		t.Fatalf("Ensure: got %v, want ErrNoSysResources", err)
	}
	if c.Valid() {
		t.Errorf("failed build left cache valid")
	}
}

func TestLookup(t *testing.T) {
	m := newMeta()
	var c Cache
	if got := c.Lookup("ipv4.dst"); got != nil {
		t.Errorf("Lookup on unbuilt cache = %v", got)
	}
	if err := c.Ensure(m, 0, 0, 1, psnap.Ingress, 2); err != nil {
		t.Fatal(err)
	}
	if got := len(c.Lookup("ipv4.dst")); got != 2 {
		t.Errorf("Lookup(ipv4.dst) returned %d entries, want 2", got)
	}
	if got := c.Lookup("stale"); got != nil {
		t.Errorf("invalid entries returned: %v", got)
	}
	if got := c.Lookup("missing"); got != nil {
		t.Errorf("Lookup(missing) = %v", got)
	}
}
