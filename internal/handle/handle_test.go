package handle

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"pipesnap/internal/psnap"
)

func TestRoundTrip(t *testing.T) {
	pipes := []psnap.PipeID{0, 1, 3, 7, psnap.AllPipes}
	for _, dev := range []psnap.DevID{0, 1, 255} {
		for _, pipe := range pipes {
			for start := 0; start <= psnap.MaxStages; start += 5 {
				for end := start; end <= psnap.MaxStages; end += 7 {
					for _, dir := range []psnap.Direction{psnap.Ingress, psnap.Egress} {
						want := Fields{Dev: dev, Pipe: pipe, StartStage: start, EndStage: end, Dir: dir}
						h := Encode(dev, pipe, start, end, dir)
						if !h.Valid() {
							t.Fatalf("Encode(%+v) = %v not valid", want, h)
						}
						if diff := cmp.Diff(want, h.Decode()); diff != "" {
							t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
						}
					}
				}
			}
		}
	}
}

func TestAllPipesNeverSurfacesAsIndex(t *testing.T) {
	h := Encode(2, psnap.AllPipes, 1, 4, psnap.Egress)
	if got := h.Pipe(); got != psnap.AllPipes {
		t.Errorf("Pipe() = %v, want AllPipes", got)
	}
	if got := h.Pipe().String(); got != "ALL" {
		t.Errorf("Pipe().String() = %q, want ALL", got)
	}
}

func TestDistinctHandles(t *testing.T) {
	seen := map[Handle]Fields{}
	for pipe := psnap.PipeID(0); pipe < psnap.MaxPipes; pipe++ {
		for start := 0; start < 12; start++ {
			for end := start; end < 12; end++ {
				for dir := psnap.Direction(0); dir < psnap.NumDirections; dir++ {
					f := Fields{Dev: 1, Pipe: pipe, StartStage: start, EndStage: end, Dir: dir}
					h := Encode(f.Dev, f.Pipe, f.StartStage, f.EndStage, f.Dir)
					if prev, ok := seen[h]; ok {
						t.Fatalf("collision: %+v and %+v both encode to %v", prev, f, h)
					}
					seen[h] = f
				}
			}
		}
	}
}

func TestValid(t *testing.T) {
	if Invalid.Valid() {
		t.Errorf("zero handle reported valid")
	}
	h := Encode(0, 0, 0, 0, psnap.Ingress)
	if !h.Valid() {
		t.Errorf("encoded handle %v not valid", h)
	}
	if (h | 1<<24).Valid() {
		t.Errorf("handle with reserved bits set reported valid")
	}
	if h == Invalid {
		t.Errorf("encoded handle collides with Invalid")
	}
}

func TestDescribe(t *testing.T) {
	h := Encode(1, 2, 3, 5, psnap.Ingress)
	if got, want := h.Describe(), "dev 1 pipe 2 stages 3-5 ingress"; got != want {
		t.Errorf("Describe() = %q, want %q", got, want)
	}
}
