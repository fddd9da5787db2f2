package backendreg

import (
	"pipesnap/internal/backend/gen1"
	"pipesnap/internal/backend/gen2"
	"pipesnap/internal/backend/gen3"
	"pipesnap/internal/psnap"
)

// init runs on package load to register the built-in generations.
func init() {
	reg := GetBackendRegister()
	_ = reg.Register(psnap.FamilyGen1, gen1.New)
	_ = reg.Register(psnap.FamilyGen2, gen2.New)
	_ = reg.Register(psnap.FamilyGen3, gen3.New)
}
