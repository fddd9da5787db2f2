// Package gen3 implements the third chip generation. It reuses the gen2
// register block with a wider PHV, its own address map and two
// subdevices, each owning four pipes.
package gen3

import (
	"pipesnap/internal/backend"
	"pipesnap/internal/backend/gen2"
	"pipesnap/internal/psnap"
)

const pipesPerSubdev = 4

var layout = backend.NewLayout(
	backend.ContainerGroup{Width: 32, Type: psnap.ContainerNormal, Count: 80},
	backend.ContainerGroup{Width: 32, Type: psnap.ContainerMocha, Count: 16},
	backend.ContainerGroup{Width: 32, Type: psnap.ContainerDark, Count: 24},
	backend.ContainerGroup{Width: 8, Type: psnap.ContainerNormal, Count: 64},
	backend.ContainerGroup{Width: 8, Type: psnap.ContainerMocha, Count: 16},
	backend.ContainerGroup{Width: 8, Type: psnap.ContainerDark, Count: 16},
	backend.ContainerGroup{Width: 16, Type: psnap.ContainerNormal, Count: 96},
	backend.ContainerGroup{Width: 16, Type: psnap.ContainerMocha, Count: 24},
	backend.ContainerGroup{Width: 16, Type: psnap.ContainerDark, Count: 24},
)

var variant = gen2.Variant{
	Family: psnap.FamilyGen3,
	Map: gen2.AddrMap{
		Base:           0x00800000,
		PipeStride:     0x00200000,
		StageStride:    0x00008000,
		DirStride:      0x00004000,
		PipesPerSubdev: pipesPerSubdev,
	},
	Layout:  layout,
	Subdevs: psnap.MaxPipes / pipesPerSubdev,
}

// New creates a gen3 backend on bus.
func New(bus backend.RegBus) backend.Backend {
	return gen2.NewVariant(bus, variant)
}
