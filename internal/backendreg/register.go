// Package backendreg maps chip families to backend factories.
package backendreg

import (
	"pipesnap/internal/backend"
	"pipesnap/internal/common"
	"pipesnap/internal/psnap"
)

// BackendRegister manages backend factories by chip family.
type BackendRegister struct {
	factories map[psnap.ChipFamily]backend.Factory
}

var defaultRegister = NewBackendRegister()

// GetBackendRegister returns the library's global backend registry.
func GetBackendRegister() *BackendRegister {
	return defaultRegister
}

// NewBackendRegister creates an empty registry.
func NewBackendRegister() *BackendRegister {
	return &BackendRegister{
		factories: make(map[psnap.ChipFamily]backend.Factory),
	}
}

// Register adds a factory for a chip family.
func (r *BackendRegister) Register(family psnap.ChipFamily, f backend.Factory) error {
	if f == nil || family == psnap.FamilyUnknown {
		return common.Errorf(psnap.ErrInvalidArg, "cannot register backend for family %s", family)
	}
	if _, exists := r.factories[family]; exists {
		return common.Errorf(psnap.ErrAlreadyExists, "backend for family %s already registered", family)
	}
	r.factories[family] = f
	return nil
}

// IsRegistered reports whether a family has a factory.
func (r *BackendRegister) IsRegistered(family psnap.ChipFamily) bool {
	_, ok := r.factories[family]
	return ok
}

// New builds the backend for a family. An unknown family is a programming
// error and reported as ErrUnexpected.
func (r *BackendRegister) New(family psnap.ChipFamily, bus backend.RegBus) (backend.Backend, error) {
	f, ok := r.factories[family]
	if !ok {
		return nil, common.Errorf(psnap.ErrUnexpected, "no backend for chip family %d", uint32(family))
	}
	return f(bus), nil
}
