package snapshot

import (
	"sync"

	"pipesnap/internal/psnap"
)

type mutexSession struct {
	mu sync.Mutex
}

// NewSession returns the default session token: one mutex shared by every
// device.
func NewSession() psnap.Session { return &mutexSession{} }

func (s *mutexSession) Enter() { s.mu.Lock() }
func (s *mutexSession) Exit()  { s.mu.Unlock() }
