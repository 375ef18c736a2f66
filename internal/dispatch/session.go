package dispatch

import "sync"

// Session is the state carried between requests: the most recently
// created wallet address. Readers never see an address whose creation has
// not finished.
type Session struct {
	mu      sync.RWMutex
	address string
}

// NewSession returns an empty session.
func NewSession() *Session { return &Session{} }

// Address returns the current address, if any.
func (s *Session) Address() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address, s.address != ""
}

// SetAddress replaces the current address.
func (s *Session) SetAddress(a string) {
	s.mu.Lock()
	s.address = a
	s.mu.Unlock()
}
