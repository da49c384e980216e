package pool

import "sync"

// Shared serializes access to a Pool so that it can be used from several
// goroutines. Slot memory itself is still owned by one borrower at a time.
type Shared struct {
	mu   sync.Mutex
	pool *Pool
}

// NewShared wraps p.
func NewShared(p *Pool) *Shared {
	return &Shared{pool: p}
}

func (s *Shared) Acquire() (*Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Acquire()
}

func (s *Shared) Get() (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Get()
}

func (s *Shared) Release(slot *Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool.Release(slot)
}

func (s *Shared) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.InUse()
}

func (s *Shared) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool.Destroy()
}
