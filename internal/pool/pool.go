// Package pool implements a fixed-capacity pool of equally sized byte slots.
//
// All slot memory is one arena allocated at creation; availability is kept in
// a bitmap. A Pool is not safe for concurrent use, wrap it in Shared when it
// has to be used from several goroutines.
package pool

import (
	"fmt"
	"math/bits"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/packet"
)

// MaxSlots is the hard capacity of a pool.
const MaxSlots = 1024

const wordBits = 64

// Pool hands out borrowed slots between Acquire and Release.
type Pool struct {
	arena     []byte
	slotSize  int
	slotCount int
	available []uint64 // bit set = slot free
	owner     []*Slot  // current handle per slot, nil when free
	inUse     int
}

// Slot is one borrow of a region of the arena. Every Acquire returns a new
// handle, so a handle kept after Release can never free a later borrow. Its
// bytes are only valid until it is released or the pool is destroyed.
type Slot struct {
	pool     *Pool
	index    int
	buf      []byte
	borrowed bool
}

// New allocates a pool of slotCount slots of slotSize bytes each. A slot
// holds at most one IPv4 datagram.
func New(slotSize, slotCount int) (*Pool, error) {
	if slotSize <= 0 || slotSize > packet.MaxSize {
		return nil, fmt.Errorf("%w: slot size must be in [1, %d], got %d", core.ErrInvalidParam, packet.MaxSize, slotSize)
	}
	if slotCount <= 0 || slotCount > MaxSlots {
		return nil, fmt.Errorf("%w: slot count must be in [1, %d], got %d", core.ErrInvalidParam, MaxSlots, slotCount)
	}

	p := &Pool{
		arena:     make([]byte, slotSize*slotCount),
		slotSize:  slotSize,
		slotCount: slotCount,
		available: make([]uint64, (slotCount+wordBits-1)/wordBits),
		owner:     make([]*Slot, slotCount),
	}
	for i := 0; i < slotCount; i++ {
		p.available[i/wordBits] |= 1 << (i % wordBits)
	}
	return p, nil
}

// Acquire checks out a free slot. It returns false when every slot is in use,
// which is a saturation signal rather than an error.
func (p *Pool) Acquire() (*Slot, bool) {
	if p == nil || p.arena == nil {
		return nil, false
	}
	for w, word := range p.available {
		if word == 0 {
			continue
		}
		bit := bits.TrailingZeros64(word)
		idx := w*wordBits + bit
		if idx >= p.slotCount {
			break
		}
		p.available[w] &^= 1 << bit
		off := idx * p.slotSize
		s := &Slot{
			pool:     p,
			index:    idx,
			buf:      p.arena[off : off+p.slotSize : off+p.slotSize],
			borrowed: true,
		}
		p.owner[idx] = s
		p.inUse++
		return s, true
	}
	return nil, false
}

// Get is Acquire with exhaustion reported as core.ErrPoolExhausted, for
// callers that propagate backpressure as an error.
func (p *Pool) Get() (*Slot, error) {
	s, ok := p.Acquire()
	if !ok {
		return nil, fmt.Errorf("%w: all %d slots in use", core.ErrPoolExhausted, p.Len())
	}
	return s, nil
}

// Release returns s to the pool. Slots from another pool, stale handles from
// an earlier borrow and nil are ignored.
func (p *Pool) Release(s *Slot) {
	if p == nil || s == nil || s.pool != p || !s.borrowed || p.arena == nil {
		return
	}
	if s.index < 0 || s.index >= p.slotCount || p.owner[s.index] != s {
		return
	}
	p.owner[s.index] = nil
	s.borrowed = false
	s.buf = nil
	p.available[s.index/wordBits] |= 1 << (s.index % wordBits)
	p.inUse--
}

// Destroy drops the arena. Every outstanding slot becomes invalid and later
// Acquire calls report exhaustion.
func (p *Pool) Destroy() {
	if p == nil {
		return
	}
	for i, s := range p.owner {
		if s != nil {
			s.borrowed = false
			s.buf = nil
		}
		p.owner[i] = nil
	}
	p.arena = nil
	clear(p.available)
	p.inUse = 0
}

// SlotSize is the size of every slot in bytes.
func (p *Pool) SlotSize() int { return p.slotSize }

// Len is the total number of slots.
func (p *Pool) Len() int { return p.slotCount }

// InUse is the number of slots currently checked out.
func (p *Pool) InUse() int { return p.inUse }

// Available is the number of slots that Acquire can still hand out.
func (p *Pool) Available() int {
	if p.arena == nil {
		return 0
	}
	return p.slotCount - p.inUse
}

// Bytes returns the slot memory, or nil once the slot is no longer borrowed.
func (s *Slot) Bytes() []byte {
	if s == nil || !s.borrowed {
		return nil
	}
	return s.buf
}

// Index is the slot's position in the pool.
func (s *Slot) Index() int { return s.index }

// Borrowed reports whether the slot is currently checked out.
func (s *Slot) Borrowed() bool { return s != nil && s.borrowed }
