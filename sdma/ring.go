package sdma

import (
	"math/bits"
	"sync/atomic"
)

// Ring is a hardware-visible descriptor ring.
//
// Software positions are monotonic counters: added counts descriptors written, removed counts descriptors retired.
// A slot index is a position masked by the ring size.
// One slot is always left unused so that a full ring is distinguishable from an empty ring.
type Ring struct {
	desc    []Descriptor
	mask    uint64
	shift   uint
	added   uint64 // guarded by Engine.mu
	removed uint64 // guarded by Engine.mu
	headDMA atomic.Uint64
}

// RingHost is implemented by a CSR space that can access host memory.
// Engines register their descriptor ring when created, which models programming the ring base address.
type RingHost interface {
	AttachRing(engine int, ring *Ring)
}

func newRing(count int) *Ring {
	return &Ring{
		desc:  make([]Descriptor, count),
		mask:  uint64(count - 1),
		shift: uint(bits.TrailingZeros(uint(count))),
	}
}

// Len returns the number of slots.
func (r *Ring) Len() int {
	return len(r.desc)
}

// Load reads a descriptor slot.
// This is intended for hardware: a slot is only stable between a tail update that covers it and the head passing it.
func (r *Ring) Load(slot int) Descriptor {
	return r.desc[slot]
}

// WriteHead stores the head write-back word.
// This is intended for hardware.
func (r *Ring) WriteHead(slot uint64) {
	r.headDMA.Store(slot)
}

// HeadDMA reads the head write-back word.
func (r *Ring) HeadDMA() uint64 {
	return r.headDMA.Load()
}

func (r *Ring) slot(pos uint64) uint64 {
	return pos & r.mask
}

// generation computes the generation tag for a position.
func (r *Ring) generation(pos uint64) uint8 {
	return uint8(pos >> r.shift & desc1GenMask)
}

func (r *Ring) inUse() int {
	return int(r.added - r.removed)
}

func (r *Ring) freeSlots() int {
	return len(r.desc) - r.inUse() - 1
}

func (r *Ring) isEmpty() bool {
	return r.added == r.removed
}

// put writes a descriptor at the tail and advances the tail.
func (r *Ring) put(d Descriptor) {
	r.desc[r.slot(r.added)] = d
	r.added++
}

// headSane determines whether a hardware head slot lies within the software head..tail window.
func (r *Ring) headSane(hwhead uint64) bool {
	swhead, swtail := r.slot(r.removed), r.slot(r.added)
	switch {
	case swhead < swtail:
		return hwhead >= swhead && hwhead <= swtail
	case swhead > swtail:
		return (hwhead >= swhead && hwhead < uint64(len(r.desc))) || hwhead <= swtail
	default:
		return hwhead == swhead
	}
}

func (r *Ring) reset() {
	r.added, r.removed = 0, 0
	r.headDMA.Store(0)
}
