// Package dmamap provides DMA buffer mapping handles.
package dmamap

import (
	"errors"
	"sync/atomic"

	"github.com/sdmakit/sdma/core/logging"
)

var logger = logging.New("dmamap")

// Error conditions.
var (
	ErrNoMem   = errors.New("mapping resources exhausted")
	ErrEmpty   = errors.New("cannot map empty buffer")
	ErrNoRange = errors.New("address range is not mapped")
)

// Mapper is a buffer mapping service.
// It makes a virtual buffer reachable by the device and returns the device-visible address.
type Mapper interface {
	Map(buf []byte) (addr uint64, e error)
	Unmap(addr uint64, length int)
}

// Mapping is an (owner, address, length) handle of a mapped buffer.
// It is released at most once.
type Mapping struct {
	owner    Mapper
	addr     uint64
	length   int
	released atomic.Bool
}

// Map maps a buffer and returns its handle.
func Map(m Mapper, buf []byte) (*Mapping, error) {
	if len(buf) == 0 {
		return nil, ErrEmpty
	}
	addr, e := m.Map(buf)
	if e != nil {
		return nil, e
	}
	return &Mapping{owner: m, addr: addr, length: len(buf)}, nil
}

// Addr returns the device-visible address.
func (mp *Mapping) Addr() uint64 {
	return mp.addr
}

// Len returns mapped length.
func (mp *Mapping) Len() int {
	return mp.length
}

// Released determines whether the mapping has been released.
func (mp *Mapping) Released() bool {
	return mp.released.Load()
}

// Release unmaps the buffer.
// Returns false if the mapping was already released.
func (mp *Mapping) Release() bool {
	if mp == nil || !mp.released.CompareAndSwap(false, true) {
		return false
	}
	mp.owner.Unmap(mp.addr, mp.length)
	return true
}
