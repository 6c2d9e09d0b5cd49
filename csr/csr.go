// Package csr defines the control/status register facility of an SDMA-capable adapter.
//
// Registers are addressed by engine index and offset.
// The bit values here are an internal contract between the engine driver and the hardware model;
// they do not reproduce the layout of any particular chip.
package csr

import (
	"fmt"
	"sync"
)

// Offset identifies a per-engine register.
type Offset uint32

// Per-engine registers.
const (
	Ctrl      Offset = 0x00 // control bits, see CtrlEnable etc
	Status    Offset = 0x08 // status bits, see StatusHalted etc
	Tail      Offset = 0x10 // descriptor queue tail slot, written by software
	Head      Offset = 0x18 // descriptor queue head slot, written by hardware
	RingLen   Offset = 0x20 // descriptor queue slot count
	ErrStatus Offset = 0x28 // latched error status
)

func (off Offset) String() string {
	switch off {
	case Ctrl:
		return "CTRL"
	case Status:
		return "STATUS"
	case Tail:
		return "TAIL"
	case Head:
		return "HEAD"
	case RingLen:
		return "RING_LEN"
	case ErrStatus:
		return "ERR_STATUS"
	}
	return fmt.Sprintf("0x%02X", uint32(off))
}

// Ctrl register bits.
const (
	CtrlEnable    uint64 = 1 << 0 // fetch and send descriptors
	CtrlIntEnable uint64 = 1 << 1 // deliver progress/idle interrupts
	CtrlHalt      uint64 = 1 << 2 // request halt
	CtrlDrain     uint64 = 1 << 3 // finish in-flight packets then stop fetching
	CtrlCleanup   uint64 = 1 << 4 // reset hardware queue state
)

// Status register bits.
const (
	StatusHalted    uint64 = 1 << 0 // halt has taken effect
	StatusCleanDone uint64 = 1 << 1 // cleanup has finished
	StatusIdle      uint64 = 1 << 2 // head has caught up with tail
)

// Space is a register access facility.
// Implementations must be safe for concurrent use.
type Space interface {
	Read(engine int, off Offset) uint64
	Write(engine int, off Offset, value uint64)
}

type regKey struct {
	engine int
	off    Offset
}

// Mem is a Space backed by plain memory.
// It has no side effects and is suitable as a register file for hardware models.
type Mem struct {
	mu   sync.Mutex
	regs map[regKey]uint64
}

var _ Space = (*Mem)(nil)

// NewMem creates a Mem.
func NewMem() *Mem {
	return &Mem{regs: map[regKey]uint64{}}
}

// Read implements Space interface.
func (m *Mem) Read(engine int, off Offset) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[regKey{engine, off}]
}

// Write implements Space interface.
func (m *Mem) Write(engine int, off Offset, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[regKey{engine, off}] = value
}

// Update atomically applies a read-modify-write function to a register and returns the new value.
func (m *Mem) Update(engine int, off Offset, f func(old uint64) uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := regKey{engine, off}
	v := f(m.regs[k])
	m.regs[k] = v
	return v
}
