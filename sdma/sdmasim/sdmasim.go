// Package sdmasim simulates SDMA hardware.
//
// Hardware implements csr.Space and sdma.RingHost.
// Descriptors are consumed only when Consume is called, which makes engine behavior deterministic in tests.
package sdmasim

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/sdmakit/sdma/core/logging"
	"github.com/sdmakit/sdma/csr"
	"github.com/sdmakit/sdma/dmamap"
	"github.com/sdmakit/sdma/sdma"
)

var logger = logging.New("sdmasim")

// Config contains Hardware configuration.
type Config struct {
	// IOMMU resolves fragment addresses when assembling wire frames.
	// If nil, frames are not assembled.
	IOMMU *dmamap.IOMMU

	// InterruptEveryPacket raises a progress interrupt after every packet, not only urgent packets.
	InterruptEveryPacket bool

	// CheckGeneration raises a descriptor error when a descriptor carries an unexpected generation tag.
	CheckGeneration bool
}

// InterruptHandler receives interrupts.
type InterruptHandler func(engine int, status uint64)

// WireHandler receives assembled frames.
type WireHandler func(engine int, frame []byte)

type engineHW struct {
	ring      *sdma.Ring
	ctrl      uint64
	halted    bool
	haltStuck bool
	cleanDone bool
	head      uint64 // slot
	tail      uint64 // slot
	pos       uint64 // monotonic position of head
	override  *uint64
	consumed  []sdma.Descriptor
	skip      int
	frame     []byte
	frames    int
}

func (eh *engineHW) running() bool {
	return eh.ring != nil && eh.ctrl&csr.CtrlEnable != 0 && !eh.halted
}

func (eh *engineHW) pending() int {
	if eh.ring == nil {
		return 0
	}
	return int((eh.tail - eh.head) & uint64(eh.ring.Len()-1))
}

// Hardware is a simulated SDMA-capable adapter.
type Hardware struct {
	cfg  Config
	regs *csr.Mem

	mu      sync.Mutex
	engines []*engineHW
	onIRQ   InterruptHandler
	onWire  WireHandler
}

var (
	_ csr.Space     = (*Hardware)(nil)
	_ sdma.RingHost = (*Hardware)(nil)
)

// New creates simulated hardware.
func New(cfg Config) *Hardware {
	return &Hardware{
		cfg:  cfg,
		regs: csr.NewMem(),
	}
}

// OnInterrupt sets the interrupt handler.
// The handler is invoked without Hardware locks held.
func (h *Hardware) OnInterrupt(f InterruptHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onIRQ = f
}

// OnWire sets the frame handler.
// The handler is invoked without Hardware locks held.
// Packets drained by a halt request are counted in Frames but not delivered.
func (h *Hardware) OnWire(f WireHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onWire = f
}

func (h *Hardware) engine(i int) *engineHW {
	for len(h.engines) <= i {
		h.engines = append(h.engines, &engineHW{})
	}
	return h.engines[i]
}

// AttachRing implements sdma.RingHost.
func (h *Hardware) AttachRing(engine int, ring *sdma.Ring) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine(engine).ring = ring
}

// Read implements csr.Space.
func (h *Hardware) Read(engine int, off csr.Offset) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	eh := h.engine(engine)
	switch off {
	case csr.Ctrl:
		return eh.ctrl
	case csr.Head:
		if eh.override != nil {
			return *eh.override
		}
		return eh.head
	case csr.Tail:
		return eh.tail
	case csr.Status:
		var v uint64
		if eh.halted {
			v |= csr.StatusHalted
		}
		if eh.cleanDone {
			v |= csr.StatusCleanDone
		}
		if eh.head == eh.tail {
			v |= csr.StatusIdle
		}
		return v
	}
	return h.regs.Read(engine, off)
}

// Write implements csr.Space.
func (h *Hardware) Write(engine int, off csr.Offset, value uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	eh := h.engine(engine)
	switch off {
	case csr.Ctrl:
		h.writeCtrl(engine, eh, value)
	case csr.Tail:
		eh.tail = value
	case csr.Head:
		eh.head = value
	default:
		h.regs.Write(engine, off, value)
	}
}

func (h *Hardware) writeCtrl(engine int, eh *engineHW, value uint64) {
	eh.ctrl = value
	switch {
	case value&csr.CtrlCleanup != 0:
		eh.head, eh.tail, eh.pos = 0, 0, 0
		eh.skip, eh.frame = 0, nil
		eh.halted, eh.cleanDone = false, true
		h.regs.Write(engine, csr.ErrStatus, 0)
	case value&csr.CtrlHalt != 0:
		if value&csr.CtrlDrain != 0 && eh.ring != nil && !eh.halted {
			for eh.head != eh.tail {
				if status, _ := h.consumeOne(engine, eh); status&sdma.IntErrMask != 0 {
					break
				}
			}
		}
		eh.halted = !eh.haltStuck
		eh.cleanDone = false
	default:
		eh.cleanDone = false
	}
}

// consumeOne processes the descriptor at head.
// Caller must hold h.mu.
func (h *Hardware) consumeOne(engine int, eh *engineHW) (status uint64, frame []byte) {
	d := eh.ring.Load(int(eh.head))
	isEdit := eh.skip > 0
	if !isEdit && h.cfg.CheckGeneration && d.Generation() != sdma.ExpectedGeneration(eh.pos, eh.ring.Len()) {
		logger.Warn("descriptor generation mismatch",
			zap.Int("engine", engine), zap.Uint64("slot", eh.head), zap.Stringer("desc", d))
		eh.halted = true
		h.regs.Write(engine, csr.ErrStatus, sdma.IntErrDescriptor)
		return sdma.IntErrDescriptor | sdma.IntHalt, nil
	}

	eh.head = (eh.head + 1) & uint64(eh.ring.Len()-1)
	eh.pos++
	eh.consumed = append(eh.consumed, d)

	if isEdit {
		eh.skip--
		return 0, nil
	}
	eh.skip = d.EditDescs()
	if h.cfg.IOMMU != nil && d.Len() > 0 {
		if b, e := h.cfg.IOMMU.Read(d.Addr(), d.Len()); e == nil {
			eh.frame = append(eh.frame, b...)
		} else {
			logger.Warn("fragment address not mapped", zap.Int("engine", engine), zap.Stringer("desc", d), zap.Error(e))
		}
	}
	if !d.Last() {
		return 0, nil
	}

	eh.frames++
	frame, eh.frame = eh.frame, nil
	if d.HeadToHost() {
		eh.ring.WriteHead(eh.head)
	}
	if d.IntReq() || h.cfg.InterruptEveryPacket {
		status |= sdma.IntProgress
	}
	return status, frame
}

// Consume processes up to n descriptors on an engine that is enabled and not halted.
// Returns the number of descriptors consumed.
// Interrupts are raised after processing if enabled by the engine.
func (h *Hardware) Consume(engine, n int) int {
	h.mu.Lock()
	eh := h.engine(engine)
	var status uint64
	var frames [][]byte
	count := 0
	for ; count < n && eh.running() && eh.head != eh.tail; count++ {
		st, frame := h.consumeOne(engine, eh)
		status |= st
		if frame != nil {
			frames = append(frames, frame)
		}
		if st&sdma.IntErrMask != 0 {
			break
		}
	}
	if count > 0 && eh.head == eh.tail && status&sdma.IntErrMask == 0 {
		status |= sdma.IntIdle
	}
	if status&sdma.IntErrMask == 0 && eh.ctrl&csr.CtrlIntEnable == 0 {
		status = 0
	}
	onIRQ, onWire := h.onIRQ, h.onWire
	h.mu.Unlock()

	if onWire != nil {
		for _, frame := range frames {
			onWire(engine, frame)
		}
	}
	if status != 0 && onIRQ != nil {
		onIRQ(engine, status)
	}
	return count
}

// InjectHalt halts an engine and raises an interrupt with IntHalt and the given error bits.
func (h *Hardware) InjectHalt(engine int, errBits uint64) {
	h.mu.Lock()
	eh := h.engine(engine)
	eh.halted = !eh.haltStuck
	h.regs.Write(engine, csr.ErrStatus, errBits)
	onIRQ := h.onIRQ
	h.mu.Unlock()

	if onIRQ != nil {
		onIRQ(engine, sdma.IntHalt|errBits)
	}
}

// SetHaltStuck makes halt requests ineffective, so that halt polls time out.
func (h *Hardware) SetHaltStuck(engine int, stuck bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine(engine).haltStuck = stuck
}

// CorruptHeadDMA writes a value into the head write-back word.
func (h *Hardware) CorruptHeadDMA(engine int, slot uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ring := h.engine(engine).ring; ring != nil {
		ring.WriteHead(slot)
	}
}

// OverrideHead makes the Head register report a fixed value.
// Pass nil to restore normal reporting.
func (h *Hardware) OverrideHead(engine int, slot *uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine(engine).override = slot
}

// Consumed returns descriptors consumed by an engine, including those consumed before the last cleanup.
func (h *Hardware) Consumed(engine int) []sdma.Descriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.engine(engine).consumed)
}

// Pending returns the number of descriptors between head and tail.
func (h *Hardware) Pending(engine int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine(engine).pending()
}

// Frames returns the number of packets completed by an engine.
func (h *Hardware) Frames(engine int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine(engine).frames
}

// Halted determines whether an engine is halted.
func (h *Hardware) Halted(engine int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine(engine).halted
}
