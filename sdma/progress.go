package sdma

import (
	"go.uber.org/zap"

	"github.com/sdmakit/sdma/csr"
)

// Interrupt status bits.
const (
	IntProgress      uint64 = 1 << 0 // a descriptor with IntReq has been retired
	IntIdle          uint64 = 1 << 1 // head has caught up with tail
	IntCleanDone     uint64 = 1 << 2 // hardware cleanup has finished
	IntHalt          uint64 = 1 << 8 // engine has halted
	IntErrDescriptor uint64 = 1 << 9
	IntErrLength     uint64 = 1 << 10
	IntErrTimeout    uint64 = 1 << 11
	IntErrParity     uint64 = 1 << 12

	IntErrMask = IntErrDescriptor | IntErrLength | IntErrTimeout | IntErrParity
)

// Interrupt handles an interrupt raised by the engine.
func (eng *Engine) Interrupt(status uint64) {
	switch {
	case status&IntErrMask != 0:
		eng.cnt.errorInts.Add(1)
		eng.mu.Lock()
		fields := eng.dumpLocked()
		eng.mu.Unlock()
		eng.logger.Error("engine error, halting",
			append([]zap.Field{
				zap.Uint64("status", status),
				zap.Uint64("err-status", eng.hw.Read(eng.id, csr.ErrStatus)),
			}, fields...)...)
		eng.FeedEvent(EventHwHalted)
		return
	case status&IntHalt != 0:
		eng.cnt.errorInts.Add(1)
		eng.logger.Info("engine halted", zap.Uint64("status", status))
		eng.FeedEvent(EventHwHalted)
		return
	}

	if status&IntCleanDone != 0 {
		eng.FeedEvent(EventHwCleaned)
	}
	if status&IntProgress != 0 {
		eng.cnt.progressInts.Add(1)
	}
	if status&IntIdle != 0 {
		eng.cnt.idleInts.Add(1)
	}
	if status&(IntProgress|IntIdle) != 0 {
		eng.makeProgress(status)
	}
}

// Progress scans for retired descriptors and completes finished requests.
// It may be called from any goroutine, but not from a completion callback.
func (eng *Engine) Progress() {
	eng.makeProgress(0)
}

func (eng *Engine) makeProgress(status uint64) {
	eng.progressMu.Lock()
	eng.mu.Lock()
	switch eng.state {
	case StateRunning, StateIdle, StateHwHaltWait, StateIdleHaltWait:
	default: // hardware head is meaningless during cleanup
		eng.mu.Unlock()
		eng.progressMu.Unlock()
		return
	}
	before := eng.ring.removed
	hwhead := eng.hwHead()
	done := eng.advance(hwhead)
	if status&IntIdle != 0 && eng.ring.slot(eng.ring.added) != hwhead {
		// hardware may have advanced after raising the idle interrupt
		done = append(done, eng.advance(eng.csrHead())...)
	}
	progress := eng.ring.removed - before
	eng.mu.Unlock()

	eng.complete(done, StatusOK)
	if progress > 0 {
		eng.retired.Push(progress)
	}
	eng.progressMu.Unlock()

	if progress > 0 {
		eng.wakeParked()
	}
}

// advance moves software head to a hardware head slot and returns requests whose descriptors are all retired.
// Caller must hold eng.mu.
func (eng *Engine) advance(hwhead uint64) (done []*TxRequest) {
	r := eng.ring
	target := min(r.removed+(hwhead-r.slot(r.removed))&r.mask, r.added)
	r.removed = target
	for req := eng.active.front(); req != nil && req.end <= target; req = eng.active.front() {
		eng.active.remove(req)
		done = append(done, req)
	}
	return done
}

// hwHead determines hardware head slot.
// In Running state, the head write-back word is preferred; an insane reading falls back to the CSR.
// Caller must hold eng.mu.
func (eng *Engine) hwHead() uint64 {
	r := eng.ring
	if !eng.cfg.DisableHeadDMA && eng.state == StateRunning {
		h := r.HeadDMA() & r.mask
		if eng.cfg.DisableHeadCheck || r.headSane(h) {
			return h
		}
		eng.cnt.badHead.Add(1)
		eng.logger.Warn("head write-back out of range, reading CSR",
			zap.Uint64("dma-head", h), zap.Uint64("sw-head", r.slot(r.removed)), zap.Uint64("sw-tail", r.slot(r.added)))
	}
	return eng.csrHead()
}

// csrHead reads hardware head slot from the CSR.
// An insane reading is replaced by software head, so that nothing is retired.
// Caller must hold eng.mu.
func (eng *Engine) csrHead() uint64 {
	r := eng.ring
	h := eng.hw.Read(eng.id, csr.Head) & r.mask
	if eng.cfg.DisableHeadCheck || r.headSane(h) {
		return h
	}
	eng.cnt.badHead.Add(1)
	eng.logger.Error("hardware head out of range",
		zap.Uint64("hw-head", h), zap.Uint64("sw-head", r.slot(r.removed)), zap.Uint64("sw-tail", r.slot(r.added)))
	return r.slot(r.removed)
}
