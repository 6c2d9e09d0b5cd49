package sdma

import (
	"go.uber.org/zap"
)

// swClean reconciles software state after hardware has halted and been cleaned.
// Requests that hardware finished before halting are completed successfully; the rest are aborted.
// Every callback is delivered before the engine leaves SwCleanWait.
func (eng *Engine) swClean(seq uint64) {
	eng.progressMu.Lock()
	eng.mu.Lock()
	if eng.seq.Load() != seq {
		eng.mu.Unlock()
		eng.progressMu.Unlock()
		return
	}
	done := eng.advance(eng.haltHead)
	aborted := eng.active.popAll()
	eng.resetRing()
	eng.mu.Unlock()

	if len(aborted) > 0 {
		eng.logger.Info("requests aborted after halt", zap.Int("finished", len(done)), zap.Int("aborted", len(aborted)))
	}
	eng.complete(done, StatusOK)
	eng.complete(aborted, StatusAborted)

	eng.mu.Lock()
	if eng.seq.Load() != seq {
		eng.mu.Unlock()
		eng.progressMu.Unlock()
		return
	}
	prev, next, changed := eng.processEvent(EventSwCleaned)
	var waits []*IoWait
	if next != StateRunning {
		waits = eng.unparkAllLocked()
	}
	eng.mu.Unlock()
	eng.progressMu.Unlock()

	if changed {
		eng.emitter.Emit(evtStateChange, prev, next)
	}
	if next == StateRunning {
		eng.wakeParked()
	} else {
		eng.wake(waits, WakeupDeviceReset)
	}
}

// teardown releases everything owned by the engine when it enters Down.
// Caller must hold eng.mu.
func (eng *Engine) teardown() {
	reqs := eng.active.popAll()
	reqs = append(reqs, eng.flushq.popAll()...)
	eng.flushPending = false
	eng.resetRing()
	waits := eng.unparkAllLocked()
	st := StatusAborted
	if eng.closing {
		st = StatusShutdown
	}

	deferred.Go(func() {
		eng.progressMu.Lock()
		eng.complete(reqs, st)
		eng.progressMu.Unlock()
		eng.wake(waits, WakeupDeviceReset)
		eng.put()
	})
}

// scheduleFlush arranges for requests submitted while not running to be aborted.
// Caller must hold eng.mu.
func (eng *Engine) scheduleFlush() {
	if eng.flushPending {
		return
	}
	eng.flushPending = true
	deferred.Go(func() {
		eng.progressMu.Lock()
		defer eng.progressMu.Unlock()
		eng.mu.Lock()
		reqs := eng.flushq.popAll()
		eng.flushPending = false
		eng.mu.Unlock()
		eng.complete(reqs, StatusAborted)
	})
}

// complete retires requests and invokes their callbacks.
// Caller must hold eng.progressMu but not eng.mu.
func (eng *Engine) complete(reqs []*TxRequest, st Status) {
	for _, req := range reqs {
		wait, cb := req.wait, req.cb
		if req.flags&TxReleaseAHG != 0 && req.ahgIndex >= 0 {
			eng.FreeAHG(req.ahgIndex)
		}
		req.Clean()
		if st == StatusOK {
			eng.cnt.completed.Add(1)
		} else {
			eng.cnt.aborted.Add(1)
		}
		if cb != nil {
			cb(req, st)
		}
		if wait != nil {
			wait.retire()
		}
	}
}
