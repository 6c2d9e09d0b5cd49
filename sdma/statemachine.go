package sdma

import (
	"time"

	"go.uber.org/zap"

	"github.com/sdmakit/sdma/csr"
)

// FeedEvent feeds an event to the state machine.
// Events that are not meaningful in the current state are ignored.
func (eng *Engine) FeedEvent(ev Event) {
	eng.feed(ev, 0, false)
}

// feed processes an event.
// If checkSeq is true, the event is dropped unless the engine is still in the transition identified by seq.
func (eng *Engine) feed(ev Event, seq uint64, checkSeq bool) {
	eng.mu.Lock()
	if checkSeq && eng.seq.Load() != seq {
		eng.mu.Unlock()
		eng.logger.Debug("stale event dropped", zap.Stringer("event", ev), zap.Uint64("seq", seq))
		return
	}
	prev, next, changed := eng.processEvent(ev)
	eng.mu.Unlock()

	if changed {
		eng.emitter.Emit(evtStateChange, prev, next)
	}
}

// processEvent applies an event to the state machine.
// Caller must hold eng.mu.
func (eng *Engine) processEvent(ev Event) (prev, next State, changed bool) {
	prev, next = eng.state, eng.state
	if ev == EventGoDown {
		if prev != StateDown {
			next = StateDown
		}
		return eng.transition(ev, prev, next)
	}

	switch prev {
	case StateDown:
		switch ev {
		case EventGoRunning:
			eng.desiredRunning = true
			fallthrough
		case EventGoStart:
			if eng.closing {
				eng.logger.Warn("cannot start closed engine")
				break
			}
			eng.get()
			next = StateStartingHaltWait
		case EventGoIdle:
			eng.desiredRunning = false
		}
	case StateStartingHaltWait:
		switch ev {
		case EventHwHaltDone:
			next = StateStartingCleanWait
		default:
			eng.noteDesire(ev)
		}
	case StateStartingCleanWait:
		switch ev {
		case EventHwCleanDone, EventHwCleaned:
			next = eng.readyState()
		default:
			eng.noteDesire(ev)
		}
	case StateIdle:
		switch ev {
		case EventGoRunning:
			next = StateRunning
		case EventHwHalted:
			next = StateHwHaltWait
		}
	case StateRunning:
		switch ev {
		case EventHwHalted:
			next = StateHwHaltWait
		case EventGoIdle:
			next = StateIdleHaltWait
		}
	case StateHwHaltWait, StateIdleHaltWait:
		switch ev {
		case EventHwHaltDone:
			next = StateHwCleanWait
		default:
			eng.noteDesire(ev)
		}
	case StateHwCleanWait:
		switch ev {
		case EventHwCleanDone, EventHwCleaned:
			next = StateSwCleanWait
		default:
			eng.noteDesire(ev)
		}
	case StateSwCleanWait:
		switch ev {
		case EventSwCleaned:
			next = eng.readyState()
		default:
			eng.noteDesire(ev)
		}
	}
	return eng.transition(ev, prev, next)
}

func (eng *Engine) transition(ev Event, prev, next State) (State, State, bool) {
	if next == prev {
		eng.logger.Debug("event ignored", zap.Stringer("state", prev), zap.Stringer("event", ev))
		return prev, next, false
	}
	eng.logger.Debug("state change", zap.Stringer("event", ev), zap.Stringer("prev", prev), zap.Stringer("next", next))
	eng.setState(next)
	return prev, next, true
}

// noteDesire records GoRunning and GoIdle received during a transient state.
func (eng *Engine) noteDesire(ev Event) {
	switch ev {
	case EventGoRunning:
		eng.desiredRunning = true
	case EventGoIdle:
		eng.desiredRunning = false
	}
}

// readyState returns the state after a start-up or recovery sequence completes.
func (eng *Engine) readyState() State {
	if eng.desiredRunning {
		return StateRunning
	}
	return StateIdle
}

// setState enters a new state and applies its hardware actions.
// Caller must hold eng.mu.
func (eng *Engine) setState(next State) {
	prev := eng.state
	eng.state = next
	seq := eng.seq.Add(1)
	eng.stateHint.Store(uint32(next))
	close(eng.stateChanged)
	eng.stateChanged = make(chan struct{})

	if prev == StateRunning {
		eng.stopTimer()
	}

	act := stateActions[next]
	switch {
	case act.goRunningFalse:
		eng.desiredRunning = false
	case act.goRunningTrue:
		eng.desiredRunning = true
	}

	switch next {
	case StateStartingHaltWait:
		eng.resetRing()
		eng.hw.Write(eng.id, csr.RingLen, uint64(eng.ring.Len()))
	case StateHwCleanWait:
		// cleanup resets hardware head, so record where hardware stopped first
		eng.haltHead = eng.csrHead()
	}
	eng.hw.Write(eng.id, csr.Ctrl, act.ctrl())

	switch next {
	case StateStartingHaltWait, StateHwHaltWait, StateIdleHaltWait:
		eng.startPoll(seq, csr.StatusHalted, EventHwHaltDone, eng.cfg.haltTimeout())
	case StateStartingCleanWait, StateHwCleanWait:
		eng.startPoll(seq, csr.StatusCleanDone, EventHwCleanDone, eng.cfg.cleanTimeout())
	case StateSwCleanWait:
		deferred.Go(func() { eng.swClean(seq) })
	case StateRunning:
		eng.startTimer()
	case StateDown:
		eng.teardown()
	}
}

func (eng *Engine) resetRing() {
	eng.ring.reset()
	eng.hw.Write(eng.id, csr.Tail, 0)
}

// startPoll launches a task that samples a status bit until it is set or timeout expires,
// and then feeds an event tied to the current transition.
func (eng *Engine) startPoll(seq uint64, bit uint64, ev Event, timeout time.Duration) {
	interval := eng.cfg.pollInterval()
	deferred.Go(func() {
		deadline := time.Now().Add(timeout)
		for {
			if eng.seq.Load() != seq {
				return
			}
			if eng.hw.Read(eng.id, csr.Status)&bit != 0 {
				break
			}
			if time.Now().After(deadline) {
				eng.cnt.pollTimeouts.Add(1)
				eng.logger.Warn("hardware status poll timeout, proceeding",
					zap.Stringer("event", ev), zap.Uint64("bit", bit), zap.Duration("timeout", timeout))
				break
			}
			time.Sleep(interval)
		}
		eng.feed(ev, seq, true)
	})
}

func (eng *Engine) startTimer() {
	d := eng.cfg.ProgressCheckInterval.Duration()
	if d <= 0 {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		eng.Progress()
		eng.mu.Lock()
		defer eng.mu.Unlock()
		if eng.timer == t {
			t.Reset(d)
		}
	})
	eng.timer = t
}

func (eng *Engine) stopTimer() {
	if eng.timer != nil {
		eng.timer.Stop()
		eng.timer = nil
	}
}
